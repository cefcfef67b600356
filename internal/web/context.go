package web

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/tabledger/internal/core"
)

// ActorHeader names the ledger user_id for writes made by a request.
const ActorHeader = "X-Tabledger-Actor"

// withActor carries ActorHeader into the request context. Requests without
// it are recorded under the service's default actor.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(core.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
