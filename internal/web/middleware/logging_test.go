package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tabledger/internal/logging"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	logging.Setup(&buf, "info", "text")

	h := chimw.RequestID(Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "nope", http.StatusNotFound)
		default:
			w.Write([]byte("hello"))
		}
	})))

	tests := []struct {
		path  string
		want  []string
		quiet bool
	}{
		{path: "/", want: []string{"level=INFO", "status=200", "bytes=5", "request_id="}},
		{path: "/missing", want: []string{"level=WARN", "status=404"}},
		{path: "/healthz", quiet: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Tabledger-Actor", "ana")
			h.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			if tt.quiet {
				if out != "" {
					t.Errorf("quiet path logged at info: %s", out)
				}
				return
			}
			for _, want := range append(tt.want, "actor=ana", "path="+tt.path) {
				if !strings.Contains(out, want) {
					t.Errorf("log %q missing %q", out, want)
				}
			}
		})
	}
}
