package core

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/store"
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Actor is recorded as user_id on every ledger row. Defaults to the OS
	// login name.
	Actor string
	// Clock stamps ledger rows. Defaults to ledger.SystemClock.
	Clock ledger.Clock
	// WriterWait bounds how long a write waits for the writer gate.
	WriterWait time.Duration
	// Timeout bounds a single Ingest or Harmonize. Zero means no limit.
	Timeout time.Duration
	// MaxParams bounds bind parameters per INSERT statement.
	MaxParams int
	// Recorder receives operation outcomes.
	Recorder Recorder
}

// Service runs ingestion, harmonization and queries against one store.
type Service struct {
	st        *store.Store
	gate      *WriterGate
	actor     string
	clock     ledger.Clock
	timeout   time.Duration
	maxParams int
	rec       Recorder

	// afterMint runs inside the ingest transaction right after the parent
	// record is minted. Tests use it to inject failures.
	afterMint func(ledger.Record) error
}

// NewService prepares the ledger schema and returns a Service.
func NewService(ctx context.Context, st *store.Store, opts Options) (*Service, error) {
	if err := ledger.New(st.Handle()).EnsureSchema(ctx); err != nil {
		return nil, err
	}

	s := &Service{
		st:        st,
		gate:      NewWriterGate(opts.WriterWait),
		actor:     opts.Actor,
		clock:     opts.Clock,
		timeout:   opts.Timeout,
		maxParams: opts.MaxParams,
		rec:       opts.Recorder,
	}
	if s.actor == "" {
		s.actor = DefaultActor()
	}
	if s.clock == nil {
		s.clock = ledger.SystemClock
	}
	if s.maxParams <= 0 {
		s.maxParams = store.DefaultMaxParams
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	return s, nil
}

// DefaultActor returns the OS login name, falling back to $USER.
func DefaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// Gate exposes the writer gate for health checks and shutdown.
func (s *Service) Gate() *WriterGate {
	return s.gate
}

// Ping verifies the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.st.Ping(ctx)
}

func (s *Service) actorFor(ctx context.Context) string {
	if a := ActorFromContext(ctx); a != "" {
		return a
	}
	return s.actor
}

// withTimeout applies the configured operation timeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// write runs fn as one unit of work while holding the writer gate.
func (s *Service) write(ctx context.Context, fn func(store.Handle) error) error {
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	defer s.gate.Release()

	if err := s.st.InTx(ctx, fn); err != nil {
		return fmt.Errorf("transaction rolled back: %w", err)
	}
	return nil
}
