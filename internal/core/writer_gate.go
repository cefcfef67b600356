package core

// writer_gate.go serializes ledger-writing operations inside one process.
//
// Ingest and Harmonize both read the latest generation and then mint the
// next one. The gate holds a single slot so two callers in the same process
// queue instead of minting the same generation. Waiters give up after maxWait
// with ErrWriterBusy.
//
// WaitForDrain blocks until the current writer finishes, for graceful
// shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWriterBusy is returned when another write holds the gate past the wait
// timeout. Callers may retry.
var ErrWriterBusy = errors.New("writer busy: another ingest or harmonize is in progress")

// DefaultWriterWait is how long to wait for the gate before rejecting.
const DefaultWriterWait = 30 * time.Second

// WriterGate admits one writer at a time.
type WriterGate struct {
	slot    chan struct{}
	maxWait time.Duration

	mu      sync.RWMutex
	active  int
	waiting int
}

// NewWriterGate creates a gate whose waiters fail after maxWait.
func NewWriterGate(maxWait time.Duration) *WriterGate {
	if maxWait <= 0 {
		maxWait = DefaultWriterWait
	}
	return &WriterGate{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire takes the writer slot. The caller MUST call Release when done.
func (g *WriterGate) Acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		g.mu.Lock()
		g.active++
		g.mu.Unlock()
		return nil
	default:
	}

	g.mu.Lock()
	g.waiting++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.slot <- struct{}{}:
		g.mu.Lock()
		g.active++
		g.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrWriterBusy
	}
}

// TryAcquire takes the slot only if it is free.
func (g *WriterGate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		g.mu.Lock()
		g.active++
		g.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees the slot. Must be called exactly once per successful acquire.
func (g *WriterGate) Release() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()

	<-g.slot
}

// Busy reports whether a writer currently holds the gate.
func (g *WriterGate) Busy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active > 0
}

// WaitForDrain blocks until no writer holds the gate or ctx is done.
func (g *WriterGate) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WriterGateStatus is a snapshot of the gate.
type WriterGateStatus struct {
	Busy    bool `json:"busy"`
	Waiting int  `json:"waiting"`
}

// Status returns the gate's current state for health endpoints.
func (g *WriterGate) Status() WriterGateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return WriterGateStatus{Busy: g.active > 0, Waiting: g.waiting}
}
