// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"sync"
)

// =============================================================================
// CANCEL FUNCTION MANAGEMENT (THREAD-SAFE)
// =============================================================================

// cancelManager guards a turn's cancel function, which is called both from
// the caller's goroutine and from the goroutine running the turn.
type cancelManager struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func newCancelManager(fn context.CancelFunc) *cancelManager {
	return &cancelManager{cancelFunc: fn}
}

// cancel invokes the stored cancel function and clears it.
// Safe to call multiple times.
func (cm *cancelManager) cancel() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancelFunc != nil {
		cm.cancelFunc()
		cm.cancelFunc = nil
	}
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle controls a turn started with Start.
type Handle struct {
	cancels *cancelManager
	done    chan struct{}
	outcome Outcome
}

// Start runs the turn on a new goroutine and returns immediately.
func (e *Engine) Start(ctx context.Context, req Request, obs Observer) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancels: newCancelManager(cancel),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		// Releases the context once the turn is over.
		defer h.cancels.cancel()
		h.outcome = e.Run(ctx, req, obs)
	}()
	return h
}

// Cancel requests cancellation. It returns immediately; use Wait for the
// outcome. Cancelling a finished turn does nothing.
func (h *Handle) Cancel() {
	h.cancels.cancel()
}

// Done is closed when the turn has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the turn finishes and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Outcome returns the outcome if the turn has finished.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}

// Running reports whether the turn is still in progress.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
