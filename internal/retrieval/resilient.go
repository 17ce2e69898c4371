package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status reports a ResilientRetriever's current fallback state.
type Status struct {
	UsingFallback        bool
	PrimaryHealthy       bool
	FallbackHealthy      bool
	FallbackCount        int
	PrimaryFailures      int
	AutoResetEnabled     bool
	ResetIntervalSeconds int
}

const defaultResetInterval = 300 * time.Second

// ResilientRetriever wraps a primary retriever and falls back to a secondary
// one on failure, periodically retrying the primary. It never returns an
// error to its caller: on total failure it returns an empty result set.
type ResilientRetriever struct {
	primary, fallback Retriever
	resetInterval     time.Duration
	now               func() time.Time

	mu               sync.Mutex
	autoReset        bool
	usingFallback    bool
	lastResetAttempt time.Time
	fallbackCount    int
	primaryFailures  int
}

var _ Retriever = (*ResilientRetriever)(nil)

// NewResilientRetriever constructs a ResilientRetriever with auto-reset
// enabled and resetInterval defaulting to 300s when <= 0.
func NewResilientRetriever(primary, fallback Retriever, resetInterval time.Duration) *ResilientRetriever {
	if resetInterval <= 0 {
		resetInterval = defaultResetInterval
	}
	return &ResilientRetriever{
		primary:       primary,
		fallback:      fallback,
		resetInterval: resetInterval,
		autoReset:     true,
		now:           time.Now,
	}
}

// DisableAutoReset stops the periodic primary-reset probe; ResetToPrimary
// can still be called explicitly.
func (r *ResilientRetriever) DisableAutoReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoReset = false
}

// UsingFallback reports whether the fallback retriever is currently active.
func (r *ResilientRetriever) UsingFallback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usingFallback
}

func (r *ResilientRetriever) activeRetriever(ctx context.Context) (active Retriever, usingFallback bool) {
	r.mu.Lock()
	usingFallback = r.usingFallback
	shouldTryReset := usingFallback && r.autoReset && r.now().Sub(r.lastResetAttempt) >= r.resetInterval
	if shouldTryReset {
		r.lastResetAttempt = r.now()
	}
	r.mu.Unlock()

	if shouldTryReset && r.ResetToPrimary(ctx) {
		usingFallback = false
	}
	if usingFallback {
		return r.fallback, true
	}
	return r.primary, false
}

// ResetToPrimary attempts to switch back to the primary retriever, returning
// true only if the primary reports healthy.
func (r *ResilientRetriever) ResetToPrimary(ctx context.Context) bool {
	healthy := r.primary.HealthCheck(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !healthy {
		return false
	}
	if r.usingFallback {
		slog.Info("retrieval: reset to primary retriever succeeded")
	}
	r.usingFallback = false
	return true
}

func (r *ResilientRetriever) switchToFallback(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usingFallback {
		return
	}
	r.usingFallback = true
	r.lastResetAttempt = r.now()
	r.fallbackCount++
	r.primaryFailures++
	slog.Warn("retrieval: switching to fallback retriever", "error", err, "total_fallbacks", r.fallbackCount)
}

func (r *ResilientRetriever) call(ctx context.Context, invoke func(Retriever, context.Context) ([]RetrievedDoc, error)) []RetrievedDoc {
	active, usingFallback := r.activeRetriever(ctx)

	docs, err := invoke(active, ctx)
	if err == nil {
		if !usingFallback {
			r.mu.Lock()
			r.primaryFailures = 0
			r.mu.Unlock()
		}
		return docs
	}

	if usingFallback {
		slog.Error("retrieval: fallback retriever failed", "error", err)
		return nil
	}

	r.switchToFallback(err)
	fallbackDocs, fallbackErr := invoke(r.fallback, ctx)
	if fallbackErr != nil {
		slog.Error("retrieval: both primary and fallback retrievers failed", "primary_error", err, "fallback_error", fallbackErr)
		return nil
	}
	return fallbackDocs
}

// Retrieve never returns an error; total failure yields an empty slice.
func (r *ResilientRetriever) Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	docs := r.call(ctx, func(ret Retriever, ctx context.Context) ([]RetrievedDoc, error) {
		return ret.Retrieve(ctx, query, k, filter)
	})
	return docs, nil
}

// RetrieveWithScores never returns an error; total failure yields an empty slice.
func (r *ResilientRetriever) RetrieveWithScores(ctx context.Context, query string, k int, filter map[string]string) ([]RetrievedDoc, error) {
	docs := r.call(ctx, func(ret Retriever, ctx context.Context) ([]RetrievedDoc, error) {
		return ret.RetrieveWithScores(ctx, query, k, filter)
	})
	return docs, nil
}

// HealthCheck reports healthy if either the primary or the fallback is.
func (r *ResilientRetriever) HealthCheck(ctx context.Context) bool {
	return r.primary.HealthCheck(ctx) || r.fallback.HealthCheck(ctx)
}

// Status reports the resilient retriever's current state for diagnostics.
func (r *ResilientRetriever) Status(ctx context.Context) Status {
	r.mu.Lock()
	status := Status{
		UsingFallback:        r.usingFallback,
		FallbackCount:        r.fallbackCount,
		PrimaryFailures:      r.primaryFailures,
		AutoResetEnabled:     r.autoReset,
		ResetIntervalSeconds: int(r.resetInterval.Seconds()),
	}
	r.mu.Unlock()

	status.PrimaryHealthy = r.primary.HealthCheck(ctx)
	status.FallbackHealthy = r.fallback.HealthCheck(ctx)
	return status
}
