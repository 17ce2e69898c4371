package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Sentinel errors for registry operations.
var (
	ErrChannelAlreadyRegistered = errors.New("channel.Registry: channel already registered")
	ErrChannelNotFound          = errors.New("channel.Registry: channel not found")
	ErrChannelStartupError      = errors.New("channel.Registry: channel startup failed")
)

type registration struct {
	handle   string
	plugin   Plugin
	priority int

	startErr   error
	started    bool
	lastHealth model.HealthStatus
}

// Registry owns ordered channel-plugin lifecycle, health tracking, and
// partial-failure policy.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*registration
	byHand  map[string]*registration
	startTO time.Duration
}

// NewRegistry creates an empty Registry. startTimeout is the default
// per-plugin start timeout, overridable per Startup call.
func NewRegistry(startTimeout time.Duration) *Registry {
	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	return &Registry{
		byID:    make(map[string]*registration),
		byHand:  make(map[string]*registration),
		startTO: startTimeout,
	}
}

// Register adds a plugin at the given priority (lower starts first) and
// returns an opaque handle usable by Unregister.
func (r *Registry) Register(plugin Plugin, priority int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := plugin.ChannelID()
	if _, exists := r.byID[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrChannelAlreadyRegistered, id)
	}

	handle := fmt.Sprintf("%s#%d", id, len(r.byHand))
	reg := &registration{handle: handle, plugin: plugin, priority: priority}
	r.byID[id] = reg
	r.byHand[handle] = reg
	return handle, nil
}

// Unregister removes a plugin identified by handle or channel_id.
func (r *Registry) Unregister(handleOrChannelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byHand[handleOrChannelID]
	if !ok {
		reg, ok = r.byID[handleOrChannelID]
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, handleOrChannelID)
	}

	delete(r.byHand, reg.handle)
	delete(r.byID, reg.plugin.ChannelID())
	return nil
}

// Get returns the registered plugin for a channel_id, or nil if unknown.
func (r *Registry) Get(channelID string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[channelID]
	if !ok {
		return nil
	}
	return reg.plugin
}

func (r *Registry) orderedAsc() []*registration {
	regs := make([]*registration, 0, len(r.byID))
	for _, reg := range r.byID {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].priority < regs[j].priority })
	return regs
}

// Startup starts plugins in ascending priority order. When continueOnError is
// false, the first failure aborts startup and returns ErrChannelStartupError.
// When true, all plugins are attempted and every error is collected; failed
// plugins remain registered but marked unhealthy.
func (r *Registry) Startup(ctx context.Context, continueOnError bool) []error {
	r.mu.Lock()
	regs := r.orderedAsc()
	timeout := r.startTO
	r.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		startCtx, cancel := context.WithTimeout(ctx, timeout)
		err := reg.plugin.Start(startCtx)
		cancel()

		r.mu.Lock()
		reg.started = err == nil
		reg.startErr = err
		r.mu.Unlock()

		if err != nil {
			wrapped := fmt.Errorf("%w: channel=%s: %v", ErrChannelStartupError, reg.plugin.ChannelID(), err)
			slog.Error("channel startup failed", "channel", reg.plugin.ChannelID(), "error", err)
			errs = append(errs, wrapped)
			if !continueOnError {
				return errs
			}
		}
	}
	return errs
}

// Shutdown stops plugins in reverse priority order (LIFO). Errors are logged
// but do not stop remaining plugins from being shut down.
func (r *Registry) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	regs := r.orderedAsc()
	r.mu.Unlock()

	var errs []error
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		if err := reg.plugin.Stop(ctx); err != nil {
			slog.Error("channel shutdown failed", "channel", reg.plugin.ChannelID(), "error", err)
			errs = append(errs, fmt.Errorf("channel.Registry: stop %s: %w", reg.plugin.ChannelID(), err))
		}
	}
	return errs
}

// Restart stops then starts a single channel's plugin.
func (r *Registry) Restart(ctx context.Context, channelID string) error {
	r.mu.RLock()
	reg, ok := r.byID[channelID]
	timeout := r.startTO
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	if err := reg.plugin.Stop(ctx); err != nil {
		slog.Error("channel restart: stop failed", "channel", channelID, "error", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := reg.plugin.Start(startCtx)

	r.mu.Lock()
	reg.started = err == nil
	reg.startErr = err
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: channel=%s: %v", ErrChannelStartupError, channelID, err)
	}
	return nil
}

// HealthCheck reports the health of a single channel.
func (r *Registry) HealthCheck(ctx context.Context, channelID string) (model.HealthStatus, error) {
	r.mu.RLock()
	reg, ok := r.byID[channelID]
	r.mu.RUnlock()
	if !ok {
		return model.HealthStatus{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	status := reg.plugin.HealthCheck(ctx)
	if reg.startErr != nil {
		status.Healthy = false
		if status.Detail == "" {
			status.Detail = reg.startErr.Error()
		}
	}

	r.mu.Lock()
	reg.lastHealth = status
	r.mu.Unlock()

	return status, nil
}

// HealthCheckAll reports health for every registered channel.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]model.HealthStatus {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make(map[string]model.HealthStatus, len(ids))
	for _, id := range ids {
		status, err := r.HealthCheck(ctx, id)
		if err != nil {
			continue
		}
		out[id] = status
	}
	return out
}
