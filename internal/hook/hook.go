// Package hook implements the pre/post hook pipeline the gateway runs a
// message through: priority-ordered, bypassable, with raise-vs-return error
// isolation matching the teacher's middleware-chain idiom.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Priority bands. Only the numeric ordering is contractual; these names are
// a convenience, lower runs first.
const (
	PriorityCritical = 0
	PriorityHigh     = 100
	PriorityNormal   = 200
	PriorityLow      = 300
)

// PreHook runs before RAG invocation and may abort the request by returning
// an error. It may mutate msg in place (routing metadata, PII redaction).
type PreHook interface {
	Name() string
	Execute(ctx context.Context, msg *model.IncomingMessage) error
}

// PostHook runs after RAG invocation, before delivery, and may abort by
// returning an error. It may mutate out in place.
type PostHook interface {
	Name() string
	Execute(ctx context.Context, msg *model.IncomingMessage, out *model.OutgoingMessage) error
}

type preEntry struct {
	hook     PreHook
	priority int
}

type postEntry struct {
	hook     PostHook
	priority int
}

// Pipeline owns the ordered pre/post hook lists.
type Pipeline struct {
	mu   sync.RWMutex
	pre  []preEntry
	post []postEntry
}

// New returns an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// RegisterPre adds (or replaces, by name) a pre-hook at the given priority.
// The list is kept sorted ascending by priority after every insertion.
func (p *Pipeline) RegisterPre(h PreHook, priority int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.pre {
		if e.hook.Name() == h.Name() {
			p.pre[i] = preEntry{hook: h, priority: priority}
			p.sortPreLocked()
			return
		}
	}
	p.pre = append(p.pre, preEntry{hook: h, priority: priority})
	p.sortPreLocked()
}

// RegisterPost adds (or replaces, by name) a post-hook at the given priority.
func (p *Pipeline) RegisterPost(h PostHook, priority int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.post {
		if e.hook.Name() == h.Name() {
			p.post[i] = postEntry{hook: h, priority: priority}
			p.sortPostLocked()
			return
		}
	}
	p.post = append(p.post, postEntry{hook: h, priority: priority})
	p.sortPostLocked()
}

func (p *Pipeline) sortPreLocked() {
	sort.SliceStable(p.pre, func(i, j int) bool { return p.pre[i].priority < p.pre[j].priority })
}

func (p *Pipeline) sortPostLocked() {
	sort.SliceStable(p.post, func(i, j int) bool { return p.post[i].priority < p.post[j].priority })
}

// RunPre runs the pre-hook chain against msg. A hook listed in
// msg.BypassHooks is skipped entirely (not even recorded as executed). A
// hook that returns an error aborts the chain and that error is returned
// wrapped. A hook that panics is treated as a raise: logged and execution
// continues to the next hook.
func (p *Pipeline) RunPre(ctx context.Context, msg *model.IncomingMessage) (executed []string, err error) {
	p.mu.RLock()
	entries := make([]preEntry, len(p.pre))
	copy(entries, p.pre)
	p.mu.RUnlock()

	for _, e := range entries {
		name := e.hook.Name()
		if msg.Bypasses(name) {
			continue
		}
		if hookErr := runPreSafely(ctx, e.hook, msg); hookErr != nil {
			if hookErr == errHookPanicked {
				executed = append(executed, name)
				continue
			}
			executed = append(executed, name)
			return executed, fmt.Errorf("hook.Pipeline: pre-hook %q: %w", name, hookErr)
		}
		executed = append(executed, name)
	}
	return executed, nil
}

// RunPost runs the post-hook chain against msg/out. Same bypass and error
// semantics as RunPre.
func (p *Pipeline) RunPost(ctx context.Context, msg *model.IncomingMessage, out *model.OutgoingMessage) (executed []string, err error) {
	p.mu.RLock()
	entries := make([]postEntry, len(p.post))
	copy(entries, p.post)
	p.mu.RUnlock()

	for _, e := range entries {
		name := e.hook.Name()
		if msg.Bypasses(name) {
			continue
		}
		if hookErr := runPostSafely(ctx, e.hook, msg, out); hookErr != nil {
			if hookErr == errHookPanicked {
				executed = append(executed, name)
				continue
			}
			executed = append(executed, name)
			return executed, fmt.Errorf("hook.Pipeline: post-hook %q: %w", name, hookErr)
		}
		executed = append(executed, name)
	}
	return executed, nil
}

var errHookPanicked = fmt.Errorf("hook.Pipeline: hook panicked")

func runPreSafely(ctx context.Context, h PreHook, msg *model.IncomingMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pre-hook panicked, continuing", "hook", h.Name(), "panic", r)
			err = errHookPanicked
		}
	}()
	return h.Execute(ctx, msg)
}

func runPostSafely(ctx context.Context, h PostHook, msg *model.IncomingMessage, out *model.OutgoingMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("post-hook panicked, continuing", "hook", h.Name(), "panic", r)
			err = errHookPanicked
		}
	}()
	return h.Execute(ctx, msg, out)
}
