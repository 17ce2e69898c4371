// Package channel defines the ChannelPlugin contract and the registry that
// owns plugin lifecycle (start/stop ordering, health tracking, partial
// failure policy).
package channel

import (
	"context"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Plugin is the adapter contract a channel (web, Matrix, SMS/WhatsApp, ...)
// must implement. The gateway and dispatcher treat it opaquely.
type Plugin interface {
	ChannelID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(ctx context.Context, target string, msg model.OutgoingMessage) (bool, error)
	HandleIncoming(ctx context.Context, raw any) (model.IncomingMessage, error)
	GetDeliveryTarget(channelMetadata map[string]any) string
	HealthCheck(ctx context.Context) model.HealthStatus
}

// EscalationFormatter is an optional capability: plugins that want a
// channel-specific queued-review notice implement this in addition to Plugin.
type EscalationFormatter interface {
	FormatEscalationMessage(username string, escalationID int64, supportHandle string) string
}

// Runtime is the typed service locator handed to each plugin. It breaks the
// gateway<->plugin reference cycle: a PluginRuntime holds only the services a
// plugin actually needs, and is constructed after the gateway/registry exist.
type Runtime struct {
	FollowupCoordinator any
	StaffResolver       any
	EscalationService   any
}

// ResolveFollowupCoordinator returns the follow-up coordinator if wired.
func (r *Runtime) ResolveFollowupCoordinator() (any, bool) {
	return r.FollowupCoordinator, r.FollowupCoordinator != nil
}

// ResolveEscalationService returns the escalation service if wired.
func (r *Runtime) ResolveEscalationService() (any, bool) {
	return r.EscalationService, r.EscalationService != nil
}

// ResolveStaffResolver returns the staff resolver if wired.
func (r *Runtime) ResolveStaffResolver() (any, bool) {
	return r.StaffResolver, r.StaffResolver != nil
}
