// Package web implements the in-app web chat channel plugin: a minimal
// loopback adapter where the delivery target is the user's session id and
// delivery itself is handing the outgoing message to whatever transport
// (websocket, SSE, long-poll) the caller wired in via Deliverer.
package web

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// ChannelID is the fixed channel_id this plugin registers under.
const ChannelID = "web"

// Deliverer pushes an outgoing message to a live session, e.g. over a
// websocket or SSE connection. Returns false (not an error) when the
// session is no longer connected.
type Deliverer interface {
	Deliver(ctx context.Context, sessionID string, msg model.OutgoingMessage) (bool, error)
}

// InboundMessage is the shape HandleIncoming expects in raw, already decoded
// by whatever HTTP/websocket layer owns the wire format (out of scope here).
type InboundMessage struct {
	MessageID   string
	SessionID   string
	UserID      string
	Question    string
	ChatHistory []model.HistoryTurn
}

// Plugin implements channel.Plugin for the web chat.
type Plugin struct {
	deliverer Deliverer
}

var _ channel.Plugin = (*Plugin)(nil)

// New constructs a web Plugin. deliverer may be nil during tests that only
// exercise HandleIncoming/GetDeliveryTarget.
func New(deliverer Deliverer) *Plugin {
	return &Plugin{deliverer: deliverer}
}

func (p *Plugin) ChannelID() string { return ChannelID }

// Start is a no-op: there is no external connection to establish, the
// transport is driven by whatever owns the HTTP/websocket server.
func (p *Plugin) Start(ctx context.Context) error { return nil }

func (p *Plugin) Stop(ctx context.Context) error { return nil }

// SendMessage delivers msg to the live session identified by target.
func (p *Plugin) SendMessage(ctx context.Context, target string, msg model.OutgoingMessage) (bool, error) {
	if target == "" {
		return false, nil
	}
	if p.deliverer == nil {
		return false, fmt.Errorf("channels/web.Plugin.SendMessage: no deliverer wired")
	}
	return p.deliverer.Deliver(ctx, target, msg)
}

// HandleIncoming converts an already-decoded InboundMessage into a gateway
// IncomingMessage. The delivery target (session id) is carried in
// ChannelMetadata so the dispatcher's GetDeliveryTarget call can recover it
// without this plugin needing any session state of its own.
func (p *Plugin) HandleIncoming(ctx context.Context, raw any) (model.IncomingMessage, error) {
	in, ok := raw.(InboundMessage)
	if !ok {
		return model.IncomingMessage{}, fmt.Errorf("channels/web.Plugin.HandleIncoming: unexpected payload type %T", raw)
	}
	if in.Question == "" {
		return model.IncomingMessage{}, fmt.Errorf("channels/web.Plugin.HandleIncoming: empty question")
	}
	return model.IncomingMessage{
		MessageID:   in.MessageID,
		ChannelID:   ChannelID,
		Question:    in.Question,
		ChatHistory: in.ChatHistory,
		User: model.UserContext{
			UserID:        in.UserID,
			ChannelUserID: in.SessionID,
			SessionID:     in.SessionID,
		},
		ChannelMetadata: map[string]any{"session_id": in.SessionID},
	}, nil
}

// GetDeliveryTarget returns the session id carried in channel_metadata.
func (p *Plugin) GetDeliveryTarget(channelMetadata map[string]any) string {
	sessionID, _ := channelMetadata["session_id"].(string)
	return sessionID
}

// HealthCheck always reports healthy: there is no external dependency to
// probe, only the in-process deliverer.
func (p *Plugin) HealthCheck(ctx context.Context) model.HealthStatus {
	return model.HealthStatus{Healthy: true, Detail: "loopback"}
}

// FormatEscalationMessage implements channel.EscalationFormatter.
func (p *Plugin) FormatEscalationMessage(username string, escalationID int64, supportHandle string) string {
	return fmt.Sprintf("Thanks, I've passed this to our support team for review. Reference #%d — you'll see the reply here once it's ready.", escalationID)
}
