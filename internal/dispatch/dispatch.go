// Package dispatch implements the Response Dispatcher: it takes the
// OutgoingMessage produced by the gateway and decides whether to deliver it
// directly or divert it to human review, shaping the queued-notice response
// for the latter case.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Routing actions recognized in ResponseMetadata.RoutingAction.
const (
	RoutingAutoSend           = "auto_send"
	RoutingNeedsClarification = "needs_clarification"
	RoutingQueueMedium        = "queue_medium"
	RoutingNeedsHuman         = "needs_human"
	RoutingEscalationNotice   = "escalation_notice"
)

const genericEscalationNotice = "Your question has been forwarded to our support team. A staff member will review and respond shortly. (Reference: #%d)"

// EscalationService is the narrow contract the dispatcher needs to divert a
// message to human review.
type EscalationService interface {
	Create(ctx context.Context, in model.EscalationCreate) (model.Escalation, error)
}

// RoutingMetrics observes the fail-open path: an empty or unrecognized
// routing_action that was routed to auto_send anyway.
type RoutingMetrics interface {
	RecordUnknownRoutingAction(routingAction string)
}

// Dispatcher routes one OutgoingMessage to direct delivery or the review
// queue. Grounded line-for-line on the original channel response dispatcher:
// fail-open for unknown routing actions, requires_human always wins, the
// queued-notice payload clears sources/confidence and tags itself
// escalation_notice so a reaction on the notice never feeds learning.
type Dispatcher struct {
	escalations EscalationService
	metrics     RoutingMetrics
}

// New constructs a Dispatcher. escalations may be nil, in which case
// review-queue routing degrades to a logged drop (no escalation backend
// wired) rather than failing the whole dispatch.
func New(escalations EscalationService) *Dispatcher {
	return &Dispatcher{escalations: escalations}
}

// SetMetrics wires an optional RoutingMetrics observer. Unset by default, so
// constructing a Dispatcher never requires a metrics backend.
func (d *Dispatcher) SetMetrics(m RoutingMetrics) {
	d.metrics = m
}

// ShouldAutosendResponse implements the routing decision in isolation so it
// can be unit tested without a plugin or escalation backend.
func ShouldAutosendResponse(metadata model.ResponseMetadata, requiresHuman bool) bool {
	if requiresHuman {
		return false
	}
	switch metadata.RoutingAction {
	case RoutingAutoSend, RoutingNeedsClarification:
		return true
	case RoutingQueueMedium, RoutingNeedsHuman:
		return false
	case "":
		slog.Warn("dispatch: empty routing_action, failing open to auto_send")
		return true
	default:
		slog.Warn("dispatch: unrecognized routing_action, failing open to auto_send", "routing_action", metadata.RoutingAction)
		return true
	}
}

// ShouldCreateEscalation is the inverse of ShouldAutosendResponse, expressed
// separately because the dispatcher's control flow treats "should divert to
// review" as its own named decision.
func ShouldCreateEscalation(metadata model.ResponseMetadata, requiresHuman bool) bool {
	return !ShouldAutosendResponse(metadata, requiresHuman)
}

// Dispatch routes out, produced for msg, through plugin target. It returns
// true only when a real response (not merely a queued notice) was
// delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, plugin channel.Plugin, msg model.IncomingMessage, out model.OutgoingMessage) (bool, error) {
	target := plugin.GetDeliveryTarget(msg.ChannelMetadata)

	if d.metrics != nil && !out.RequiresHuman && isUnknownRoutingAction(out.Metadata.RoutingAction) {
		d.metrics.RecordUnknownRoutingAction(out.Metadata.RoutingAction)
	}

	if ShouldAutosendResponse(out.Metadata, out.RequiresHuman) {
		if target == "" {
			slog.Warn("dispatch: no delivery target resolved, dropping message", "channel", plugin.ChannelID(), "message_id", out.MessageID)
			return false, nil
		}
		sent, err := plugin.SendMessage(ctx, target, out)
		if err != nil {
			return false, fmt.Errorf("dispatch.Dispatcher: send direct response: %w", err)
		}
		return sent, nil
	}

	return d.dispatchToReviewQueue(ctx, plugin, msg, out, target)
}

func (d *Dispatcher) dispatchToReviewQueue(ctx context.Context, plugin channel.Plugin, msg model.IncomingMessage, out model.OutgoingMessage, target string) (bool, error) {
	if d.escalations == nil {
		slog.Warn("dispatch: no escalation backend wired, dropping review-queue message", "channel", plugin.ChannelID(), "message_id", out.MessageID)
		return false, nil
	}

	create := buildEscalationCreate(msg, out)
	esc, err := d.escalations.Create(ctx, create)
	if err != nil {
		slog.Error("dispatch: escalation creation failed, dropping message", "channel", plugin.ChannelID(), "error", err)
		return false, nil
	}
	slog.Info("dispatch: queued for review", "escalation_id", esc.ID, "channel", plugin.ChannelID())

	if target == "" {
		slog.Warn("dispatch: no delivery target resolved, skipping queued-notice delivery", "channel", plugin.ChannelID(), "escalation_id", esc.ID)
		return false, nil
	}

	notice := buildEscalationNoticeResponse(out, plugin, esc.ID, msg.User.ChannelUserID)
	if _, err := plugin.SendMessage(ctx, target, notice); err != nil {
		slog.Warn("dispatch: failed to deliver queued-notice", "channel", plugin.ChannelID(), "escalation_id", esc.ID, "error", err)
	}

	return false, nil
}

func buildEscalationCreate(msg model.IncomingMessage, out model.OutgoingMessage) model.EscalationCreate {
	confidence := 0.0
	if out.Metadata.ConfidenceScore != nil {
		confidence = clamp01(*out.Metadata.ConfidenceScore)
	}
	routingAction := out.Metadata.RoutingAction
	if routingAction == "" {
		routingAction = RoutingNeedsHuman
	}
	return model.EscalationCreate{
		MessageID:       msg.MessageID,
		ChannelID:       msg.ChannelID,
		UserID:          msg.User.UserID,
		Username:        msg.User.ChannelUserID,
		ChannelMetadata: msg.ChannelMetadata,
		Question:        out.OriginalQuestion,
		AIDraftAnswer:   out.Answer,
		ConfidenceScore: confidence,
		RoutingAction:   routingAction,
		RoutingReason:   out.Metadata.RoutingReason,
		Sources:         append([]model.DocumentReference(nil), out.Sources...),
	}
}

// isUnknownRoutingAction reports the same fail-open condition
// ShouldAutosendResponse logs, for metrics purposes.
func isUnknownRoutingAction(routingAction string) bool {
	switch routingAction {
	case RoutingAutoSend, RoutingNeedsClarification, RoutingQueueMedium, RoutingNeedsHuman:
		return false
	default:
		return true
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildEscalationNoticeResponse clones out and reshapes it into the
// queued-notice payload: the routing_action is overwritten to
// escalation_notice precisely so a later reaction to this message never
// feeds the learning/feedback pipeline as if it judged a real AI answer.
func buildEscalationNoticeResponse(out model.OutgoingMessage, plugin channel.Plugin, escalationID int64, username string) model.OutgoingMessage {
	notice := out.Clone()
	notice.Answer = formatEscalationNotice(plugin, username, escalationID)
	notice.RequiresHuman = true
	notice.Sources = nil
	notice.Metadata.ConfidenceScore = nil
	notice.Metadata.RoutingAction = RoutingEscalationNotice
	return notice
}

func formatEscalationNotice(plugin channel.Plugin, username string, escalationID int64) string {
	if formatter, ok := plugin.(channel.EscalationFormatter); ok {
		return formatter.FormatEscalationMessage(username, escalationID, "")
	}
	return fmt.Sprintf(genericEscalationNotice, escalationID)
}
