// Package matrix implements the Matrix room channel plugin: incoming text
// messages from an allow-listed set of rooms are turned into gateway
// IncomingMessages, and reactions (thumbs up/down, heart) are normalized
// into model.ReactionEvent for internal/reaction. Grounded on
// original_source/.../test_matrix_message_handler.py (allowed_room_ids
// gating, room_id/event_id/sender extraction) and
// .../test_matrix_reaction_handler.py (m.relates_to annotation parsing,
// emoji-to-rating mapping, unmapped emoji dropped silently).
package matrix

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
	"github.com/connexus-ai/ragbox-support-gateway/internal/reaction"
)

// ChannelID is the fixed channel_id this plugin registers under.
const ChannelID = "matrix"

// RoomSender abstracts posting a text message to a room, so the plugin is
// testable without a live Matrix client/homeserver connection.
type RoomSender interface {
	SendText(ctx context.Context, roomID, text string) error
}

// InboundEvent is a decoded RoomMessageText event.
type InboundEvent struct {
	RoomID  string
	Sender  string
	EventID string
	Body    string
}

// InboundReaction is a decoded m.reaction event (the m.relates_to
// annotation already unwrapped by whatever sync loop owns the raw Matrix
// event source).
type InboundReaction struct {
	RoomID           string
	Sender           string
	RelatesToEventID string
	Key              string
	Redacted         bool
}

// Plugin implements channel.Plugin for Matrix rooms.
type Plugin struct {
	sender         RoomSender
	allowedRoomIDs map[string]struct{}
	emojiOverrides map[string]model.ReactionRating
}

var _ channel.Plugin = (*Plugin)(nil)

// New constructs a matrix Plugin scoped to allowedRoomIDs. An empty list
// means no rooms are allowed (messages are rejected), matching the fail-closed
// default of an explicit allow-list.
func New(sender RoomSender, allowedRoomIDs []string, emojiOverrides map[string]model.ReactionRating) *Plugin {
	allowed := make(map[string]struct{}, len(allowedRoomIDs))
	for _, id := range allowedRoomIDs {
		allowed[id] = struct{}{}
	}
	return &Plugin{sender: sender, allowedRoomIDs: allowed, emojiOverrides: emojiOverrides}
}

func (p *Plugin) ChannelID() string { return ChannelID }

func (p *Plugin) Start(ctx context.Context) error { return nil }

func (p *Plugin) Stop(ctx context.Context) error { return nil }

func (p *Plugin) isAllowedRoom(roomID string) bool {
	_, ok := p.allowedRoomIDs[roomID]
	return ok
}

// HandleIncoming converts a decoded InboundEvent into a gateway
// IncomingMessage. Messages from rooms outside the allow-list are rejected.
func (p *Plugin) HandleIncoming(ctx context.Context, raw any) (model.IncomingMessage, error) {
	in, ok := raw.(InboundEvent)
	if !ok {
		return model.IncomingMessage{}, fmt.Errorf("channels/matrix.Plugin.HandleIncoming: unexpected payload type %T", raw)
	}
	if !p.isAllowedRoom(in.RoomID) {
		return model.IncomingMessage{}, fmt.Errorf("channels/matrix.Plugin.HandleIncoming: room %q not in the allow-list", in.RoomID)
	}
	if in.Body == "" {
		return model.IncomingMessage{}, fmt.Errorf("channels/matrix.Plugin.HandleIncoming: empty message body")
	}
	return model.IncomingMessage{
		MessageID: in.EventID,
		ChannelID: ChannelID,
		Question:  in.Body,
		User: model.UserContext{
			UserID:        in.Sender,
			ChannelUserID: in.Sender,
		},
		ChannelMetadata: map[string]any{"room_id": in.RoomID},
	}, nil
}

// HandleReaction normalizes a decoded InboundReaction into a
// model.ReactionEvent for internal/reaction.Processor. Unmapped emoji yield
// model.ReactionIgnored, matching the original handler's "log and drop"
// behavior rather than an error.
func (p *Plugin) HandleReaction(raw any) (model.ReactionEvent, error) {
	in, ok := raw.(InboundReaction)
	if !ok {
		return model.ReactionEvent{}, fmt.Errorf("channels/matrix.Plugin.HandleReaction: unexpected payload type %T", raw)
	}
	return model.ReactionEvent{
		ChannelID:         ChannelID,
		ExternalMessageID: in.RelatesToEventID,
		ReactorID:         in.Sender,
		RawReaction:       in.Key,
		Rating:            reaction.MapEmojiToRating(in.Key, p.emojiOverrides),
		Removed:           in.Redacted,
	}, nil
}

// GetDeliveryTarget returns the room id carried in channel_metadata.
func (p *Plugin) GetDeliveryTarget(channelMetadata map[string]any) string {
	roomID, _ := channelMetadata["room_id"].(string)
	return roomID
}

// SendMessage posts msg.Answer as a text message to the room identified by
// target.
func (p *Plugin) SendMessage(ctx context.Context, target string, msg model.OutgoingMessage) (bool, error) {
	if target == "" {
		return false, nil
	}
	if err := p.sender.SendText(ctx, target, msg.Answer); err != nil {
		return false, fmt.Errorf("channels/matrix.Plugin.SendMessage: %w", err)
	}
	return true, nil
}

// HealthCheck reports healthy whenever at least one room is allow-listed;
// the actual homeserver connection is owned by whatever sync loop feeds
// HandleIncoming/HandleReaction, outside this plugin's scope.
func (p *Plugin) HealthCheck(ctx context.Context) model.HealthStatus {
	if len(p.allowedRoomIDs) == 0 {
		return model.HealthStatus{Healthy: false, Detail: "no allowed rooms configured"}
	}
	return model.HealthStatus{Healthy: true}
}

// FormatEscalationMessage implements channel.EscalationFormatter.
func (p *Plugin) FormatEscalationMessage(username string, escalationID int64, supportHandle string) string {
	return fmt.Sprintf("Thanks for the question. I've passed it to our support team for review (ref #%d) and they'll reply in this room.", escalationID)
}
