// Package reaction implements the Reaction Processor: channel adapters feed
// it native reaction events, which it normalizes to sentiment and routes to
// the feedback follow-up coordinator.
package reaction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/connexus-ai/ragbox-support-gateway/internal/followup"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// FollowupCoordinator is the narrow contract the processor needs from
// internal/followup.
type FollowupCoordinator interface {
	StartFollowup(ctx context.Context, rec followup.DeliveryRecord, channelID, externalMessageID, reactorID, reactorIdentityHash string) bool
	CancelFollowup(channelID, externalMessageID, reactorIdentityHash string)
}

// Recorder observes every normalized reaction for metrics, independent of
// whether it triggers a follow-up.
type Recorder interface {
	RecordReaction(channelID string, rating model.ReactionRating)
}

// redactionEntry tracks enough about a reaction to support redaction
// (reaction removal) handling without the channel re-sending the original
// rating.
type redactionEntry struct {
	channelID           string
	externalMessageID   string
	reactorID           string
	reactorIdentityHash string
	rating              model.ReactionRating
}

// Processor maps channel-native reactions to sentiment and drives the
// follow-up coordinator accordingly.
type Processor struct {
	followups FollowupCoordinator
	recorder  Recorder

	mu        sync.Mutex
	byEventID map[string]redactionEntry
}

// New constructs a Processor. recorder may be nil.
func New(followups FollowupCoordinator, recorder Recorder) *Processor {
	return &Processor{followups: followups, recorder: recorder, byEventID: make(map[string]redactionEntry)}
}

// Process handles one normalized reaction event (a reaction added or
// changed). eventID is the channel-native identifier for the reaction event
// itself, used later to resolve a removal to the original rating. target
// identifies where the original answer was delivered (needed to start a
// follow-up).
func (p *Processor) Process(ctx context.Context, eventID string, event model.ReactionEvent, target followup.DeliveryRecord) {
	defer p.recoverAndLog("Process", event.ChannelID)

	p.recordEvent(eventID, event)
	if p.recorder != nil {
		p.recorder.RecordReaction(event.ChannelID, event.Rating)
	}

	switch event.Rating {
	case model.ReactionNegative:
		p.followups.StartFollowup(ctx, target, event.ChannelID, event.ExternalMessageID, event.ReactorID, event.ReactorIdentityHash)
	case model.ReactionPositive:
		p.followups.CancelFollowup(event.ChannelID, event.ExternalMessageID, event.ReactorIdentityHash)
	default:
		slog.Debug("reaction: ignored reaction", "channel", event.ChannelID, "raw", event.RawReaction)
	}
}

// RevokeReaction handles a reaction removal (redaction) by event ID,
// resolving it back to the original rating recorded by Process.
func (p *Processor) RevokeReaction(ctx context.Context, eventID string) {
	defer p.recoverAndLog("RevokeReaction", "")

	p.mu.Lock()
	entry, ok := p.byEventID[eventID]
	if ok {
		delete(p.byEventID, eventID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if entry.rating == model.ReactionNegative {
		p.followups.CancelFollowup(entry.channelID, entry.externalMessageID, entry.reactorIdentityHash)
	}
}

func (p *Processor) recordEvent(eventID string, event model.ReactionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byEventID[eventID] = redactionEntry{
		channelID: event.ChannelID, externalMessageID: event.ExternalMessageID,
		reactorID: event.ReactorID, reactorIdentityHash: event.ReactorIdentityHash,
		rating: event.Rating,
	}
}

// recoverAndLog swallows and logs any panic from a downstream handler so one
// misbehaving reaction never brings down the event-processing loop.
func (p *Processor) recoverAndLog(method, channelID string) {
	if r := recover(); r != nil {
		slog.Error("reaction: handler panicked, event dropped", "method", method, "channel", channelID, "panic", r)
	}
}

// Emoji-to-rating mapping. Channels may override with their own table (e.g.
// custom reaction sets); this is the default used when none is supplied.
var defaultEmojiRatings = map[string]model.ReactionRating{
	"👍": model.ReactionPositive,
	"❤️": model.ReactionPositive,
	"👎": model.ReactionNegative,
}

// MapEmojiToRating maps a raw emoji/reaction string to a sentiment rating
// using overrides first, then the default table, else ignored.
func MapEmojiToRating(raw string, overrides map[string]model.ReactionRating) model.ReactionRating {
	if overrides != nil {
		if rating, ok := overrides[raw]; ok {
			return rating
		}
	}
	if rating, ok := defaultEmojiRatings[raw]; ok {
		return rating
	}
	return model.ReactionIgnored
}
