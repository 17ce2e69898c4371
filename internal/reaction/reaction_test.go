package reaction

import (
	"context"
	"testing"

	"github.com/connexus-ai/ragbox-support-gateway/internal/followup"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

type fakeCoordinator struct {
	started  []model.ReactionEvent
	canceled []model.ReactionEvent
}

func (f *fakeCoordinator) StartFollowup(ctx context.Context, rec followup.DeliveryRecord, channelID, externalMessageID, reactorID, reactorIdentityHash string) bool {
	f.started = append(f.started, model.ReactionEvent{ChannelID: channelID, ExternalMessageID: externalMessageID, ReactorID: reactorID, ReactorIdentityHash: reactorIdentityHash})
	return true
}

func (f *fakeCoordinator) CancelFollowup(channelID, externalMessageID, reactorIdentityHash string) {
	f.canceled = append(f.canceled, model.ReactionEvent{ChannelID: channelID, ExternalMessageID: externalMessageID, ReactorIdentityHash: reactorIdentityHash})
}

type fakeRecorder struct {
	recorded []model.ReactionRating
}

func (r *fakeRecorder) RecordReaction(channelID string, rating model.ReactionRating) {
	r.recorded = append(r.recorded, rating)
}

func TestProcessNegativeStartsFollowup(t *testing.T) {
	coord := &fakeCoordinator{}
	p := New(coord, nil)

	event := model.ReactionEvent{ChannelID: "matrix", ExternalMessageID: "ext1", ReactorID: "bob", ReactorIdentityHash: "h1", Rating: model.ReactionNegative}
	p.Process(context.Background(), "evt1", event, followup.DeliveryRecord{DeliveryTarget: "!room"})

	if len(coord.started) != 1 {
		t.Fatalf("expected StartFollowup called once, got %d", len(coord.started))
	}
	if len(coord.canceled) != 0 {
		t.Error("did not expect CancelFollowup to be called")
	}
}

func TestProcessPositiveCancelsFollowup(t *testing.T) {
	coord := &fakeCoordinator{}
	p := New(coord, nil)

	event := model.ReactionEvent{ChannelID: "matrix", ExternalMessageID: "ext1", ReactorID: "bob", ReactorIdentityHash: "h1", Rating: model.ReactionPositive}
	p.Process(context.Background(), "evt1", event, followup.DeliveryRecord{})

	if len(coord.canceled) != 1 {
		t.Fatalf("expected CancelFollowup called once, got %d", len(coord.canceled))
	}
	if len(coord.started) != 0 {
		t.Error("did not expect StartFollowup to be called")
	}
}

func TestProcessIgnoredRatingDoesNothing(t *testing.T) {
	coord := &fakeCoordinator{}
	p := New(coord, nil)

	event := model.ReactionEvent{ChannelID: "matrix", Rating: model.ReactionIgnored}
	p.Process(context.Background(), "evt1", event, followup.DeliveryRecord{})

	if len(coord.started) != 0 || len(coord.canceled) != 0 {
		t.Error("ignored rating should not touch the coordinator")
	}
}

func TestProcessRecordsEveryReaction(t *testing.T) {
	coord := &fakeCoordinator{}
	recorder := &fakeRecorder{}
	p := New(coord, recorder)

	p.Process(context.Background(), "evt1", model.ReactionEvent{Rating: model.ReactionPositive}, followup.DeliveryRecord{})
	p.Process(context.Background(), "evt2", model.ReactionEvent{Rating: model.ReactionIgnored}, followup.DeliveryRecord{})

	if len(recorder.recorded) != 2 {
		t.Fatalf("expected 2 recorded reactions, got %d", len(recorder.recorded))
	}
}

func TestRevokeReactionCancelsOnlyForNegative(t *testing.T) {
	coord := &fakeCoordinator{}
	p := New(coord, nil)

	p.Process(context.Background(), "evt-neg", model.ReactionEvent{ChannelID: "matrix", ExternalMessageID: "ext1", ReactorIdentityHash: "h1", Rating: model.ReactionNegative}, followup.DeliveryRecord{DeliveryTarget: "!room"})
	p.Process(context.Background(), "evt-pos", model.ReactionEvent{ChannelID: "matrix", ExternalMessageID: "ext2", ReactorIdentityHash: "h2", Rating: model.ReactionPositive}, followup.DeliveryRecord{})

	coord.canceled = nil // clear the cancel already triggered by the positive reaction itself
	p.RevokeReaction(context.Background(), "evt-neg")
	p.RevokeReaction(context.Background(), "evt-pos")

	if len(coord.canceled) != 1 {
		t.Fatalf("expected exactly 1 cancel from revoking the negative reaction, got %d", len(coord.canceled))
	}
}

func TestRevokeReactionUnknownEventIDIsNoop(t *testing.T) {
	coord := &fakeCoordinator{}
	p := New(coord, nil)
	p.RevokeReaction(context.Background(), "ghost")
	if len(coord.canceled) != 0 {
		t.Error("expected no cancellation for unknown event id")
	}
}

func TestMapEmojiToRating(t *testing.T) {
	if got := MapEmojiToRating("👍", nil); got != model.ReactionPositive {
		t.Errorf("thumbs up = %v, want positive", got)
	}
	if got := MapEmojiToRating("👎", nil); got != model.ReactionNegative {
		t.Errorf("thumbs down = %v, want negative", got)
	}
	if got := MapEmojiToRating("🎉", nil); got != model.ReactionIgnored {
		t.Errorf("unmapped emoji = %v, want ignored", got)
	}

	overrides := map[string]model.ReactionRating{"🎉": model.ReactionPositive}
	if got := MapEmojiToRating("🎉", overrides); got != model.ReactionPositive {
		t.Errorf("override emoji = %v, want positive", got)
	}
}

type panickingCoordinator struct{}

func (panickingCoordinator) StartFollowup(ctx context.Context, rec followup.DeliveryRecord, channelID, externalMessageID, reactorID, reactorIdentityHash string) bool {
	panic("boom")
}
func (panickingCoordinator) CancelFollowup(channelID, externalMessageID, reactorIdentityHash string) {
}

func TestProcessSwallowsPanicFromCoordinator(t *testing.T) {
	p := New(panickingCoordinator{}, nil)
	event := model.ReactionEvent{ChannelID: "matrix", Rating: model.ReactionNegative}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic should have been swallowed, got %v", r)
		}
	}()
	p.Process(context.Background(), "evt1", event, followup.DeliveryRecord{DeliveryTarget: "!room"})
}
