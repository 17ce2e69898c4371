package followup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

type fakePlugin struct {
	id      string
	sent    []model.OutgoingMessage
	sendOK  bool
	sendErr error
}

func (p *fakePlugin) ChannelID() string                         { return p.id }
func (p *fakePlugin) Start(context.Context) error                { return nil }
func (p *fakePlugin) Stop(context.Context) error                 { return nil }
func (p *fakePlugin) GetDeliveryTarget(map[string]any) string    { return "" }
func (p *fakePlugin) HealthCheck(context.Context) model.HealthStatus {
	return model.HealthStatus{Healthy: true}
}
func (p *fakePlugin) HandleIncoming(context.Context, any) (model.IncomingMessage, error) {
	return model.IncomingMessage{}, nil
}
func (p *fakePlugin) SendMessage(ctx context.Context, target string, msg model.OutgoingMessage) (bool, error) {
	p.sent = append(p.sent, msg)
	return p.sendOK, p.sendErr
}

type fakeResolver struct {
	plugins map[string]channel.Plugin
}

func (r *fakeResolver) Get(channelID string) channel.Plugin { return r.plugins[channelID] }

type fakeFeedback struct {
	issues        []string
	analyzeErr    error
	updateErr     error
	updatedID     string
	updatedText   string
	updatedIssues []string
}

func (f *fakeFeedback) AnalyzeFeedbackText(ctx context.Context, text string) ([]string, error) {
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.issues, nil
}

func (f *fakeFeedback) UpdateFeedbackEntry(ctx context.Context, internalMessageID, explanation string, issues []string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updatedID = internalMessageID
	f.updatedText = explanation
	f.updatedIssues = issues
	return nil
}

func TestStartFollowupRejectsEmptyReactorOrTarget(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, &fakeFeedback{}, 30*time.Second)

	if c.StartFollowup(context.Background(), DeliveryRecord{DeliveryTarget: "!room"}, "matrix", "ext1", "", "hash1") {
		t.Error("expected false for empty reactor_id")
	}
	if c.StartFollowup(context.Background(), DeliveryRecord{}, "matrix", "ext1", "bob", "hash1") {
		t.Error("expected false for empty delivery target")
	}
}

func TestStartFollowupSendsPromptAndDedupesSameThread(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, &fakeFeedback{}, 30*time.Second)

	rec := DeliveryRecord{DeliveryTarget: "!room:example.org", InternalMessageID: "internal-1"}
	if !c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1") {
		t.Fatal("expected first StartFollowup to succeed")
	}
	if len(plugin.sent) != 1 {
		t.Fatalf("expected 1 prompt sent, got %d", len(plugin.sent))
	}
	if plugin.sent[0].Answer != defaultPrompt {
		t.Errorf("prompt text = %q", plugin.sent[0].Answer)
	}

	if !c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1") {
		t.Fatal("expected refresh of same thread to report active")
	}
	if len(plugin.sent) != 1 {
		t.Errorf("expected no new prompt sent on same-thread refresh, got %d total", len(plugin.sent))
	}
}

func TestStartFollowupNewThreadSendsNewPrompt(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, &fakeFeedback{}, 30*time.Second)

	rec := DeliveryRecord{DeliveryTarget: "!room:example.org", InternalMessageID: "internal-1"}
	c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1")
	c.StartFollowup(context.Background(), rec, "matrix", "ext2", "bob", "hash2")

	if len(plugin.sent) != 2 {
		t.Errorf("expected 2 prompts for two distinct threads, got %d", len(plugin.sent))
	}
}

func TestStartFollowupRollsBackOnSendFailure(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendErr: errors.New("down")}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, &fakeFeedback{}, 30*time.Second)

	rec := DeliveryRecord{DeliveryTarget: "!room", InternalMessageID: "internal-1"}
	if c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1") {
		t.Fatal("expected false on send failure")
	}

	ok, err := c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", model.IncomingMessage{Question: "it was wrong"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("rolled-back follow-up should not be consumable")
	}
}

func TestCancelFollowupRemovesPending(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, &fakeFeedback{}, 30*time.Second)

	rec := DeliveryRecord{DeliveryTarget: "!room", InternalMessageID: "internal-1"}
	c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1")

	c.CancelFollowup("matrix", "ext1", "hash1")

	ok, err := c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", model.IncomingMessage{Question: "nvm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("cancelled follow-up should not be consumable")
	}
}

func TestCancelFollowupIdempotent(t *testing.T) {
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{}}, &fakeFeedback{}, 30*time.Second)
	c.CancelFollowup("matrix", "ghost", "hash")
	c.CancelFollowup("matrix", "ghost", "hash")
}

func TestConsumeIfPendingPersistsAndAcks(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	feedback := &fakeFeedback{issues: []string{"wrong-fee"}}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, feedback, 30*time.Second)

	rec := DeliveryRecord{DeliveryTarget: "!room", InternalMessageID: "internal-1"}
	c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1")

	incoming := model.IncomingMessage{MessageID: "reply-1", Question: "the fee amount was wrong"}
	ok, err := c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected consume to succeed")
	}
	if feedback.updatedID != "internal-1" {
		t.Errorf("updatedID = %q, want internal-1", feedback.updatedID)
	}
	if feedback.updatedText != "the fee amount was wrong" {
		t.Errorf("updatedText = %q", feedback.updatedText)
	}

	// ack was sent as the second message (prompt was first)
	if len(plugin.sent) != 2 {
		t.Fatalf("expected prompt + ack, got %d messages", len(plugin.sent))
	}
	ack := plugin.sent[1]
	if ack.Answer != defaultAck {
		t.Errorf("ack text = %q", ack.Answer)
	}
	if ack.InReplyTo != "reply-1" {
		t.Errorf("ack.InReplyTo = %q, want reply-1", ack.InReplyTo)
	}
	if ack.Metadata.RoutingAction != RoutingFeedbackFollowupAck {
		t.Errorf("ack routing_action = %q", ack.Metadata.RoutingAction)
	}
}

func TestConsumeIfPendingNoMatchReturnsFalse(t *testing.T) {
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{}}, &fakeFeedback{}, 30*time.Second)
	ok, err := c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", model.IncomingMessage{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected false with no pending follow-up")
	}
}

func TestConsumeIfPendingUpdateFailureKeepsPending(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	feedback := &fakeFeedback{updateErr: errors.New("db down")}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, feedback, 30*time.Second)

	rec := DeliveryRecord{DeliveryTarget: "!room", InternalMessageID: "internal-1"}
	c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1")

	ok, err := c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", model.IncomingMessage{Question: "clarify"})
	if err == nil {
		t.Fatal("expected error from failed persistence")
	}
	if ok {
		t.Error("expected false on persistence failure")
	}

	// pending entry should still be there: retry should be possible
	feedback.updateErr = nil
	ok, err = c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", model.IncomingMessage{Question: "clarify again", MessageID: "reply-2"})
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if !ok {
		t.Error("expected retry to succeed once persistence recovers")
	}
}

func TestConsumeIfPendingExpiredDropsWithoutAck(t *testing.T) {
	plugin := &fakePlugin{id: "matrix", sendOK: true}
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{"matrix": plugin}}, &fakeFeedback{}, minTTL)

	rec := DeliveryRecord{DeliveryTarget: "!room", InternalMessageID: "internal-1"}
	c.StartFollowup(context.Background(), rec, "matrix", "ext1", "bob", "hash1")

	// force expiry by rewriting the pending entry's ExpiresAt into the past
	ck := contextKey("matrix", "!room", "bob")
	c.mu.Lock()
	p := c.byContext[ck]
	p.ExpiresAt = time.Now().Add(-time.Second)
	c.byContext[ck] = p
	c.mu.Unlock()

	ok, err := c.ConsumeIfPending(context.Background(), "matrix", "!room", "bob", model.IncomingMessage{Question: "too late"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expired follow-up should not be consumable")
	}
	if len(plugin.sent) != 1 {
		t.Errorf("expected only the original prompt, no ack sent for expired entry, got %d", len(plugin.sent))
	}
}

func TestTTLFloorsToMinimum(t *testing.T) {
	c := New(&fakeResolver{plugins: map[string]channel.Plugin{}}, &fakeFeedback{}, 5*time.Second)
	if c.ttl != minTTL {
		t.Errorf("ttl = %v, want floor of %v", c.ttl, minTTL)
	}
}
