package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/connexus-ai/ragbox-support-gateway/internal/hook"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

type fakeRAG struct {
	answer model.OutgoingMessage
	err    error
	called bool
}

func (f *fakeRAG) Answer(ctx context.Context, msg model.IncomingMessage) (model.OutgoingMessage, error) {
	f.called = true
	return f.answer, f.err
}

type mutatingPreHook struct {
	name string
	fn   func(*model.IncomingMessage)
}

func (h mutatingPreHook) Name() string { return h.name }
func (h mutatingPreHook) Execute(ctx context.Context, msg *model.IncomingMessage) error {
	h.fn(msg)
	return nil
}

type abortingPreHook struct{ name string }

func (h abortingPreHook) Name() string { return h.name }
func (h abortingPreHook) Execute(ctx context.Context, msg *model.IncomingMessage) error {
	return errors.New("blocked")
}

type gatewayErrorPreHook struct {
	name string
	code model.ErrorCode
}

func (h gatewayErrorPreHook) Name() string { return h.name }
func (h gatewayErrorPreHook) Execute(ctx context.Context, msg *model.IncomingMessage) error {
	return model.NewGatewayError(h.code, "blocked by "+h.name)
}

type gatewayErrorPostHook struct {
	name string
	code model.ErrorCode
}

func (h gatewayErrorPostHook) Name() string { return h.name }
func (h gatewayErrorPostHook) Execute(ctx context.Context, msg *model.IncomingMessage, out *model.OutgoingMessage) error {
	return model.NewGatewayError(h.code, "blocked by "+h.name)
}

func newValidMessage() model.IncomingMessage {
	return model.IncomingMessage{MessageID: "m1", ChannelID: "web", Question: "how do I trade?"}
}

func TestProcessMessageRejectsEmptyQuestion(t *testing.T) {
	g := New(&fakeRAG{}, hook.New(), NewChannelSet("web"), "v1")
	msg := newValidMessage()
	msg.Question = ""

	_, err := g.ProcessMessage(context.Background(), msg)
	gerr, ok := AsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.Code != model.ErrInvalidMessage {
		t.Errorf("Code = %v, want ErrInvalidMessage", gerr.Code)
	}
}

func TestProcessMessageRejectsUnknownChannel(t *testing.T) {
	g := New(&fakeRAG{}, hook.New(), NewChannelSet("web"), "v1")
	msg := newValidMessage()
	msg.ChannelID = "carrier-pigeon"

	_, err := g.ProcessMessage(context.Background(), msg)
	gerr, ok := AsGatewayError(err)
	if !ok || gerr.Code != model.ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestProcessMessageRunsPreHooksBeforeRAG(t *testing.T) {
	pipeline := hook.New()
	var tagged string
	pipeline.RegisterPre(mutatingPreHook{name: "tag", fn: func(m *model.IncomingMessage) {
		tagged = m.Question
	}}, hook.PriorityNormal)

	g := New(&fakeRAG{answer: model.OutgoingMessage{Answer: "ok"}}, pipeline, NewChannelSet("web"), "v1")
	out, err := g.ProcessMessage(context.Background(), newValidMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tagged != "how do I trade?" {
		t.Errorf("pre-hook did not observe message, tagged = %q", tagged)
	}
	if out.Answer != "ok" {
		t.Errorf("Answer = %q, want ok", out.Answer)
	}
	if len(out.Metadata.HooksExecuted) != 1 || out.Metadata.HooksExecuted[0] != "tag" {
		t.Errorf("HooksExecuted = %v, want [tag]", out.Metadata.HooksExecuted)
	}
}

func TestProcessMessageAbortsOnPreHookError(t *testing.T) {
	pipeline := hook.New()
	pipeline.RegisterPre(abortingPreHook{name: "blocker"}, hook.PriorityHigh)

	rag := &fakeRAG{answer: model.OutgoingMessage{}}
	g := New(rag, pipeline, NewChannelSet("web"), "v1")

	_, err := g.ProcessMessage(context.Background(), newValidMessage())
	if err == nil {
		t.Fatal("expected error from aborting pre-hook")
	}
	if rag.called {
		t.Error("RAG should not be invoked after pre-hook abort")
	}
}

func TestProcessMessagePreservesPreHookGatewayErrorCode(t *testing.T) {
	pipeline := hook.New()
	pipeline.RegisterPre(gatewayErrorPreHook{name: "rate-limiter", code: model.ErrRateLimitExceeded}, hook.PriorityHigh)

	g := New(&fakeRAG{}, pipeline, NewChannelSet("web"), "v1")
	_, err := g.ProcessMessage(context.Background(), newValidMessage())

	gerr, ok := AsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.Code != model.ErrRateLimitExceeded {
		t.Errorf("Code = %v, want %v (pre-hook's error code must not be discarded)", gerr.Code, model.ErrRateLimitExceeded)
	}
	if gerr.Code.HTTPStatus() != 429 {
		t.Errorf("HTTPStatus() = %d, want 429", gerr.Code.HTTPStatus())
	}
}

func TestProcessMessagePreservesPostHookGatewayErrorCode(t *testing.T) {
	pipeline := hook.New()
	pipeline.RegisterPost(gatewayErrorPostHook{name: "pii-filter", code: model.ErrPIIDetected}, hook.PriorityNormal)

	g := New(&fakeRAG{answer: model.OutgoingMessage{Answer: "ok"}}, pipeline, NewChannelSet("web"), "v1")
	_, err := g.ProcessMessage(context.Background(), newValidMessage())

	gerr, ok := AsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.Code != model.ErrPIIDetected {
		t.Errorf("Code = %v, want %v (post-hook's error code must not be discarded)", gerr.Code, model.ErrPIIDetected)
	}
}

func TestProcessMessageSynthesizesValidationErrorForPlainPreHookError(t *testing.T) {
	pipeline := hook.New()
	pipeline.RegisterPre(abortingPreHook{name: "blocker"}, hook.PriorityHigh)

	g := New(&fakeRAG{}, pipeline, NewChannelSet("web"), "v1")
	_, err := g.ProcessMessage(context.Background(), newValidMessage())

	gerr, ok := AsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.Code != model.ErrValidation {
		t.Errorf("Code = %v, want ErrValidation for an untyped hook error", gerr.Code)
	}
}

func TestProcessMessageWrapsRAGFailureAsRecoverable(t *testing.T) {
	g := New(&fakeRAG{err: errors.New("llm down")}, hook.New(), NewChannelSet("web"), "v1")

	_, err := g.ProcessMessage(context.Background(), newValidMessage())
	gerr, ok := AsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.Code != model.ErrRAGServiceError {
		t.Errorf("Code = %v, want ErrRAGServiceError", gerr.Code)
	}
	if !gerr.Recoverable {
		t.Error("RAG_SERVICE_ERROR should be marked recoverable")
	}
}

func TestProcessMessagePopulatesEnvelopeFields(t *testing.T) {
	conf := 0.82
	rag := &fakeRAG{answer: model.OutgoingMessage{
		Answer:   "use the escrow flow",
		Metadata: model.ResponseMetadata{ModelName: "gpt-x", ConfidenceScore: &conf},
	}}
	g := New(rag, hook.New(), NewChannelSet("web"), "v1.2.3")

	msg := newValidMessage()
	out, err := g.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.InReplyTo != msg.MessageID {
		t.Errorf("InReplyTo = %q, want %q", out.InReplyTo, msg.MessageID)
	}
	if out.ChannelID != msg.ChannelID {
		t.Errorf("ChannelID = %q, want %q", out.ChannelID, msg.ChannelID)
	}
	if out.OriginalQuestion != msg.Question {
		t.Errorf("OriginalQuestion = %q, want %q", out.OriginalQuestion, msg.Question)
	}
	if out.Metadata.VersionInfo != "v1.2.3" {
		t.Errorf("VersionInfo = %q, want v1.2.3", out.Metadata.VersionInfo)
	}
	if out.Metadata.ConfidenceScore == nil || *out.Metadata.ConfidenceScore != 0.82 {
		t.Errorf("ConfidenceScore = %v, want 0.82", out.Metadata.ConfidenceScore)
	}
	if out.Metadata.ProcessingTimeMs < 0 {
		t.Error("ProcessingTimeMs should be non-negative")
	}
}

func TestProcessMessageAbortsOnPostHookError(t *testing.T) {
	pipeline := hook.New()
	pipeline.RegisterPost(abortingPostHook{name: "blocker"}, hook.PriorityNormal)

	g := New(&fakeRAG{answer: model.OutgoingMessage{Answer: "ok"}}, pipeline, NewChannelSet("web"), "v1")
	_, err := g.ProcessMessage(context.Background(), newValidMessage())
	if err == nil {
		t.Fatal("expected error from aborting post-hook")
	}
}

type abortingPostHook struct{ name string }

func (h abortingPostHook) Name() string { return h.name }
func (h abortingPostHook) Execute(ctx context.Context, msg *model.IncomingMessage, out *model.OutgoingMessage) error {
	return errors.New("post blocked")
}
