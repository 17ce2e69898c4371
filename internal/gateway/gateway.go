// Package gateway implements the ChannelGateway: the single entry point a
// channel plugin calls to turn an IncomingMessage into an OutgoingMessage,
// running the pre/post hook pipeline around RAG invocation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/ragbox-support-gateway/internal/hook"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// RAGService is the narrow contract the gateway needs from the RAG
// orchestrator. Kept as an interface so the gateway is testable without a
// live retriever/LLM stack, mirroring the teacher's GenAIClient/VectorSearcher
// interface-for-testability pattern.
type RAGService interface {
	Answer(ctx context.Context, msg model.IncomingMessage) (model.OutgoingMessage, error)
}

// KnownChannels reports whether a channel_id is registered. The gateway
// depends only on this narrow check, not the full channel.Registry, so it
// can be faked in tests.
type KnownChannels interface {
	Get(channelID string) bool
}

type channelSet map[string]struct{}

func (s channelSet) Get(channelID string) bool {
	_, ok := s[channelID]
	return ok
}

// NewChannelSet builds a KnownChannels from a static list of channel IDs.
func NewChannelSet(ids ...string) KnownChannels {
	s := make(channelSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Gateway wires the hook pipeline around a RAGService.
type Gateway struct {
	rag      RAGService
	hooks    *hook.Pipeline
	channels KnownChannels
	version  string
}

// New constructs a Gateway. version is surfaced on every OutgoingMessage's
// Metadata.VersionInfo.
func New(rag RAGService, hooks *hook.Pipeline, channels KnownChannels, version string) *Gateway {
	return &Gateway{rag: rag, hooks: hooks, channels: channels, version: version}
}

// ProcessMessage runs msg through validation, pre-hooks, RAG, and post-hooks.
// A *model.GatewayError is returned (wrapped, matchable with errors.As) on
// any abort; all other errors are internal failures.
func (g *Gateway) ProcessMessage(ctx context.Context, msg model.IncomingMessage) (model.OutgoingMessage, error) {
	start := time.Now()

	if err := g.validate(msg); err != nil {
		return model.OutgoingMessage{}, err
	}

	hooksExecuted, err := g.hooks.RunPre(ctx, &msg)
	if err != nil {
		slog.Warn("gateway: pre-hook aborted message", "channel", msg.ChannelID, "error", err)
		if gerr, ok := AsGatewayError(err); ok {
			return model.OutgoingMessage{}, gerr
		}
		return model.OutgoingMessage{}, model.NewGatewayError(model.ErrValidation, err.Error())
	}

	out, err := g.rag.Answer(ctx, msg)
	if err != nil {
		slog.Error("gateway: RAG invocation failed", "channel", msg.ChannelID, "error", err)
		gerr := model.NewGatewayError(model.ErrRAGServiceError, err.Error())
		gerr.Recoverable = true
		return model.OutgoingMessage{}, gerr
	}

	out.InReplyTo = msg.MessageID
	out.ChannelID = msg.ChannelID
	out.OriginalQuestion = msg.Question
	out.User = msg.User
	out.Metadata.ProcessingTimeMs = time.Since(start)
	out.Metadata.VersionInfo = g.version
	out.Metadata.HooksExecuted = append(append([]string(nil), hooksExecuted...))

	postExecuted, err := g.hooks.RunPost(ctx, &msg, &out)
	out.Metadata.HooksExecuted = append(out.Metadata.HooksExecuted, postExecuted...)
	if err != nil {
		slog.Warn("gateway: post-hook aborted message", "channel", msg.ChannelID, "error", err)
		if gerr, ok := AsGatewayError(err); ok {
			return model.OutgoingMessage{}, gerr
		}
		return model.OutgoingMessage{}, model.NewGatewayError(model.ErrValidation, err.Error())
	}

	out.Metadata.ProcessingTimeMs = time.Since(start)
	return out, nil
}

func (g *Gateway) validate(msg model.IncomingMessage) error {
	if msg.Question == "" {
		return model.NewGatewayError(model.ErrInvalidMessage, "question must not be empty")
	}
	if msg.ChannelID == "" {
		return model.NewGatewayError(model.ErrInvalidMessage, "channel_id must not be empty")
	}
	if g.channels != nil && !g.channels.Get(msg.ChannelID) {
		return model.NewGatewayError(model.ErrInvalidMessage, fmt.Sprintf("unknown channel %q", msg.ChannelID))
	}
	return nil
}

// AsGatewayError unwraps err into a *model.GatewayError, if it is one.
func AsGatewayError(err error) (*model.GatewayError, bool) {
	var gerr *model.GatewayError
	ok := errors.As(err, &gerr)
	return gerr, ok
}
