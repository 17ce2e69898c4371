// Package rag implements the RAG Orchestrator: for a question and chat
// history it retrieves context, assembles a prompt, invokes the LLM, and
// returns a structured OutgoingMessage. Grounded on the teacher's
// service.GeneratorService (system/user prompt split, GenAIClient interface
// for testability) generalized from a single-document-set Q&A assistant to
// the gateway's retrieval-backed, multi-turn, routing-aware contract.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
	"github.com/connexus-ai/ragbox-support-gateway/internal/retrieval"
)

const apologyAnswer = "I'm sorry, I wasn't able to generate an answer right now. Please try again shortly."

const (
	// RoutingAction values the orchestrator may assign. Mirrors
	// internal/dispatch's recognized set so nothing downstream ever sees an
	// unknown routing_action unless it's intentional (the fail-open path).
	RoutingAutoSend           = "auto_send"
	RoutingNeedsClarification = "needs_clarification"
	RoutingQueueMedium        = "queue_medium"
	RoutingNeedsHuman         = "needs_human"
)

const systemPreface = `You are the support assistant for a peer-to-peer cryptocurrency exchange.
Answer only from the provided context. Never speculate about prices, legal advice, or account-specific actions.
If the context does not contain the answer, say so plainly rather than guessing.
Be aware the underlying software evolves across versions; do not assume a detail still holds unless the context confirms it for the version in question.`

const contextOnlySystemPreface = `You are the support assistant for a peer-to-peer cryptocurrency exchange.
No new documentation was retrieved for this question. Answer only using the prior conversation below.
If the question introduces a new topic the conversation doesn't cover, reply that you don't have enough information and suggest rephrasing. Keep the reply to 2-3 sentences.`

const noInformationReply = "I don't have enough information to answer that. Could you rephrase or provide more detail?"

// LLMClient abstracts the generative model call for testability, mirroring
// the teacher's GenAIClient interface.
type LLMClient interface {
	GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GuidanceSource supplies feedback-derived guidance bullets for a query.
// Optional: a nil GuidanceSource simply contributes no guidance.
type GuidanceSource interface {
	RecentGuidance(ctx context.Context, query string) ([]string, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistoryWindow overrides the number of trailing chat turns retained
// (default 5).
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyWindow = n
		}
	}
}

// WithMaxContextLength overrides the context block truncation length in
// runes (default 6000).
func WithMaxContextLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxContextLength = n
		}
	}
}

// WithTopK overrides how many documents are requested from the retriever
// (default 5).
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithGuidanceSource attaches a feedback-derived guidance source.
func WithGuidanceSource(g GuidanceSource) Option {
	return func(o *Orchestrator) { o.guidance = g }
}

// WithConfidenceThresholds overrides the three routing boundaries. autoSend
// is the minimum confidence routed straight to the user; clarify is the
// minimum routed as a direct but hedged answer; queueMedium is the minimum
// routed to the review queue at normal priority rather than escalated as
// needs_human.
func WithConfidenceThresholds(autoSend, clarify, queueMedium float64) Option {
	return func(o *Orchestrator) {
		o.confAutoSend, o.confClarify, o.confQueueMedium = autoSend, clarify, queueMedium
	}
}

// Orchestrator implements gateway.RAGService.
type Orchestrator struct {
	retriever retrieval.Retriever
	llm       LLMClient
	guidance  GuidanceSource

	historyWindow    int
	maxContextLength int
	topK             int

	confAutoSend    float64
	confClarify     float64
	confQueueMedium float64

	modelName string
}

// New constructs an Orchestrator. modelName is surfaced verbatim on
// ResponseMetadata.ModelName.
func New(retriever retrieval.Retriever, llm LLMClient, modelName string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever:        retriever,
		llm:              llm,
		modelName:        modelName,
		historyWindow:    5,
		maxContextLength: 6000,
		topK:             5,
		confAutoSend:     0.75,
		confClarify:      0.55,
		confQueueMedium:  0.35,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer implements gateway.RAGService. It always returns a nil error: a
// retrieval failure is logged and generation proceeds with zero documents,
// and an LLM failure is absorbed into a stable apology response. A nil
// retriever or llm is not checked.
func (o *Orchestrator) Answer(ctx context.Context, msg model.IncomingMessage) (model.OutgoingMessage, error) {
	start := time.Now()
	history := lastNTurns(msg.ChatHistory, o.historyWindow)

	docs, err := o.retriever.RetrieveWithScores(ctx, msg.Question, o.topK, nil)
	if err != nil {
		slog.Error("rag: retrieval failed", "channel", msg.ChannelID, "error", err)
		docs = nil
	}

	if len(docs) == 0 && len(history) > 0 {
		return o.answerFromHistoryOnly(ctx, msg, history, start), nil
	}

	guidance := o.fetchGuidance(ctx, msg.Question)

	systemPrompt := systemPreface
	userPrompt := o.buildUserPrompt(msg.Question, history, docs, guidance)

	raw, err := o.llm.GenerateContent(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("rag: generation failed", "channel", msg.ChannelID, "error", err)
		return o.apologyResponse(start), nil
	}

	confidence := estimateConfidence(docs)
	return model.OutgoingMessage{
		Answer:  strings.TrimSpace(raw),
		Sources: toSources(docs),
		Metadata: model.ResponseMetadata{
			ProcessingTimeMs: time.Since(start),
			RAGStrategy:      "hybrid_retrieval",
			ModelName:        o.modelName,
			ConfidenceScore:  &confidence,
			RoutingAction:    o.routingAction(confidence),
		},
	}, nil
}

func (o *Orchestrator) answerFromHistoryOnly(ctx context.Context, msg model.IncomingMessage, history []model.HistoryTurn, start time.Time) model.OutgoingMessage {
	userPrompt := buildHistoryOnlyPrompt(msg.Question, history)
	raw, err := o.llm.GenerateContent(ctx, contextOnlySystemPreface, userPrompt)
	if err != nil {
		slog.Error("rag: context-only generation failed", "channel", msg.ChannelID, "error", err)
		return o.apologyResponse(start)
	}

	answer := strings.TrimSpace(raw)
	if answer == "" {
		answer = noInformationReply
	}
	confidence := 0.6
	return model.OutgoingMessage{
		Answer: answer,
		Metadata: model.ResponseMetadata{
			ProcessingTimeMs: time.Since(start),
			RAGStrategy:      "history_only",
			ModelName:        o.modelName,
			ConfidenceScore:  &confidence,
			RoutingAction:    o.routingAction(confidence),
		},
	}
}

func (o *Orchestrator) apologyResponse(start time.Time) model.OutgoingMessage {
	return model.OutgoingMessage{
		Answer: apologyAnswer,
		Metadata: model.ResponseMetadata{
			ProcessingTimeMs: time.Since(start),
			RAGStrategy:      "error",
			ModelName:        o.modelName,
			RoutingAction:    RoutingAutoSend,
		},
	}
}

func (o *Orchestrator) fetchGuidance(ctx context.Context, query string) []string {
	if o.guidance == nil {
		return nil
	}
	bullets, err := o.guidance.RecentGuidance(ctx, query)
	if err != nil {
		slog.Warn("rag: guidance lookup failed, continuing without it", "error", err)
		return nil
	}
	return bullets
}

// routingAction maps a confidence score onto the dispatcher's recognized
// routing_action values. This is the three-boundary policy decided for this
// gateway: above confAutoSend delivers directly, above confClarify still
// delivers directly but as a hedged answer, above confQueueMedium goes to
// the review queue at normal priority, and anything lower escalates.
func (o *Orchestrator) routingAction(confidence float64) string {
	switch {
	case confidence >= o.confAutoSend:
		return RoutingAutoSend
	case confidence >= o.confClarify:
		return RoutingNeedsClarification
	case confidence >= o.confQueueMedium:
		return RoutingQueueMedium
	default:
		return RoutingNeedsHuman
	}
}

// lastNTurns returns the trailing n entries of history, oldest first.
func lastNTurns(history []model.HistoryTurn, n int) []model.HistoryTurn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func formatHistory(history []model.HistoryTurn) string {
	var sb strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			sb.WriteString("Human: ")
		case model.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			slog.Warn("rag: dropping chat history turn with unrecognized role", "role", turn.Role)
			continue
		}
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (o *Orchestrator) buildUserPrompt(question string, history []model.HistoryTurn, docs []retrieval.RetrievedDoc, guidance []string) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("=== CONVERSATION SO FAR ===\n")
		sb.WriteString(formatHistory(history))
		sb.WriteString("\n")
	}

	sb.WriteString("=== CONTEXT ===\n")
	sb.WriteString(truncateRunes(buildContextBlock(docs), o.maxContextLength))
	sb.WriteString("\n\n")

	if len(guidance) > 0 {
		sb.WriteString("=== GUIDANCE FROM PAST STAFF CORRECTIONS ===\n")
		for _, g := range guidance {
			sb.WriteString("- ")
			sb.WriteString(g)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== QUESTION ===\n")
	sb.WriteString(question)
	return sb.String()
}

func buildHistoryOnlyPrompt(question string, history []model.HistoryTurn) string {
	var sb strings.Builder
	sb.WriteString("=== CONVERSATION SO FAR ===\n")
	sb.WriteString(formatHistory(history))
	sb.WriteString("\n=== QUESTION ===\n")
	sb.WriteString(question)
	return sb.String()
}

func buildContextBlock(docs []retrieval.RetrievedDoc) string {
	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "[%d] (%s, score %.2f)\n%s\n\n", i+1, d.Reference.Title, d.Score, d.Content)
	}
	return sb.String()
}

// truncateRunes truncates s to at most n runes, preserving full runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func toSources(docs []retrieval.RetrievedDoc) []model.DocumentReference {
	sources := make([]model.DocumentReference, len(docs))
	for i, d := range docs {
		sources[i] = d.Reference
	}
	return sources
}

// estimateConfidence derives a [0,1] confidence score from the retrieved
// documents' fused relevance scores: the top score, scaled down slightly
// when few corroborating documents were found.
func estimateConfidence(docs []retrieval.RetrievedDoc) float64 {
	if len(docs) == 0 {
		return 0
	}
	sorted := append([]retrieval.RetrievedDoc(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	top := clamp01(sorted[0].Score)
	if len(sorted) == 1 {
		top *= 0.9
	}
	return clamp01(top)
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
