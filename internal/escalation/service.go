// Package escalation implements the human-review state machine: creation,
// claim/respond/close transitions, learning-signal recording, FAQ
// generation from a resolved escalation, and maintenance sweeps.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Learning admin_action values recorded alongside the respond transition.
const (
	AdminActionApproved = "approved"
	AdminActionEdited   = "edited"
)

// LearningEvent is the signal recorded when a staff response resolves an
// escalation, feeding whatever downstream process improves future answers.
type LearningEvent struct {
	QuestionID    string
	Confidence    float64
	AdminAction   string
	RoutingAction string
	Metadata      map[string]any
}

// LearningSink records LearningEvents. Failures are logged, never block
// the respond transition.
type LearningSink interface {
	Record(ctx context.Context, event LearningEvent) error
}

// FAQCreator creates a verified FAQ entry.
type FAQCreator interface {
	CreateVerified(ctx context.Context, faq model.FAQ) (model.FAQ, error)
}

// ChannelResolver looks up the plugin owning a channel_id.
type ChannelResolver interface {
	Get(channelID string) channel.Plugin
}

// DeliveryMetrics observes the outcome of delivering a staff response.
type DeliveryMetrics interface {
	RecordEscalationDelivery(channelID, outcome string)
}

// FAQResult is returned by GenerateFAQFromEscalation.
type FAQResult struct {
	FAQID    string
	Question string
	Answer   string
}

// Service is the escalation engine: the Store implements persistence, the
// optional collaborators implement learning, FAQ generation, and reply
// delivery. The learning sink, channel resolver, and metrics are skipped when
// nil; with a nil FAQCreator, GenerateFAQFromEscalation returns an error.
type Service struct {
	store    Store
	learning LearningSink
	faqs     FAQCreator
	channels ChannelResolver
	metrics  DeliveryMetrics
	claimTTL time.Duration
}

// NewService constructs a Service. claimTTL floors to 1 minute if given a
// smaller or zero value, matching the spec's "stale claim TTL, default 30
// minutes" framing with a defensive floor against misconfiguration.
func NewService(store Store, learning LearningSink, faqs FAQCreator, channels ChannelResolver, metrics DeliveryMetrics, claimTTL time.Duration) *Service {
	if claimTTL < time.Minute {
		claimTTL = time.Minute
	}
	return &Service{store: store, learning: learning, faqs: faqs, channels: channels, metrics: metrics, claimTTL: claimTTL}
}

// Create inserts a new pending escalation.
func (s *Service) Create(ctx context.Context, in model.EscalationCreate) (model.Escalation, error) {
	return s.store.Create(ctx, in)
}

// Claim attempts the pending|stale-in_review -> in_review transition for staffID.
func (s *Service) Claim(ctx context.Context, id int64, staffID string) (model.Escalation, error) {
	return s.store.Claim(ctx, id, staffID, time.Now(), s.claimTTL)
}

// Respond transitions in_review -> responded, then best-effort delivers the
// answer to the originating channel and records the learning signal. Neither
// delivery nor learning failures undo the persisted transition.
func (s *Service) Respond(ctx context.Context, id int64, staffID, answer string) (model.Escalation, error) {
	updated, err := s.store.Respond(ctx, id, staffID, answer, time.Now())
	if err != nil {
		return model.Escalation{}, err
	}

	s.deliver(ctx, updated, answer)
	s.recordLearning(ctx, updated, staffID, answer)

	return updated, nil
}

func (s *Service) deliver(ctx context.Context, esc model.Escalation, answer string) {
	if s.channels == nil {
		return
	}
	plugin := s.channels.Get(esc.ChannelID)
	if plugin == nil {
		s.observeDelivery(esc.ChannelID, "no_channel")
		return
	}
	target := plugin.GetDeliveryTarget(esc.ChannelMetadata)
	if target == "" {
		s.observeDelivery(esc.ChannelID, "no_target")
		return
	}

	out := model.OutgoingMessage{
		MessageID: uuid.NewString(),
		InReplyTo: esc.MessageID,
		ChannelID: esc.ChannelID,
		Answer:    answer,
		User:      model.UserContext{UserID: esc.UserID, ChannelUserID: esc.Username},
	}

	sent, err := plugin.SendMessage(ctx, target, out)
	switch {
	case err != nil:
		slog.Error("escalation: staff response delivery failed", "escalation_id", esc.ID, "channel", esc.ChannelID, "error", err)
		s.observeDelivery(esc.ChannelID, "error")
	case !sent:
		s.observeDelivery(esc.ChannelID, "unsent")
	default:
		s.observeDelivery(esc.ChannelID, "sent")
	}
}

func (s *Service) observeDelivery(channelID, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEscalationDelivery(channelID, outcome)
	}
}

func (s *Service) recordLearning(ctx context.Context, esc model.Escalation, staffID, answer string) {
	if s.learning == nil {
		return
	}
	adminAction := AdminActionEdited
	if strings.TrimSpace(answer) == strings.TrimSpace(esc.AIDraftAnswer) {
		adminAction = AdminActionApproved
	}
	event := LearningEvent{
		QuestionID:    fmt.Sprintf("escalation:%d", esc.ID),
		Confidence:    esc.ConfidenceScore,
		AdminAction:   adminAction,
		RoutingAction: esc.RoutingAction,
		Metadata:      map[string]any{"channel": esc.ChannelID, "staff_id": staffID},
	}
	if err := s.learning.Record(ctx, event); err != nil {
		slog.Error("escalation: learning sink record failed", "escalation_id", esc.ID, "error", err)
	}
}

// Close marks an escalation closed.
func (s *Service) Close(ctx context.Context, id int64) (model.Escalation, error) {
	return s.store.Close(ctx, id)
}

// List, Counts, GetByID, GetByMessageID are direct store passthroughs.
func (s *Service) List(ctx context.Context, filter model.EscalationFilter) ([]model.Escalation, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) Counts(ctx context.Context) (model.EscalationCounts, error) {
	return s.store.Counts(ctx)
}

func (s *Service) GetByID(ctx context.Context, id int64) (model.Escalation, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetByMessageID(ctx context.Context, messageID string) (model.Escalation, error) {
	return s.store.GetByMessageID(ctx, messageID)
}

// ResetStale reverts claims whose age exceeds threshold back to pending.
func (s *Service) ResetStale(ctx context.Context, threshold time.Duration) (int, error) {
	return s.store.ResetStale(ctx, threshold, time.Now())
}

// PurgeOld deletes closed escalations older than threshold.
func (s *Service) PurgeOld(ctx context.Context, threshold time.Duration) (int, error) {
	return s.store.PurgeOld(ctx, threshold, time.Now())
}

// GenerateFAQFromEscalation promotes a resolved escalation into a verified FAQ.
func (s *Service) GenerateFAQFromEscalation(ctx context.Context, id int64, question, answer, category, protocol string) (FAQResult, error) {
	if s.faqs == nil {
		return FAQResult{}, fmt.Errorf("escalation.Service.GenerateFAQFromEscalation: no FAQ creator configured")
	}
	esc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return FAQResult{}, err
	}
	if esc.Status != model.EscalationResponded && esc.Status != model.EscalationClosed {
		return FAQResult{}, fmt.Errorf("escalation.Service.GenerateFAQFromEscalation: status=%s: %w", esc.Status, ErrNotResponded)
	}

	now := time.Now()
	faq := model.FAQ{
		ID:        uuid.NewString(),
		Question:  question,
		Answer:    answer,
		Category:  category,
		Source:    "Escalation",
		Protocol:  protocol,
		Verified:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.faqs.CreateVerified(ctx, faq)
	if err != nil {
		return FAQResult{}, fmt.Errorf("escalation.Service.GenerateFAQFromEscalation: create FAQ: %w", err)
	}

	if err := s.store.SetGeneratedFAQID(ctx, id, created.ID); err != nil {
		slog.Error("escalation: failed to record generated_faq_id", "escalation_id", id, "faq_id", created.ID, "error", err)
	}

	return FAQResult{FAQID: created.ID, Question: created.Question, Answer: created.Answer}, nil
}
