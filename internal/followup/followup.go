// Package followup implements the Feedback Follow-up Coordinator: when a
// user reacts negatively to a delivered AI answer, it prompts them for a
// clarification and, once they reply, persists it as a tagged feedback
// entry. Grounded line-for-line on the original coordinator's dual-keyed,
// lock-then-send-outside-lock design.
package followup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-support-gateway/internal/channel"
	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Routing actions tagged on follow-up prompt/ack messages so they are never
// mistaken for ordinary AI answers by downstream learning.
const (
	RoutingFeedbackFollowupPrompt = "feedback_followup_prompt"
	RoutingFeedbackFollowupAck    = "feedback_followup_ack"
)

const (
	defaultPrompt = "Thanks for the feedback. What was incorrect or missing in the previous AI answer? A short reply helps us improve."
	defaultAck    = "Thanks. I have recorded your clarification for quality improvement."

	minTTL = 30 * time.Second
)

// FeedbackService persists the clarification and optionally tags it with
// issue categories. UpdateFeedbackEntry must succeed for consume to proceed;
// AnalyzeFeedbackText failures are swallowed.
type FeedbackService interface {
	AnalyzeFeedbackText(ctx context.Context, text string) ([]string, error)
	UpdateFeedbackEntry(ctx context.Context, internalMessageID, explanation string, issues []string) error
}

// ChannelResolver looks up the plugin owning a channel_id.
type ChannelResolver interface {
	Get(channelID string) channel.Plugin
}

// DeliveryRecord identifies the previously-delivered message a reaction
// refers to.
type DeliveryRecord struct {
	DeliveryTarget    string
	InternalMessageID string
}

// Coordinator tracks pending clarification requests under a single lock
// guarding two indexes: by context (channel/target/reactor, deduplicates
// concurrent prompts) and by reaction (channel/message/reactor-hash,
// supports cancellation on reaction removal).
type Coordinator struct {
	mu         sync.Mutex
	byContext  map[string]model.PendingFollowup
	byReaction map[string]string // reaction_key -> context_key

	channels ChannelResolver
	feedback FeedbackService
	ttl      time.Duration

	promptByChannel map[string]string
	ackByChannel    map[string]string
}

// New constructs a Coordinator. ttl floors to 30s per the spec's minimum.
func New(channels ChannelResolver, feedback FeedbackService, ttl time.Duration) *Coordinator {
	if ttl < minTTL {
		ttl = minTTL
	}
	return &Coordinator{
		byContext:       make(map[string]model.PendingFollowup),
		byReaction:      make(map[string]string),
		channels:        channels,
		feedback:        feedback,
		ttl:             ttl,
		promptByChannel: make(map[string]string),
		ackByChannel:    make(map[string]string),
	}
}

// SetTemplates overrides the prompt/ack text for a specific channel_id.
// Channels without an override use the default templates.
func (c *Coordinator) SetTemplates(channelID, prompt, ack string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt != "" {
		c.promptByChannel[channelID] = prompt
	}
	if ack != "" {
		c.ackByChannel[channelID] = ack
	}
}

func contextKey(channelID, deliveryTarget, reactorID string) string {
	return strings.ToLower(channelID) + "::" + deliveryTarget + "::" + reactorID
}

func reactionKey(channelID, externalMessageID, reactorIdentityHash string) string {
	return strings.ToLower(channelID) + "::" + externalMessageID + "::" + reactorIdentityHash
}

// StartFollowup begins (or refreshes) a pending clarification request for a
// negative reaction. It returns true when a follow-up is now active for this
// context, whether freshly prompted or refreshed from an existing thread;
// false when rejected outright (no reactor, no delivery target) or when
// sending the prompt failed.
func (c *Coordinator) StartFollowup(ctx context.Context, rec DeliveryRecord, channelID, externalMessageID, reactorID, reactorIdentityHash string) bool {
	if reactorID == "" || rec.DeliveryTarget == "" {
		return false
	}

	ck := contextKey(channelID, rec.DeliveryTarget, reactorID)
	rk := reactionKey(channelID, externalMessageID, reactorIdentityHash)
	now := time.Now()

	c.mu.Lock()
	existing, exists := c.byContext[ck]
	if exists && !existing.Expired(now) && existing.ExternalMessageID == externalMessageID {
		existing.ExpiresAt = now.Add(c.ttl)
		c.byContext[ck] = existing
		c.mu.Unlock()
		return true
	}

	pending := model.PendingFollowup{
		ChannelID: channelID, DeliveryTarget: rec.DeliveryTarget, ReactorID: reactorID,
		ReactorIdentityHash: reactorIdentityHash, InternalMessageID: rec.InternalMessageID,
		ExternalMessageID: externalMessageID, CreatedAt: now, ExpiresAt: now.Add(c.ttl),
	}
	c.byContext[ck] = pending
	c.byReaction[rk] = ck
	c.mu.Unlock()

	plugin := c.channels.Get(channelID)
	if plugin == nil {
		c.rollback(ck, rk, externalMessageID)
		return false
	}

	out := model.OutgoingMessage{
		MessageID: uuid.NewString(),
		ChannelID: channelID,
		Answer:    c.promptFor(channelID),
		Metadata:  model.ResponseMetadata{RoutingAction: RoutingFeedbackFollowupPrompt},
	}
	sent, err := plugin.SendMessage(ctx, rec.DeliveryTarget, out)
	if err != nil || !sent {
		if err != nil {
			slog.Warn("followup: prompt send failed", "channel", channelID, "error", err)
		}
		c.rollback(ck, rk, externalMessageID)
		return false
	}
	return true
}

func (c *Coordinator) rollback(ck, rk, externalMessageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byContext[ck]; ok && p.ExternalMessageID == externalMessageID {
		delete(c.byContext, ck)
	}
	delete(c.byReaction, rk)
}

// CancelFollowup removes a pending follow-up by reaction key. Idempotent.
func (c *Coordinator) CancelFollowup(channelID, externalMessageID, reactorIdentityHash string) {
	rk := reactionKey(channelID, externalMessageID, reactorIdentityHash)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ck, ok := c.byReaction[rk]; ok {
		delete(c.byReaction, rk)
		delete(c.byContext, ck)
	}
}

// ConsumeIfPending treats incoming as the clarification reply to a pending
// follow-up for (channelID, deliveryTarget, reactorID), if one exists and has
// not expired. Returns true once the clarification is persisted and the
// acknowledgement sent.
func (c *Coordinator) ConsumeIfPending(ctx context.Context, channelID, deliveryTarget, reactorID string, incoming model.IncomingMessage) (bool, error) {
	ck := contextKey(channelID, deliveryTarget, reactorID)
	now := time.Now()

	c.mu.Lock()
	pending, ok := c.byContext[ck]
	if ok && pending.Expired(now) {
		c.removeLocked(ck)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	var issues []string
	if c.feedback != nil {
		if tags, err := c.feedback.AnalyzeFeedbackText(ctx, incoming.Question); err != nil {
			slog.Warn("followup: issue-tag analysis failed, proceeding without tags", "error", err)
		} else {
			issues = tags
		}

		if err := c.feedback.UpdateFeedbackEntry(ctx, pending.InternalMessageID, incoming.Question, issues); err != nil {
			slog.Error("followup: failed to persist clarification, leaving follow-up pending", "error", err)
			return false, err
		}
	}

	c.mu.Lock()
	c.removeLocked(ck)
	c.mu.Unlock()

	if plugin := c.channels.Get(channelID); plugin != nil {
		out := model.OutgoingMessage{
			MessageID: uuid.NewString(),
			InReplyTo: incoming.MessageID,
			ChannelID: channelID,
			Answer:    c.ackFor(channelID),
			Metadata:  model.ResponseMetadata{RoutingAction: RoutingFeedbackFollowupAck},
		}
		if _, err := plugin.SendMessage(ctx, deliveryTarget, out); err != nil {
			slog.Warn("followup: ack send failed", "channel", channelID, "error", err)
		}
	}

	return true, nil
}

// removeLocked deletes ck and every reaction key pointing to it. Caller
// holds c.mu.
func (c *Coordinator) removeLocked(ck string) {
	delete(c.byContext, ck)
	for rk, mapped := range c.byReaction {
		if mapped == ck {
			delete(c.byReaction, rk)
		}
	}
}

func (c *Coordinator) promptFor(channelID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.promptByChannel[channelID]; ok {
		return p
	}
	return defaultPrompt
}

func (c *Coordinator) ackFor(channelID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.ackByChannel[channelID]; ok {
		return a
	}
	return defaultAck
}

// SweepExpired proactively drops expired pending follow-ups so the maps do
// not grow unbounded between accesses on a quiet channel.
func (c *Coordinator) SweepExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for ck, p := range c.byContext {
		if p.Expired(now) {
			c.removeLocked(ck)
			removed++
		}
	}
	return removed
}
