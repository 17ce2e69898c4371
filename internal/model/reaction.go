package model

import "time"

// ReactionRating is the sentiment a channel reaction maps to.
type ReactionRating string

const (
	ReactionPositive ReactionRating = "positive"
	ReactionNegative ReactionRating = "negative"
	ReactionIgnored  ReactionRating = "ignored"
)

// ReactionEvent is a channel-native reaction normalized into a sentiment signal.
type ReactionEvent struct {
	ChannelID             string
	ExternalMessageID     string
	ReactorID             string
	ReactorIdentityHash   string
	RawReaction           string
	Rating                ReactionRating
	Removed               bool
}

// PendingFollowup is an in-memory record of an outstanding clarification request.
type PendingFollowup struct {
	ChannelID           string
	DeliveryTarget      string
	ReactorID           string
	ReactorIdentityHash string
	InternalMessageID   string
	ExternalMessageID   string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the pending follow-up has passed its TTL at time now.
func (p PendingFollowup) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
