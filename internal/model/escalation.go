package model

import "time"

// EscalationStatus is the escalation lifecycle state.
type EscalationStatus string

const (
	EscalationPending    EscalationStatus = "pending"
	EscalationInReview   EscalationStatus = "in_review"
	EscalationResponded  EscalationStatus = "responded"
	EscalationClosed     EscalationStatus = "closed"
)

// Escalation is a persisted record of a user message diverted to human review.
type Escalation struct {
	ID              int64
	MessageID       string
	ChannelID       string
	UserID          string
	Username        string
	ChannelMetadata map[string]any
	Question        string
	AIDraftAnswer   string
	ConfidenceScore float64
	RoutingAction   string
	RoutingReason   string
	Sources         []DocumentReference
	Status          EscalationStatus
	StaffID         *string
	ClaimedAt       *time.Time
	RespondedAt     *time.Time
	StaffAnswer     *string
	GeneratedFAQID  *string
	CreatedAt       time.Time
}

// EscalationCreate is the input to Escalation creation.
type EscalationCreate struct {
	MessageID       string
	ChannelID       string
	UserID          string
	Username        string
	ChannelMetadata map[string]any
	Question        string
	AIDraftAnswer   string
	ConfidenceScore float64
	RoutingAction   string
	RoutingReason   string
	Sources         []DocumentReference
}

// EscalationFilter restricts List() queries to a whitelisted set of columns.
type EscalationFilter struct {
	Status    *EscalationStatus
	ChannelID string
	UserID    string
}

// EscalationCounts summarizes escalation volume by status.
type EscalationCounts struct {
	Pending   int
	InReview  int
	Responded int
	Closed    int
}
