// Package model holds the core data entities shared across the gateway,
// dispatcher, escalation engine, and retrieval components.
package model

import "time"

// Role identifies the speaker of a chat history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryTurn is one normalized chat history entry.
type HistoryTurn struct {
	Role    Role
	Content string
}

// UserContext identifies the user a message belongs to.
type UserContext struct {
	UserID        string
	ChannelUserID string
	SessionID     string
	AuthToken     string
}

// IncomingMessage is presented to the gateway by a channel plugin.
type IncomingMessage struct {
	MessageID        string
	ChannelID        string
	Question         string
	ChatHistory      []HistoryTurn
	User             UserContext
	ChannelMetadata  map[string]any
	BypassHooks      map[string]struct{}
	ChannelSignature string
}

// Bypasses reports whether the named hook should be skipped for this message.
func (m IncomingMessage) Bypasses(hookName string) bool {
	if m.BypassHooks == nil {
		return false
	}
	_, ok := m.BypassHooks[hookName]
	return ok
}

// ResponseMetadata carries processing diagnostics attached to an OutgoingMessage.
type ResponseMetadata struct {
	ProcessingTimeMs time.Duration
	RAGStrategy      string
	ModelName        string
	TokensUsed       *int
	ConfidenceScore  *float64
	RoutingAction    string
	RoutingReason    string
	VersionInfo      string
	HooksExecuted    []string
}

// DocumentReference identifies a retrieved source cited in an answer.
type DocumentReference struct {
	DocumentID     string
	Title          string
	URL            string
	Section        string
	Category       string
	Protocol       string
	RelevanceScore float64
}

// OutgoingMessage is the response produced by RAG or constructed by the dispatcher.
type OutgoingMessage struct {
	MessageID          string
	InReplyTo          string
	ChannelID          string
	Answer             string
	Sources            []DocumentReference
	User               UserContext
	Metadata           ResponseMetadata
	SuggestedQuestions []string
	RequiresHuman      bool
	OriginalQuestion   string
}

// Clone returns a deep-enough copy of the outgoing message for safe in-place
// rewriting (e.g. the dispatcher's queued-notice payload shaping) without
// mutating the caller's original.
func (m OutgoingMessage) Clone() OutgoingMessage {
	clone := m
	clone.Sources = append([]DocumentReference(nil), m.Sources...)
	clone.SuggestedQuestions = append([]string(nil), m.SuggestedQuestions...)
	clone.Metadata.HooksExecuted = append([]string(nil), m.Metadata.HooksExecuted...)
	if m.Metadata.ConfidenceScore != nil {
		v := *m.Metadata.ConfidenceScore
		clone.Metadata.ConfidenceScore = &v
	}
	if m.Metadata.TokensUsed != nil {
		v := *m.Metadata.TokensUsed
		clone.Metadata.TokensUsed = &v
	}
	return clone
}
