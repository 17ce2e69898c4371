package escalation

import (
	"context"
	"time"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Store is the persistence contract for escalations. Implementations must
// make Claim and Respond atomic with respect to concurrent callers: the
// state-machine guarantees in the escalation package only hold if a
// concurrent claim attempt cannot observe a torn read.
type Store interface {
	Create(ctx context.Context, in model.EscalationCreate) (model.Escalation, error)
	GetByID(ctx context.Context, id int64) (model.Escalation, error)
	GetByMessageID(ctx context.Context, messageID string) (model.Escalation, error)
	List(ctx context.Context, filter model.EscalationFilter) ([]model.Escalation, error)
	Counts(ctx context.Context) (model.EscalationCounts, error)

	// Claim attempts pending|stale-in_review -> in_review for staffID. now is
	// the current time; claimTTL bounds how old an in_review claim may be
	// before it is considered stale and reclaimable.
	Claim(ctx context.Context, id int64, staffID string, now time.Time, claimTTL time.Duration) (model.Escalation, error)

	// Respond attempts in_review -> responded, and only succeeds if staffID
	// holds the active claim.
	Respond(ctx context.Context, id int64, staffID, answer string, now time.Time) (model.Escalation, error)

	Close(ctx context.Context, id int64) (model.Escalation, error)

	// ResetStale reverts in_review records whose claim exceeds threshold back
	// to pending, returning the count reset.
	ResetStale(ctx context.Context, threshold time.Duration, now time.Time) (int, error)

	// PurgeOld deletes closed records older than threshold, returning the
	// count purged.
	PurgeOld(ctx context.Context, threshold time.Duration, now time.Time) (int, error)

	SetGeneratedFAQID(ctx context.Context, id int64, faqID string) error
}
