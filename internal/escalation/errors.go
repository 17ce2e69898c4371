package escalation

import "errors"

// Sentinel errors for the escalation state machine and repository.
var (
	ErrDuplicateEscalation   = errors.New("escalation: message_id already escalated")
	ErrClaimConflict         = errors.New("escalation: claim held by another staff member")
	ErrNotFound              = errors.New("escalation: not found")
	ErrNotInReview           = errors.New("escalation: not in_review")
	ErrNotResponded          = errors.New("escalation: not responded or closed")
	ErrInvalidStatusForClaim = errors.New("escalation: cannot claim from current status")
)
