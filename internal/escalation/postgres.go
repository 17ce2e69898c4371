package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// PostgresStore implements Store with pgx. Grounded on the teacher's
// repository/document.go query shape: parameterized SQL, JSON columns
// marshaled/unmarshaled at the repository boundary, "pkg.Func: %w" wrapping.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, in model.EscalationCreate) (model.Escalation, error) {
	metaJSON, err := json.Marshal(in.ChannelMetadata)
	if err != nil {
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Create: marshal metadata: %w", err)
	}
	sourcesJSON, err := json.Marshal(in.Sources)
	if err != nil {
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Create: marshal sources: %w", err)
	}

	var id int64
	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `
		INSERT INTO escalations (
			message_id, channel_id, user_id, username, channel_metadata,
			question, ai_draft_answer, confidence_score, routing_action,
			routing_reason, sources, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', now())
		RETURNING id, created_at`,
		in.MessageID, in.ChannelID, in.UserID, in.Username, metaJSON,
		in.Question, in.AIDraftAnswer, in.ConfidenceScore, in.RoutingAction,
		in.RoutingReason, sourcesJSON,
	).Scan(&id, &createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Create: %w", ErrDuplicateEscalation)
		}
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Create: %w", err)
	}

	return model.Escalation{
		ID: id, MessageID: in.MessageID, ChannelID: in.ChannelID, UserID: in.UserID,
		Username: in.Username, ChannelMetadata: in.ChannelMetadata, Question: in.Question,
		AIDraftAnswer: in.AIDraftAnswer, ConfidenceScore: in.ConfidenceScore,
		RoutingAction: in.RoutingAction, RoutingReason: in.RoutingReason,
		Sources: in.Sources, Status: model.EscalationPending, CreatedAt: createdAt,
	}, nil
}

func (s *PostgresStore) scanRow(row pgx.Row) (model.Escalation, error) {
	var e model.Escalation
	var status string
	var metaJSON, sourcesJSON []byte

	err := row.Scan(
		&e.ID, &e.MessageID, &e.ChannelID, &e.UserID, &e.Username, &metaJSON,
		&e.Question, &e.AIDraftAnswer, &e.ConfidenceScore, &e.RoutingAction,
		&e.RoutingReason, &sourcesJSON, &status, &e.StaffID, &e.ClaimedAt,
		&e.RespondedAt, &e.StaffAnswer, &e.GeneratedFAQID, &e.CreatedAt,
	)
	if err != nil {
		return model.Escalation{}, err
	}

	e.Status = model.EscalationStatus(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.ChannelMetadata); err != nil {
			return model.Escalation{}, fmt.Errorf("escalation.PostgresStore: unmarshal metadata: %w", err)
		}
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &e.Sources); err != nil {
			return model.Escalation{}, fmt.Errorf("escalation.PostgresStore: unmarshal sources: %w", err)
		}
	}
	return e, nil
}

const selectColumns = `
	id, message_id, channel_id, user_id, username, channel_metadata,
	question, ai_draft_answer, confidence_score, routing_action,
	routing_reason, sources, status, staff_id, claimed_at,
	responded_at, staff_answer, generated_faq_id, created_at`

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (model.Escalation, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM escalations WHERE id = $1", id)
	e, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.GetByID: %w", ErrNotFound)
		}
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.GetByID: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) GetByMessageID(ctx context.Context, messageID string) (model.Escalation, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM escalations WHERE message_id = $1", messageID)
	e, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.GetByMessageID: %w", ErrNotFound)
		}
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.GetByMessageID: %w", err)
	}
	return e, nil
}

// List restricts filtering to a fixed column whitelist (status, channel_id,
// user_id) so no caller-supplied column name ever reaches the query.
func (s *PostgresStore) List(ctx context.Context, filter model.EscalationFilter) ([]model.Escalation, error) {
	query := "SELECT " + selectColumns + " FROM escalations WHERE 1=1"
	var args []any
	argN := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(*filter.Status))
		argN++
	}
	if filter.ChannelID != "" {
		query += fmt.Sprintf(" AND channel_id = $%d", argN)
		args = append(args, filter.ChannelID)
		argN++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argN)
		args = append(args, filter.UserID)
		argN++
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escalation.PostgresStore.List: %w", err)
	}
	defer rows.Close()

	var out []model.Escalation
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("escalation.PostgresStore.List: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Counts(ctx context.Context) (model.EscalationCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM escalations GROUP BY status`)
	if err != nil {
		return model.EscalationCounts{}, fmt.Errorf("escalation.PostgresStore.Counts: %w", err)
	}
	defer rows.Close()

	var counts model.EscalationCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.EscalationCounts{}, fmt.Errorf("escalation.PostgresStore.Counts: scan: %w", err)
		}
		switch model.EscalationStatus(status) {
		case model.EscalationPending:
			counts.Pending = n
		case model.EscalationInReview:
			counts.InReview = n
		case model.EscalationResponded:
			counts.Responded = n
		case model.EscalationClosed:
			counts.Closed = n
		}
	}
	return counts, rows.Err()
}

// Claim implements the pending|stale-in_review -> in_review transition as a
// single conditional UPDATE so a concurrent claim cannot interleave between
// the read and the write.
func (s *PostgresStore) Claim(ctx context.Context, id int64, staffID string, now time.Time, claimTTL time.Duration) (model.Escalation, error) {
	staleBefore := now.Add(-claimTTL)

	row := s.pool.QueryRow(ctx, `
		UPDATE escalations SET status = 'in_review', staff_id = $1, claimed_at = $2
		WHERE id = $3 AND (
			status = 'pending'
			OR (status = 'in_review' AND (staff_id = $1 OR claimed_at < $4))
		)
		RETURNING `+selectColumns,
		staffID, now, id, staleBefore,
	)
	e, err := s.scanRow(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Claim: %w", err)
	}

	existing, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Claim: %w", getErr)
	}
	return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Claim: status=%s staff=%v: %w", existing.Status, existing.StaffID, ErrClaimConflict)
}

// Respond implements in_review -> responded, guarded by staffID holding the
// active claim.
func (s *PostgresStore) Respond(ctx context.Context, id int64, staffID, answer string, now time.Time) (model.Escalation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE escalations SET status = 'responded', staff_answer = $1, responded_at = $2
		WHERE id = $3 AND status = 'in_review' AND staff_id = $4
		RETURNING `+selectColumns,
		answer, now, id, staffID,
	)
	e, err := s.scanRow(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Respond: %w", err)
	}

	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Respond: %w", getErr)
	}
	return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Respond: %w", ErrNotInReview)
}

func (s *PostgresStore) Close(ctx context.Context, id int64) (model.Escalation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE escalations SET status = 'closed' WHERE id = $1
		RETURNING `+selectColumns, id)
	e, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Close: %w", ErrNotFound)
		}
		return model.Escalation{}, fmt.Errorf("escalation.PostgresStore.Close: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ResetStale(ctx context.Context, threshold time.Duration, now time.Time) (int, error) {
	staleBefore := now.Add(-threshold)
	tag, err := s.pool.Exec(ctx, `
		UPDATE escalations SET status = 'pending', staff_id = NULL, claimed_at = NULL
		WHERE status = 'in_review' AND claimed_at < $1`,
		staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("escalation.PostgresStore.ResetStale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PurgeOld(ctx context.Context, threshold time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-threshold)
	tag, err := s.pool.Exec(ctx, `DELETE FROM escalations WHERE status = 'closed' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("escalation.PostgresStore.PurgeOld: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetGeneratedFAQID(ctx context.Context, id int64, faqID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE escalations SET generated_faq_id = $1 WHERE id = $2`, faqID, id)
	if err != nil {
		return fmt.Errorf("escalation.PostgresStore.SetGeneratedFAQID: %w", err)
	}
	return nil
}
