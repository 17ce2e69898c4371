// Package learning implements the learning sink consumed by the escalation
// engine: every staff resolution is recorded as a review event so a
// downstream process can use admin_action ("approved" vs "edited") and
// confidence to improve future retrieval/generation quality.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-support-gateway/internal/escalation"
)

// Event is the persisted shape of an escalation.LearningEvent.
type Event struct {
	QuestionID    string
	Confidence    float64
	AdminAction   string
	RoutingAction string
	Metadata      map[string]any
	RecordedAt    time.Time
}

// Store persists learning events.
type Store interface {
	Insert(ctx context.Context, event Event) error
}

// PostgresStore implements Store with pgx, grounded on the teacher's
// repository/session.go insert shape.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Insert(ctx context.Context, event Event) error {
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("learning.PostgresStore.Insert: marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO learning_events (question_id, confidence, admin_action, routing_action, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.QuestionID, event.Confidence, event.AdminAction, event.RoutingAction, metaJSON, event.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("learning.PostgresStore.Insert: %w", err)
	}
	return nil
}

// Sink implements escalation.LearningSink over a Store.
type Sink struct {
	store Store
}

var _ escalation.LearningSink = (*Sink)(nil)

// NewSink constructs a Sink over store.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Record persists a learning event. Insert failures are returned to the
// caller, which (per the escalation engine's contract) logs them without
// undoing the already-committed state transition.
func (s *Sink) Record(ctx context.Context, event escalation.LearningEvent) error {
	return s.store.Insert(ctx, Event{
		QuestionID:    event.QuestionID,
		Confidence:    event.Confidence,
		AdminAction:   event.AdminAction,
		RoutingAction: event.RoutingAction,
		Metadata:      event.Metadata,
		RecordedAt:    time.Now(),
	})
}
