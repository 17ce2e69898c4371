package faq

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// ErrNotFound is returned when a FAQ id does not exist.
var ErrNotFound = errors.New("faq: not found")

// PostgresStore implements Store with pgx, grounded on
// escalation/postgres.go's parameterized-query, whitelisted-filter shape.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const selectColumns = `id, question, answer, category, source, protocol, verified, created_at, updated_at`

func (s *PostgresStore) scanRow(row pgx.Row) (model.FAQ, error) {
	var f model.FAQ
	err := row.Scan(&f.ID, &f.Question, &f.Answer, &f.Category, &f.Source, &f.Protocol, &f.Verified, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return model.FAQ{}, err
	}
	return f, nil
}

func (s *PostgresStore) Create(ctx context.Context, faq model.FAQ) (model.FAQ, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO faqs (id, question, answer, category, source, protocol, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+selectColumns,
		faq.ID, faq.Question, faq.Answer, faq.Category, faq.Source, faq.Protocol, faq.Verified, faq.CreatedAt, faq.UpdatedAt,
	)
	f, err := s.scanRow(row)
	if err != nil {
		return model.FAQ{}, fmt.Errorf("faq.PostgresStore.Create: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, question, answer, category string) (model.FAQ, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE faqs SET question = $1, answer = $2, category = $3, updated_at = now()
		WHERE id = $4
		RETURNING `+selectColumns,
		question, answer, category, id,
	)
	f, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FAQ{}, fmt.Errorf("faq.PostgresStore.Update: %w", ErrNotFound)
		}
		return model.FAQ{}, fmt.Errorf("faq.PostgresStore.Update: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) SetVerified(ctx context.Context, id string, verified bool) (model.FAQ, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE faqs SET verified = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+selectColumns,
		verified, id,
	)
	f, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FAQ{}, fmt.Errorf("faq.PostgresStore.SetVerified: %w", ErrNotFound)
		}
		return model.FAQ{}, fmt.Errorf("faq.PostgresStore.SetVerified: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.FAQ, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM faqs WHERE id = $1", id)
	f, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FAQ{}, fmt.Errorf("faq.PostgresStore.Get: %w", ErrNotFound)
		}
		return model.FAQ{}, fmt.Errorf("faq.PostgresStore.Get: %w", err)
	}
	return f, nil
}

// List restricts filtering to a fixed column whitelist (verified, category,
// protocol) so no caller-supplied column name ever reaches the query.
func (s *PostgresStore) List(ctx context.Context, filter model.FAQFilter) ([]model.FAQ, error) {
	query := "SELECT " + selectColumns + " FROM faqs WHERE 1=1"
	var args []any
	argN := 1

	if filter.Verified != nil {
		query += fmt.Sprintf(" AND verified = $%d", argN)
		args = append(args, *filter.Verified)
		argN++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argN)
		args = append(args, filter.Category)
		argN++
	}
	if filter.Protocol != "" {
		query += fmt.Sprintf(" AND protocol = $%d", argN)
		args = append(args, filter.Protocol)
		argN++
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("faq.PostgresStore.List: %w", err)
	}
	defer rows.Close()

	var out []model.FAQ
	for rows.Next() {
		f, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("faq.PostgresStore.List: scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
