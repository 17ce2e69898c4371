// Package faq implements the FAQ store: the verified/unverified lifecycle
// that feeds both retrieval (verified FAQs only, per the index manager's
// source tracking) and the escalation engine's generate-FAQ-from-resolution
// path. Promoting a FAQ's verified state is the trigger the index manager
// listens for to rebuild its collection.
package faq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

// Store persists FAQ entries.
type Store interface {
	Create(ctx context.Context, faq model.FAQ) (model.FAQ, error)
	Update(ctx context.Context, id string, question, answer, category string) (model.FAQ, error)
	SetVerified(ctx context.Context, id string, verified bool) (model.FAQ, error)
	Get(ctx context.Context, id string) (model.FAQ, error)
	List(ctx context.Context, filter model.FAQFilter) ([]model.FAQ, error)
}

// RebuildNotifier is told a verified-FAQ change happened, so it can trigger
// the index manager's rebuild. Swallows nothing silently: it is the caller's
// choice whether to rebuild synchronously or queue the request.
type RebuildNotifier interface {
	NotifyFAQsChanged()
}

// FAQService wraps a Store with the verified/unverified lifecycle: every
// mutation that changes which FAQs are eligible for retrieval reports
// rebuildNeeded=true so the caller can couple it to the index manager.
type FAQService struct {
	store  Store
	notify RebuildNotifier
}

// New constructs a FAQService. notify may be nil; in that case callers must
// poll rebuildNeeded themselves.
func New(store Store, notify RebuildNotifier) *FAQService {
	return &FAQService{store: store, notify: notify}
}

// Create inserts a new FAQ, unverified by default unless req.Verified is set.
func (s *FAQService) Create(ctx context.Context, req model.FAQ) (model.FAQ, bool, error) {
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		return model.FAQ{}, false, fmt.Errorf("faq.FAQService.Create: question and answer are required")
	}
	now := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt, req.UpdatedAt = now, now

	created, err := s.store.Create(ctx, req)
	if err != nil {
		return model.FAQ{}, false, fmt.Errorf("faq.FAQService.Create: %w", err)
	}
	rebuildNeeded := created.Verified
	if rebuildNeeded {
		s.fireRebuild()
	}
	return created, rebuildNeeded, nil
}

// CreateVerified inserts an already-verified FAQ, satisfying the escalation
// engine's FAQCreator contract. Because the FAQ is verified, a successful
// insert always fires the rebuild notifier.
func (s *FAQService) CreateVerified(ctx context.Context, req model.FAQ) (model.FAQ, error) {
	req.Verified = true
	created, _, err := s.Create(ctx, req)
	return created, err
}

// Update edits question/answer/category without touching the verified flag.
// Reports rebuildNeeded when the FAQ is currently verified, since its
// retrievable content just changed.
func (s *FAQService) Update(ctx context.Context, id, question, answer, category string) (model.FAQ, bool, error) {
	updated, err := s.store.Update(ctx, id, question, answer, category)
	if err != nil {
		return model.FAQ{}, false, fmt.Errorf("faq.FAQService.Update: %w", err)
	}
	rebuildNeeded := updated.Verified
	if rebuildNeeded {
		s.fireRebuild()
	}
	return updated, rebuildNeeded, nil
}

// Verify promotes an unverified FAQ, making it eligible for retrieval.
// Always reports rebuildNeeded=true: this is the one transition that changes
// the retrievable set from "absent" to "present".
func (s *FAQService) Verify(ctx context.Context, id string) (model.FAQ, bool, error) {
	updated, err := s.store.SetVerified(ctx, id, true)
	if err != nil {
		return model.FAQ{}, false, fmt.Errorf("faq.FAQService.Verify: %w", err)
	}
	s.fireRebuild()
	return updated, true, nil
}

// Unverify retracts a previously verified FAQ from retrieval.
func (s *FAQService) Unverify(ctx context.Context, id string) (model.FAQ, bool, error) {
	updated, err := s.store.SetVerified(ctx, id, false)
	if err != nil {
		return model.FAQ{}, false, fmt.Errorf("faq.FAQService.Unverify: %w", err)
	}
	s.fireRebuild()
	return updated, true, nil
}

// Get returns a single FAQ by id.
func (s *FAQService) Get(ctx context.Context, id string) (model.FAQ, error) {
	faq, err := s.store.Get(ctx, id)
	if err != nil {
		return model.FAQ{}, fmt.Errorf("faq.FAQService.Get: %w", err)
	}
	return faq, nil
}

// List returns FAQs matching filter.
func (s *FAQService) List(ctx context.Context, filter model.FAQFilter) ([]model.FAQ, error) {
	faqs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("faq.FAQService.List: %w", err)
	}
	return faqs, nil
}

func (s *FAQService) fireRebuild() {
	if s.notify != nil {
		s.notify.NotifyFAQsChanged()
	}
}
