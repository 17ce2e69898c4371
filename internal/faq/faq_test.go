package faq

import (
	"context"
	"testing"

	"github.com/connexus-ai/ragbox-support-gateway/internal/model"
)

type memStore struct {
	byID map[string]model.FAQ
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]model.FAQ)}
}

func (m *memStore) Create(ctx context.Context, faq model.FAQ) (model.FAQ, error) {
	m.byID[faq.ID] = faq
	return faq, nil
}

func (m *memStore) Update(ctx context.Context, id string, question, answer, category string) (model.FAQ, error) {
	f, ok := m.byID[id]
	if !ok {
		return model.FAQ{}, ErrNotFound
	}
	f.Question, f.Answer, f.Category = question, answer, category
	m.byID[id] = f
	return f, nil
}

func (m *memStore) SetVerified(ctx context.Context, id string, verified bool) (model.FAQ, error) {
	f, ok := m.byID[id]
	if !ok {
		return model.FAQ{}, ErrNotFound
	}
	f.Verified = verified
	m.byID[id] = f
	return f, nil
}

func (m *memStore) Get(ctx context.Context, id string) (model.FAQ, error) {
	f, ok := m.byID[id]
	if !ok {
		return model.FAQ{}, ErrNotFound
	}
	return f, nil
}

func (m *memStore) List(ctx context.Context, filter model.FAQFilter) ([]model.FAQ, error) {
	var out []model.FAQ
	for _, f := range m.byID {
		if filter.Verified != nil && f.Verified != *filter.Verified {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) NotifyFAQsChanged() {
	n.calls++
}

func TestCreateUnverifiedDoesNotTriggerRebuild(t *testing.T) {
	notify := &countingNotifier{}
	svc := New(newMemStore(), notify)

	_, rebuildNeeded, err := svc.Create(context.Background(), model.FAQ{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rebuildNeeded {
		t.Error("expected rebuildNeeded=false for an unverified FAQ")
	}
	if notify.calls != 0 {
		t.Errorf("expected no rebuild notification, got %d", notify.calls)
	}
}

func TestCreateVerifiedTriggersRebuild(t *testing.T) {
	notify := &countingNotifier{}
	svc := New(newMemStore(), notify)

	_, rebuildNeeded, err := svc.Create(context.Background(), model.FAQ{Question: "q", Answer: "a", Verified: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rebuildNeeded {
		t.Error("expected rebuildNeeded=true for a verified FAQ")
	}
	if notify.calls != 1 {
		t.Errorf("expected 1 rebuild notification, got %d", notify.calls)
	}
}

func TestCreateRejectsEmptyQuestionOrAnswer(t *testing.T) {
	svc := New(newMemStore(), nil)
	if _, _, err := svc.Create(context.Background(), model.FAQ{Question: "", Answer: "a"}); err == nil {
		t.Fatal("expected an error for an empty question")
	}
}

func TestVerifyAlwaysTriggersRebuild(t *testing.T) {
	notify := &countingNotifier{}
	store := newMemStore()
	svc := New(store, notify)

	created, _, err := svc.Create(context.Background(), model.FAQ{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verified, rebuildNeeded, err := svc.Verify(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verified.Verified {
		t.Error("expected Verified=true after Verify")
	}
	if !rebuildNeeded {
		t.Error("expected rebuildNeeded=true from Verify")
	}
	if notify.calls != 1 {
		t.Errorf("expected 1 rebuild notification, got %d", notify.calls)
	}
}

func TestUpdateOnUnverifiedFAQDoesNotTriggerRebuild(t *testing.T) {
	notify := &countingNotifier{}
	store := newMemStore()
	svc := New(store, notify)

	created, _, _ := svc.Create(context.Background(), model.FAQ{Question: "q", Answer: "a"})
	_, rebuildNeeded, err := svc.Update(context.Background(), created.ID, "q2", "a2", "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rebuildNeeded {
		t.Error("expected rebuildNeeded=false when updating a FAQ that isn't verified")
	}
}

func TestUpdateOnVerifiedFAQTriggersRebuild(t *testing.T) {
	notify := &countingNotifier{}
	store := newMemStore()
	svc := New(store, notify)

	created, _, _ := svc.Create(context.Background(), model.FAQ{Question: "q", Answer: "a", Verified: true})
	notify.calls = 0 // reset the count from Create's own rebuild

	_, rebuildNeeded, err := svc.Update(context.Background(), created.ID, "q2", "a2", "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rebuildNeeded {
		t.Error("expected rebuildNeeded=true when updating a verified FAQ's content")
	}
	if notify.calls != 1 {
		t.Errorf("expected 1 rebuild notification, got %d", notify.calls)
	}
}

func TestCreateVerifiedSatisfiesEscalationFAQCreatorContract(t *testing.T) {
	svc := New(newMemStore(), nil)
	created, err := svc.CreateVerified(context.Background(), model.FAQ{Question: "how do I dispute a trade?", Answer: "open a mediation case"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created.Verified {
		t.Error("expected CreateVerified to always set Verified=true")
	}
}

func TestListFiltersByVerified(t *testing.T) {
	store := newMemStore()
	svc := New(store, nil)
	svc.Create(context.Background(), model.FAQ{ID: "1", Question: "q1", Answer: "a1", Verified: true})
	svc.Create(context.Background(), model.FAQ{ID: "2", Question: "q2", Answer: "a2", Verified: false})

	verifiedOnly := true
	got, err := svc.List(context.Background(), model.FAQFilter{Verified: &verifiedOnly})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected only the verified FAQ, got %+v", got)
	}
}
