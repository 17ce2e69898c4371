package model

import "time"

// FAQ is a curated question/answer pair. Only Verified FAQs participate in
// retrieval; unverified FAQs are candidates pending staff review.
type FAQ struct {
	ID        string
	Question  string
	Answer    string
	Category  string
	Source    string
	Protocol  string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FAQFilter restricts FAQStore.List to a whitelisted set of columns.
type FAQFilter struct {
	Verified *bool
	Category string
	Protocol string
}

// HealthStatus reports a channel plugin's or retriever's health.
type HealthStatus struct {
	Healthy bool
	Detail  string
}
