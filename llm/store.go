package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CallRecord represents a single provider call, retries included.
type CallRecord struct {
	// RequestID uniquely identifies this call.
	RequestID string `json:"request_id"`

	// Provider is the configured provider name (openai, openrouter, ...).
	Provider string `json:"provider"`

	// Model is the actual model that was used for this call.
	Model string `json:"model"`

	// Messages is the input message history sent to the provider.
	Messages []Message `json:"messages"`

	// Response is the generated content.
	Response string `json:"response,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	// Error contains the final error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`
}

// CallStore persists call records.
type CallStore interface {
	Store(ctx context.Context, record *CallRecord) error
}

// MemoryCallStore keeps the most recent records in memory.
type MemoryCallStore struct {
	mu      sync.Mutex
	limit   int
	records []*CallRecord
}

// NewMemoryCallStore creates a store holding at most limit records.
// A limit of 0 or less keeps everything.
func NewMemoryCallStore(limit int) *MemoryCallStore {
	return &MemoryCallStore{limit: limit}
}

// Store appends a record, evicting the oldest past the limit.
func (s *MemoryCallStore) Store(_ context.Context, record *CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	if s.limit > 0 && len(s.records) > s.limit {
		s.records = s.records[len(s.records)-s.limit:]
	}
	return nil
}

// Records returns a copy of the stored records in insertion order.
func (s *MemoryCallStore) Records() []*CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// SortByStartTime orders records oldest first.
func SortByStartTime(records []*CallRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}
