// Package testutil provides scripted stand-ins for LLM providers: a
// completer, an HTTP handler speaking the openai dialect and a Planner.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/semplan/llm"
)

// MockLLMClient is a thread-safe scripted completer. It captures the
// context and request passed to Complete and returns configured responses.
//
// Usage:
//
//	// Single response mock
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{
//	        {Content: `{"title": "x", "tasks": []}`, Model: "test-model"},
//	    },
//	}
//
//	// Fail once, then succeed
//	mock := &MockLLMClient{
//	    Errs:      []error{llm.ErrServiceUnavailable},
//	    Responses: []*llm.Response{{Content: "{}"}},
//	}
type MockLLMClient struct {
	// ProviderName is returned by Name. Empty means "mock".
	ProviderName string
	Responses    []*llm.Response // Responses to return in sequence
	// Errs are returned, in order, before any response is.
	Errs []error
	Err  error // Error to return on every call (takes precedence)

	mu              sync.Mutex
	capturedContext context.Context
	requests        []llm.Request
	callCount       int
	responseIndex   int
	errIndex        int
}

// Name returns the provider name.
func (m *MockLLMClient) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Complete returns the next scripted error or response.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.capturedContext = ctx
	m.requests = append(m.requests, req)
	m.callCount++

	if m.Err != nil {
		return nil, m.Err
	}
	if m.errIndex < len(m.Errs) {
		err := m.Errs[m.errIndex]
		m.errIndex++
		return nil, err
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}

	// Default response if no responses configured
	return &llm.Response{Content: "", Model: "test-model", Attempts: 1}, nil
}

// GetCapturedContext returns the last context passed to Complete().
func (m *MockLLMClient) GetCapturedContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturedContext
}

// GetCallCount returns the number of times Complete() was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request, or false if none was made.
func (m *MockLLMClient) LastRequest() (llm.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Reset clears call state so the mock can be reused across test cases.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.responseIndex = 0
	m.errIndex = 0
	m.requests = nil
	m.capturedContext = nil
}
