package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/semplan/llm"
	_ "github.com/c360studio/semplan/llm/providers" // Register providers
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper captures backoff delays instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func writeCompletion(w http.ResponseWriter, content string) {
	resp := map[string]any{
		"id":    "chatcmpl-123",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func testRetryConfig() llm.RetryConfig {
	return llm.RetryConfig{
		MaxRetries:    3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

func newTestClient(t *testing.T, url string, opts ...llm.ClientOption) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(llm.ProviderConfig{
		Name:    "test",
		Dialect: "openai",
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "test-model",
	}, opts...)
	require.NoError(t, err)
	return client
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Len(t, body["messages"], 1)

		writeCompletion(w, "Hello! How can I help you?")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: "user", Content: "Hello"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you?", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 1, resp.Attempts)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32

	// Server that fails first 2 times, then succeeds
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service temporarily unavailable"))
			return
		}
		writeCompletion(w, "Success after retries")
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := newTestClient(t, server.URL,
		llm.WithRetryConfig(testRetryConfig()),
		llm.WithSleeper(sleeper.Sleep))

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Success after retries", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.Delays())
}

func TestClient_Complete_RateLimitBackoff(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := newTestClient(t, server.URL,
		llm.WithRetryConfig(testRetryConfig()),
		llm.WithSleeper(sleeper.Sleep))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Equal(t, "test", llm.ProviderOf(err))
	assert.Equal(t, int32(4), attempts.Load(), "maxRetries+1 attempts")
	assert.Equal(t, []time.Duration{6 * time.Second, 12 * time.Second, 24 * time.Second}, sleeper.Delays())

	var typed *llm.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusTooManyRequests, typed.StatusCode)
	assert.Contains(t, err.Error(), "slow down")
}

func TestClient_Complete_NoRetryOnClientRejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var attempts atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(status)
			}))
			defer server.Close()

			sleeper := &recordingSleeper{}
			client := newTestClient(t, server.URL,
				llm.WithRetryConfig(testRetryConfig()),
				llm.WithSleeper(sleeper.Sleep))

			_, err := client.Complete(context.Background(), llm.Request{
				Messages: []llm.Message{{Role: "user", Content: "Hello"}},
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, llm.ErrClientRejected)
			assert.Equal(t, int32(1), attempts.Load())
			assert.Empty(t, sleeper.Delays())
		})
	}
}

func TestClient_Complete_QuotaExceededRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		writeCompletion(w, "paid")
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := newTestClient(t, server.URL,
		llm.WithRetryConfig(testRetryConfig()),
		llm.WithSleeper(sleeper.Sleep))

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "paid", resp.Content)
	assert.Equal(t, []time.Duration{4 * time.Second}, sleeper.Delays())
}

func TestClient_Complete_MalformedEnvelopeIsParseError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, llm.WithSleeper((&recordingSleeper{}).Sleep))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.Equal(t, llm.KindParse, llm.KindOf(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_TransportErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // Connection refused from here on

	sleeper := &recordingSleeper{}
	client := newTestClient(t, url,
		llm.WithRetryConfig(llm.RetryConfig{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}),
		llm.WithSleeper(sleeper.Sleep))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrTransport)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestClient_Complete_ContextCancelledDuringBackoff(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, server.URL,
		llm.WithRetryConfig(testRetryConfig()),
		llm.WithSleeper(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := client.Complete(ctx, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_RequiresMessages(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	_, err := client.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrClientRejected)
}

func TestClient_Complete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeCompletion(w, "late")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		llm.WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
		llm.WithRetryConfig(llm.RetryConfig{MaxRetries: 0}))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.Equal(t, llm.KindTransport, llm.KindOf(err))
}

func TestNewClient_UnknownDialect(t *testing.T) {
	_, err := llm.NewClient(llm.ProviderConfig{Name: "mystery", Dialect: "smoke-signals"})

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrConfiguration)
	assert.Equal(t, "mystery", llm.ProviderOf(err))
}

func TestClient_Complete_RecordsCalls(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	store := llm.NewMemoryCallStore(10)
	client := newTestClient(t, server.URL,
		llm.WithCallStore(store),
		llm.WithSleeper((&recordingSleeper{}).Sleep))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "test", records[0].Provider)
	assert.Equal(t, 1, records[0].Retries)
	assert.Equal(t, "ok", records[0].Response)
	assert.Empty(t, records[0].Error)
}

type countingObserver struct {
	mu       sync.Mutex
	attempts int
	failures int
	retries  []llm.Kind
}

func (o *countingObserver) ObserveAttempt(_ string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ObserveRetry(_ string, kind llm.Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, kind)
}

func TestClient_Complete_Observer(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	obs := &countingObserver{}
	client := newTestClient(t, server.URL,
		llm.WithObserver(obs),
		llm.WithSleeper((&recordingSleeper{}).Sleep))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, obs.attempts)
	assert.Equal(t, 2, obs.failures)
	assert.Equal(t, []llm.Kind{llm.KindRateLimited, llm.KindRateLimited}, obs.retries)
}

func TestClient_Complete_ErrorChainKeepsCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("bad schema"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.NotNil(t, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "test: ClientRejected (status 422)")
}
