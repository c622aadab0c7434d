package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// capturedRequest is what /requests reports for one served call.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"`
	Status    int           `json:"status"`
}

// server answers openai-style chat completions from fixtures.
type server struct {
	fixtures map[string][]reply
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	calls    int
	byModel  map[string]int
	requests []capturedRequest
}

func newServer(fixtures map[string][]reply, logger *slog.Logger) *server {
	return &server{
		fixtures: fixtures,
		logger:   logger,
		now:      time.Now,
		byModel:  make(map[string]int),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

// lookup resolves a model name, accepting a "mock-" prefix on either side.
func (s *server) lookup(model string) (string, []reply, bool) {
	if seq, ok := s.fixtures[model]; ok {
		return model, seq, true
	}
	stripped := strings.TrimPrefix(model, "mock-")
	if seq, ok := s.fixtures[stripped]; ok {
		return stripped, seq, true
	}
	return "", nil, false
}

// next picks the reply for the model's next call and records the request.
func (s *server) next(name string, seq []reply, req chatRequest) (reply, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	idx := s.byModel[name]
	s.byModel[name] = idx + 1

	r := seq[min(idx, len(seq)-1)]
	s.requests = append(s.requests, capturedRequest{
		Model:     name,
		Messages:  req.Messages,
		CallIndex: idx + 1,
		Status:    max(r.Status, http.StatusOK),
	})
	return r, idx + 1
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	name, seq, ok := s.lookup(req.Model)
	if !ok {
		s.logger.Warn("No fixture for model", slog.String("model", req.Model))
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	rep, callIndex := s.next(name, seq, req)
	s.logger.Info("Completion served",
		slog.String("model", name),
		slog.Int("call_index", callIndex),
		slog.Int("messages", len(req.Messages)),
		slog.Int("status", max(rep.Status, http.StatusOK)))

	if rep.Status != 0 {
		http.Error(w, fmt.Sprintf(`{"error":{"message":"scripted failure %d"}}`, rep.Status), rep.Status)
		return
	}

	now := s.now()
	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", now.UnixNano()),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: rep.Content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(rep.Content) / 4,
			CompletionTokens: len(rep.Content) / 4,
			TotalTokens:      len(rep.Content) / 2,
		},
	})
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	models := make([]entry, 0, len(s.fixtures))
	for name := range s.fixtures {
		models = append(models, entry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	writeJSON(w, map[string]any{"object": "list", "data": models})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.byModel))
	for k, v := range s.byModel {
		byModel[k] = v
	}
	total := s.calls
	s.mu.Unlock()

	writeJSON(w, map[string]any{"total_calls": total, "calls_by_model": byModel})
}

// handleRequests lists captured requests, optionally filtered by ?model=.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("model")

	s.mu.Lock()
	out := make([]capturedRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if filter == "" || req.Model == filter {
			out = append(out, req)
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"requests": out})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
