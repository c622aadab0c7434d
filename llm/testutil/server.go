package testutil

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Step is one scripted HTTP reply. A zero Status means 200 with an openai
// completion carrying Content; any other status writes Body as-is.
type Step struct {
	Status  int
	Content string
	Body    string
}

// ScriptedHandler replies to successive requests with its steps. The last
// step repeats once the script is exhausted.
type ScriptedHandler struct {
	mu    sync.Mutex
	steps []Step
	calls int
}

// NewScriptedHandler creates a handler over steps.
func NewScriptedHandler(steps ...Step) *ScriptedHandler {
	return &ScriptedHandler{steps: steps}
}

// Calls returns how many requests were served.
func (h *ScriptedHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// ServeHTTP implements http.Handler.
func (h *ScriptedHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	var step Step
	if len(h.steps) > 0 {
		step = h.steps[min(h.calls, len(h.steps)-1)]
	}
	h.calls++
	h.mu.Unlock()

	if step.Status != 0 && step.Status != http.StatusOK {
		w.WriteHeader(step.Status)
		_, _ = w.Write([]byte(step.Body))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(CompletionBody(step.Content))
}

// CompletionBody renders an openai chat-completion response.
func CompletionBody(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":    "chatcmpl-test",
		"model": "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	})
	return body
}
