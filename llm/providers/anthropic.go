// Package providers implements the wire dialects used by llm.Client.
// Importing it registers every dialect.
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360studio/semplan/llm"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// AnthropicProvider implements the Anthropic messages API.
type AnthropicProvider struct{}

func init() {
	llm.RegisterProvider(&AnthropicProvider{})
}

// Name returns the dialect identifier.
func (a *AnthropicProvider) Name() string {
	return "anthropic"
}

// BuildURL constructs the messages endpoint.
func (a *AnthropicProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/v1/messages") {
		return baseURL
	}
	return baseURL + "/v1/messages"
}

// SetHeaders adds the API key, the pinned API version and configured headers.
func (a *AnthropicProvider) SetHeaders(req *http.Request, cfg llm.ProviderConfig) {
	if cfg.APIKey != "" {
		req.Header.Set("x-api-key", cfg.APIKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// BuildRequestBody moves system messages into the top-level system field
// and merges consecutive turns of the same role, which the API rejects.
// A conversation that opens with an assistant turn gets a placeholder user
// turn in front.
func (a *AnthropicProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	var system []string
	var turns []anthropicMessage

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == msg.Role {
			turns[n-1].Content += "\n\n" + msg.Content
			continue
		}
		turns = append(turns, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	if len(turns) == 0 {
		return nil, errors.New("anthropic requires at least one user or assistant message")
	}
	if turns[0].Role != "user" {
		turns = append([]anthropicMessage{{Role: "user", Content: "(continued)"}}, turns...)
	}

	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	return json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    turns,
		Temperature: temperature,
	})
}

type anthropicResponse struct {
	Type    string `json:"type"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicStopReasons maps stop reasons onto the chat-completions
// vocabulary so callers see one set of finish reasons.
var anthropicStopReasons = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
}

// ParseResponse concatenates the text blocks of a messages response. An
// error envelope delivered with a 2xx status is classified like its HTTP
// equivalent.
func (a *AnthropicProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewParseError(fmt.Errorf("decode anthropic response: %w", err))
	}
	if resp.Type == "error" && resp.Error != nil {
		return nil, anthropicError(resp.Error.Type, resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, llm.NewParseError(errors.New("no text content in anthropic response"))
	}

	if resp.Model == "" {
		resp.Model = model
	}
	finish := resp.StopReason
	if mapped, ok := anthropicStopReasons[finish]; ok {
		finish = mapped
	}

	return &llm.Response{
		Content: text.String(),
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finish,
	}, nil
}

func anthropicError(errType, message string) *llm.Error {
	kind := llm.KindClientRejected
	switch errType {
	case "overloaded_error":
		kind = llm.KindServiceUnavailable
	case "rate_limit_error":
		kind = llm.KindRateLimited
	case "api_error":
		kind = llm.KindTransport
	}
	return llm.NewError(kind, fmt.Errorf("%s: %s", errType, message))
}
