package providers

import (
	"regexp"
	"strings"

	"github.com/c360studio/semplan/llm"
)

// OllamaProvider is the chat-completions dialect pointed at a local Ollama
// or vLLM server. Credentials are optional.
type OllamaProvider struct {
	OpenAIProvider // Embed for shared request/response format
}

// thinkBlockRe matches the reasoning preamble some local models emit
// before their answer.
var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name returns the dialect identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the chat completions endpoint, defaulting to a
// local server.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return chatCompletionsURL(baseURL)
}

// ParseResponse strips <think> blocks from the content and fills the total
// token count when the server only reports its parts.
func (o *OllamaProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	resp, err := o.OpenAIProvider.ParseResponse(body, model)
	if err != nil {
		return nil, err
	}
	resp.Content = strings.TrimSpace(thinkBlockRe.ReplaceAllString(resp.Content, ""))
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return resp, nil
}
