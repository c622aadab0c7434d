package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Pre-compiled regex patterns for JSON extraction from LLM responses.
var (
	// jsonObjectPattern matches from the first { to the last } (greedy).
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// ErrNoJSONObject is wrapped by the ParseError returned when the input
// contains no {...} span at all.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// Sanitize extracts a plausible JSON object from raw model output: it trims,
// strips a ```json fence, narrows to the outermost {...} span and removes
// raw control characters. Escaped sequences such as \n are left intact.
func Sanitize(raw string) (string, error) {
	candidate, err := extractCandidate(raw)
	if err != nil {
		return "", err
	}
	return stripControlChars(candidate), nil
}

// ParseJSONObject sanitizes raw and decodes it strictly. Numbers decode as
// json.Number. A decode failure is returned as a ParseError; the content is
// never rewritten to make it parse.
func ParseJSONObject(raw string) (map[string]any, error) {
	candidate, err := extractCandidate(raw)
	if err != nil {
		return nil, err
	}

	obj, err := decodeStrict(stripControlChars(candidate))
	if err != nil {
		return nil, NewParseError(err)
	}
	return obj, nil
}

func extractCandidate(raw string) (string, error) {
	s := stripFence(strings.TrimSpace(raw))

	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		match := jsonObjectPattern.FindString(s)
		if match == "" {
			return "", NewParseError(ErrNoJSONObject)
		}
		s = match
	}
	return s, nil
}

func decodeStrict(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	if obj == nil {
		return nil, fmt.Errorf("JSON value is null, expected object")
	}
	return obj, nil
}

// stripFence removes a leading ``` or ```json line and a trailing ```.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// stripControlChars drops bytes 0x00-0x1F and 0x7F. Those never appear
// inside a valid JSON escape, which is written with printable bytes.
func stripControlChars(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b bytes.Buffer
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
