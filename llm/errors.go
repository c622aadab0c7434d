package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by what went wrong and, for HTTP failures, by
// the status code that was returned.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindTransport
	KindRateLimited
	KindQuotaExceeded
	KindServiceUnavailable
	KindClientRejected
	KindParse
	KindValidation
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindRateLimited:
		return "RateLimited"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindServiceUnavailable:
		return "ServiceUnavailable"
	case KindClientRejected:
		return "ClientRejected"
	case KindParse:
		return "ParseError"
	case KindValidation:
		return "ValidationError"
	case KindConfiguration:
		return "ConfigurationError"
	default:
		return "Unknown"
	}
}

// Stage names the pipeline step a failure originated in.
type Stage string

// Pipeline stages.
const (
	StageTransport  Stage = "transport"
	StageParse      Stage = "parse"
	StageValidation Stage = "validation"
	StageConfig     Stage = "config"
)

// Error is the typed failure returned by every provider operation.
type Error struct {
	Kind     Kind
	Stage    Stage
	Provider string

	// StatusCode is the HTTP status for transport failures, 0 otherwise.
	StatusCode int

	Err error
}

// Sentinels for errors.Is comparisons against a kind.
var (
	ErrTransport          = &Error{Kind: KindTransport}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrQuotaExceeded      = &Error{Kind: KindQuotaExceeded}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrClientRejected     = &Error{Kind: KindClientRejected}
	ErrParse              = &Error{Kind: KindParse}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrConfiguration      = &Error{Kind: KindConfiguration}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the bare kind sentinels, so errors.Is(err, ErrRateLimited)
// holds for any rate-limit failure regardless of provider.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil || t.Provider != "" {
		return false
	}
	return t.Kind == e.Kind
}

func stageFor(kind Kind) Stage {
	switch kind {
	case KindParse:
		return StageParse
	case KindValidation:
		return StageValidation
	case KindConfiguration:
		return StageConfig
	default:
		return StageTransport
	}
}

// NewError wraps err with the given kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Stage: stageFor(kind), Err: err}
}

// NewTransportError wraps a network or timeout failure.
func NewTransportError(err error) *Error {
	return NewError(KindTransport, err)
}

// NewParseError wraps a sanitizer or decode failure.
func NewParseError(err error) *Error {
	return NewError(KindParse, err)
}

// NewValidationError wraps a structural plan failure.
func NewValidationError(err error) *Error {
	return NewError(KindValidation, err)
}

// NewConfigurationError reports a missing provider or credential.
func NewConfigurationError(format string, args ...any) *Error {
	return NewError(KindConfiguration, fmt.Errorf(format, args...))
}

// WithProvider attributes err to provider. Errors that are not *Error are
// wrapped as transport failures. An already attributed error keeps its
// original provider.
func WithProvider(err error, provider string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = NewTransportError(err)
		e.Provider = provider
		return e
	}
	if e.Provider != "" {
		return err
	}
	cp := *e
	cp.Provider = provider
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err != nil {
		return KindTransport
	}
	return KindUnknown
}

// ProviderOf returns the provider the failure is attributed to, if any.
func ProviderOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Provider
	}
	return ""
}

// IsRetryable reports whether the failure class is retried locally.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimited, KindQuotaExceeded, KindServiceUnavailable:
		return true
	}
	return false
}

// KindForStatus maps a non-2xx HTTP status code to an error kind.
func KindForStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable:
		return KindServiceUnavailable
	case statusCode >= 500:
		return KindTransport
	case statusCode >= 400:
		return KindClientRejected
	default:
		return KindTransport
	}
}

// classifyHTTPError builds the typed error for a non-2xx response.
func classifyHTTPError(statusCode int, body []byte) *Error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	e := NewError(KindForStatus(statusCode), fmt.Errorf("API error: %s", bodyStr))
	e.StatusCode = statusCode
	return e
}
