package adx

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Error taxonomy
// -----------------------------------------------------------------------------

// ParseError indicates a malformed or truncated response stream. It is
// fatal: decoding cannot continue past it.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adx: parse error: %s: %v", e.Msg, e.Err)
	}
	return "adx: parse error: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// ProtocolError indicates the service replied with a wire variant this
// client does not support, such as the progressive result format.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "adx: protocol error: " + e.Msg }

func errProgressiveUnsupported() *ProtocolError {
	return &ProtocolError{Msg: "progressive result mode is not supported; disable results_progressive_enabled on the request"}
}

// UsageError indicates the caller violated the streaming contract, e.g.
// requesting a new primary table before draining the previous one. It is a
// caller bug, never a service or transport failure.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return "adx: usage error: " + e.Msg }

// -----------------------------------------------------------------------------
// Service errors
// -----------------------------------------------------------------------------

// OneApiError is one structured error object as returned by the service,
// either embedded mid-stream in a Rows array or listed under OneApiErrors.
type OneApiError struct {
	// Code is the short machine-readable error code.
	Code string

	// Message is the human-readable summary.
	Message string

	// Type is the fully qualified server-side exception type.
	Type string

	// Description is the extended message (wire field "@message").
	Description string

	// Context carries the server-side diagnostic context (wire field
	// "@context").
	Context map[string]any

	// Permanent reports whether the server flagged the failure as
	// non-retryable. A missing flag is treated as transient.
	Permanent bool
}

func (e *OneApiError) Error() string {
	return fmt.Sprintf("adx: %s: %s", e.Code, e.Message)
}

// oneApiErrorFromMap builds a OneApiError from a decoded wire object.
// Objects missing the mandatory code or message fields yield a
// FailedToParse placeholder rather than an error, matching service
// tooling behavior.
func oneApiErrorFromMap(m map[string]any) *OneApiError {
	code, okCode := m["code"].(string)
	message, okMessage := m["message"].(string)
	if !okCode || !okMessage {
		return &OneApiError{
			Code:    "FailedToParse",
			Message: "failed to parse one of the service error objects",
			Type:    "FailedToParseOneApiError",
		}
	}

	e := &OneApiError{Code: code, Message: message}
	if t, ok := m["@type"].(string); ok {
		e.Type = t
	}
	if d, ok := m["@message"].(string); ok {
		e.Description = d
	}
	if c, ok := m["@context"].(map[string]any); ok {
		e.Context = c
	}
	if p, ok := m["@permanent"].(bool); ok {
		e.Permanent = p
	}
	return e
}

// ServiceError is an application-level failure reported inside an
// otherwise well-formed response: a row delivered as an error object, or a
// populated DataSetCompletion.OneApiErrors list. It carries one
// OneApiError per underlying failure.
type ServiceError struct {
	Errors []*OneApiError
}

func (e *ServiceError) Error() string {
	if len(e.Errors) == 0 {
		return "adx: service error"
	}
	parts := make([]string, len(e.Errors))
	for i, oe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", oe.Code, oe.Message)
	}
	return "adx: service error: " + strings.Join(parts, "; ")
}

// Permanent reports whether every underlying error is flagged permanent.
func (e *ServiceError) Permanent() bool {
	if len(e.Errors) == 0 {
		return false
	}
	for _, oe := range e.Errors {
		if !oe.Permanent {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// HTTP errors
// -----------------------------------------------------------------------------

// HTTPError is a non-success response from the service's HTTP surface.
// When the body carried a structured error object it is exposed via Api.
type HTTPError struct {
	StatusCode int
	Api        *OneApiError
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Api != nil {
		return fmt.Sprintf("adx: http %d: %s: %s", e.StatusCode, e.Api.Code, e.Api.Message)
	}
	return fmt.Sprintf("adx: http %d", e.StatusCode)
}

// Throttled reports whether the failure is throttling-class and worth
// retrying after a backoff.
func (e *HTTPError) Throttled() bool {
	return e.StatusCode == 429 || (e.Api != nil && e.Api.Code == "TooManyRequests")
}

// Permanent reports whether the server flagged the failure as
// non-retryable. Responses without the flag count as transient.
func (e *HTTPError) Permanent() bool {
	return e.Api != nil && e.Api.Permanent
}
