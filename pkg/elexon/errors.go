package elexon

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxErrorBody = 512

// TransportError wraps DNS, connection and timeout failures.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("elexon: GET %s: transport: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response. Body carries the (truncated)
// response payload for diagnosis.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elexon: GET %s: http status %d: %s", e.URL, e.Status, e.Body)
}

// DecodeError reports a body that is not valid JSON. It is retried, since
// truncated payloads are usually transient.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("elexon: GET %s: decode response: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UpstreamFormatError reports valid JSON that breaks the data-list contract.
// It is never retried.
type UpstreamFormatError struct {
	URL    string
	Reason string
}

func (e *UpstreamFormatError) Error() string {
	return fmt.Sprintf("elexon: GET %s: unexpected payload: %s", e.URL, e.Reason)
}

// UpstreamUnavailableError is returned once the retry budget is exhausted.
type UpstreamUnavailableError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("elexon: GET %s: unavailable after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
