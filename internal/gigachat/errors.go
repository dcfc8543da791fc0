package gigachat

import (
	"errors"
	"fmt"
)

// ErrNoCredentials means neither an OAuth key nor a client certificate is
// configured. Calls fail before any network I/O.
var ErrNoCredentials = errors.New("gigachat: no access token and no client certificate configured")

// ValidationError is a caller-side input problem (unsupported image format,
// rejected upload). Page-local and recoverable: the pipeline records it
// against the page and moves on.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "gigachat: " + e.Msg
}

// StatusError is an HTTP failure from the GigaChat API that is not handled
// at this layer. The pipeline treats it as page-local: the failing page is
// recorded and the batch continues.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gigachat: status %d: %s", e.StatusCode, truncate(e.Body, 300))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
