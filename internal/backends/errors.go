package backends

import (
	"fmt"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const maxErrorBody = 200

// UpstreamError reports a backend reply that could not be used.
type UpstreamError struct {
	Backend    types.Backend
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error: %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: %d - %s", e.Backend, e.StatusCode, e.Body)
}

func newUpstreamError(backend types.Backend, status int, body []byte) *UpstreamError {
	return &UpstreamError{
		Backend:    backend,
		StatusCode: status,
		Body:       truncate(string(body), maxErrorBody),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
