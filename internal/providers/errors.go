package providers

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMissingCredential is returned when the selected provider has no API key configured.
var ErrMissingCredential = errors.New("provider credential not configured")

// maxErrorBody bounds the upstream body kept on an UpstreamError.
const maxErrorBody = 512

// UpstreamError is a non-2xx response from a provider.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Body)
}

func newUpstreamError(provider string, status int, body []byte) *UpstreamError {
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return &UpstreamError{Provider: provider, Status: status, Body: string(body)}
}
