package providers

import "context"

// Provider is the interface all text-generation backends implement.
type Provider interface {
	// GenerateResponse returns the reply text for one prompt. Implementations make a
	// single upstream call; retry and timeout live in Invoke.
	GenerateResponse(ctx context.Context, req GenerateRequest) (string, error)

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerateRequest is a fully assembled prompt.
type GenerateRequest struct {
	SystemPrompt string `json:"system_prompt"`
	Supplemental string `json:"supplemental,omitempty"`
	Turns        []Turn `json:"turns"`
}

// Turn is one role-tagged conversation entry.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Generation defaults shared by all providers.
const (
	DefaultMaxTokens   = 800
	DefaultTemperature = 0.4
)
