package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// Settings selects a provider and its credential.
type Settings struct {
	Provider  string // "openai" or "anthropic"
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Resolver builds the configured provider on demand. Settings are read through load on
// every call so a rotated key takes effect on the next run; the built provider is
// reused while settings are unchanged.
type Resolver struct {
	load func() Settings

	mu        sync.Mutex
	cached    Provider
	cachedFor Settings
}

func NewResolver(load func() Settings) *Resolver {
	return &Resolver{load: load}
}

// Resolve returns the current provider, or ErrMissingCredential when its key is empty.
func (r *Resolver) Resolve() (Provider, error) {
	s := r.load()
	if s.APIKey == "" {
		return nil, ErrMissingCredential
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil && r.cachedFor == s {
		return r.cached, nil
	}

	p, err := build(s)
	if err != nil {
		return nil, err
	}
	if r.cached != nil {
		slog.Info("provider.rebuilt", "provider", s.Provider, "model", s.Model)
	}
	r.cached, r.cachedFor = p, s
	return p, nil
}

func build(s Settings) (Provider, error) {
	switch s.Provider {
	case "", "openai":
		return NewOpenAIProvider(s.APIKey,
			WithOpenAIModel(s.Model),
			WithOpenAIBaseURL(s.BaseURL),
			WithOpenAIMaxTokens(s.MaxTokens),
		), nil
	case "anthropic":
		return NewAnthropicProvider(s.APIKey,
			WithAnthropicModel(s.Model),
			WithAnthropicBaseURL(s.BaseURL),
			WithAnthropicMaxTokens(s.MaxTokens),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
}
