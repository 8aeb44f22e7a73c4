package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider implements Provider using the go-openai client. Any
// OpenAI-compatible endpoint works through WithOpenAIBaseURL.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

type openAIOptions struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

type OpenAIOption func(*openAIOptions)

func WithOpenAIModel(model string) OpenAIOption {
	return func(o *openAIOptions) { o.model = model }
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(o *openAIOptions) { o.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithOpenAIMaxTokens(n int) OpenAIOption {
	return func(o *openAIOptions) { o.maxTokens = n }
}

func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *openAIOptions) { o.httpClient = c }
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	o := openAIOptions{model: defaultOpenAIModel, maxTokens: DefaultMaxTokens}
	for _, fn := range opts {
		fn(&o)
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	if o.model == "" {
		o.model = defaultOpenAIModel
	}
	if o.maxTokens <= 0 {
		o.maxTokens = DefaultMaxTokens
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		model:       o.model,
		maxTokens:   o.maxTokens,
		temperature: float32(DefaultTemperature),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) GenerateResponse(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    buildOpenAIMessages(req),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildOpenAIMessages(req GenerateRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	if req.Supplemental != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Supplemental})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}

// wrapError maps go-openai error types to UpstreamError. Transport errors pass
// through unchanged so RetryDo can recognise connection failures.
func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newUpstreamError(p.Name(), apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return newUpstreamError(p.Name(), reqErr.HTTPStatusCode, []byte(msg))
	}
	return fmt.Errorf("openai: %w", err)
}
