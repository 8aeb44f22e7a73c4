package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxErrorBody bounds the bridge response body kept on a failed send.
const maxErrorBody = 512

// SendResult is the outcome of one outbound send.
type SendResult struct {
	OK         bool   `json:"ok"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ClientConfig configures a bridge client for one connection.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	InstanceID    string
	RatePerSecond float64 // outbound sends per second; 0 = 1
	Burst         int
	HTTPClient    *http.Client
}

// Client talks to the HTTP messaging bridge for a single instance.
type Client struct {
	baseURL    string
	apiKey     string
	instanceID string
	http       *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		instanceID: cfg.InstanceID,
		http:       cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// SendText posts a text message to number. A non-2xx bridge response is reported in
// SendResult; the error return is reserved for transport failures and cancellation.
func (c *Client) SendText(ctx context.Context, number, text string) (SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: rate wait: %w", err)
	}

	data, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/message/sendText/" + url.PathEscape(c.instanceID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return SendResult{Error: fmt.Sprintf("bridge status %d: %s", resp.StatusCode, body)}, nil
	}

	var out sendTextResponse
	_ = json.Unmarshal(body, &out)
	return SendResult{OK: true, ExternalID: out.Key.ID}, nil
}
