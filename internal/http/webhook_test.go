package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/channels/internalchat"
	"github.com/nextlevelbuilder/goinbox/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/goinbox/internal/inbox"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/internal/store/mem"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	plain   []agent.RunRequest
	guarded []agent.RunRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req agent.RunRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plain = append(d.plain, req)
}

func (d *recordingDispatcher) DispatchGuarded(_ context.Context, req agent.RunRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.guarded = append(d.guarded, req)
}

type apiFixture struct {
	mem     *mem.Store
	runs    *recordingDispatcher
	svc     *inbox.Service
	limiter *channels.WebhookRateLimiter
	mux     *http.ServeMux
	tenant  uuid.UUID
}

func newAPIFixture(t *testing.T, production bool, rl channels.RateLimitConfig) *apiFixture {
	t.Helper()
	stores, m := mem.NewStores()
	f := &apiFixture{mem: m, runs: &recordingDispatcher{}, tenant: uuid.New()}

	wa := whatsapp.NewAdapter(stores.Connections, whatsapp.AdapterConfig{})
	internal := internalchat.New()
	reg, err := channels.NewRegistry(internal, wa)
	require.NoError(t, err)

	f.svc = inbox.NewService(stores, reg, agent.NewMemoryLeaseManager(agent.DefaultLeaseConfig()), f.runs, nil)
	f.limiter = channels.NewWebhookRateLimiter(rl)
	f.mux = http.NewServeMux()
	NewWebhookHandler(stores.Connections, wa, f.svc, f.limiter, nil, production).RegisterRoutes(f.mux)
	NewThreadsHandler(f.svc, internal, "tok").RegisterRoutes(f.mux)
	NewAgentHandler(stores.Agents, "tok").RegisterRoutes(f.mux)
	return f
}

func (f *apiFixture) addConnection(t *testing.T, secret string) *store.ExternalConnection {
	t.Helper()
	c := &store.ExternalConnection{TenantID: f.tenant, BaseURL: "http://bridge", InstanceID: "i", WebhookSecret: secret}
	require.NoError(t, f.mem.CreateConnection(context.Background(), c))
	return c
}

func (f *apiFixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:5555"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

const upsertBody = `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511999@s.whatsapp.net","id":"A1"},"pushName":"Ana","message":{"conversation":"hello"}}}`

func TestWebhookAcceptsWithSecret(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())
	conn := f.addConnection(t, "s3cret")

	rec := f.do("POST", "/v1/webhooks/whatsapp/"+conn.ID.String(), upsertBody, map[string]string{"X-Webhook-Secret": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted"`)
	assert.Equal(t, 1, f.mem.ThreadCount())
	assert.Len(t, f.runs.plain, 1)

	// apikey header works too, and the connection can be found by secret alone.
	rec = f.do("POST", "/v1/webhooks/whatsapp", upsertBody, map[string]string{"apikey": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.mem.ThreadCount())
	assert.Len(t, f.runs.plain, 2)
}

func TestWebhookUnauthorized(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())
	conn := f.addConnection(t, "s3cret")
	open := f.addConnection(t, "")

	tests := []struct {
		name   string
		path   string
		header map[string]string
	}{
		{"wrong secret", "/v1/webhooks/whatsapp/" + conn.ID.String(), map[string]string{"X-Webhook-Secret": "nope"}},
		{"missing secret", "/v1/webhooks/whatsapp/" + conn.ID.String(), nil},
		{"unknown connection", "/v1/webhooks/whatsapp/" + uuid.NewString(), map[string]string{"X-Webhook-Secret": "s3cret"}},
		{"bad connection id", "/v1/webhooks/whatsapp/not-a-uuid", nil},
		{"no match without id", "/v1/webhooks/whatsapp", map[string]string{"X-Webhook-Secret": "other"}},
		{"secretless connection in production", "/v1/webhooks/whatsapp/" + open.ID.String(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do("POST", tt.path, upsertBody, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Equal(t, 0, f.mem.ThreadCount())
}

func TestWebhookSingleConnectionFallbackOutsideProduction(t *testing.T) {
	f := newAPIFixture(t, false, channels.DefaultRateLimitConfig())
	f.addConnection(t, "")

	rec := f.do("POST", "/v1/webhooks/whatsapp", upsertBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.mem.ThreadCount())

	// A second connection makes the fallback ambiguous.
	f.addConnection(t, "")
	rec = f.do("POST", "/v1/webhooks/whatsapp", upsertBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIgnoredPayloadsReturnOK(t *testing.T) {
	f := newAPIFixture(t, true, channels.DefaultRateLimitConfig())
	conn := f.addConnection(t, "k")
	path := "/v1/webhooks/whatsapp/" + conn.ID.String()
	hdr := map[string]string{"X-Webhook-Secret": "k"}

	for _, body := range []string{
		`{"event":"messages.upsert","data":{"key":{"remoteJid":"1@s.whatsapp.net","fromMe":true},"message":{"conversation":"x"}}}`,
		`{"event":"messages.upsert","data":{"key":{"remoteJid":"1-2@g.us"},"message":{"conversation":"x"}}}`,
		`{"type":"message","from":"1","chat":"status@broadcast","content":"x"}`,
		`garbage`,
	} {
		rec := f.do("POST", path, body, hdr)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ignored")
	}
	assert.Equal(t, 0, f.mem.ThreadCount())
	assert.Empty(t, f.runs.plain)
}

func TestWebhookRateLimited(t *testing.T) {
	f := newAPIFixture(t, true, channels.RateLimitConfig{MaxHits: 2, Window: time.Minute, MaxKeys: 16})
	conn := f.addConnection(t, "k")
	path := "/v1/webhooks/whatsapp/" + conn.ID.String()
	hdr := map[string]string{"X-Webhook-Secret": "k"}

	assert.Equal(t, http.StatusOK, f.do("POST", path, upsertBody, hdr).Code)
	assert.Equal(t, http.StatusOK, f.do("POST", path, upsertBody, hdr).Code)

	rec := f.do("POST", path, upsertBody, hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

type failingIngester struct{ calls int }

func (f *failingIngester) Ingest(context.Context, *store.ExternalConnection, *channels.NormalizedMessage) (*inbox.IngestResult, error) {
	f.calls++
	return nil, errors.New("db down")
}

func TestWebhookIngestFailureStillAcknowledged(t *testing.T) {
	stores, m := mem.NewStores()
	conn := &store.ExternalConnection{TenantID: uuid.New(), BaseURL: "http://bridge", InstanceID: "i", WebhookSecret: "k"}
	require.NoError(t, m.CreateConnection(context.Background(), conn))

	ing := &failingIngester{}
	mux := http.NewServeMux()
	wa := whatsapp.NewAdapter(stores.Connections, whatsapp.AdapterConfig{})
	NewWebhookHandler(stores.Connections, wa, ing, channels.NewWebhookRateLimiter(channels.DefaultRateLimitConfig()), nil, true).RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/v1/webhooks/whatsapp/"+conn.ID.String(), strings.NewReader(upsertBody))
	req.Header.Set("X-Webhook-Secret", "k")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
	assert.Equal(t, 1, ing.calls)
}
