package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/inbox"
	"github.com/nextlevelbuilder/goinbox/internal/metrics"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

var errWebhookAuth = errors.New("webhook authentication failed")

// Ingester stores a normalized inbound message.
type Ingester interface {
	Ingest(ctx context.Context, conn *store.ExternalConnection, in *channels.NormalizedMessage) (*inbox.IngestResult, error)
}

// WebhookHandler receives messaging bridge callbacks.
type WebhookHandler struct {
	conns      store.ConnectionStore
	normalizer channels.Adapter
	ingest     Ingester
	limiter    *channels.WebhookRateLimiter
	metrics    *metrics.Metrics
	production bool
}

// NewWebhookHandler creates the webhook handler. Outside production a single
// connection without a secret accepts unauthenticated callbacks.
func NewWebhookHandler(conns store.ConnectionStore, normalizer channels.Adapter, ingest Ingester,
	limiter *channels.WebhookRateLimiter, m *metrics.Metrics, production bool) *WebhookHandler {
	return &WebhookHandler{
		conns:      conns,
		normalizer: normalizer,
		ingest:     ingest,
		limiter:    limiter,
		metrics:    m,
		production: production,
	}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/webhooks/whatsapp", h.handle)
	mux.HandleFunc("POST /v1/webhooks/whatsapp/{connection_id}", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if ok, retry := h.limiter.Allow(ip); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		h.metrics.Webhook("rate_limited")
		slog.Warn("webhook.rate_limited", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.Webhook("too_large")
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	secret := r.Header.Get("X-Webhook-Secret")
	if secret == "" {
		secret = r.Header.Get("apikey")
	}
	conn, err := h.authenticate(r.Context(), r.PathValue("connection_id"), secret)
	if err != nil {
		h.metrics.Webhook("unauthorized")
		slog.Warn("webhook.auth_failed", "ip", ip, "connection_id", r.PathValue("connection_id"), "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	msg, err := h.normalizer.NormalizeIncomingMessage(body)
	if err != nil {
		if !errors.Is(err, channels.ErrIgnored) {
			slog.Debug("webhook.unparsable", "connection_id", conn.ID, "error", err)
		}
		h.metrics.Webhook("ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res, err := h.ingest.Ingest(r.Context(), conn, msg)
	if err != nil {
		h.metrics.Webhook("error")
		slog.Error("webhook.ingest_failed", "connection_id", conn.ID, "error", err)
		// Authenticated callbacks are always acknowledged with 200.
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	h.metrics.Webhook("accepted")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "accepted",
		"thread_id":  res.Thread.ID.String(),
		"message_id": res.Message.ID.String(),
	})
}

// authenticate resolves the connection the callback belongs to and checks its secret.
func (h *WebhookHandler) authenticate(ctx context.Context, rawID, secret string) (*store.ExternalConnection, error) {
	if rawID != "" {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, errWebhookAuth
		}
		conn, err := h.conns.GetConnection(ctx, id)
		if err != nil {
			return nil, errWebhookAuth
		}
		if conn.WebhookSecret == "" {
			if h.production {
				return nil, errWebhookAuth
			}
			return conn, nil
		}
		if !secretEqual(secret, conn.WebhookSecret) {
			return nil, errWebhookAuth
		}
		return conn, nil
	}

	conns, err := h.conns.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	if secret != "" {
		for i := range conns {
			if conns[i].WebhookSecret != "" && secretEqual(secret, conns[i].WebhookSecret) {
				return &conns[i], nil
			}
		}
	}
	if !h.production && len(conns) == 1 && conns[0].WebhookSecret == "" {
		return &conns[0], nil
	}
	return nil, errWebhookAuth
}
