// Package whatsapp adapts the HTTP messaging bridge to the channels.Adapter contract.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// AdapterConfig holds settings shared by every connection's client.
type AdapterConfig struct {
	RatePerSecond float64
	Burst         int
}

// Adapter sends replies through the connection linked to each thread.
type Adapter struct {
	conns store.ConnectionStore
	cfg   AdapterConfig

	mu      sync.Mutex
	clients map[uuid.UUID]cachedClient
}

type cachedClient struct {
	client  *Client
	baseURL string
	apiKey  string
	inst    string
}

func NewAdapter(conns store.ConnectionStore, cfg AdapterConfig) *Adapter {
	return &Adapter{conns: conns, cfg: cfg, clients: make(map[uuid.UUID]cachedClient)}
}

func (a *Adapter) Type() store.ChannelType { return store.ChannelWhatsApp }

func (a *Adapter) NormalizeIncomingMessage(payload []byte) (*channels.NormalizedMessage, error) {
	return Normalize(payload)
}

func (a *Adapter) SendOutgoingMessage(ctx context.Context, tenantID uuid.UUID, thread *store.Thread, content string) error {
	link, err := a.conns.GetContactLinkByThread(ctx, thread.ID)
	if err != nil {
		return fmt.Errorf("whatsapp: contact link for thread %s: %w", thread.ID, err)
	}
	conn, err := a.conns.GetConnection(ctx, link.ConnectionID)
	if err != nil {
		return fmt.Errorf("whatsapp: connection %s: %w", link.ConnectionID, err)
	}
	if conn.TenantID != tenantID {
		return errors.New("whatsapp: connection belongs to another tenant")
	}

	res, err := a.client(conn).SendText(ctx, link.ExternalChatID, content)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("whatsapp: send rejected: %s", res.Error)
	}
	slog.Debug("whatsapp.sent", "thread_id", thread.ID, "external_id", res.ExternalID,
		"preview", channels.Truncate(content, 50))
	return nil
}

// client returns the cached client for conn, rebuilding it when credentials change.
func (a *Adapter) client(conn *store.ExternalConnection) *Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[conn.ID]; ok &&
		c.baseURL == conn.BaseURL && c.apiKey == conn.APIKey && c.inst == conn.InstanceID {
		return c.client
	}
	c := NewClient(ClientConfig{
		BaseURL:       conn.BaseURL,
		APIKey:        conn.APIKey,
		InstanceID:    conn.InstanceID,
		RatePerSecond: a.cfg.RatePerSecond,
		Burst:         a.cfg.Burst,
	})
	a.clients[conn.ID] = cachedClient{client: c, baseURL: conn.BaseURL, apiKey: conn.APIKey, inst: conn.InstanceID}
	return c
}
