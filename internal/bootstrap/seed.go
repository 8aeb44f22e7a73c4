// Package bootstrap seeds tenants, agents and bridge connections from a json5
// file. Standalone gateways (no Postgres) start empty, so this is how they get
// something to answer with.
package bootstrap

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

//go:embed templates/*.json5
var templateFS embed.FS

// Example returns the embedded example seed file.
func Example() ([]byte, error) {
	return templateFS.ReadFile("templates/tenant.json5")
}

// File is the seed document.
type File struct {
	Tenants []Tenant `json:"tenants"`
}

type Tenant struct {
	TenantID            uuid.UUID             `json:"tenant_id"`
	Agent               AgentSeed             `json:"agent"`
	Settings            SettingsSeed          `json:"settings"`
	Channels            map[string]bool       `json:"channels"`
	Knowledge           []store.KnowledgeItem `json:"knowledge"`
	Connections         []ConnectionSeed      `json:"connections"`
	AutomatedReplyLimit int64                 `json:"automated_reply_limit"`
}

type AgentSeed struct {
	Name                     string `json:"name"`
	Active                   bool   `json:"active"`
	Instructions             string `json:"instructions"`
	SupplementalInstructions string `json:"supplemental_instructions"`
}

// SettingsSeed overrides individual behavior settings; unset fields keep the defaults.
type SettingsSeed struct {
	ResponseDelayMs       *int  `json:"responseDelayMs"`
	UseChunkedMessages    *bool `json:"useChunkedMessages"`
	MaxChunks             *int  `json:"maxChunks"`
	MaxConsecutiveReplies *int  `json:"maxConsecutiveReplies"`
	TypingSimulation      *bool `json:"typingSimulation"`
	AllowAudio            *bool `json:"allowAudio"`
	AllowImages           *bool `json:"allowImages"`
	AllowHandoffHuman     *bool `json:"allowHandoffHuman"`
	AllowScheduling       *bool `json:"allowScheduling"`
}

// apply writes every set field onto bs.
func (s SettingsSeed) apply(bs *store.BehaviorSettings) {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&bs.ResponseDelayMs, s.ResponseDelayMs)
	setBool(&bs.UseChunkedMessages, s.UseChunkedMessages)
	setInt(&bs.MaxChunks, s.MaxChunks)
	setInt(&bs.MaxConsecutiveReplies, s.MaxConsecutiveReplies)
	setBool(&bs.TypingSimulation, s.TypingSimulation)
	setBool(&bs.AllowAudio, s.AllowAudio)
	setBool(&bs.AllowImages, s.AllowImages)
	setBool(&bs.AllowHandoffHuman, s.AllowHandoffHuman)
	setBool(&bs.AllowScheduling, s.AllowScheduling)
}

// ConnectionSeed carries the secrets ExternalConnection hides from JSON.
type ConnectionSeed struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"base_url"`
	APIKey        string    `json:"api_key"`
	InstanceID    string    `json:"instance_id"`
	WebhookSecret string    `json:"webhook_secret"`
}

// Backends that accept knowledge items or quota limits outside the store
// interfaces (the in-memory store does).
type knowledgeAdder interface {
	AddKnowledge(item store.KnowledgeItem)
}

type quotaSetter interface {
	SetAutomatedReplyLimit(tenantID uuid.UUID, limit int64)
}

// Parse decodes a json5 seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json5.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, t := range f.Tenants {
		if t.TenantID == uuid.Nil {
			return nil, fmt.Errorf("seed tenant %d: tenant_id required", i)
		}
		for ch := range t.Channels {
			if !store.ChannelType(ch).Valid() {
				return nil, fmt.Errorf("seed tenant %s: unknown channel %q", t.TenantID, ch)
			}
		}
	}
	return &f, nil
}

// SeedFile reads path and applies it. See Apply.
func SeedFile(ctx context.Context, stores *store.Stores, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}
	return Apply(ctx, stores, f)
}

// Apply upserts every tenant's agent, settings and channel enablement, and
// creates connections that do not exist yet. Applying the same file twice is
// a no-op apart from timestamps.
func Apply(ctx context.Context, stores *store.Stores, f *File) error {
	for _, t := range f.Tenants {
		if err := applyTenant(ctx, stores, t); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.TenantID, err)
		}
	}
	return nil
}

func applyTenant(ctx context.Context, stores *store.Stores, t Tenant) error {
	cfg := &store.AgentConfig{
		TenantID:                 t.TenantID,
		Name:                     t.Agent.Name,
		Active:                   t.Agent.Active,
		Instructions:             t.Agent.Instructions,
		SupplementalInstructions: t.Agent.SupplementalInstructions,
	}
	if err := stores.Agents.UpsertAgent(ctx, cfg); err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}

	bs, err := stores.Agents.GetBehaviorSettings(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	t.Settings.apply(bs)
	if err := agent.ValidateSettings(bs); err != nil {
		return err
	}
	if err := stores.Agents.UpdateBehaviorSettings(ctx, bs); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}

	for ch, enabled := range t.Channels {
		if err := stores.Agents.SetChannelEnabled(ctx, cfg.ID, store.ChannelType(ch), enabled); err != nil {
			return fmt.Errorf("enable %s: %w", ch, err)
		}
	}

	if len(t.Knowledge) > 0 {
		if ka, ok := stores.Knowledge.(knowledgeAdder); ok {
			for _, item := range t.Knowledge {
				item.AgentID = cfg.ID
				ka.AddKnowledge(item)
			}
		} else {
			slog.Warn("bootstrap: knowledge not seeded, backend is read-only", "tenant_id", t.TenantID, "items", len(t.Knowledge))
		}
	}

	if t.AutomatedReplyLimit > 0 {
		if qs, ok := stores.Usage.(quotaSetter); ok {
			qs.SetAutomatedReplyLimit(t.TenantID, t.AutomatedReplyLimit)
		}
	}

	for _, c := range t.Connections {
		if c.ID != uuid.Nil {
			if _, err := stores.Connections.GetConnection(ctx, c.ID); err == nil {
				continue
			}
		}
		conn := &store.ExternalConnection{
			ID:            c.ID,
			TenantID:      t.TenantID,
			Name:          c.Name,
			BaseURL:       c.BaseURL,
			APIKey:        c.APIKey,
			InstanceID:    c.InstanceID,
			WebhookSecret: c.WebhookSecret,
		}
		if err := stores.Connections.CreateConnection(ctx, conn); err != nil {
			return fmt.Errorf("create connection %q: %w", c.Name, err)
		}
		slog.Info("bootstrap: connection created", "tenant_id", t.TenantID, "connection_id", conn.ID)
	}

	slog.Info("bootstrap: tenant seeded", "tenant_id", t.TenantID, "agent_id", cfg.ID, "active", cfg.Active)
	return nil
}
