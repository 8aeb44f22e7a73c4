package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

const agentSelectCols = `id, tenant_id, name, active, instructions, supplemental_instructions, created_at, updated_at`

const settingsSelectCols = `agent_id, response_delay_ms, use_chunked_messages, max_chunks, max_consecutive_replies,
 typing_simulation, allow_audio, allow_images, allow_handoff_human, allow_scheduling, updated_at`

func (s *PGAgentStore) GetAgentByTenant(ctx context.Context, tenantID uuid.UUID) (*store.AgentConfig, error) {
	var a store.AgentConfig
	var supp sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+agentSelectCols+` FROM agent_configs WHERE tenant_id = $1`, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.Name, &a.Active, &a.Instructions, &supp, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	a.SupplementalInstructions = derefStr(supp)
	return &a, nil
}

// UpsertAgent inserts or updates the tenant's configuration; cfg.ID is set to the stored row's ID.
func (s *PGAgentStore) UpsertAgent(ctx context.Context, cfg *store.AgentConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	return s.db.QueryRowContext(ctx,
		`INSERT INTO agent_configs (id, tenant_id, name, active, instructions, supplemental_instructions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   name = EXCLUDED.name,
		   active = EXCLUDED.active,
		   instructions = EXCLUDED.instructions,
		   supplemental_instructions = EXCLUDED.supplemental_instructions,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		cfg.ID, cfg.TenantID, cfg.Name, cfg.Active, cfg.Instructions, nilStr(cfg.SupplementalInstructions), now,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
}

// GetBehaviorSettings returns stored settings, inserting defaults on first read.
func (s *PGAgentStore) GetBehaviorSettings(ctx context.Context, agentID uuid.UUID) (*store.BehaviorSettings, error) {
	bs, err := s.scanSettings(s.db.QueryRowContext(ctx,
		`SELECT `+settingsSelectCols+` FROM agent_behavior_settings WHERE agent_id = $1`, agentID))
	if err == nil {
		return bs, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	d := store.DefaultBehaviorSettings(agentID)
	return s.scanSettings(s.db.QueryRowContext(ctx,
		`INSERT INTO agent_behavior_settings (agent_id, response_delay_ms, use_chunked_messages, max_chunks,
		 max_consecutive_replies, typing_simulation, allow_audio, allow_images, allow_handoff_human, allow_scheduling, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (agent_id) DO UPDATE SET agent_id = EXCLUDED.agent_id
		 RETURNING `+settingsSelectCols,
		agentID, d.ResponseDelayMs, d.UseChunkedMessages, d.MaxChunks, d.MaxConsecutiveReplies,
		d.TypingSimulation, d.AllowAudio, d.AllowImages, d.AllowHandoffHuman, d.AllowScheduling, time.Now().UTC(),
	))
}

func (s *PGAgentStore) UpdateBehaviorSettings(ctx context.Context, bs *store.BehaviorSettings) error {
	bs.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_behavior_settings (agent_id, response_delay_ms, use_chunked_messages, max_chunks,
		 max_consecutive_replies, typing_simulation, allow_audio, allow_images, allow_handoff_human, allow_scheduling, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   response_delay_ms = EXCLUDED.response_delay_ms,
		   use_chunked_messages = EXCLUDED.use_chunked_messages,
		   max_chunks = EXCLUDED.max_chunks,
		   max_consecutive_replies = EXCLUDED.max_consecutive_replies,
		   typing_simulation = EXCLUDED.typing_simulation,
		   allow_audio = EXCLUDED.allow_audio,
		   allow_images = EXCLUDED.allow_images,
		   allow_handoff_human = EXCLUDED.allow_handoff_human,
		   allow_scheduling = EXCLUDED.allow_scheduling,
		   updated_at = EXCLUDED.updated_at`,
		bs.AgentID, bs.ResponseDelayMs, bs.UseChunkedMessages, bs.MaxChunks, bs.MaxConsecutiveReplies,
		bs.TypingSimulation, bs.AllowAudio, bs.AllowImages, bs.AllowHandoffHuman, bs.AllowScheduling, bs.UpdatedAt,
	)
	return err
}

func (s *PGAgentStore) scanSettings(row *sql.Row) (*store.BehaviorSettings, error) {
	var bs store.BehaviorSettings
	err := row.Scan(&bs.AgentID, &bs.ResponseDelayMs, &bs.UseChunkedMessages, &bs.MaxChunks,
		&bs.MaxConsecutiveReplies, &bs.TypingSimulation, &bs.AllowAudio, &bs.AllowImages,
		&bs.AllowHandoffHuman, &bs.AllowScheduling, &bs.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &bs, nil
}

func (s *PGAgentStore) GetChannelEnablement(ctx context.Context, agentID uuid.UUID) (store.ChannelEnablement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_type, enabled FROM agent_channel_enablement WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(store.ChannelEnablement)
	for rows.Next() {
		var ch string
		var enabled bool
		if err := rows.Scan(&ch, &enabled); err != nil {
			return nil, err
		}
		out[store.ChannelType(ch)] = enabled
	}
	return out, rows.Err()
}

func (s *PGAgentStore) SetChannelEnabled(ctx context.Context, agentID uuid.UUID, ch store.ChannelType, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_channel_enablement (agent_id, channel_type, enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (agent_id, channel_type) DO UPDATE SET enabled = EXCLUDED.enabled`,
		agentID, string(ch), enabled,
	)
	return err
}

// --- Knowledge (read-only) ---

// PGKnowledgeStore implements store.KnowledgeStore backed by Postgres.
type PGKnowledgeStore struct {
	db *sql.DB
}

func NewPGKnowledgeStore(db *sql.DB) *PGKnowledgeStore {
	return &PGKnowledgeStore{db: db}
}

func (s *PGKnowledgeStore) ListKnowledge(ctx context.Context, agentID uuid.UUID, limit int) ([]store.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, title, content, url, file_name, created_at
		 FROM knowledge_items WHERE agent_id = $1
		 ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []store.KnowledgeItem
	for rows.Next() {
		var it store.KnowledgeItem
		var content, url, file sql.NullString
		if err := rows.Scan(&it.ID, &it.AgentID, &it.Title, &content, &url, &file, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Content = derefStr(content)
		it.URL = derefStr(url)
		it.FileName = derefStr(file)
		items = append(items, it)
	}
	return items, rows.Err()
}
