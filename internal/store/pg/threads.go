package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PGThreadStore implements store.ThreadStore and store.HandoffStore backed by Postgres.
type PGThreadStore struct {
	db *sql.DB
}

func NewPGThreadStore(db *sql.DB) *PGThreadStore {
	return &PGThreadStore{db: db}
}

const threadSelectCols = `id, tenant_id, channel_id, channel_type, name, status, last_activity_at, created_at`

func (s *PGThreadStore) GetThread(ctx context.Context, id uuid.UUID) (*store.Thread, error) {
	var t store.Thread
	var channelID uuid.NullUUID
	var chType, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+threadSelectCols+` FROM threads WHERE id = $1`, id,
	).Scan(&t.ID, &t.TenantID, &channelID, &chType, &t.Name, &status, &t.LastActivityAt, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if channelID.Valid {
		t.ChannelID = channelID.UUID
	}
	t.ChannelType = store.ChannelType(chType)
	t.Status = store.ThreadStatus(status)
	return &t, nil
}

func (s *PGThreadStore) CreateThread(ctx context.Context, t *store.Thread) error {
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastActivityAt.IsZero() {
		t.LastActivityAt = now
	}
	if t.Status == "" {
		t.Status = store.ThreadOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, tenant_id, channel_id, channel_type, name, status, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.TenantID, nilUUID(t.ChannelID), string(t.ChannelType), t.Name, string(t.Status),
		t.LastActivityAt, t.CreatedAt,
	)
	return err
}

func (s *PGThreadStore) DeleteThread(ctx context.Context, id uuid.UUID) error {
	return rowsAffectedOrNotFound(s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id))
}

func (s *PGThreadStore) UpdateThreadStatus(ctx context.Context, id uuid.UUID, status store.ThreadStatus) error {
	return rowsAffectedOrNotFound(s.db.ExecContext(ctx,
		`UPDATE threads SET status = $1 WHERE id = $2`, string(status), id))
}

// TouchThread moves last activity forward; an older timestamp is ignored.
func (s *PGThreadStore) TouchThread(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET last_activity_at = GREATEST(last_activity_at, $1) WHERE id = $2`, at, id)
	return err
}

func (s *PGThreadStore) EnsureChannel(ctx context.Context, tenantID uuid.UUID, ch store.ChannelType) (*store.Channel, error) {
	var c store.Channel
	var chType string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO channels (id, tenant_id, type, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, type) DO UPDATE SET type = EXCLUDED.type
		 RETURNING id, tenant_id, type, name, created_at`,
		store.GenNewID(), tenantID, string(ch), string(ch), time.Now().UTC(),
	).Scan(&c.ID, &c.TenantID, &chType, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = store.ChannelType(chType)
	return &c, nil
}

// --- Handoff ---

func (s *PGThreadStore) GetHandoff(ctx context.Context, threadID uuid.UUID) (*store.HandoffState, error) {
	h := store.HandoffState{ThreadID: threadID}
	var actor sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT handed_off, actor, updated_at FROM thread_handoffs WHERE thread_id = $1`, threadID,
	).Scan(&h.HandedOff, &actor, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &h, nil
	}
	if err != nil {
		return nil, err
	}
	h.Actor = derefStr(actor)
	return &h, nil
}

func (s *PGThreadStore) SetHandoff(ctx context.Context, threadID uuid.UUID, handedOff bool, actor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_handoffs (thread_id, handed_off, actor, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id) DO UPDATE SET
		   handed_off = EXCLUDED.handed_off,
		   actor = EXCLUDED.actor,
		   updated_at = EXCLUDED.updated_at`,
		threadID, handedOff, nilStr(actor), time.Now().UTC(),
	)
	return err
}
