package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PGConnectionStore implements store.ConnectionStore backed by Postgres.
type PGConnectionStore struct {
	db *sql.DB
}

func NewPGConnectionStore(db *sql.DB) *PGConnectionStore {
	return &PGConnectionStore{db: db}
}

const connectionSelectCols = `id, tenant_id, name, base_url, api_key, instance_id, webhook_secret, created_at`

const linkSelectCols = `id, tenant_id, connection_id, external_chat_id, thread_id, display_name, last_activity_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*store.ExternalConnection, error) {
	var c store.ExternalConnection
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.BaseURL, &c.APIKey, &c.InstanceID,
		&c.WebhookSecret, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func scanLink(row rowScanner) (*store.ExternalContactLink, error) {
	var l store.ExternalContactLink
	var name sql.NullString
	if err := row.Scan(&l.ID, &l.TenantID, &l.ConnectionID, &l.ExternalChatID, &l.ThreadID,
		&name, &l.LastActivityAt, &l.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	l.DisplayName = derefStr(name)
	return &l, nil
}

func (s *PGConnectionStore) GetConnection(ctx context.Context, id uuid.UUID) (*store.ExternalConnection, error) {
	return scanConnection(s.db.QueryRowContext(ctx,
		`SELECT `+connectionSelectCols+` FROM external_connections WHERE id = $1`, id))
}

func (s *PGConnectionStore) ListConnections(ctx context.Context) ([]store.ExternalConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionSelectCols+` FROM external_connections ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ExternalConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PGConnectionStore) CreateConnection(ctx context.Context, c *store.ExternalConnection) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_connections (id, tenant_id, name, base_url, api_key, instance_id, webhook_secret, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.Name, c.BaseURL, c.APIKey, c.InstanceID, c.WebhookSecret, c.CreatedAt,
	)
	return err
}

func (s *PGConnectionStore) FindContactLink(ctx context.Context, tenantID, connectionID uuid.UUID, externalChatID string) (*store.ExternalContactLink, error) {
	return scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkSelectCols+` FROM external_contact_links
		 WHERE tenant_id = $1 AND connection_id = $2 AND external_chat_id = $3`,
		tenantID, connectionID, externalChatID))
}

func (s *PGConnectionStore) GetContactLinkByThread(ctx context.Context, threadID uuid.UUID) (*store.ExternalContactLink, error) {
	return scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkSelectCols+` FROM external_contact_links WHERE thread_id = $1 LIMIT 1`, threadID))
}

// UpsertContactLink inserts on the natural key. On conflict only last activity moves,
// so the returned ThreadID is always the one that won the first insert.
func (s *PGConnectionStore) UpsertContactLink(ctx context.Context, link *store.ExternalContactLink) (*store.ExternalContactLink, error) {
	id := link.ID
	if id == uuid.Nil {
		id = store.GenNewID()
	}
	now := time.Now().UTC()
	last := link.LastActivityAt
	if last.IsZero() {
		last = now
	}
	return scanLink(s.db.QueryRowContext(ctx,
		`INSERT INTO external_contact_links (id, tenant_id, connection_id, external_chat_id, thread_id, display_name, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, connection_id, external_chat_id) DO UPDATE SET
		   last_activity_at = GREATEST(external_contact_links.last_activity_at, EXCLUDED.last_activity_at)
		 RETURNING `+linkSelectCols,
		id, link.TenantID, link.ConnectionID, link.ExternalChatID, link.ThreadID,
		nilStr(link.DisplayName), last, now,
	))
}

func (s *PGConnectionStore) TouchContactLink(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE external_contact_links SET last_activity_at = GREATEST(last_activity_at, $1) WHERE id = $2`, at, id)
	return err
}
