package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PGActivityStore implements store.ActivityStore backed by Postgres.
type PGActivityStore struct {
	db *sql.DB
}

func NewPGActivityStore(db *sql.DB) *PGActivityStore {
	return &PGActivityStore{db: db}
}

func (s *PGActivityStore) AppendActivity(ctx context.Context, e *store.ActivityLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_activity_log (id, tenant_id, agent_id, thread_id, channel, summary, fragments_sent, interrupted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.AgentID, e.ThreadID, string(e.Channel), e.Summary,
		e.FragmentsSent, e.Interrupted, e.CreatedAt,
	)
	return err
}

func (s *PGActivityStore) ListActivity(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, agent_id, thread_id, channel, summary, fragments_sent, interrupted, created_at
		 FROM agent_activity_log WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ActivityLogEntry
	for rows.Next() {
		var e store.ActivityLogEntry
		var ch string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AgentID, &e.ThreadID, &ch, &e.Summary,
			&e.FragmentsSent, &e.Interrupted, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Channel = store.ChannelType(ch)
		out = append(out, e)
	}
	return out, rows.Err()
}
