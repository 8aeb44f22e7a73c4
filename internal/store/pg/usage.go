package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PGUsageStore implements store.UsageStore backed by Postgres. A limit of 0 means unlimited.
type PGUsageStore struct {
	db *sql.DB
}

func NewPGUsageStore(db *sql.DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) AutomatedReplyAllowed(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var used, limit int64
	err := s.db.QueryRowContext(ctx,
		`SELECT automated_replies, automated_replies_limit FROM tenant_usage WHERE tenant_id = $1`, tenantID,
	).Scan(&used, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return limit == 0 || used < limit, nil
}

func (s *PGUsageStore) IncrementUsage(ctx context.Context, tenantID uuid.UUID, delta store.UsageDelta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_usage (tenant_id, messages, automated_replies, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   messages = tenant_usage.messages + EXCLUDED.messages,
		   automated_replies = tenant_usage.automated_replies + EXCLUDED.automated_replies,
		   updated_at = EXCLUDED.updated_at`,
		tenantID, delta.Messages, delta.AutomatedReplies, time.Now().UTC(),
	)
	return err
}
