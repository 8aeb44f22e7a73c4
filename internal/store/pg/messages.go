package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// PGMessageStore implements store.MessageStore backed by Postgres.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

func (s *PGMessageStore) CreateMessage(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	kinds := make([]string, len(m.MediaKinds))
	for i, k := range m.MediaKinds {
		kinds[i] = string(k)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, tenant_id, thread_id, sender, sender_id, content, media_kinds, external_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.TenantID, m.ThreadID, string(m.Sender), nilStr(m.SenderID), m.Content,
		pq.Array(kinds), nilStr(m.ExternalID), m.CreatedAt,
	)
	return err
}

// ListRecentMessages selects the newest rows and reverses them into chronological order.
func (s *PGMessageStore) ListRecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, thread_id, sender, sender_id, content, media_kinds, external_id, created_at
		 FROM messages WHERE thread_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var sender string
		var senderID, externalID sql.NullString
		var kinds []string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ThreadID, &sender, &senderID, &m.Content,
			pq.Array(&kinds), &externalID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = store.SenderKind(sender)
		m.SenderID = derefStr(senderID)
		m.ExternalID = derefStr(externalID)
		for _, k := range kinds {
			m.MediaKinds = append(m.MediaKinds, store.MediaKind(k))
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
