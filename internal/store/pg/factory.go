package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// NewPGStores creates all stores backed by one Postgres pool.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	threads := NewPGThreadStore(db)
	return &store.Stores{
		Agents:      NewPGAgentStore(db),
		Knowledge:   NewPGKnowledgeStore(db),
		Threads:     threads,
		Messages:    NewPGMessageStore(db),
		Handoffs:    threads,
		Connections: NewPGConnectionStore(db),
		Activity:    NewPGActivityStore(db),
		Usage:       NewPGUsageStore(db),
		Close:       db.Close,
	}, nil
}
