// Package channels defines the delivery adapters the reply runtime sends through and
// the registry that maps each channel type to its adapter.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

var (
	// ErrNotImplemented is returned by adapters for operations their channel lacks.
	ErrNotImplemented = errors.New("channel operation not implemented")
	// ErrIgnored marks an inbound payload that parsed but carries nothing to ingest
	// (own messages, group chats, status broadcasts, receipts).
	ErrIgnored = errors.New("inbound payload ignored")
)

// NormalizedMessage is an inbound message reduced to what ingestion needs.
type NormalizedMessage struct {
	ExternalChatID string
	DisplayName    string
	Text           string
	MediaKinds     []store.MediaKind
	ExternalID     string
}

// Adapter delivers to and normalizes from one channel type.
type Adapter interface {
	Type() store.ChannelType

	// SendOutgoingMessage delivers content that is already persisted on thread.
	SendOutgoingMessage(ctx context.Context, tenantID uuid.UUID, thread *store.Thread, content string) error

	// NormalizeIncomingMessage parses a raw inbound payload.
	NormalizeIncomingMessage(payload []byte) (*NormalizedMessage, error)
}

// Registry maps channel types to adapters. Only known channel types register.
type Registry struct {
	mu       sync.RWMutex
	adapters map[store.ChannelType]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[store.ChannelType]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a; registering an unknown type or a duplicate fails.
func (r *Registry) Register(a Adapter) error {
	t := a.Type()
	if !t.Valid() {
		return fmt.Errorf("unknown channel type %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[t]; ok {
		return fmt.Errorf("adapter for %q already registered", t)
	}
	r.adapters[t] = a
	return nil
}

func (r *Registry) Get(t store.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// Truncate cuts s to at most width display columns, appending "..." when cut.
func Truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
