// Package internalchat is the adapter for the in-app chat surface. Messages there are
// read straight from the store, so delivery has nothing to do beyond persistence.
package internalchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

var errEmptyContent = errors.New("internal: empty content")

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Type() store.ChannelType { return store.ChannelInternal }

// SendOutgoingMessage succeeds without side effects; clients pick the message up
// from the thread and the message.created event.
func (a *Adapter) SendOutgoingMessage(_ context.Context, _ uuid.UUID, thread *store.Thread, content string) error {
	slog.Debug("internal.delivered", "thread_id", thread.ID, "preview", channels.Truncate(content, 50))
	return nil
}

// NormalizeIncomingMessage parses an operator compose body: {"content": "..."}.
func (a *Adapter) NormalizeIncomingMessage(payload []byte) (*channels.NormalizedMessage, error) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("internal: decode payload: %w", err)
	}
	text := strings.TrimSpace(body.Content)
	if text == "" {
		return nil, errEmptyContent
	}
	return &channels.NormalizedMessage{Text: text}, nil
}
