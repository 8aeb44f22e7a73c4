// Package inbox resolves inbound messages to threads and carries out operator actions.
// Every path that stores a new inbound or operator message ends by handing the thread
// to the reply runtime.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/bus"
	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

var (
	ErrEmptyContent  = errors.New("message content is empty")
	ErrInvalidStatus = errors.New("invalid thread status")
)

// RunDispatcher starts reply runs in the background.
type RunDispatcher interface {
	Dispatch(ctx context.Context, req agent.RunRequest)
	DispatchGuarded(ctx context.Context, req agent.RunRequest)
}

// Service is the inbox write path shared by the webhook and operator routes.
type Service struct {
	stores   *store.Stores
	channels *channels.Registry
	leases   agent.LeaseManager
	runs     RunDispatcher
	bus      bus.EventPublisher
}

func NewService(stores *store.Stores, reg *channels.Registry, leases agent.LeaseManager, runs RunDispatcher, pub bus.EventPublisher) *Service {
	return &Service{stores: stores, channels: reg, leases: leases, runs: runs, bus: pub}
}

// IngestResult reports where an inbound message landed.
type IngestResult struct {
	Thread    *store.Thread
	Message   *store.Message
	NewThread bool
}

// Ingest stores an inbound external message on the contact's thread, creating the
// thread and contact link on first contact, and dispatches an unguarded reply run.
func (s *Service) Ingest(ctx context.Context, conn *store.ExternalConnection, in *channels.NormalizedMessage) (*IngestResult, error) {
	content := strings.TrimSpace(in.Text)
	if content == "" {
		content = agent.MediaPlaceholder(in.MediaKinds)
	}
	if content == "" {
		return nil, ErrEmptyContent
	}

	thread, link, created, err := s.resolveThread(ctx, conn, in)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		TenantID:   conn.TenantID,
		ThreadID:   thread.ID,
		Sender:     store.SenderContact,
		SenderID:   in.ExternalChatID,
		Content:    content,
		MediaKinds: in.MediaKinds,
		ExternalID: in.ExternalID,
	}
	if err := s.stores.Messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store inbound message: %w", err)
	}
	if err := s.stores.Threads.TouchThread(ctx, thread.ID, msg.CreatedAt); err != nil {
		slog.Warn("inbox.touch_failed", "thread_id", thread.ID, "error", err)
	}
	if err := s.stores.Connections.TouchContactLink(ctx, link.ID, msg.CreatedAt); err != nil {
		slog.Warn("inbox.touch_link_failed", "link_id", link.ID, "error", err)
	}
	s.publish(conn.TenantID, protocol.EventMessageCreated, msg)

	slog.Info("inbox.ingested", "tenant_id", conn.TenantID, "thread_id", thread.ID,
		"new_thread", created, "media", len(in.MediaKinds))
	s.runs.Dispatch(ctx, agent.RunRequest{TenantID: conn.TenantID, ThreadID: thread.ID, Trigger: "webhook"})

	return &IngestResult{Thread: thread, Message: msg, NewThread: created}, nil
}

// resolveThread finds the contact's thread or creates it. Two first messages from the
// same contact can race here; the link upsert picks one winner and the loser's
// thread is deleted.
func (s *Service) resolveThread(ctx context.Context, conn *store.ExternalConnection, in *channels.NormalizedMessage) (*store.Thread, *store.ExternalContactLink, bool, error) {
	link, err := s.stores.Connections.FindContactLink(ctx, conn.TenantID, conn.ID, in.ExternalChatID)
	if err == nil {
		thread, err := s.stores.Threads.GetThread(ctx, link.ThreadID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("linked thread %s: %w", link.ThreadID, err)
		}
		return thread, link, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, false, fmt.Errorf("find contact link: %w", err)
	}

	ch, err := s.stores.Threads.EnsureChannel(ctx, conn.TenantID, store.ChannelWhatsApp)
	if err != nil {
		return nil, nil, false, fmt.Errorf("ensure channel: %w", err)
	}
	name := in.DisplayName
	if name == "" {
		name = in.ExternalChatID
	}
	thread := &store.Thread{
		TenantID:    conn.TenantID,
		ChannelID:   ch.ID,
		ChannelType: store.ChannelWhatsApp,
		Name:        name,
		Status:      store.ThreadOpen,
	}
	if err := s.stores.Threads.CreateThread(ctx, thread); err != nil {
		return nil, nil, false, fmt.Errorf("create thread: %w", err)
	}

	winner, err := s.stores.Connections.UpsertContactLink(ctx, &store.ExternalContactLink{
		TenantID:       conn.TenantID,
		ConnectionID:   conn.ID,
		ExternalChatID: in.ExternalChatID,
		ThreadID:       thread.ID,
		DisplayName:    in.DisplayName,
	})
	if err != nil {
		s.dropThread(ctx, thread.ID)
		return nil, nil, false, fmt.Errorf("upsert contact link: %w", err)
	}
	if winner.ThreadID == thread.ID {
		return thread, winner, true, nil
	}

	slog.Info("inbox.link_race_lost", "tenant_id", conn.TenantID, "orphan_thread_id", thread.ID, "thread_id", winner.ThreadID)
	s.dropThread(ctx, thread.ID)
	existing, err := s.stores.Threads.GetThread(ctx, winner.ThreadID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("winning thread %s: %w", winner.ThreadID, err)
	}
	return existing, winner, false, nil
}

func (s *Service) dropThread(ctx context.Context, id uuid.UUID) {
	if err := s.stores.Threads.DeleteThread(ctx, id); err != nil {
		slog.Warn("inbox.orphan_delete_failed", "thread_id", id, "error", err)
	}
}

// Send stores an operator message on a thread. When automation is mid-reply the
// thread is handed off to the sender first, so the in-flight run stops at its next
// check. Messages on external threads are forwarded to the contact.
func (s *Service) Send(ctx context.Context, tenantID, threadID uuid.UUID, userID, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	thread, err := s.thread(ctx, tenantID, threadID)
	if err != nil {
		return nil, err
	}

	if s.leases != nil && s.leases.Active(ctx, threadID) {
		if err := s.setHandoff(ctx, thread, true, userID); err != nil {
			return nil, err
		}
	}

	msg := &store.Message{
		TenantID: tenantID,
		ThreadID: threadID,
		Sender:   store.SenderUser,
		SenderID: userID,
		Content:  content,
	}
	if err := s.stores.Messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if err := s.stores.Threads.TouchThread(ctx, threadID, msg.CreatedAt); err != nil {
		slog.Warn("inbox.touch_failed", "thread_id", threadID, "error", err)
	}
	s.publish(tenantID, protocol.EventMessageCreated, msg)

	if thread.ChannelType != store.ChannelInternal && s.channels != nil {
		if a, ok := s.channels.Get(thread.ChannelType); ok {
			if err := a.SendOutgoingMessage(ctx, tenantID, thread, content); err != nil {
				slog.Warn("inbox.forward_failed", "thread_id", threadID, "channel", thread.ChannelType, "error", err)
			}
		}
	}

	s.runs.DispatchGuarded(ctx, agent.RunRequest{TenantID: tenantID, ThreadID: threadID, Trigger: "local"})
	return msg, nil
}

// SetHandoff sets or clears human takeover on a thread.
func (s *Service) SetHandoff(ctx context.Context, tenantID, threadID uuid.UUID, handedOff bool, actor string) error {
	thread, err := s.thread(ctx, tenantID, threadID)
	if err != nil {
		return err
	}
	return s.setHandoff(ctx, thread, handedOff, actor)
}

func (s *Service) setHandoff(ctx context.Context, thread *store.Thread, handedOff bool, actor string) error {
	if err := s.stores.Handoffs.SetHandoff(ctx, thread.ID, handedOff, actor); err != nil {
		return fmt.Errorf("set handoff: %w", err)
	}
	slog.Info("inbox.handoff", "thread_id", thread.ID, "handed_off", handedOff, "actor", actor)
	s.publish(thread.TenantID, protocol.EventThreadHandoff, map[string]any{
		"thread_id":  thread.ID,
		"handed_off": handedOff,
		"actor":      actor,
	})
	return nil
}

// SetStatus moves a thread between open, closed and archived.
func (s *Service) SetStatus(ctx context.Context, tenantID, threadID uuid.UUID, status store.ThreadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if _, err := s.thread(ctx, tenantID, threadID); err != nil {
		return err
	}
	if err := s.stores.Threads.UpdateThreadStatus(ctx, threadID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	s.publish(tenantID, protocol.EventThreadStatus, map[string]any{"thread_id": threadID, "status": status})
	return nil
}

// Messages returns a thread's newest messages in chronological order.
func (s *Service) Messages(ctx context.Context, tenantID, threadID uuid.UUID, limit int) ([]store.Message, error) {
	if _, err := s.thread(ctx, tenantID, threadID); err != nil {
		return nil, err
	}
	return s.stores.Messages.ListRecentMessages(ctx, threadID, limit)
}

// thread loads a thread scoped to tenantID; another tenant's thread reads as not found.
func (s *Service) thread(ctx context.Context, tenantID, threadID uuid.UUID) (*store.Thread, error) {
	t, err := s.stores.Threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (s *Service) publish(tenantID uuid.UUID, name string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Broadcast(bus.Event{Name: name, TenantID: tenantID.String(), Payload: payload})
}
