package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/goinbox/internal/bus"
	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/metrics"
	"github.com/nextlevelbuilder/goinbox/internal/providers"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/internal/tracing"
	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

// Run outcomes, also used as the metrics outcome label.
const (
	OutcomeCompleted    = "completed"
	OutcomeInterrupted  = "interrupted"
	OutcomeFailed       = "failed"
	OutcomeNotFound     = "not_found"
	OutcomeIneligible   = "ineligible"
	OutcomeQuota        = "quota_exhausted"
	OutcomeNoCredential = "no_credential"
	OutcomeEmptyReply   = "empty_reply"
	OutcomeBusy         = "busy"
)

// Typing simulation: per-character delay and its cap per fragment.
const (
	TypingPerChar = 30 * time.Millisecond
	TypingCap     = 1200 * time.Millisecond
)

// summaryWidth bounds the activity log summary in display cells.
const summaryWidth = 200

// ProviderResolver returns the currently configured provider.
type ProviderResolver interface {
	Resolve() (providers.Provider, error)
}

// RunnerConfig wires a Runner. Leases is only needed for RunGuarded; Bus and
// Metrics may be nil.
type RunnerConfig struct {
	Stores    *store.Stores
	Channels  *channels.Registry
	Providers ProviderResolver
	Leases    LeaseManager
	Bus       bus.EventPublisher
	Metrics   *metrics.Metrics

	PromptLimits PromptLimits
	Retry        providers.RetryConfig

	// Sleep waits between fragments; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner executes automated reply runs for threads.
type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.PromptLimits == (PromptLimits{}) {
		cfg.PromptLimits = DefaultPromptLimits()
	}
	if cfg.Retry == (providers.RetryConfig{}) {
		cfg.Retry = providers.DefaultRetryConfig()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Runner{cfg: cfg}
}

// RunRequest identifies the thread a run answers and what triggered it.
type RunRequest struct {
	TenantID uuid.UUID
	ThreadID uuid.UUID
	Trigger  string // "local" or "webhook"
}

// RunResult summarizes a run. Outcome is one of the Outcome* constants.
type RunResult struct {
	Outcome       string
	FragmentsSent int
	Interrupted   bool
}

// runState is everything loaded up front for one run.
type runState struct {
	thread     *store.Thread
	agent      *store.AgentConfig
	settings   *store.BehaviorSettings
	enablement store.ChannelEnablement
	handoff    *store.HandoffState
	history    []store.Message
}

// RunGuarded takes the thread's lease before running. A held or cooling lease is
// not an error: the result carries OutcomeBusy.
func (r *Runner) RunGuarded(ctx context.Context, req RunRequest) (*RunResult, error) {
	if r.cfg.Leases == nil {
		return nil, errors.New("agent: no lease manager configured")
	}
	lease, err := r.cfg.Leases.Acquire(ctx, req.ThreadID)
	if errors.Is(err, ErrLeaseHeld) || errors.Is(err, ErrCoolingDown) {
		slog.Debug("agent.run.busy", "thread_id", req.ThreadID, "reason", err)
		r.cfg.Metrics.RunOutcome("", OutcomeBusy)
		return &RunResult{Outcome: OutcomeBusy}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	defer lease.Release()
	return r.Run(ctx, req)
}

// Run decides whether the thread gets an automated reply and, if so, generates and
// delivers it fragment by fragment. Silent no-ops return a result with a nil error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.String("thread_id", req.ThreadID.String()),
		attribute.String("trigger", req.Trigger),
	))
	defer span.End()

	res, channel, err := r.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res = &RunResult{Outcome: OutcomeFailed}
	}
	span.SetAttributes(
		attribute.String("outcome", res.Outcome),
		attribute.Int("fragments_sent", res.FragmentsSent),
	)
	r.cfg.Metrics.RunOutcome(string(channel), res.Outcome)

	switch res.Outcome {
	case OutcomeCompleted, OutcomeInterrupted:
		slog.Info("agent.run.completed", "thread_id", req.ThreadID, "trigger", req.Trigger,
			"fragments", res.FragmentsSent, "interrupted", res.Interrupted)
		r.publish(req.TenantID, protocol.EventAgentRun, map[string]any{
			"type":           protocol.AgentRunCompleted,
			"thread_id":      req.ThreadID,
			"fragments_sent": res.FragmentsSent,
			"interrupted":    res.Interrupted,
		})
	case OutcomeFailed:
		slog.Warn("agent.run.failed", "thread_id", req.ThreadID, "trigger", req.Trigger, "error", err)
	default:
		slog.Debug("agent.run.skipped", "thread_id", req.ThreadID, "trigger", req.Trigger, "outcome", res.Outcome)
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, req RunRequest) (*RunResult, store.ChannelType, error) {
	st, err := r.load(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		return &RunResult{Outcome: OutcomeNotFound}, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	channel := st.thread.ChannelType

	lastFromAgent := false
	if n := len(st.history); n > 0 {
		lastFromAgent = st.history[n-1].Sender == store.SenderAgent
	}
	if !Eligible(GateInput{
		ThreadStatus:         st.thread.Status,
		Channel:              channel,
		AgentActive:          st.agent.Active,
		InternalEnabled:      st.enablement[store.ChannelInternal],
		ExternalEnabled:      st.enablement[store.ChannelWhatsApp],
		HandedOff:            st.handoff.HandedOff,
		LastMessageFromAgent: lastFromAgent,
	}) {
		return &RunResult{Outcome: OutcomeIneligible}, channel, nil
	}

	allowed, err := r.cfg.Stores.Usage.AutomatedReplyAllowed(ctx, req.TenantID)
	if err != nil {
		return nil, channel, fmt.Errorf("usage gate: %w", err)
	}
	if !allowed {
		return &RunResult{Outcome: OutcomeQuota}, channel, nil
	}

	provider, err := r.cfg.Providers.Resolve()
	if errors.Is(err, providers.ErrMissingCredential) {
		return &RunResult{Outcome: OutcomeNoCredential}, channel, nil
	}
	if err != nil {
		return nil, channel, fmt.Errorf("resolve provider: %w", err)
	}

	var reply string
	if n := len(st.history); n > 0 && IsMediaPlaceholder(st.history[n-1].Content) {
		reply = MediaApology
	} else {
		reply, err = r.generate(ctx, provider, st)
		if errors.Is(err, providers.ErrMissingCredential) {
			return &RunResult{Outcome: OutcomeNoCredential}, channel, nil
		}
		if err != nil {
			return nil, channel, err
		}
		reply = SanitizeReply(reply)
	}
	if reply == "" {
		return &RunResult{Outcome: OutcomeEmptyReply}, channel, nil
	}

	fragments := []string{reply}
	if st.settings.UseChunkedMessages {
		fragments = ChunkReply(reply, min(st.settings.MaxChunks, st.settings.MaxConsecutiveReplies))
	}

	res := r.deliver(ctx, st, fragments)
	r.logActivity(ctx, st, reply, res)
	return res, channel, nil
}

// load reads the thread, agent (with settings and enablement), handoff state and
// recent history concurrently.
func (r *Runner) load(ctx context.Context, req RunRequest) (*runState, error) {
	s := r.cfg.Stores
	st := &runState{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.Threads.GetThread(gctx, req.ThreadID)
		if err != nil {
			return err
		}
		if t.TenantID != req.TenantID {
			return store.ErrNotFound
		}
		st.thread = t
		return nil
	})
	g.Go(func() error {
		a, err := s.Agents.GetAgentByTenant(gctx, req.TenantID)
		if err != nil {
			return err
		}
		bs, err := s.Agents.GetBehaviorSettings(gctx, a.ID)
		if err != nil {
			return err
		}
		en, err := s.Agents.GetChannelEnablement(gctx, a.ID)
		if err != nil {
			return err
		}
		st.agent, st.settings, st.enablement = a, bs, en
		return nil
	})
	g.Go(func() error {
		h, err := s.Handoffs.GetHandoff(gctx, req.ThreadID)
		if err != nil {
			return err
		}
		st.handoff = h
		return nil
	})
	g.Go(func() error {
		// Blank messages are filtered later, so read some slack past the turn cap.
		msgs, err := s.Messages.ListRecentMessages(gctx, req.ThreadID, r.cfg.PromptLimits.MaxHistoryTurns*2)
		if err != nil {
			return err
		}
		st.history = msgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *Runner) generate(ctx context.Context, p providers.Provider, st *runState) (string, error) {
	knowledge, err := r.cfg.Stores.Knowledge.ListKnowledge(ctx, st.agent.ID, r.cfg.PromptLimits.MaxKnowledgeItems)
	if err != nil {
		return "", fmt.Errorf("list knowledge: %w", err)
	}
	req := BuildPrompt(PromptInput{
		Instructions: st.agent.Instructions,
		Supplemental: st.agent.SupplementalInstructions,
		Knowledge:    knowledge,
		History:      st.history,
		MaxChunks:    st.settings.MaxChunks,
		Limits:       r.cfg.PromptLimits,
	})

	ctx, span := tracing.Tracer().Start(ctx, "provider.generate", trace.WithAttributes(
		attribute.String("provider", p.Name()),
		attribute.Int("turns", len(req.Turns)),
	))
	defer span.End()

	start := time.Now()
	out, err := providers.Invoke(ctx, p, req, r.cfg.Retry)
	r.cfg.Metrics.ObserveProvider(p.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}

// deliver sends fragments one at a time, re-reading takeover state before and
// after each pacing delay.
func (r *Runner) deliver(ctx context.Context, st *runState, fragments []string) *RunResult {
	res := &RunResult{Outcome: OutcomeCompleted}
	channel := st.thread.ChannelType
	adapter, hasAdapter := r.cfg.Channels.Get(channel)

	for i, text := range fragments {
		if res.FragmentsSent >= st.settings.MaxConsecutiveReplies {
			slog.Info("agent.run.reply_cap", "thread_id", st.thread.ID, "max", st.settings.MaxConsecutiveReplies)
			res.Interrupted = true
			break
		}
		if r.takenOver(ctx, st.thread.ID) {
			res.Interrupted = true
			break
		}
		if err := r.cfg.Sleep(ctx, FragmentDelay(*st.settings, text, i == 0)); err != nil {
			res.Interrupted = true
			break
		}
		if r.takenOver(ctx, st.thread.ID) {
			res.Interrupted = true
			break
		}

		msg := &store.Message{
			TenantID: st.thread.TenantID,
			ThreadID: st.thread.ID,
			Sender:   store.SenderAgent,
			SenderID: st.agent.ID.String(),
			Content:  text,
		}
		if err := r.cfg.Stores.Messages.CreateMessage(ctx, msg); err != nil {
			slog.Error("agent.persist_failed", "thread_id", st.thread.ID, "error", err)
			r.cfg.Metrics.DeliveryFailure(string(channel), "persist")
			res.Interrupted = true
			break
		}
		res.FragmentsSent++
		r.cfg.Metrics.FragmentSent(string(channel))

		if err := r.cfg.Stores.Usage.IncrementUsage(ctx, st.thread.TenantID, store.UsageDelta{Messages: 1, AutomatedReplies: 1}); err != nil {
			slog.Warn("agent.usage_failed", "thread_id", st.thread.ID, "error", err)
		}

		if !hasAdapter {
			slog.Warn("agent.no_adapter", "thread_id", st.thread.ID, "channel", channel)
			r.cfg.Metrics.DeliveryFailure(string(channel), "adapter")
		} else if err := adapter.SendOutgoingMessage(ctx, st.thread.TenantID, st.thread, text); err != nil {
			slog.Warn("agent.send_failed", "thread_id", st.thread.ID, "channel", channel, "error", err)
			r.cfg.Metrics.DeliveryFailure(string(channel), "send")
		}

		if err := r.cfg.Stores.Threads.TouchThread(ctx, st.thread.ID, msg.CreatedAt); err != nil {
			slog.Warn("agent.touch_failed", "thread_id", st.thread.ID, "error", err)
		}
		r.publish(st.thread.TenantID, protocol.EventMessageCreated, msg)
	}

	if res.Interrupted {
		res.Outcome = OutcomeInterrupted
	}
	return res
}

// takenOver re-reads handoff and thread status. A failed read counts as taken over.
func (r *Runner) takenOver(ctx context.Context, threadID uuid.UUID) bool {
	h, err := r.cfg.Stores.Handoffs.GetHandoff(ctx, threadID)
	if err != nil {
		slog.Warn("agent.recheck_failed", "thread_id", threadID, "error", err)
		return true
	}
	if h.HandedOff {
		slog.Info("agent.run.handed_off", "thread_id", threadID, "actor", h.Actor)
		return true
	}
	t, err := r.cfg.Stores.Threads.GetThread(ctx, threadID)
	if err != nil {
		slog.Warn("agent.recheck_failed", "thread_id", threadID, "error", err)
		return true
	}
	if t.Status != store.ThreadOpen {
		slog.Info("agent.run.thread_closed", "thread_id", threadID, "status", t.Status)
		return true
	}
	return false
}

func (r *Runner) logActivity(ctx context.Context, st *runState, reply string, res *RunResult) {
	entry := &store.ActivityLogEntry{
		TenantID:      st.thread.TenantID,
		AgentID:       st.agent.ID,
		ThreadID:      st.thread.ID,
		Channel:       st.thread.ChannelType,
		Summary:       channels.Truncate(reply, summaryWidth),
		FragmentsSent: res.FragmentsSent,
		Interrupted:   res.Interrupted,
	}
	// Written even when the run's context was cancelled mid-delivery.
	if err := r.cfg.Stores.Activity.AppendActivity(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("agent.activity_failed", "thread_id", st.thread.ID, "error", err)
	}
}

func (r *Runner) publish(tenantID uuid.UUID, name string, payload any) {
	if r.cfg.Bus == nil {
		return
	}
	r.cfg.Bus.Broadcast(bus.Event{Name: name, TenantID: tenantID.String(), Payload: payload})
}

// FragmentDelay is the pause before sending text: the configured response delay on
// the first fragment plus simulated typing time when enabled.
func FragmentDelay(s store.BehaviorSettings, text string, first bool) time.Duration {
	var d time.Duration
	if first && s.ResponseDelayMs > 0 {
		d = time.Duration(s.ResponseDelayMs) * time.Millisecond
	}
	if s.TypingSimulation {
		typing := time.Duration(utf8.RuneCountInString(text)) * TypingPerChar
		if typing > TypingCap {
			typing = TypingCap
		}
		d += typing
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
