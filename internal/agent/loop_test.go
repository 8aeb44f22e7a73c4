package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/bus"
	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/providers"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/internal/store/mem"
	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	last  providers.GenerateRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) GenerateResponse(_ context.Context, req providers.GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	return p.reply, p.err
}

type fakeResolver struct {
	p   providers.Provider
	err error
}

func (r fakeResolver) Resolve() (providers.Provider, error) { return r.p, r.err }

type recordingAdapter struct {
	mu    sync.Mutex
	sent  []string
	err   error
	ctype store.ChannelType
}

func (a *recordingAdapter) Type() store.ChannelType { return a.ctype }

func (a *recordingAdapter) SendOutgoingMessage(_ context.Context, _ uuid.UUID, _ *store.Thread, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, content)
	return a.err
}

func (a *recordingAdapter) NormalizeIncomingMessage([]byte) (*channels.NormalizedMessage, error) {
	return nil, channels.ErrNotImplemented
}

type loopFixture struct {
	t        *testing.T
	mem      *mem.Store
	runner   *Runner
	provider *fakeProvider
	adapter  *recordingAdapter
	tenant   uuid.UUID
	agent    *store.AgentConfig
	thread   *store.Thread
	sleeps   []time.Duration
	onSleep  func(n int)
	events   []bus.Event
}

// paragraph returns a 90 character sentence so two never share a chunk.
func paragraph(word string) string {
	return strings.TrimSpace(strings.Repeat(word+" ", 15)) + "."
}

var threeParagraphs = paragraph("alpha") + "\n\n" + paragraph("bravo") + "\n\n" + paragraph("delta")

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	ctx := context.Background()
	stores, m := mem.NewStores()
	f := &loopFixture{
		t:        t,
		mem:      m,
		provider: &fakeProvider{reply: threeParagraphs},
		adapter:  &recordingAdapter{ctype: store.ChannelInternal},
		tenant:   uuid.New(),
	}

	f.agent = &store.AgentConfig{TenantID: f.tenant, Name: "Ava", Active: true, Instructions: "Be helpful."}
	if err := m.UpsertAgent(ctx, f.agent); err != nil {
		t.Fatal(err)
	}
	_ = m.SetChannelEnabled(ctx, f.agent.ID, store.ChannelInternal, true)

	f.thread = &store.Thread{TenantID: f.tenant, ChannelType: store.ChannelInternal, Name: "support"}
	_ = m.CreateThread(ctx, f.thread)
	f.addMessage(store.SenderUser, "Can you help me?")

	reg, err := channels.NewRegistry(f.adapter)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	b.Subscribe("test", func(e bus.Event) { f.events = append(f.events, e) })

	f.runner = NewRunner(RunnerConfig{
		Stores:    stores,
		Channels:  reg,
		Providers: fakeResolver{p: f.provider},
		Leases:    NewMemoryLeaseManager(DefaultLeaseConfig()),
		Bus:       b,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			if f.onSleep != nil {
				f.onSleep(len(f.sleeps))
			}
			return ctx.Err()
		},
	})
	return f
}

func (f *loopFixture) addMessage(sender store.SenderKind, content string) {
	f.t.Helper()
	if err := f.mem.CreateMessage(context.Background(), &store.Message{
		TenantID: f.tenant, ThreadID: f.thread.ID, Sender: sender, Content: content,
	}); err != nil {
		f.t.Fatal(err)
	}
}

func (f *loopFixture) run() *RunResult {
	f.t.Helper()
	res, err := f.runner.Run(context.Background(), RunRequest{TenantID: f.tenant, ThreadID: f.thread.ID, Trigger: "local"})
	if err != nil {
		f.t.Fatalf("Run: %v", err)
	}
	return res
}

func (f *loopFixture) agentMessages() []store.Message {
	msgs, _ := f.mem.ListRecentMessages(context.Background(), f.thread.ID, 100)
	var out []store.Message
	for _, m := range msgs {
		if m.Sender == store.SenderAgent {
			out = append(out, m)
		}
	}
	return out
}

func (f *loopFixture) activity() []store.ActivityLogEntry {
	entries, _ := f.mem.ListActivity(context.Background(), f.tenant, 100)
	return entries
}

func TestRunDeliversChunkedReply(t *testing.T) {
	f := newLoopFixture(t)
	res := f.run()

	if res.Outcome != OutcomeCompleted || res.FragmentsSent != 3 || res.Interrupted {
		t.Fatalf("result = %+v", res)
	}
	msgs := f.agentMessages()
	if len(msgs) != 3 || msgs[0].Content != paragraph("alpha") {
		t.Fatalf("agent messages = %+v", msgs)
	}
	if len(f.adapter.sent) != 3 {
		t.Errorf("adapter sends = %d, want 3", len(f.adapter.sent))
	}
	messages, replies := f.mem.Usage(f.tenant)
	if messages != 3 || replies != 3 {
		t.Errorf("usage = %d/%d, want 3/3", messages, replies)
	}
	if a := f.activity(); len(a) != 1 || a[0].FragmentsSent != 3 || a[0].Interrupted {
		t.Errorf("activity = %+v", a)
	}

	// Response delay on the first fragment only; 90 characters of typing hits the cap.
	if f.sleeps[0] != 1500*time.Millisecond+TypingCap {
		t.Errorf("first sleep = %v", f.sleeps[0])
	}
	if f.sleeps[1] != TypingCap {
		t.Errorf("second sleep = %v, want typing only", f.sleeps[1])
	}

	var created, completed int
	for _, e := range f.events {
		switch e.Name {
		case protocol.EventMessageCreated:
			created++
		case protocol.EventAgentRun:
			completed++
		}
		if e.TenantID != f.tenant.String() {
			t.Errorf("event %s for tenant %s", e.Name, e.TenantID)
		}
	}
	if created != 3 || completed != 1 {
		t.Errorf("events created=%d run=%d", created, completed)
	}
	if f.provider.last.Turns[len(f.provider.last.Turns)-1].Content != "Can you help me?" {
		t.Errorf("prompt turns = %+v", f.provider.last.Turns)
	}
}

func TestRunStopsWhenHandoffLandsMidRun(t *testing.T) {
	f := newLoopFixture(t)
	f.onSleep = func(n int) {
		if n == 2 {
			_ = f.mem.SetHandoff(context.Background(), f.thread.ID, true, "op-1")
		}
	}
	res := f.run()

	if res.Outcome != OutcomeInterrupted || res.FragmentsSent != 1 || !res.Interrupted {
		t.Fatalf("result = %+v", res)
	}
	if n := len(f.agentMessages()); n != 1 {
		t.Errorf("agent messages = %d, want 1", n)
	}
	a := f.activity()
	if len(a) != 1 || !a[0].Interrupted || a[0].FragmentsSent != 1 {
		t.Errorf("activity = %+v", a)
	}
}

func TestRunStopsWhenThreadClosedMidRun(t *testing.T) {
	f := newLoopFixture(t)
	f.onSleep = func(n int) {
		if n == 1 {
			_ = f.mem.UpdateThreadStatus(context.Background(), f.thread.ID, store.ThreadClosed)
		}
	}
	res := f.run()
	if res.FragmentsSent != 0 || !res.Interrupted {
		t.Fatalf("result = %+v", res)
	}
	if len(f.activity()) != 1 {
		t.Error("interrupted run should still log activity once")
	}
}

func TestRunCapsConsecutiveReplies(t *testing.T) {
	f := newLoopFixture(t)
	bs, _ := f.mem.GetBehaviorSettings(context.Background(), f.agent.ID)
	bs.MaxConsecutiveReplies = 2
	_ = f.mem.UpdateBehaviorSettings(context.Background(), bs)

	res := f.run()
	if res.FragmentsSent != 2 || res.Interrupted {
		t.Fatalf("result = %+v", res)
	}
	msgs := f.agentMessages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Content != paragraph("alpha") {
		t.Errorf("first = %q", msgs[0].Content)
	}
	last := msgs[1].Content
	if !strings.Contains(last, paragraph("bravo")) || !strings.Contains(last, paragraph("delta")) {
		t.Errorf("last fragment lost content: %q", last)
	}
}

func TestRunDirectiveUsesMaxChunksWhenUnchunked(t *testing.T) {
	f := newLoopFixture(t)
	bs, _ := f.mem.GetBehaviorSettings(context.Background(), f.agent.ID)
	bs.UseChunkedMessages = false
	bs.MaxChunks = 5
	_ = f.mem.UpdateBehaviorSettings(context.Background(), bs)

	f.run()
	f.provider.mu.Lock()
	system := f.provider.last.SystemPrompt
	f.provider.mu.Unlock()
	if !strings.Contains(system, "at most 5 ") {
		t.Errorf("system prompt missing configured chunk count:\n%s", system)
	}
}

func TestRunUnchunkedSendsWholeReply(t *testing.T) {
	f := newLoopFixture(t)
	bs, _ := f.mem.GetBehaviorSettings(context.Background(), f.agent.ID)
	bs.UseChunkedMessages = false
	bs.TypingSimulation = false
	bs.ResponseDelayMs = 0
	_ = f.mem.UpdateBehaviorSettings(context.Background(), bs)

	res := f.run()
	if res.FragmentsSent != 1 {
		t.Fatalf("result = %+v", res)
	}
	if msgs := f.agentMessages(); msgs[0].Content != threeParagraphs {
		t.Errorf("content = %q", msgs[0].Content)
	}
	if f.sleeps[0] != 0 {
		t.Errorf("sleep = %v, want 0", f.sleeps[0])
	}
}

func TestRunUpstreamErrorSendsNothing(t *testing.T) {
	f := newLoopFixture(t)
	f.provider.err = &providers.UpstreamError{Provider: "fake", Status: 500, Body: "boom"}

	res, err := f.runner.Run(context.Background(), RunRequest{TenantID: f.tenant, ThreadID: f.thread.ID})
	var upstream *providers.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if len(f.agentMessages()) != 0 || len(f.adapter.sent) != 0 || len(f.activity()) != 0 {
		t.Error("failed run must not deliver or log activity")
	}
}

func TestRunSkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *loopFixture)
		want  string
	}{
		{"missing credential", func(f *loopFixture) {
			f.runner.cfg.Providers = fakeResolver{err: providers.ErrMissingCredential}
		}, OutcomeNoCredential},
		{"last message automated", func(f *loopFixture) {
			f.addMessage(store.SenderAgent, "already answered")
		}, OutcomeIneligible},
		{"handed off", func(f *loopFixture) {
			_ = f.mem.SetHandoff(context.Background(), f.thread.ID, true, "op")
		}, OutcomeIneligible},
		{"channel disabled", func(f *loopFixture) {
			_ = f.mem.SetChannelEnabled(context.Background(), f.agent.ID, store.ChannelInternal, false)
		}, OutcomeIneligible},
		{"quota exhausted", func(f *loopFixture) {
			f.mem.SetAutomatedReplyLimit(f.tenant, 1)
			_ = f.mem.IncrementUsage(context.Background(), f.tenant, store.UsageDelta{AutomatedReplies: 1})
		}, OutcomeQuota},
		{"empty reply", func(f *loopFixture) {
			f.provider.reply = "<think>hmm</think>"
		}, OutcomeEmptyReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoopFixture(t)
			tt.setup(f)
			res := f.run()
			if res.Outcome != tt.want {
				t.Errorf("outcome = %q, want %q", res.Outcome, tt.want)
			}
			if len(f.agentMessages()) != 0 {
				t.Error("skipped run must not persist messages")
			}
		})
	}
}

func TestRunUnknownThreadIsNoop(t *testing.T) {
	f := newLoopFixture(t)
	res, err := f.runner.Run(context.Background(), RunRequest{TenantID: f.tenant, ThreadID: uuid.New()})
	if err != nil || res.Outcome != OutcomeNotFound {
		t.Errorf("res=%+v err=%v", res, err)
	}
	res, err = f.runner.Run(context.Background(), RunRequest{TenantID: uuid.New(), ThreadID: f.thread.ID})
	if err != nil || res.Outcome != OutcomeNotFound {
		t.Errorf("other tenant: res=%+v err=%v", res, err)
	}
}

func TestRunMediaPlaceholderGetsApology(t *testing.T) {
	f := newLoopFixture(t)
	f.addMessage(store.SenderContact, PlaceholderAudio)

	res := f.run()
	if res.FragmentsSent != 1 {
		t.Fatalf("result = %+v", res)
	}
	if f.provider.calls != 0 {
		t.Error("provider must not be called for media placeholders")
	}
	if msgs := f.agentMessages(); msgs[0].Content != MediaApology {
		t.Errorf("content = %q", msgs[0].Content)
	}
}

func TestRunSendFailureIsBestEffort(t *testing.T) {
	f := newLoopFixture(t)
	f.adapter.err = errors.New("bridge down")

	res := f.run()
	if res.Outcome != OutcomeCompleted || res.FragmentsSent != 3 {
		t.Fatalf("result = %+v", res)
	}
	if len(f.agentMessages()) != 3 {
		t.Error("messages should stay persisted when delivery fails")
	}
}

func TestRunGuardedSingleFlight(t *testing.T) {
	f := newLoopFixture(t)
	leases := f.runner.cfg.Leases
	held, err := leases.Acquire(context.Background(), f.thread.ID)
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.runner.RunGuarded(context.Background(), RunRequest{TenantID: f.tenant, ThreadID: f.thread.ID})
	if err != nil || res.Outcome != OutcomeBusy {
		t.Fatalf("res=%+v err=%v, want busy", res, err)
	}
	if f.provider.calls != 0 {
		t.Error("busy run must not call the provider")
	}

	held.Release()
	// Cooldown now applies.
	res, _ = f.runner.RunGuarded(context.Background(), RunRequest{TenantID: f.tenant, ThreadID: f.thread.ID})
	if res.Outcome != OutcomeBusy {
		t.Errorf("outcome during cooldown = %q", res.Outcome)
	}
}

func TestRunGuardedReleasesLease(t *testing.T) {
	f := newLoopFixture(t)
	f.runner.cfg.Leases = NewMemoryLeaseManager(LeaseConfig{TTL: time.Minute})

	res, err := f.runner.RunGuarded(context.Background(), RunRequest{TenantID: f.tenant, ThreadID: f.thread.ID})
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if f.runner.cfg.Leases.Active(context.Background(), f.thread.ID) {
		t.Error("lease still active after run")
	}
}

func TestRunCancelledDuringPacing(t *testing.T) {
	f := newLoopFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.onSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	res, err := f.runner.Run(ctx, RunRequest{TenantID: f.tenant, ThreadID: f.thread.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.FragmentsSent != 1 || !res.Interrupted {
		t.Errorf("result = %+v", res)
	}
	if len(f.activity()) != 1 {
		t.Error("activity should be logged after cancellation")
	}
}

func TestFragmentDelay(t *testing.T) {
	s := store.BehaviorSettings{ResponseDelayMs: 1000, TypingSimulation: true}
	tests := []struct {
		name  string
		s     store.BehaviorSettings
		text  string
		first bool
		want  time.Duration
	}{
		{"first with typing", s, "hello", true, time.Second + 5*TypingPerChar},
		{"later fragment", s, "hello", false, 5 * TypingPerChar},
		{"typing capped", s, string(make([]byte, 500)), false, TypingCap},
		{"typing off", store.BehaviorSettings{ResponseDelayMs: 200}, "hello", true, 200 * time.Millisecond},
		{"runes not bytes", s, "ããã", false, 3 * TypingPerChar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FragmentDelay(tt.s, tt.text, tt.first); got != tt.want {
				t.Errorf("FragmentDelay = %v, want %v", got, tt.want)
			}
		})
	}
}
