package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goinbox/internal/bus"
	"github.com/nextlevelbuilder/goinbox/internal/metrics"
	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

// RunExecutor is the part of Runner the dispatcher drives.
type RunExecutor interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	RunGuarded(ctx context.Context, req RunRequest) (*RunResult, error)
}

// Dispatcher runs replies in the background, detached from the request that
// triggered them. Failures never reach the caller; they are logged, counted and
// broadcast as agent.run failure events.
type Dispatcher struct {
	runs    RunExecutor
	bus     bus.EventPublisher
	metrics *metrics.Metrics
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. timeout bounds each background run (0 = none).
func NewDispatcher(runs RunExecutor, pub bus.EventPublisher, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	return &Dispatcher{runs: runs, bus: pub, metrics: m, timeout: timeout}
}

// Dispatch starts an unguarded run (webhook path).
func (d *Dispatcher) Dispatch(ctx context.Context, req RunRequest) {
	d.start(ctx, req, d.runs.Run)
}

// DispatchGuarded starts a lease-guarded run (local send path).
func (d *Dispatcher) DispatchGuarded(ctx context.Context, req RunRequest) {
	d.start(ctx, req, d.runs.RunGuarded)
}

func (d *Dispatcher) start(ctx context.Context, req RunRequest, fn func(context.Context, RunRequest) (*RunResult, error)) {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				d.fail(req, err)
			}
		}()

		ctx := runCtx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(runCtx, d.timeout)
			defer cancel()
		}
		if _, err = fn(ctx, req); err != nil {
			d.fail(req, err)
		}
	}()
}

func (d *Dispatcher) fail(req RunRequest, err error) {
	slog.Error("agent.dispatch_failed", "tenant_id", req.TenantID, "thread_id", req.ThreadID,
		"trigger", req.Trigger, "error", err)
	d.metrics.DispatchFailed()
	if d.bus == nil {
		return
	}
	d.bus.Broadcast(bus.Event{
		Name:     protocol.EventAgentRun,
		TenantID: req.TenantID.String(),
		Payload: map[string]any{
			"type":      protocol.AgentRunFailed,
			"thread_id": req.ThreadID,
			"trigger":   req.Trigger,
			"error":     err.Error(),
		},
	})
}

// Wait blocks until every dispatched run has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
