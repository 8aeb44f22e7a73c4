package cmd

import (
	"context"
	"testing"
	"time"
)

func TestRunMaintenanceOnce(t *testing.T) {
	var calls []string
	tasks := []maintenanceTask{
		{name: "a", run: func() int { calls = append(calls, "a"); return 2 }},
		{name: "b", run: func() int { calls = append(calls, "b"); return 0 }},
	}
	runMaintenanceOnce(tasks)
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
}

func TestRunMaintenanceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runMaintenance(ctx, "not a schedule", nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runMaintenance did not return after cancel")
	}
}
