package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"tuick/internal/clock"
	"tuick/internal/errorformat"
)

func testRecipe(t *testing.T) errorformat.Recipe {
	t.Helper()
	reg, err := errorformat.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	recipe, ok := reg.Lookup("ruff")
	if !ok {
		t.Fatalf("missing builtin ruff recipe")
	}
	return recipe
}

func TestRunProducesResetThenRecords(t *testing.T) {
	var save bytes.Buffer
	ctrl := New(Config{
		Command:  []string{"sh", "-c", "echo 'a.py:1:1: oops'"},
		Recipe:   testRecipe(t),
		SaveFile: &save,
		Clock:    clock.Real(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx, reloads) }()

	ev := <-ctrl.Sink
	if !ev.Reset {
		t.Fatalf("expected first event to be a Reset, got %+v", ev)
	}
	first := ev.Generation

	select {
	case ev := <-ctrl.Sink:
		if ev.Record.Line.Value != 1 {
			t.Errorf("record line = %v, want 1", ev.Record.Line)
		}
		if ev.Generation != first {
			t.Errorf("record generation = %d, want %d", ev.Generation, first)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for parsed record")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}

	if ctrl.State() != StateStopped {
		t.Errorf("state = %v, want stopped", ctrl.State())
	}
}

func TestRunAdvancesGenerationOnReload(t *testing.T) {
	var save bytes.Buffer
	ctrl := New(Config{
		Command:  []string{"sh", "-c", "echo 'a.py:1:1: oops'"},
		Recipe:   testRecipe(t),
		SaveFile: &save,
		Clock:    clock.Real(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloads := make(chan struct{}, 1)

	go func() { _ = ctrl.Run(ctx, reloads) }()

	firstReset := <-ctrl.Sink
	<-ctrl.Sink // record

	reloads <- struct{}{}

	secondReset := <-ctrl.Sink
	if !secondReset.Reset {
		t.Fatalf("expected reload to emit a Reset event")
	}
	if secondReset.Generation <= firstReset.Generation {
		t.Errorf("generation did not advance: first=%d second=%d", firstReset.Generation, secondReset.Generation)
	}
}

// TestReloadTerminatesStillRunningChecker exercises seed scenario S3:
// a checker that keeps emitting blocks for two seconds is reloaded
// partway through, and the old generation must be terminated rather
// than left to run to completion before the new one starts.
func TestReloadTerminatesStillRunningChecker(t *testing.T) {
	var save bytes.Buffer
	ctrl := New(Config{
		Command: []string{"sh", "-c",
			`i=0; while [ $i -lt 20 ]; do i=$((i+1)); echo "a.py:$i:1: oops"; sleep 0.1; done`},
		Recipe:   testRecipe(t),
		SaveFile: &save,
		Clock:    clock.Real(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloads := make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx, reloads) }()

	firstReset := <-ctrl.Sink
	<-ctrl.Sink // first record; the checker is now definitely running

	time.Sleep(250 * time.Millisecond)
	reloads <- struct{}{}

	select {
	case ev := <-ctrl.Sink:
		if !ev.Reset {
			t.Fatalf("expected the reload to emit the next generation's Reset, got %+v", ev)
		}
		if ev.Generation <= firstReset.Generation {
			t.Fatalf("generation did not advance: first=%d second=%d", firstReset.Generation, ev.Generation)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reload against a still-running checker never started the next generation (old process not terminated)")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}
