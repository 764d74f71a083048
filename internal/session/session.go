// Package session implements the Session Controller: the single
// goroutine that owns the checker runner, the finder driver, and the
// control endpoint, and drives the starting -> running -> reloading ->
// draining -> stopped state machine described in spec §4.7.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tuick/internal/block"
	"tuick/internal/clock"
	"tuick/internal/control"
	"tuick/internal/errorformat"
	"tuick/internal/runner"
)

// State names the controller's position in its lifecycle.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateReloading
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReloading:
		return "reloading"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config bundles everything the controller needs to run one checker
// command under one recipe.
type Config struct {
	Command  []string
	Recipe   errorformat.Recipe
	SaveFile io.Writer

	Logger *slog.Logger
	Clock  clock.Clock
}

// Controller owns the checker run lifecycle and republishes the
// currently-open generation's blocks to Sink. Only one goroutine
// (Run's caller) ever touches Controller's internal fields; concurrent
// callers (the Control Endpoint's HTTP handler, the finder's key
// bindings) communicate only through channels.
type Controller struct {
	cfg    Config
	runner *runner.Runner

	generation atomic.Uint64

	// Sink receives every block from the currently active generation.
	// A new generation's blocks are prefixed by a Reset before any
	// Record is sent, so the finder driver knows to clear its list.
	Sink chan Event

	state atomic.Int32
}

// Event is a message from the controller to the finder feeder.
type Event struct {
	// Reset is true exactly once at the start of every generation
	// (including the first), before any Record.
	Reset bool

	// Record carries one parsed block. Zero value when Reset is true.
	Record block.Record

	// Generation identifies which run this event belongs to, letting a
	// stale in-flight reader recognise superseded output (spec §3's
	// generation counter invariant).
	Generation uint64
}

// New constructs a Controller ready to Run.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Controller{
		cfg:    cfg,
		runner: &runner.Runner{Clock: cfg.Clock, Logger: cfg.Logger},
		// Unbuffered, so no record of a superseded generation is left
		// waiting in Sink once a reload has been taken.
		Sink: make(chan Event),
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.logf("state transition", "state", s.String())
}

// Run drives the controller until ctx is cancelled or starting a
// generation produces a fatal error. reloads delivers a value each
// time a new checker run should begin (manual "r" keypress or a
// watcher-triggered Control Endpoint event); the first run starts
// immediately without waiting on reloads.
//
// A single select loop owns the current generation's Handle so a
// reload can preempt a still-running checker (spec §4.7's
// running -> reloading transition: "(2) terminates the previous
// runner, (3) starts a new runner") instead of waiting for it to exit
// on its own.
func (c *Controller) Run(ctx context.Context, reloads <-chan struct{}) error {
	c.setState(StateStarting)

	handle, gen, err := c.startGeneration(ctx)
	if err != nil {
		c.setState(StateStopped)
		return err
	}
	c.setState(StateRunning)
	blocks := handle.Blocks()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDraining)
			c.drainCurrent(handle)
			c.setState(StateStopped)
			return nil

		case <-reloads:
			c.setState(StateReloading)
			_ = handle.Terminate(context.Background(), runner.DefaultSoftTimeout)

			next, nextGen, err := c.startGeneration(ctx)
			if err != nil {
				c.setState(StateStopped)
				return err
			}
			handle, gen, blocks = next, nextGen, next.Blocks()
			c.setState(StateRunning)

		case rec, ok := <-blocks:
			if !ok {
				// The current generation's checker exited on its own.
				// Stop selecting on the now-closed channel (it would
				// otherwise be perpetually ready) and wait for the next
				// reload or shutdown; handle is retained so drainCurrent
				// and a later Terminate call remain no-ops, not nil
				// derefs.
				blocks = nil
				continue
			}
			rec.Generation = gen
			select {
			case c.Sink <- Event{Record: rec, Generation: gen}:
			case <-reloads:
				// A reload preempts the blocked send; rec belongs to the
				// superseded generation and is dropped.
				c.setState(StateReloading)
				_ = handle.Terminate(context.Background(), runner.DefaultSoftTimeout)
				next, nextGen, err := c.startGeneration(ctx)
				if err != nil {
					c.setState(StateStopped)
					return err
				}
				handle, gen, blocks = next, nextGen, next.Blocks()
				c.setState(StateRunning)
			case <-ctx.Done():
				c.setState(StateDraining)
				c.drainCurrent(handle)
				c.setState(StateStopped)
				return nil
			}
		}
	}
}

// startGeneration increments the generation counter, starts a fresh
// checker run under it, and publishes the Reset event that tells the
// finder feeder to clear its list before any Record from this
// generation arrives.
func (c *Controller) startGeneration(ctx context.Context) (*runner.Handle, uint64, error) {
	gen := c.generation.Add(1)

	handle, err := c.runner.Start(ctx, c.cfg.Command, c.cfg.Recipe, c.cfg.SaveFile)
	if err != nil {
		return nil, 0, fmt.Errorf("session: starting checker: %w", err)
	}

	select {
	case c.Sink <- Event{Reset: true, Generation: gen}:
	case <-ctx.Done():
	}

	return handle, gen, nil
}

// drainCurrent terminates the still-owned generation (a no-op if it
// already exited) and flushes the save file, the two things spec
// §4.7's draining state must guarantee before the controller stops.
func (c *Controller) drainCurrent(handle *runner.Handle) {
	if handle != nil {
		_ = handle.Terminate(context.Background(), runner.DefaultSoftTimeout)
	}
	if f, ok := c.cfg.SaveFile.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

func (c *Controller) logf(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, args...)
	}
}

// RunWithControlEndpoint wires a Controller and a control.Endpoint
// together via an errgroup: the endpoint's Reloads() channel feeds the
// controller's reload trigger, and both are torn down together when
// either returns or ctx is cancelled (spec §4.7's coordination via
// golang.org/x/sync/errgroup).
func RunWithControlEndpoint(ctx context.Context, c *Controller, ep *control.Endpoint) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return ep.Serve(gctx)
	})
	group.Go(func() error {
		return c.Run(gctx, ep.Reloads())
	})

	return group.Wait()
}

// SaveFilePath returns the on-disk path used for the append-only save
// file (raw checker stdout and stderr, per spec §4.3/§6), honoring
// TUICK_SAVE_FILE if set and otherwise falling back to a fixed name in
// the working directory.
func SaveFilePath() string {
	if p := os.Getenv("TUICK_SAVE_FILE"); p != "" {
		return p
	}
	return ".tuick-save.log"
}
