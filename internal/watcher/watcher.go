// Package watcher spawns watchexec to observe filesystem changes and
// posts an authenticated reload request against the session's Control
// Endpoint whenever a change event completes (spec §4.6).
package watcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"tuick/internal/clock"
)

// Config describes how to spawn watchexec and where to deliver reload
// notifications.
type Config struct {
	// Dir is the watcher's working directory (spec §4.6: "the watcher's
	// working directory ... [is] passed through from the session").
	// Empty means the current directory.
	Dir string

	// Paths are the filesystem paths watchexec should observe. Empty
	// means the current directory, matching watchexec's own default.
	Paths []string

	// Exts, when non-empty, restricts events to files with one of these
	// extensions (spec §4.6: "include/exclude patterns ... passed
	// through from the session").
	Exts []string

	// Debounce coalesces change events arriving within this window into
	// a single reload (spec §4.6: "debounce ... passed through from the
	// session"). Zero means every completed event block posts a reload
	// immediately.
	Debounce time.Duration

	// Port and Key address the Control Endpoint's /reload route.
	Port int
	Key  string
}

// Driver manages the watchexec child process and reads its emitted
// change events directly, rather than forking a callback command per
// event. watchexec groups the paths touched by one filesystem change
// into a block of "type:path" lines terminated by a blank line
// (`--emit-events-to=stdio --only-emit-events`); the driver treats one
// completed block as one reload trigger, exactly the shape
// `original_source`'s FilesystemMonitor.iter_changes parses.
type Driver struct {
	Config Config
	Client *NotifyClient
	Logger *slog.Logger

	// Clock drives the debounce timer. Real() if nil; tests inject a
	// fake clock the same way internal/runner does for its soft/hard
	// timeout race.
	Clock clock.Clock

	mu            sync.Mutex
	debounceTimer *clock.Timer
}

// Run spawns watchexec and blocks until its event stream ends or ctx is
// cancelled, posting a reload request to the Control Endpoint after
// every completed change-event block (debounced per Config.Debounce).
// It never forks a subprocess per event: high-frequency filesystem
// churn produces many event blocks in quick succession, and debouncing
// plus the Control Endpoint's own drop-newer coalescing (spec §4.4) is
// what absorbs that, not a fresh process per notification.
func (d *Driver) Run(ctx context.Context) error {
	client := d.Client
	if client == nil {
		client = &NotifyClient{}
	}

	cmd := exec.CommandContext(ctx, "watchexec", d.args()...)
	cmd.Dir = d.Config.Dir
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("watcher: creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("watcher: starting watchexec: %w", err)
	}

	scanEvents(stdout, func() { d.notify(ctx, client) })

	return cmd.Wait()
}

// scanEvents reads watchexec's "--emit-events-to=stdio" line format —
// one or more "type:path" lines per change, blocks separated by a
// blank line — and calls onEvent once per completed block. A trailing
// block with no closing blank line (end of stream) still fires
// onEvent, matching original_source's FilesystemMonitor.iter_changes.
func scanEvents(r io.Reader, onEvent func()) {
	scanner := bufio.NewScanner(r)
	sawChange := false
	for scanner.Scan() {
		if scanner.Text() == "" {
			if sawChange {
				onEvent()
				sawChange = false
			}
			continue
		}
		sawChange = true
	}
	if sawChange {
		onEvent()
	}
}

func (d *Driver) args() []string {
	args := []string{
		"--postpone",
		"--only-emit-events",
		"--emit-events-to=stdio",
		"--no-meta",
	}
	for _, ext := range d.Config.Exts {
		args = append(args, "--exts", ext)
	}
	for _, p := range d.Config.Paths {
		args = append(args, "--watch", p)
	}
	return args
}

// notify posts a reload, or (when Config.Debounce is set) arms a timer
// that posts once no further event arrives for the debounce window,
// resetting the timer on every new event in the meantime. This is the
// same reset-on-event debounce shape as observe/control.go's
// layout-change notifier, generalized from a fixed interval to an
// injected clock.Clock.
func (d *Driver) notify(ctx context.Context, client *NotifyClient) {
	if d.Config.Debounce <= 0 {
		d.post(ctx, client)
		return
	}

	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}

	d.mu.Lock()
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}
	d.debounceTimer = clk.AfterFunc(d.Config.Debounce, func() { d.post(ctx, client) })
	d.mu.Unlock()
}

func (d *Driver) post(ctx context.Context, client *NotifyClient) {
	if err := client.PostReload(ctx, d.Config.Port, d.Config.Key); err != nil && d.Logger != nil {
		d.Logger.Debug("watcher: posting reload", "error", err)
	}
}

// NotifyClient is the small HTTP client used to reach the Control
// Endpoint, both by Driver.Run and by the "tuick --reload"/"tuick
// --notify" callback commands (the finder's manual reload binding
// invokes the former).
type NotifyClient struct {
	HTTPClient *http.Client
}

// PostReload sends the authenticated reload request. Fire-and-forget by
// design: a dropped notification is recovered by the next change event,
// so a short timeout is preferable to retry logic here.
func (c *NotifyClient) PostReload(ctx context.Context, port int, key string) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/reload?key=%s", port, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("watcher: building reload request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("watcher: posting reload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("watcher: reload rejected: status %d", resp.StatusCode)
	}
	return nil
}
