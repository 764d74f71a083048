// Package finder spawns the fzf fuzzy-finder as a foreground child and
// wires its bindings to tuick's internal callback commands, per
// spec §4.5.
package finder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// Bindings names the tuick callback invocations wired into fzf's key
// bindings. Each is a full command line (already quoted) that fzf
// will run via its execute()/execute-silent() actions.
type Bindings struct {
	// SelectCommand runs "tuick --select" and is bound to enter/right
	// with the highlighted block's location fields appended by fzf's
	// {1}..{5} placeholders (spec §6: "tuick --select FILE LINE COL
	// END_LINE END_COL").
	SelectCommand string

	// ReloadCommand runs "tuick --reload" and is bound to the manual
	// reload key.
	ReloadCommand string

	// MessageCommand runs "tuick --message" and is bound (only under
	// verbose mode) to load/reload/zero events for accounting.
	MessageCommand string

	// Header is the display header while idle; RunningHeader replaces
	// it while a checker run is in flight.
	Header        string
	RunningHeader string

	Verbose bool
}

// contentField is the 1-based field index of the Content column in
// the six-field wire record (spec §4.5: "field index 6").
const contentField = 6

// Driver spawns and manages the fzf child process.
type Driver struct {
	Bindings Bindings
}

// Spawn starts fzf attached to the controlling terminal, returning a
// writer for the block stream (fzf's stdin) and the running command.
// The caller must close the writer to signal the end of the stream and
// then call Wait.
func (d *Driver) Spawn(ctx context.Context) (stdin io.WriteCloser, cmd *exec.Cmd, err error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil, nil, fmt.Errorf("finder: stdout is not a terminal; fzf must run in the foreground")
	}

	cmd = exec.CommandContext(ctx, "fzf", d.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("finder: creating stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("finder: starting fzf: %w", err)
	}
	return stdin, cmd, nil
}

func (d *Driver) args() []string {
	bindings := []string{
		fmt.Sprintf("start:change-header(%s)", d.Bindings.RunningHeader),
		fmt.Sprintf("load:change-header(%s)", d.Bindings.Header),
		fmt.Sprintf("enter,right:execute(%s {1} {2} {3} {4} {5})", d.Bindings.SelectCommand),
		fmt.Sprintf("r:change-header(%s)", d.Bindings.RunningHeader),
		fmt.Sprintf("r:+reload(%s)", d.Bindings.ReloadCommand),
		"q:abort",
		"zero:+abort",
		"space:down",
		"backspace:up",
	}
	if d.Bindings.Verbose && d.Bindings.MessageCommand != "" {
		bindings = append(bindings,
			fmt.Sprintf("load:+execute-silent(%s LOAD)", d.Bindings.MessageCommand),
			fmt.Sprintf("r:+execute-silent(%s RELOAD)", d.Bindings.MessageCommand),
			fmt.Sprintf("zero:+execute-silent(%s ZERO)", d.Bindings.MessageCommand),
		)
	}

	return []string{
		"--listen", "--read0", "--track",
		"--no-sort", "--reverse", "--header-border",
		"--ansi", "--color=dark", "--highlight-line", "--wrap",
		"--disabled", "--no-input",
		"--delimiter", "\x1f",
		"--with-nth", fmt.Sprintf("%d", contentField),
		"--bind", strings.Join(bindings, ","),
	}
}

// ExitKind classifies fzf's exit status per spec §4.7.
type ExitKind int

const (
	ExitNormal ExitKind = iota
	ExitAborted
	ExitOther
)

// ClassifyExit maps an fzf process exit code to an ExitKind. 0 is a
// normal selection exit; 130 is user-abort (q/Esc/Ctrl-C); anything
// else is unexpected.
func ClassifyExit(code int) ExitKind {
	switch code {
	case 0:
		return ExitNormal
	case 130:
		return ExitAborted
	default:
		return ExitOther
	}
}
