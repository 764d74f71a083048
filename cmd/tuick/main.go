// Command tuick is an interactive terminal front-end that runs a
// checker command on a loop, streams its diagnostics into fzf, and
// reloads on file changes or a manual key press.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"tuick/internal/block"
	"tuick/internal/cli"
	"tuick/internal/control"
	"tuick/internal/editor"
	"tuick/internal/errorformat"
	"tuick/internal/finder"
	"tuick/internal/session"
	"tuick/internal/watcher"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dispatch(ctx, args, logger)
	if err != nil {
		logger.Error("tuick exiting with error", "error", err)
	}
	return cli.ExitCode(err)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("TUICK_VERBOSE") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// dispatch routes to one of the CLI surface's verbs (spec §6): the
// default form starts a full session; --format runs one parse pass;
// --select, --reload and --message are internal callback invocations
// fzf's key bindings make back into a fresh tuick process, and
// --notify posts a reload the same way --reload does.
func dispatch(ctx context.Context, args []string, logger *slog.Logger) error {
	if len(args) > 0 {
		switch args[0] {
		case "--select":
			return runSelect(args[1:])
		case "--reload":
			return runReload(ctx)
		case "--notify":
			return runNotify(ctx)
		case "--message":
			return runMessage(args[1:], logger)
		case "--format":
			return runFormat(ctx, args[1:])
		}
	}
	return runSession(ctx, args, logger)
}

// runFormat implements the composability seam: parse one invocation of
// COMMAND through the Errorformat Adapter and write the raw
// block-stream serialisation to stdout, with no finder, watcher, or
// control endpoint involved.
func runFormat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tuick --format", flag.ContinueOnError)
	format := fs.String("f", "", "checker output format; auto-detected from the command when omitted")
	pattern := fs.String("e", "", "raw errorformat pattern (Go regexp with named groups file, line, col); mutually exclusive with -f")
	if err := fs.Parse(args); err != nil {
		return cli.NewUsageError("parsing flags: %v", err)
	}

	command := fs.Args()
	if len(command) == 0 {
		return cli.NewUsageError("no checker command given; usage: tuick --format [-f FORMAT | -e PATTERN] CHECKER_COMMAND...")
	}

	registry, err := errorformat.NewRegistry()
	if err != nil {
		return fmt.Errorf("building errorformat registry: %w", err)
	}
	recipe, err := resolveRecipe(registry, *format, *pattern, command)
	if err != nil {
		return err
	}

	c := exec.CommandContext(ctx, command[0], command[1:]...)
	c.Stderr = os.Stderr
	stdout, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("piping checker stdout: %w", err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("starting checker: %w", err)
	}

	records := make(chan block.Record, 4)
	parseErr := make(chan error, 1)
	go func() { parseErr <- errorformat.Parse(ctx, stdout, recipe, records) }()

	for rec := range records {
		if _, err := os.Stdout.Write(rec.EncodeLenient()); err != nil {
			return fmt.Errorf("writing block stream: %w", err)
		}
	}
	if err := <-parseErr; err != nil {
		return fmt.Errorf("parsing checker output: %w", err)
	}
	return c.Wait()
}

func runSession(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("tuick", flag.ContinueOnError)
	format := fs.String("f", "", "checker output format (ruff, flake8, pylint, mypy, pytest); auto-detected from the command when omitted")
	pattern := fs.String("e", "", "raw errorformat pattern (Go regexp with named groups file, line, col); mutually exclusive with -f")
	var exts stringList
	fs.Var(&exts, "ext", "restrict the file watcher to this extension (repeatable)")
	debounce := fs.Duration("debounce", 0, "coalesce file-change events arriving within this window into one reload")
	verbose := fs.Bool("verbose", false, "enable accounting messages on load/reload/zero events")
	if err := fs.Parse(args); err != nil {
		return cli.NewUsageError("parsing flags: %v", err)
	}

	command := fs.Args()
	if len(command) == 0 {
		return cli.NewUsageError("no checker command given; usage: tuick [-f FORMAT | -e PATTERN] [-ext EXT] CHECKER_COMMAND...")
	}

	registry, err := errorformat.NewRegistry()
	if err != nil {
		return fmt.Errorf("building errorformat registry: %w", err)
	}

	recipe, err := resolveRecipe(registry, *format, *pattern, command)
	if err != nil {
		return err
	}

	token, err := control.GenerateToken()
	if err != nil {
		return fmt.Errorf("generating reload token: %w", err)
	}
	endpoint := control.New(token, logger)

	saveFilePath := session.SaveFilePath()
	saveFile, err := session.OpenSaveFile(saveFilePath)
	if err != nil {
		return err
	}
	defer saveFile.Close()

	ctrl := session.New(session.Config{
		Command:  command,
		Recipe:   recipe,
		SaveFile: saveFile,
		Logger:   logger,
	})

	selfPath, err := os.Executable()
	if err != nil {
		selfPath = "tuick"
	}

	fd := &finder.Driver{Bindings: finder.Bindings{
		SelectCommand:  selfPath + " --select",
		ReloadCommand:  selfPath + " --reload",
		MessageCommand: selfPath + " --message",
		Header:         "tuick",
		RunningHeader:  "tuick (running...)",
		Verbose:        *verbose,
	}}

	sessionCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()

	stdin, fzfCmd, err := fd.Spawn(sessionCtx)
	if err != nil {
		return fmt.Errorf("spawning finder: %w", err)
	}

	go feedFinder(stdin, ctrl.Sink)

	workDir, err := os.Getwd()
	if err != nil {
		workDir = ""
	}

	wd := &watcher.Driver{
		Config: watcher.Config{
			Dir:      workDir,
			Exts:     exts,
			Debounce: *debounce,
		},
		Logger: logger,
	}

	go func() {
		select {
		case <-endpoint.Ready():
		case <-sessionCtx.Done():
			return
		}
		wd.Config.Port = endpoint.Port()
		wd.Config.Key = token
		if err := wd.Run(sessionCtx); err != nil && sessionCtx.Err() == nil {
			logger.Error("watcher exited", "error", err)
		}
	}()

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- session.RunWithControlEndpoint(sessionCtx, ctrl, endpoint)
	}()

	waitErr := fzfCmd.Wait()
	stopSession()
	<-sessionErr

	// On exit, print the raw text of the save file so the checker output
	// stays visible after the finder's alternate screen closes. The file
	// holds every generation of this session, not only the last one.
	if err := session.PrintBack(saveFilePath, os.Stdout); err != nil {
		logger.Debug("printing back save file", "error", err)
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if finder.ClassifyExit(exitErr.ExitCode()) == finder.ExitAborted {
				return nil
			}
		}
		return fmt.Errorf("finder exited with error: %w", waitErr)
	}
	return nil
}

// resolveRecipe implements spec §6's two override forms plus
// auto-detection: -e <pattern> (a raw errorformat pattern, via
// errorformat.FromPattern) and -f <name> (a built-in recipe by name)
// are mutually exclusive (giving both is a usage error), and either
// takes precedence over detecting the tool from the checker command
// itself.
func resolveRecipe(registry *errorformat.Registry, format, pattern string, command []string) (errorformat.Recipe, error) {
	if format != "" && pattern != "" {
		return errorformat.Recipe{}, cli.NewUsageError("-f and -e are mutually exclusive")
	}

	if pattern != "" {
		recipe, err := errorformat.FromPattern("custom", pattern)
		if err != nil {
			return errorformat.Recipe{}, fmt.Errorf("compiling -e pattern: %w", err)
		}
		return recipe, nil
	}

	if format != "" {
		recipe, ok := registry.Lookup(format)
		if !ok {
			return errorformat.Recipe{}, cli.NewUsageError("unknown format %q", format)
		}
		return recipe, nil
	}

	name, err := registry.Detect(command)
	if err != nil {
		return errorformat.Recipe{}, fmt.Errorf("detecting checker format: %w", err)
	}
	recipe, _ := registry.Lookup(name)
	return recipe, nil
}

// feedFinder writes every parsed record to fzf's stdin as a wire
// record, closing the pipe when the sink closes. Reset events carry no
// wire form of their own: each generation's records simply replace the
// previous ones as fzf tracks the growing list, per spec §4.5's
// --track flag.
func feedFinder(w io.WriteCloser, sink <-chan session.Event) {
	defer w.Close()
	for ev := range sink {
		if ev.Reset {
			continue
		}
		if _, err := w.Write(ev.Record.EncodeLenient()); err != nil {
			return
		}
	}
}

func runSelect(args []string) error {
	if len(args) != 5 {
		return cli.NewUsageError("--select requires 5 arguments: FILE LINE COL END_LINE END_COL")
	}
	var fields [5]string
	copy(fields[:], args)

	loc, err := block.DecodeLocation(fields)
	if err != nil {
		return cli.NewUsageError("decoding selection: %v", err)
	}
	if loc.File == "" {
		return nil
	}

	command, cmdArgs := editor.Resolve(loc.File, loc)
	c := exec.Command(command, cmdArgs...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

// runReload and runNotify are separate CLI verbs that reduce to the
// same action: post a reload request against the Control Endpoint named
// by this process's environment. The finder's manual key binding
// invokes --reload; the watcher driver posts its reloads itself and
// invokes neither.
func runReload(ctx context.Context) error { return postReload(ctx) }
func runNotify(ctx context.Context) error { return postReload(ctx) }

func postReload(ctx context.Context) error {
	port, key, err := reloadTarget()
	if err != nil {
		return err
	}
	client := &watcher.NotifyClient{}
	return client.PostReload(ctx, port, key)
}

func runMessage(args []string, logger *slog.Logger) error {
	logger.Debug("finder event", "message", strings.Join(args, " "))
	return nil
}

func reloadTarget() (port int, key string, err error) {
	portStr := os.Getenv("TUICK_RELOAD_PORT")
	key = os.Getenv("TUICK_RELOAD_KEY")
	if portStr == "" || key == "" {
		return 0, "", cli.NewUsageError("TUICK_RELOAD_PORT and TUICK_RELOAD_KEY must be set")
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return 0, "", cli.NewUsageError("invalid TUICK_RELOAD_PORT: %v", err)
	}
	return port, key, nil
}

// stringList collects repeated -ext flags into a slice.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
