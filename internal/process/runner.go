package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// stderrTail bounds how much stderr is copied into an ExitError.
const stderrTail = 4096

// Command describes one external program invocation. No shell is involved.
type Command struct {
	Dir  string
	Name string
	Args []string
	// Env is appended to the parent environment.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands, capturing their output and mirroring it to the
// logger at debug level.
type Runner struct {
	log zerolog.Logger
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed.
	WaitDelay time.Duration
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{log: logger, WaitDelay: 5 * time.Second}
}

// Run executes c to completion. Cancelling ctx kills the whole process group.
// A non-zero exit is reported as *ExitError; the Result is returned either way.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	logger := r.log.With().Str("cmd", c.String()).Logger()
	outLog := newLineLogger(logger, "stdout")
	errLog := newLineLogger(logger, "stderr")
	cmd.Stdout = io.MultiWriter(&stdout, outLog)
	cmd.Stderr = io.MultiWriter(&stderr, errLog)

	start := time.Now()
	err := cmd.Run()
	outLog.Flush()
	errLog.Flush()

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s aborted: %w", c, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{
			Command:  c.String(),
			ExitCode: res.ExitCode,
			Stderr:   tail(res.Stderr, stderrTail),
			Cause:    err,
		}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("failed to run %s: %w", c, err)
}

// Start spawns c detached from any request context. The child runs in its
// own process group and its output is mirrored to the logger.
func (r *Runner) Start(c Command) (*Handle, error) {
	if c.Name == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	setProcessGroup(cmd)

	logger := r.log.With().Str("cmd", c.String()).Logger()
	outLog := newLineLogger(logger, "stdout")
	errLog := newLineLogger(logger, "stderr")
	cmd.Stdout = outLog
	cmd.Stderr = errLog

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c, err)
	}

	h := &Handle{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	go func() {
		err := cmd.Wait()
		outLog.Flush()
		errLog.Flush()

		h.mu.Lock()
		h.waitErr = err
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// Handle tracks a process started with Runner.Start.
type Handle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code once the process has exited. Processes
// killed by a signal report -1.
func (h *Handle) ExitCode() (int, bool) {
	if h.Running() {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

// Stop sends SIGTERM to the process group, escalating to SIGKILL after grace.
// It returns once the process has exited or ctx is done.
func (h *Handle) Stop(ctx context.Context, grace time.Duration) error {
	if !h.Running() {
		return nil
	}

	if err := terminateGroup(h.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		killGroup(h.cmd)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	killGroup(h.cmd)

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SplitCommand splits a command line into argv. Single and double quotes group
// words and a backslash escapes the next character outside single quotes.
func SplitCommand(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in %q", quote, line)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash in %q", line)
	}
	if inWord {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

// ParseCommand builds a Command from a command line.
func ParseCommand(dir, line string, env ...string) (Command, error) {
	argv, err := SplitCommand(line)
	if err != nil {
		return Command{}, err
	}
	return Command{Dir: dir, Name: argv[0], Args: argv[1:], Env: env}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// lineLogger forwards complete lines to a zerolog logger.
type lineLogger struct {
	mu     sync.Mutex
	log    zerolog.Logger
	stream string
	buf    []byte
}

func newLineLogger(logger zerolog.Logger, stream string) *lineLogger {
	return &lineLogger{log: logger, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.emit(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	l.log.Debug().Str("stream", l.stream).Msg(string(line))
}
