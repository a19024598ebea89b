// Package procrun executes external commands on behalf of the rest of
// Maestro. Every verification tool and git invocation goes through the
// Runner, which enforces a destructive-command deny-list, per-invocation
// timeouts, and whole-process-tree termination.
package procrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/gobwas/glob"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/logging"
)

// DefaultTimeout is applied when the caller does not set one.
const DefaultTimeout = 30 * time.Second

// denyPatterns lists glob patterns for commands that must never run.
// Commands are whitespace-normalized before matching. The list covers
// recursive root deletion, disk formatting/partitioning, raw block-device
// writes, and host shutdown.
var denyPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -fr /",
	"rm -fr /*",
	"rm -r /",
	"rm -r /*",
	"rm -rf --no-preserve-root*",
	"sudo rm -rf /*",
	"mkfs*",
	"fdisk*",
	"parted*",
	"dd *of=/dev/*",
	"shutdown*",
	"reboot*",
	"halt*",
	"poweroff*",
}

// Result is the outcome of one external command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool // True when the process tree was terminated by timeout or Kill
}

// Options configures a single invocation.
type Options struct {
	// Dir is the working directory. Defaults to the current directory.
	Dir string

	// Env is merged onto the inherited environment; custom keys win.
	Env map[string]string

	// Timeout bounds the invocation. Zero means the runner's default.
	Timeout time.Duration

	// OnStdout and OnStderr receive output chunks as they arrive.
	// Only used by RunStreaming.
	OnStdout func([]byte)
	OnStderr func([]byte)

	// UsePTY runs the command under a pseudo-terminal. Some tools only
	// produce streaming output when attached to a terminal. PTY mode
	// merges stderr into stdout.
	UsePTY bool
}

// Handle tracks a streaming invocation. The process is already running
// when RunStreaming returns a Handle.
type Handle struct {
	pid    int
	runner *Runner

	mu     sync.Mutex
	done   chan struct{}
	result *Result
	err    error
}

// PID returns the OS process ID of the running command.
func (h *Handle) PID() int { return h.pid }

// Wait blocks until the process exits and returns its result.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Kill terminates the process tree rooted at this handle's process.
func (h *Handle) Kill() error {
	return h.runner.Kill(h.pid)
}

// compiledPattern pairs a deny-list glob with its source text for error
// reporting.
type compiledPattern struct {
	raw  string
	glob glob.Glob
}

// Runner executes external commands with policy enforcement.
type Runner struct {
	denied         []compiledPattern
	defaultTimeout time.Duration
	logger         *logging.Logger

	// startProc is the spawn seam; tests replace it to assert that
	// blocked commands never reach the OS.
	startProc func(*exec.Cmd) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithDefaultTimeout overrides the default per-invocation timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithDenyPatterns appends additional glob patterns to the deny-list.
func WithDenyPatterns(patterns ...string) Option {
	return func(r *Runner) {
		for _, p := range patterns {
			r.denied = append(r.denied, compiledPattern{raw: p, glob: glob.MustCompile(p)})
		}
	}
}

// NewRunner creates a Runner with the built-in deny-list.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		defaultTimeout: DefaultTimeout,
		logger:         logging.NopLogger(),
		startProc:      func(cmd *exec.Cmd) error { return cmd.Start() },
	}
	for _, p := range denyPatterns {
		r.denied = append(r.denied, compiledPattern{raw: p, glob: glob.MustCompile(p)})
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultTimeoutValue returns the timeout applied when options omit one.
func (r *Runner) DefaultTimeoutValue() time.Duration {
	return r.defaultTimeout
}

// IsCommandAllowed reports whether the command passes the deny-list.
func (r *Runner) IsCommandAllowed(command string) bool {
	_, blocked := r.matchDenied(command)
	return !blocked
}

// matchDenied returns the first deny pattern matching the normalized command.
func (r *Runner) matchDenied(command string) (string, bool) {
	normalized := strings.Join(strings.Fields(command), " ")
	for _, p := range r.denied {
		if p.glob.Match(normalized) {
			return p.raw, true
		}
	}
	return "", false
}

// Run executes a command and waits for it to finish.
//
// A deny-list match returns *errors.BlockedCommandError without spawning.
// A non-zero exit returns the Result alongside a *errors.ProcessError.
// A timeout kills the process tree and returns the partial Result with a
// *errors.TimeoutError.
func (r *Runner) Run(ctx context.Context, command string, opts *Options) (*Result, error) {
	handle, err := r.RunStreaming(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	return handle.Wait()
}

// RunStreaming starts a command and returns immediately with a live Handle.
// Output callbacks in opts fire per chunk as the process produces output.
func (r *Runner) RunStreaming(ctx context.Context, command string, opts *Options) (*Handle, error) {
	if opts == nil {
		opts = &Options{}
	}

	if pattern, blocked := r.matchDenied(command); blocked {
		r.logger.Warn("blocked command rejected", "command", command, "pattern", pattern)
		return nil, &errors.BlockedCommandError{Command: command, Pattern: pattern}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	cmd := shellCommand(command)
	cmd.Dir = opts.Dir
	cmd.Env = mergeEnv(opts.Env)

	var stdout, stderr bytes.Buffer
	var ptyFile *os.File

	if opts.UsePTY {
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start command under pty: %w", err)
		}
		ptyFile = f
	} else {
		cmd.Stdout = newChunkWriter(&stdout, opts.OnStdout)
		cmd.Stderr = newChunkWriter(&stderr, opts.OnStderr)
		if err := r.startProc(cmd); err != nil {
			return nil, fmt.Errorf("failed to start command: %w", err)
		}
	}

	start := time.Now()
	pid := cmd.Process.Pid
	r.logger.Debug("process started", "command", command, "pid", pid, "timeout", timeout.String())

	h := &Handle{
		pid:    pid,
		runner: r,
		done:   make(chan struct{}),
	}

	// The timer fires on timeout; context cancellation kills early too.
	var killed sync.Once
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		killed.Do(func() {
			timedOut.Store(true)
			_ = killTree(pid)
		})
	})

	waitCtx, cancelWatch := context.WithCancel(ctx)
	go func() {
		<-waitCtx.Done()
		if ctx.Err() != nil {
			killed.Do(func() { _ = killTree(pid) })
		}
	}()

	go func() {
		defer close(h.done)
		defer cancelWatch()

		if ptyFile != nil {
			// Drain the pty until the process exits. Reads fail with EIO
			// once the child side closes; that is the normal exit path.
			drainPTY(ptyFile, &stdout, opts.OnStdout)
		}

		waitErr := cmd.Wait()
		timer.Stop()
		if ptyFile != nil {
			_ = ptyFile.Close()
		}

		result := &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: cmd.ProcessState.ExitCode(),
			Duration: time.Since(start),
			Killed:   timedOut.Load(),
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		h.result = result

		switch {
		case timedOut.Load():
			h.err = &errors.TimeoutError{
				ProcessError: errors.ProcessError{
					Command:  command,
					ExitCode: result.ExitCode,
					Stdout:   result.Stdout,
					Stderr:   result.Stderr,
				},
				Timeout: timeout,
			}
		case waitErr != nil:
			h.err = &errors.ProcessError{
				Command:  command,
				ExitCode: result.ExitCode,
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
			}
		}
	}()

	return h, nil
}

// Kill terminates the whole process tree rooted at pid. It never returns
// an error for an already-dead or unknown pid: kill is a maintenance
// operation and must stay idempotent.
func (r *Runner) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	_ = killTree(pid)
	return nil
}

// mergeEnv overlays custom variables onto the inherited environment.
// Custom keys win over inherited ones.
func mergeEnv(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return nil // nil means inherit as-is
	}

	env := os.Environ()
	out := make([]string, 0, len(env)+len(overlay))
	for _, kv := range env {
		key := kv[:strings.IndexByte(kv, '=')]
		if _, override := overlay[key]; !override {
			out = append(out, kv)
		}
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}

// chunkWriter tees output into a buffer and an optional per-chunk callback.
type chunkWriter struct {
	buf      *bytes.Buffer
	callback func([]byte)
	mu       sync.Mutex
}

func newChunkWriter(buf *bytes.Buffer, callback func([]byte)) io.Writer {
	return &chunkWriter{buf: buf, callback: callback}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.mu.Unlock()
	if w.callback != nil {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		w.callback(chunk)
	}
	return n, err
}

// drainPTY copies pty output into the buffer until the child exits.
func drainPTY(f *os.File, buf *bytes.Buffer, callback func([]byte)) {
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if callback != nil {
				cp := make([]byte, n)
				copy(cp, chunk[:n])
				callback(cp)
			}
		}
		if err != nil {
			return
		}
	}
}
