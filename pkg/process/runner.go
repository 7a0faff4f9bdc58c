package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
)

const (
	defaultStderrTail = 8 * 1024
	waitDelay         = 2 * time.Second
)

// Kind classifies how one external process invocation ended.
type Kind string

const (
	KindOK           Kind = "ok"
	KindTimedOut     Kind = "timed_out"
	KindNonZeroExit  Kind = "non_zero_exit"
	KindLaunchFailed Kind = "launch_failed"
)

// Spec describes one external process invocation.
type Spec struct {
	Path    string
	Args    []string
	Stdin   string
	Timeout time.Duration
	Dir     string
	Env     []string
}

// Result is produced exactly once per Run call.
type Result struct {
	Kind     Kind
	Output   string
	ExitCode int
	Stderr   string
	Cause    error
	PID      int
	Duration time.Duration
}

// Err maps a non-OK result onto the shared failure taxonomy.
func (r Result) Err() error {
	switch r.Kind {
	case KindOK:
		return nil
	case KindTimedOut:
		return failure.Wrap(failure.KindExternalTimeout, r.Cause, "process timed out")
	case KindLaunchFailed:
		return failure.Wrap(failure.KindExternalUnavailable, r.Cause, "process could not be started")
	case KindNonZeroExit:
		detail := fmt.Sprintf("process exited with code %d", r.ExitCode)
		cause := r.Cause
		if stderr := strings.TrimSpace(r.Stderr); stderr != "" {
			cause = errors.New(stderr)
		}
		if cause == nil {
			return failure.New(failure.KindExternalUnavailable, detail)
		}
		return failure.Wrap(failure.KindExternalUnavailable, cause, detail)
	default:
		return failure.New(failure.KindInternal, "unknown process result")
	}
}

// Runner launches external executables with a wall-clock bound.
//
// A Runner never retries; each Run call performs exactly one invocation.
type Runner struct {
	log *slog.Logger
}

// NewRunner constructs a process runner.
func NewRunner(log *slog.Logger) *Runner {
	return &Runner{log: logger.Component(log, "process.runner")}
}

// Run starts spec.Path, feeds spec.Stdin and waits up to spec.Timeout.
//
// On timeout or caller cancellation the whole process group is killed and
// reaped before Run returns.
func (r *Runner) Run(ctx context.Context, spec Spec) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := time.Now()
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	log := r.log.With("executable", filepath.Base(spec.Path))

	cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var stdout bytes.Buffer
	stderr := newTailBuffer(defaultStderrTail)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		kind := KindLaunchFailed
		if runCtx.Err() != nil {
			kind = KindTimedOut
		}
		log.Debug("Process launch failed", "kind", kind, "error", err)
		return Result{Kind: kind, Cause: err, ExitCode: -1, Duration: time.Since(startedAt)}
	}

	pid := cmd.Process.Pid
	log.Debug("Process started", "pid", pid, "timeout", spec.Timeout)

	waitErr := cmd.Wait()
	result := Result{
		PID:      pid,
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(startedAt),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		result.Kind = KindTimedOut
		result.Cause = ctxErr
		result.ExitCode = -1
		log.Warn("Process terminated after deadline", "pid", pid, "duration_ms", result.Duration.Milliseconds())
		return result
	}

	if waitErr != nil {
		result.Kind = KindNonZeroExit
		result.Cause = waitErr
		result.ExitCode = -1

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		log.Debug("Process exited with failure", "pid", pid, "exit_code", result.ExitCode)
		return result
	}

	result.Kind = KindOK
	result.Output = strings.TrimSpace(stdout.String())
	log.Debug("Process completed", "pid", pid, "duration_ms", result.Duration.Milliseconds(), "output_length", len(result.Output))
	return result
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if overflow := len(b.buf) - b.max; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}

	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
