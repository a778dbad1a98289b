package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Result is the normalized outcome of one command execution. It is fully
// populated on both success and failure; engine failures are reported
// through it, never as a panic or an error crossing the engine boundary.
type Result struct {
	Succeeded bool   `json:"succeeded"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
}

// Runner spawns one subprocess with a discrete argument vector.
// It exists as a seam so tests can count spawns without touching the OS.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) (stdout, stderr string, exitCode int, err error)
}

// Recorder receives a record of every execution the engine performs.
// Recording is best-effort; a failing recorder never fails the run.
type Recorder interface {
	RecordExecution(key string, args []string, res Result)
}

// execRunner is the production Runner backed by os/exec. No shell is ever
// involved: the argument vector is handed to the kernel as-is.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1 // spawn failure, no process ran
		}
	}
	return stdout.String(), stderr.String(), code, err
}

// Engine executes registered commands as supervised subprocesses.
type Engine struct {
	registry       *Registry
	runner         Runner
	recorder       Recorder
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunner overrides the production subprocess runner.
func WithRunner(r Runner) EngineOption {
	return func(e *Engine) { e.runner = r }
}

// WithRecorder attaches an execution recorder.
func WithRecorder(rec Recorder) EngineOption {
	return func(e *Engine) { e.recorder = rec }
}

// NewEngine creates an execution engine over the given registry.
func NewEngine(reg *Registry, defaultTimeout time.Duration, logger *slog.Logger, opts ...EngineOption) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	e := &Engine{
		registry:       reg,
		runner:         execRunner{},
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's command registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Run executes the command registered under key, blocking until it exits
// or the timeout elapses. extraArgs are appended to the definition's fixed
// arguments as discrete argv elements; they are never joined into a command
// line. An unregistered key returns a failure Result without spawning
// anything.
func (e *Engine) Run(ctx context.Context, key string, extraArgs []string, timeout time.Duration) Result {
	def, ok := e.registry.Lookup(key)
	if !ok {
		res := Result{
			Succeeded: false,
			Stderr:    fmt.Sprintf("command key %q is not registered", key),
			ExitCode:  -1,
		}
		e.record(key, extraArgs, res)
		return res
	}

	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := make([]string, 0, len(def.FixedArgs)+len(extraArgs))
	argv = append(argv, def.FixedArgs...)
	argv = append(argv, extraArgs...)

	start := time.Now()
	stdout, stderr, code, err := e.runner.Run(ctx, def.Binary, argv)

	res := Result{
		Succeeded: err == nil,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  code,
	}
	if err != nil && res.Stderr == "" {
		// Spawn failures produce no process output; the error is all
		// the operator has.
		res.Stderr = err.Error()
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Succeeded = false
		res.ExitCode = -1
		res.Stderr = fmt.Sprintf("command %q timed out after %s", key, timeout)
	}

	e.logger.Debug("command executed",
		slog.String("key", key),
		slog.Bool("succeeded", res.Succeeded),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	e.record(key, extraArgs, res)
	return res
}

// Start executes the command asynchronously and delivers exactly one
// Result on the returned channel.
func (e *Engine) Start(ctx context.Context, key string, extraArgs []string, timeout time.Duration) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- e.Run(ctx, key, extraArgs, timeout)
		close(ch)
	}()
	return ch
}

func (e *Engine) record(key string, args []string, res Result) {
	if e.recorder != nil {
		e.recorder.RecordExecution(key, args, res)
	}
}
