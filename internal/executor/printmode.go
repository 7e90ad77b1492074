package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const killGrace = 3 * time.Second

// PrintMode runs the agent to completion with the command as an argument.
type PrintMode struct {
	Binary  string
	Dir     string
	Timeout time.Duration
}

func (p *PrintMode) Name() string { return "print" }

// Run succeeds when the agent printed anything, whatever its exit status.
// Output is stdout, or stderr when stdout is empty.
func (p *PrintMode) Run(ctx context.Context, command string) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Binary, "-p", "--no-session-persistence", command)
	cmd.Dir = p.Dir
	cmd.Env = childEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcessGroup(cmd)
	esc := &escalation{grace: killGrace, kill: func() { _ = kill(cmd.Process) }}
	cmd.Cancel = func() error {
		err := terminate(cmd.Process)
		esc.arm()
		return err
	}
	cmd.WaitDelay = killGrace + time.Second

	err := cmd.Run()
	esc.stop()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, p.Timeout)
	}
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrToolMissing, p.Binary)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("run %s: %w", p.Binary, err)
		}
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		out = stderr.String()
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: exit status %d", ErrNoOutput, cmd.ProcessState.ExitCode())
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// escalation kills a terminated child after grace unless stopped first. A
// stopped escalation never fires, since the process group id may have been
// reused by then.
type escalation struct {
	grace time.Duration
	kill  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (e *escalation) arm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(e.grace, e.kill)
}

func (e *escalation) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
}
