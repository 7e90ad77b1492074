package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// drainQuiet is how long the terminal must stay silent after end-of-input
// before the output is considered complete.
const drainQuiet = 500 * time.Millisecond

// terminal is the channel to an interactive child: a pseudo-terminal where
// available, plain pipes otherwise.
type terminal interface {
	io.ReadWriter
	// CloseInput signals end of input to the child.
	CloseInput() error
	Close() error
}

// Interactive drives the agent as if typed at a terminal. The command is
// written after StartupDelay; output is complete when the child exits or
// stays silent for IdleTimeout, at which point end-of-input is sent.
type Interactive struct {
	Binary       string
	Dir          string
	Timeout      time.Duration
	IdleTimeout  time.Duration
	StartupDelay time.Duration
}

func (s *Interactive) Name() string { return "interactive" }

func (s *Interactive) Run(ctx context.Context, command string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.Command(s.Binary)
	cmd.Dir = s.Dir
	cmd.Env = childEnv()

	term, err := startTerminal(cmd)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrToolMissing, s.Binary)
		}
		return "", fmt.Errorf("start %s: %w", s.Binary, err)
	}
	defer term.Close()

	logger := log.Ctx(ctx).With().Int("pid", cmd.Process.Pid).Logger()
	logger.Info().Msg("agent started")

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	defer stopChild(cmd, exited)

	quit := make(chan struct{})
	defer close(quit)
	chunks := readChunks(term, quit)

	var out bytes.Buffer
	startup := time.NewTimer(s.StartupDelay)
	defer startup.Stop()
	idle := time.NewTimer(s.IdleTimeout)
	idle.Stop()
	defer idle.Stop()
	sent := false

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return out.String(), fmt.Errorf("%w after %s", ErrTimeout, s.Timeout)
			}
			return out.String(), ctx.Err()

		case b, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out.Write(b)
			if sent {
				idle.Reset(s.IdleTimeout)
			}

		case <-startup.C:
			if _, err := io.WriteString(term, command+"\n"); err != nil {
				return out.String(), fmt.Errorf("write command: %w", err)
			}
			sent = true
			idle.Reset(s.IdleTimeout)
			logger.Debug().Msg("command sent")

		case <-idle.C:
			logger.Info().Dur("idle", s.IdleTimeout).Msg("agent idle, sending end of input")
			if err := term.CloseInput(); err != nil {
				logger.Warn().Err(err).Msg("send end of input")
			}
			drain(chunks, &out, drainQuiet)
			return out.String(), nil

		case <-exited:
			logger.Info().Int("exit_code", cmd.ProcessState.ExitCode()).Msg("agent exited")
			drain(chunks, &out, drainQuiet)
			return out.String(), nil
		}
	}
}

func readChunks(r io.Reader, quit <-chan struct{}) <-chan []byte {
	chunks := make(chan []byte, 16)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				b := make([]byte, n)
				copy(b, buf[:n])
				select {
				case chunks <- b:
				case <-quit:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return chunks
}

// drain collects output until the stream closes or stays quiet for d.
func drain(chunks <-chan []byte, out *bytes.Buffer, d time.Duration) {
	if chunks == nil {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case b, ok := <-chunks:
			if !ok {
				return
			}
			out.Write(b)
			t.Reset(d)
		case <-t.C:
			return
		}
	}
}

// stopChild terminates a still-running child, escalating to kill after the
// grace period.
func stopChild(cmd *exec.Cmd, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	default:
	}
	_ = terminate(cmd.Process)
	select {
	case <-exited:
	case <-time.After(killGrace):
		_ = kill(cmd.Process)
		<-exited
	}
}
