// Package executor runs the external agent for one job. A non-interactive
// invocation is tried first; when it is unavailable or prints nothing the
// agent is driven interactively through a terminal.
package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"mailbridge/internal/config"
	"mailbridge/internal/ports"

	"github.com/rs/zerolog/log"
)

var (
	ErrToolMissing = errors.New("executor: agent binary not found")
	ErrTimeout     = errors.New("executor: timed out")
	ErrNoOutput    = errors.New("executor: no output")
)

var _ ports.Executor = (*Executor)(nil)

// Strategy is one way of invoking the agent. Run returns the raw output.
type Strategy interface {
	Name() string
	Run(ctx context.Context, command string) (string, error)
}

type Executor struct {
	primary    Strategy
	fallback   Strategy
	markers    []string
	outputFile string
	now        func() time.Time
}

type Option func(*Executor)

func WithStrategies(primary, fallback Strategy) Option {
	return func(e *Executor) {
		e.primary = primary
		e.fallback = fallback
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(cfg config.Executor, opts ...Option) *Executor {
	e := &Executor{
		primary: &PrintMode{
			Binary:  cfg.Binary,
			Dir:     cfg.ProjectDir,
			Timeout: cfg.Timeout,
		},
		fallback: &Interactive{
			Binary:       cfg.Binary,
			Dir:          cfg.ProjectDir,
			Timeout:      cfg.Timeout,
			IdleTimeout:  cfg.IdleTimeout,
			StartupDelay: cfg.StartupDelay,
		},
		markers:    cfg.Markers,
		outputFile: cfg.OutputFile,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs command with the primary strategy and falls back to the
// interactive one on any failure except a timeout or cancellation.
func (e *Executor) Execute(ctx context.Context, command string) (ports.ExecResult, error) {
	logger := log.Ctx(ctx).With().Str("strategy", e.primary.Name()).Logger()
	logger.Info().Str("command", preview(command, 100)).Msg("executing command")

	strategy := e.primary
	out, err := strategy.Run(ctx, command)
	if err != nil {
		if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			logger.Error().Err(err).Msg("execution aborted")
			return ports.ExecResult{}, err
		}

		logger.Warn().Err(err).Str("fallback", e.fallback.Name()).Msg("primary strategy failed, falling back")
		strategy = e.fallback
		out, err = strategy.Run(ctx, command)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("strategy", strategy.Name()).Msg("execution failed")
			return ports.ExecResult{}, err
		}
	}

	cleaned := Clean(out)
	summary := ExtractSummary(cleaned, e.markers)
	if e.outputFile != "" {
		if err := writeResultFile(e.outputFile, command, summary, e.now()); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("path", e.outputFile).Msg("write result file")
		}
	}

	log.Ctx(ctx).Info().
		Str("strategy", strategy.Name()).
		Int("output_chars", len(cleaned)).
		Int("summary_chars", len(summary)).
		Msg("execution finished")

	return ports.ExecResult{
		Output:   cleaned,
		Summary:  summary,
		Strategy: strategy.Name(),
	}, nil
}

// childEnv returns the current environment with CLAUDECODE cleared, so the
// agent does not refuse to start as a nested session.
func childEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "CLAUDECODE=")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
