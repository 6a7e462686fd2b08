// Package batch replays script files through the tokenizer and dispatcher
// with best-effort semantics: one bad command never aborts the run unless
// strict mode says so.
package batch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SayidwithDexextra/dexextra-console/internal/command"
	"github.com/SayidwithDexextra/dexextra-console/internal/ledger"
)

// Executor runs parsed commands and records outcomes; the dispatcher
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (ledger.Result, error)
	RecordFailure(opcode string, err error) ledger.Result
}

// HealthWaiter blocks until the remote endpoint answers its readiness
// probe; the Remote Call Gateway satisfies it.
type HealthWaiter interface {
	WaitUntilHealthy(ctx context.Context, timeout, interval time.Duration) error
}

// Tracer attaches scoped diagnostic subscriptions for the duration of a
// run; the chain event feed satisfies it.
type Tracer interface {
	Attach(ctx context.Context) (func(), error)
}

// Runner replays a script file command by command.
type Runner struct {
	exec   Executor
	health HealthWaiter
	tracer Tracer
	log    zerolog.Logger

	healthTimeout  time.Duration
	healthInterval time.Duration
	strict         func() bool
}

// Option configures Runner construction parameters.
type Option func(*Runner)

// WithTracer installs the diagnostic event tracer attached around runs.
func WithTracer(tracer Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// WithHealthWait overrides the health-wait timeout and poll interval.
func WithHealthWait(timeout, interval time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.healthTimeout = timeout
		}
		if interval > 0 {
			r.healthInterval = interval
		}
	}
}

// WithStrict installs the strict-mode lookup; when it reports true the
// run aborts on the first failed command.
func WithStrict(strict func() bool) Option {
	return func(r *Runner) { r.strict = strict }
}

// NewRunner builds a runner over an executor and health waiter.
func NewRunner(exec Executor, health HealthWaiter, log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		exec:           exec,
		health:         health,
		log:            log,
		healthTimeout:  30 * time.Second,
		healthInterval: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tokens flattens script text into individual command strings: commands
// separate on newline, `;`, and `,`; blank lines and `#` comments drop.
func Tokens(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, command.Split(line)...)
	}
	return out
}

// Run replays the script at path. Failures to read the file or to reach a
// healthy endpoint are fatal; per-command failures are logged, recorded,
// and skipped. Diagnostic subscriptions detach on every exit path.
func (r *Runner) Run(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	tokens := Tokens(string(data))
	if len(tokens) == 0 {
		r.log.Warn().Str("path", path).Msg("script has no commands")
		return nil
	}

	if err := r.health.WaitUntilHealthy(ctx, r.healthTimeout, r.healthInterval); err != nil {
		return fmt.Errorf("health wait: %w", err)
	}

	if r.tracer != nil {
		detach, err := r.tracer.Attach(ctx)
		if err != nil {
			// Tracing is read-only diagnostics; a dead feed never blocks
			// the batch itself.
			r.log.Warn().Err(err).Msg("diagnostic subscriptions unavailable")
		} else {
			defer detach()
		}
	}

	r.log.Info().Str("path", path).Int("commands", len(tokens)).Msg("batch started")
	for i, token := range tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.runOne(ctx, token); err != nil {
			r.log.Error().Err(err).Int("index", i).Str("command", token).Msg("command failed")
			if r.strict != nil && r.strict() {
				return fmt.Errorf("strict mode: command %d (%q): %w", i, token, err)
			}
			continue
		}
		r.log.Debug().Int("index", i).Str("command", token).Msg("command ok")
	}
	r.log.Info().Str("path", path).Msg("batch finished")
	return nil
}

func (r *Runner) runOne(ctx context.Context, token string) error {
	cmd, err := command.Parse(token)
	if err != nil {
		r.exec.RecordFailure(command.OpcodeOf(token), err)
		return err
	}
	_, err = r.exec.Execute(ctx, cmd)
	return err
}
