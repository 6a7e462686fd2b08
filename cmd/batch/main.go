package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SayidwithDexextra/dexextra-console/internal/batch"
	"github.com/SayidwithDexextra/dexextra-console/internal/chain"
	"github.com/SayidwithDexextra/dexextra-console/internal/config"
	"github.com/SayidwithDexextra/dexextra-console/internal/dispatch"
	"github.com/SayidwithDexextra/dexextra-console/internal/gateway"
	"github.com/SayidwithDexextra/dexextra-console/internal/ledger"
	"github.com/SayidwithDexextra/dexextra-console/internal/metrics"
	"github.com/SayidwithDexextra/dexextra-console/internal/reconcile"
	"github.com/SayidwithDexextra/dexextra-console/internal/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	strict := flag.Bool("strict", false, "abort on the first failed command")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: batch [-config path] [-strict] <script>")
		os.Exit(2)
	}
	script := flag.Arg(0)

	cfg := loadConfig(*configPath)
	if *strict {
		cfg.Console.Strict = true
	}
	log := util.NewLogger(cfg.App.LogLevel)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyring, err := chain.LoadKeyringFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("no keys in env, generating ephemeral actors")
		keyring, err = chain.NewEphemeralKeyring(5)
		if err != nil {
			log.Fatal().Err(err).Msg("generate keyring")
		}
	}

	runner, history := buildRunner(cfg, keyring, log)
	if err := runner.Run(ctx, script); err != nil {
		log.Fatal().Err(err).Str("script", script).Msg("batch aborted")
	}

	failed := 0
	for _, entry := range history.Recent(history.Len()) {
		if entry.Status == ledger.StatusError {
			failed++
		}
	}
	log.Info().Int("commands", history.Len()).Int("failed", failed).Msg("batch complete")
	if failed > 0 {
		os.Exit(1)
	}
}

func buildRunner(cfg *config.Config, keyring *chain.Keyring, log zerolog.Logger) (*batch.Runner, *ledger.Ledger) {
	client := chain.NewClient(cfg.Exchange.APIBaseURL, cfg.Exchange.RequestTimeout())
	gw := gateway.New(gateway.Config{
		ConcurrencyLimit: cfg.Gateway.ConcurrencyLimit,
		Attempts:         cfg.Gateway.RetryAttempts,
		BaseDelay:        time.Duration(cfg.Gateway.RetryBaseMs) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.Gateway.RetryMaxMs) * time.Millisecond,
	}, log, gateway.WithProbe(client.Health))

	session := dispatch.NewSession(keyring, cfg.Exchange.Market)
	session.Strict = cfg.Console.Strict
	session.DefaultSlippageBps = int64(cfg.Console.DefaultSlippageBps)
	session.PauseSuccess = time.Duration(cfg.Console.PauseSuccessMs) * time.Millisecond
	session.PauseError = time.Duration(cfg.Console.PauseErrorMs) * time.Millisecond

	engine := reconcile.New(gw, client, log)
	history := ledger.New(cfg.Console.HistoryCapacity)
	disp := dispatch.New(session, gw, client, engine, history, log)

	opts := []batch.Option{
		batch.WithHealthWait(
			time.Duration(cfg.Gateway.HealthTimeoutMs)*time.Millisecond,
			time.Duration(cfg.Gateway.HealthIntervalMs)*time.Millisecond,
		),
		batch.WithStrict(func() bool { return session.Strict }),
	}
	if cfg.Exchange.EventsURL != "" {
		opts = append(opts, batch.WithTracer(chain.NewEventFeed(cfg.Exchange.EventsURL, log)))
	}
	runner := batch.NewRunner(disp, gw, log, opts...)
	disp.SetScriptRunner(runner.Run)
	return runner, history
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg = config.Default()
	cfg.ApplyEnv()
	return cfg
}
