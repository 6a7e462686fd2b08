package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SayidwithDexextra/dexextra-console/internal/batch"
	"github.com/SayidwithDexextra/dexextra-console/internal/chain"
	"github.com/SayidwithDexextra/dexextra-console/internal/command"
	"github.com/SayidwithDexextra/dexextra-console/internal/config"
	"github.com/SayidwithDexextra/dexextra-console/internal/dispatch"
	"github.com/SayidwithDexextra/dexextra-console/internal/gateway"
	"github.com/SayidwithDexextra/dexextra-console/internal/ledger"
	"github.com/SayidwithDexextra/dexextra-console/internal/metrics"
	"github.com/SayidwithDexextra/dexextra-console/internal/reconcile"
	"github.com/SayidwithDexextra/dexextra-console/internal/util"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to YAML config")
	flag.Parse()

	cfg := loadConfig(*configPath)
	log := util.NewConsoleLogger(cfg.App.LogLevel)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyring := loadKeyring(log)
	disp, client := buildStack(cfg, keyring, log)

	probeCtx, probeCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := client.Health(probeCtx); err != nil {
		fmt.Printf("exchange %s is not answering (%v); calls will retry\n", cfg.Exchange.APIBaseURL, err)
	} else {
		fmt.Printf("exchange %s healthy, market %q, %d actors loaded\n",
			cfg.Exchange.APIBaseURL, cfg.Exchange.Market, keyring.Len())
	}
	probeCancel()

	repl(ctx, disp)
}

// buildStack wires the exchange client, gateway, reconciliation engine,
// dispatcher, and batch runner for the configured endpoint.
func buildStack(cfg *config.Config, keyring *chain.Keyring, log zerolog.Logger) (*dispatch.Dispatcher, *chain.Client) {
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
	return disp, client
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

// loadKeyring prefers env-provided keys and falls back to ephemeral
// identities for devnet sessions.
func loadKeyring(log zerolog.Logger) *chain.Keyring {
	keyring, err := chain.LoadKeyringFromEnv()
	if err == nil {
		return keyring
	}
	log.Warn().Err(err).Msg("no keys in env, generating ephemeral actors")
	keyring, err = chain.NewEphemeralKeyring(5)
	if err != nil {
		log.Fatal().Err(err).Msg("generate keyring")
	}
	return keyring
}

func repl(ctx context.Context, disp *dispatch.Dispatcher) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("dexextra console (EXIT to quit)")
	for ctx.Err() == nil {
		fmt.Printf("%s> ", promptLabel(disp.Session()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToUpper(line) {
		case "EXIT", "QUIT":
			return
		}
		runLine(ctx, disp, line)
	}
}

// runLine executes every command on a line independently: a segment that
// fails to parse is recorded and skipped without dropping its siblings.
func runLine(ctx context.Context, disp *dispatch.Dispatcher, line string) {
	for _, segment := range command.Split(line) {
		cmd, err := command.Parse(segment)
		if err != nil {
			disp.RecordFailure(command.OpcodeOf(segment), err)
			fmt.Printf("error: %v\n", err)
			continue
		}
		result, err := disp.Execute(ctx, cmd)
		if err != nil {
			fmt.Printf("error: %v\n", err)
		} else if result.Summary != "" {
			fmt.Println(result.Summary)
		}
		pauseAfter(ctx, disp.Session(), cmd, err)
		if ctx.Err() != nil {
			return
		}
	}
}

func promptLabel(session *dispatch.Session) string {
	index, ok := session.CurrentActorIndex()
	switch {
	case !ok:
		return "dexextra[-]"
	case index == 0:
		return "dexextra[DEPLOYER]"
	default:
		return fmt.Sprintf("dexextra[U%d]", index)
	}
}

// pauseAfter lets the settlement indexer catch up after order placement,
// pausing longer after a failure.
func pauseAfter(ctx context.Context, session *dispatch.Session, cmd command.Command, err error) {
	if _, ok := cmd.(*command.PlaceOrder); !ok {
		return
	}
	delay := session.PauseSuccess
	if err != nil {
		delay = session.PauseError
	}
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
