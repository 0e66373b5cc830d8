package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/juanpasaflipz/agentic-devops/internal/api"
	"github.com/juanpasaflipz/agentic-devops/internal/auth"
	"github.com/juanpasaflipz/agentic-devops/internal/config"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger/backend"
	"github.com/juanpasaflipz/agentic-devops/internal/logging"
	"github.com/juanpasaflipz/agentic-devops/internal/orchestrator"
	"github.com/juanpasaflipz/agentic-devops/internal/planner"
	"github.com/juanpasaflipz/agentic-devops/internal/policy"
	"github.com/juanpasaflipz/agentic-devops/internal/queue"
	"github.com/juanpasaflipz/agentic-devops/internal/redact"
	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/internal/runbook"
	"github.com/juanpasaflipz/agentic-devops/internal/telemetry"
	"github.com/juanpasaflipz/agentic-devops/internal/tools"
)

// Version is injected via ldflags at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd(serve).Execute(); err != nil {
		fatalf("server error: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	log.Fatal().Msgf(format, args...)
}

type listenFn func(ctx context.Context, srv *http.Server) error

func newRootCmd(listen listenFn) *cobra.Command {
	v := config.NewViper()
	var (
		logLevel  string
		logFormat string
		otelOn    bool
	)

	cmd := &cobra.Command{
		Use:           "opsgate-gateway",
		Short:         "Gate, plan and dispatch devops events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(logLevel, logFormat)

			cfg, err := config.Resolve(v)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			shutdown, err := telemetry.Setup("opsgate-gateway", Version, otelOn)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer gw.Close()
			go gw.reloadOnHangup(ctx)

			log.Info().
				Str("addr", cfg.ListenAddr).
				Str("mode", cfg.Mode).
				Bool("durable_ledger", gw.store.Durable()).
				Msg("opsgate-gateway listening")
			return listen(ctx, gw.server)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to opsgate config file (env OPSGATE_CONFIG)")
	flags.String("listen", "", "listen address (default "+config.DefaultListenAddr+")")
	flags.String("mode", "", "runtime mode: development or production")
	flags.String("policy", "", "path to the policy document")
	flags.String("runbooks", "", "runbooks directory")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", logging.FormatConsole, "log format (console, json)")
	flags.BoolVar(&otelOn, "otel", false, "export traces to stdout")
	bindFlags(v, cmd)
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for key, flag := range map[string]string{
		config.KeyConfigFile: "config",
		"listen_addr":        "listen",
		"mode":               "mode",
		"policy_path":        "policy",
		"runbooks_dir":       "runbooks",
	} {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

type gateway struct {
	server   *http.Server
	policies *policy.Holder
	store    ledger.Store
	queue    queue.Enqueuer
}

// build wires the pipeline: policy, ledger, queue, tools, router, planner,
// orchestrator and the HTTP front door.
func build(ctx context.Context, cfg config.Config) (*gateway, error) {
	policies, err := policy.NewHolder(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	red := redact.New(policies.Current().Policy.RedactionPatterns()...)
	store := backend.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	q := queue.Open(ctx, cfg.Redis.URL)

	mode := router.ModeDevelopment
	if cfg.Production() {
		mode = router.ModeProduction
	}
	rt, err := router.New(tools.Register(tools.Deps{Config: cfg.Tools}), router.Options{
		Mode:     mode,
		Ledger:   store,
		Queue:    q,
		Redactor: red,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Options{
		Ledger:     store,
		Gate:       policy.NewGate(policies),
		Planner:    planner.New(policies, rt, runbook.NewInterpreter(cfg.RunbooksDir, rt)),
		Redactor:   red,
		Production: cfg.Production(),
	})
	handler := api.NewRouter(&api.Handler{
		Auth:        auth.NewTokenAuthenticator(cfg.Auth.DevToken),
		Events:      orch,
		Idempotency: api.NewInMemoryIdemStore(api.DefaultIdemTTL),
		Production:  cfg.Production(),
	}, api.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	return &gateway{
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		policies: policies,
		store:    store,
		queue:    q,
	}, nil
}

func (g *gateway) Close() error {
	var errs []error
	if c, ok := g.queue.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, g.store.Close())
	return errors.Join(errs...)
}

// reloadOnHangup re-reads the policy document on SIGHUP. A broken document
// leaves the previous policy active.
func (g *gateway) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := g.policies.Reload(); err != nil {
				log.Error().Err(err).Msg("policy reload failed, keeping previous policy")
			}
		}
	}
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
