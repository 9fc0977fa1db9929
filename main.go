package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/finserve-labs/loanflow/agent/archive"
	capabilityx "github.com/finserve-labs/loanflow/agent/capability"
	contractx "github.com/finserve-labs/loanflow/agent/contract"
	conversationx "github.com/finserve-labs/loanflow/agent/conversation"
	"github.com/finserve-labs/loanflow/agent/decision"
	"github.com/finserve-labs/loanflow/agent/executor"
	"github.com/finserve-labs/loanflow/agent/orchestrator"
	configx "github.com/finserve-labs/loanflow/pkg/config"
	_ "github.com/finserve-labs/loanflow/pkg/logger/autoload"
	"github.com/finserve-labs/loanflow/pkg/openrouter"
	"github.com/finserve-labs/loanflow/server"
	"github.com/finserve-labs/loanflow/services/kyc"
	"github.com/finserve-labs/loanflow/services/mockdata"
	"github.com/finserve-labs/loanflow/services/offer"
	"github.com/finserve-labs/loanflow/services/sanction"
	"github.com/finserve-labs/loanflow/services/underwrite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "loanflow",
		Short: "Loanflow, conversational loan origination",
		Long:  "Loanflow runs the loan origination chat agent and its capability services.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				return os.Setenv(configx.EnvFileVar, envFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newOfferCmd())
	cmd.AddCommand(newKYCCmd())
	cmd.AddCommand(newUnderwriteCmd())
	cmd.AddCommand(newSanctionCmd())
	cmd.AddCommand(newMockdataCmd())
	return cmd
}

/* ------------------------------------ serve ------------------------------------ */

// storeSettings selects the conversation store backend.
type storeSettings struct {
	Backend    string `split_words:"true" default:"memory"`
	SQLitePath string `envconfig:"SQLITE_PATH" split_words:"true" default:"loanflow.db"`
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the loan agent chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srvCfg, err := configx.New[server.Config]("SERVER")
			if err != nil {
				return err
			}
			loopCfg, err := configx.New[orchestrator.Config]("AGENT")
			if err != nil {
				return err
			}
			routerCfg, err := configx.New[openrouter.Config]("OPENROUTER")
			if err != nil {
				return err
			}
			clientCfg, err := configx.New[capabilityx.ClientConfig]("CAPABILITY")
			if err != nil {
				return err
			}

			store, closeStore, err := buildStore()
			if err != nil {
				return err
			}
			defer closeStore()

			clients, err := capabilityx.NewClients(*clientCfg)
			if err != nil {
				return err
			}
			registry := capabilityx.NewRegistry(clients)

			invoker, err := executor.New(registry)
			if err != nil {
				return err
			}

			client := openrouter.NewClient(*routerCfg)
			if client == nil {
				return errors.New("OPENROUTER_API_KEY is required")
			}
			decider, err := decision.New(client, registry, routerCfg.Model, routerCfg.Temperature, int64(routerCfg.MaxCompletionToken))
			if err != nil {
				return err
			}

			archiver, closeArchiver, err := buildArchiver(ctx)
			if err != nil {
				return err
			}
			defer closeArchiver()

			svc, err := orchestrator.New(store, decider, invoker, archiver, decision.PolicyText(), *loopCfg)
			if err != nil {
				return err
			}
			srv, err := server.New(*srvCfg, svc)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
}

func buildStore() (conversationx.Store, func(), error) {
	cfg, err := configx.New[storeSettings]("STORE")
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case "memory":
		return conversationx.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := conversationx.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "redis":
		redisCfg, err := configx.New[conversationx.UpstashRedisConfig]("REDIS")
		if err != nil {
			return nil, nil, err
		}
		store, err := conversationx.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func buildArchiver(ctx context.Context) (contractx.Archiver, func(), error) {
	cfg, err := configx.New[archive.Config]("ARCHIVE")
	if err != nil {
		return nil, nil, err
	}
	if cfg.DSN == "" {
		log.Info().Msg("no archive database configured, archival disabled")
		return archive.NoopArchiver{}, func() {}, nil
	}
	pg, err := archive.NewPostgres(ctx, *cfg)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

/* ------------------------------ capability services ------------------------------ */

func newOfferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offer-agent",
		Short: "Start the offer lookup service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configx.New[offer.Config]("OFFER")
			if err != nil {
				return err
			}
			svc, err := offer.New(*cfg)
			if err != nil {
				return err
			}
			return runHTTP(cmd.Context(), cfg.Addr, svc.Handler(), "offer")
		},
	}
}

func newKYCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kyc-agent",
		Short: "Start the KYC verification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configx.New[kyc.Config]("KYC")
			if err != nil {
				return err
			}
			svc, err := kyc.New(*cfg)
			if err != nil {
				return err
			}
			return runHTTP(cmd.Context(), cfg.Addr, svc.Handler(), "kyc")
		},
	}
}

func newUnderwriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "underwriting-agent",
		Short: "Start the underwriting service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configx.New[underwrite.Config]("UNDERWRITING")
			if err != nil {
				return err
			}
			svc, err := underwrite.New(*cfg)
			if err != nil {
				return err
			}
			return runHTTP(cmd.Context(), cfg.Addr, svc.Handler(), "underwriting")
		},
	}
}

func newSanctionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sanction-agent",
		Short: "Start the sanction letter service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configx.New[sanction.Config]("SANCTION")
			if err != nil {
				return err
			}
			svc, err := sanction.New(*cfg)
			if err != nil {
				return err
			}
			return runHTTP(cmd.Context(), cfg.Addr, svc.Handler(), "sanction")
		},
	}
}

func newMockdataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mockdata",
		Short: "Start the synthetic customer data provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configx.New[mockdata.Config]("MOCKDATA")
			if err != nil {
				return err
			}
			svc, err := mockdata.New()
			if err != nil {
				return err
			}
			return runHTTP(cmd.Context(), cfg.Addr, svc.Handler(), "mockdata")
		},
	}
}

// runHTTP serves a handler until the process receives SIGINT or SIGTERM.
func runHTTP(parent context.Context, addr string, handler http.Handler, name string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		log.Info().Str("service", name).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("service", name).Str("addr", ln.Addr().String()).Msg("service ready")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
