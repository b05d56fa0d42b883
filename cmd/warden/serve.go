package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ahutchings/warden/internal/admission"
	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/api"
	"github.com/ahutchings/warden/internal/audit"
	"github.com/ahutchings/warden/internal/config"
	wcrypto "github.com/ahutchings/warden/internal/crypto"
	"github.com/ahutchings/warden/internal/inflight"
	"github.com/ahutchings/warden/internal/killswitch"
	"github.com/ahutchings/warden/internal/metrics"
	"github.com/ahutchings/warden/internal/ratelimit"
	"github.com/ahutchings/warden/internal/safety"
	"github.com/ahutchings/warden/internal/trust"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the warden server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	master, err := wcrypto.DecodeMasterSecret(cfg.Trust.MasterSecret)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	})

	auditSink := audit.NewSlogSink(logger)

	agentStore := agent.NewStore(pool)
	replicator := agent.NewReplicator(agentStore, 5*time.Second)
	replicator.SetMetrics(m)
	registry := agent.NewRegistry(replicator)
	if err := registry.Load(ctx, agentStore); err != nil {
		return err
	}
	go replicator.Start(ctx)

	eventStore := trust.NewStore(pool)
	ledger := trust.NewLog(eventStore)
	if err := ledger.Load(ctx); err != nil {
		return err
	}

	engine := trust.NewEngine(ledger, registry, auditSink)
	engine.SetMetrics(m)

	authenticator, err := trust.NewAuthenticator(master, registry, engine, cfg.Trust.SessionTokenTTL)
	if err != nil {
		return err
	}
	issuer, err := trust.NewIssuer(engine)
	if err != nil {
		return err
	}

	tracker := inflight.NewTracker()
	sw := killswitch.New(killswitch.NewStore(pool), registry, tracker, auditSink)
	sw.Load(ctx)
	m.SetKillSwitch(sw.Active())

	defaultBudget := agent.Budget{
		MaxTokens:   cfg.Budget.MaxTokens,
		MaxAPICalls: cfg.Budget.MaxAPICalls,
		MaxCostUSD:  cfg.Budget.MaxCostUSD,
		Period:      cfg.Budget.Period,
	}

	controller := admission.New(admission.Options{
		Registry:      registry,
		Limiter:       ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		KillSwitch:    sw,
		Trust:         engine,
		Tracker:       tracker,
		Screener:      safety.NewRuleScreener(),
		Audit:         auditSink,
		Metrics:       m,
		DefaultBudget: defaultBudget,
		MinScore:      cfg.Trust.MinAdmissionScore,
	})

	router := api.NewRouter(api.RouterDeps{
		Controller:    controller,
		Registry:      registry,
		Engine:        engine,
		Authenticator: authenticator,
		Issuer:        issuer,
		KillSwitch:    sw,
		Tracker:       tracker,
		Audit:         auditSink,
		Metrics:       m,
		DefaultBudget: defaultBudget,
		AdminKey:      cfg.Auth.AdminKey,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	replicator.Stop()

	return srv.Shutdown(shutdownCtx)
}
