package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	cfhttp "github.com/Strob0t/realtyhub/internal/adapter/http"
	cfnats "github.com/Strob0t/realtyhub/internal/adapter/nats"
	"github.com/Strob0t/realtyhub/internal/adapter/natskv"
	cfotel "github.com/Strob0t/realtyhub/internal/adapter/otel"
	"github.com/Strob0t/realtyhub/internal/adapter/postgres"
	"github.com/Strob0t/realtyhub/internal/adapter/ristretto"
	"github.com/Strob0t/realtyhub/internal/adapter/tiered"
	"github.com/Strob0t/realtyhub/internal/adapter/ws"
	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/logger"
	"github.com/Strob0t/realtyhub/internal/port/cache"
	"github.com/Strob0t/realtyhub/internal/port/messagequeue"
	"github.com/Strob0t/realtyhub/internal/resilience"
	"github.com/Strob0t/realtyhub/internal/secrets"
	"github.com/Strob0t/realtyhub/internal/service"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if err := run(flags); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(flags config.CLIFlags) error {
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"dispatch", cfg.Provisioning.Dispatch,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	shared := cfg.Tenancy.SharedSchema
	pool, err := postgres.NewPool(ctx, cfg.Postgres, shared)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		// A provisioning run may hold its message for the full timeout;
		// redelivery must not start before that.
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL, cfnats.WithAckWait(cfg.Provisioning.Timeout+time.Minute))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
	}

	domainCache, closeCache, err := buildDomainCache(ctx, cfg, queue, metrics)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Services ---

	store := postgres.NewStore(pool)
	binder := postgres.NewBinder(pool, shared)
	hub := ws.NewHub()
	defer hub.Close()

	var bus messagequeue.Broadcaster
	if queue != nil {
		bus = queue
	}
	invalidator := service.NewInvalidator(domainCache, bus, uuid.NewString())
	stopInvalidations, err := invalidator.Start()
	if err != nil {
		return fmt.Errorf("invalidation subscriber: %w", err)
	}
	defer stopInvalidations()

	provisioning := service.NewProvisioningService(store, postgres.NewSchemaManager(pool, shared), invalidator, hub, &cfg.Provisioning, metrics)
	switch cfg.Provisioning.Dispatch {
	case "nats":
		if queue == nil {
			return errors.New("provisioning dispatch nats requires nats.url")
		}
		provisioning.SetDispatcher(service.NewQueueDispatcher(queue))
		stopWorker, err := service.StartProvisionWorker(ctx, queue, provisioning.Execute, cfg.Provisioning.Timeout)
		if err != nil {
			return fmt.Errorf("provision worker: %w", err)
		}
		defer stopWorker()
	default:
		local := service.NewLocalDispatcher(provisioning.Execute, cfg.Provisioning.MaxConcurrent, cfg.Provisioning.Timeout)
		provisioning.SetDispatcher(local)
		defer local.Wait()
		// Local runs die with the process; pick up what the last one left.
		resumeStuck(ctx, provisioning, cfg.Provisioning.Timeout)
	}

	tenants := service.NewTenantService(store, provisioning, invalidator, hub)
	creds := service.NewCredentialService(&cfg.Auth, metrics)
	vault, err := secrets.NewVault(jwtSecretLoader(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	creds.UseVault(vault, jwtSecretEnv)
	stopReload := reloadOnHangup(vault)
	defer stopReload()
	auth := service.NewAuthService(postgres.NewTenantUserStore(binder), store, creds, &cfg.Auth)
	resolver := tenancy.NewResolver(store, domainCache, tenancy.NewExemptRoutes(cfg.Tenancy.ExemptPrefixes), shared, metrics)

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Tenants:      tenants,
		Provisioning: provisioning,
		Auth:         auth,
		Hub:          hub,
		Version:      version,
		HealthChecks: []cfhttp.HealthCheck{
			{Name: "postgres", Required: true, Check: store.Ping},
			{Name: "nats", Check: func(context.Context) error {
				if queue == nil {
					return errors.New("disabled")
				}
				if !queue.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			}},
		},
	}

	var tracing func(http.Handler) http.Handler
	if cfg.OTEL.Enabled {
		tracing = cfotel.HTTPMiddleware(cfg.OTEL.ServiceName)
	}
	router := cfhttp.NewRouter(cfg, handlers, cfhttp.RouterDeps{
		Resolver: resolver,
		Verifier: creds,
		Tracing:  tracing,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

const jwtSecretEnv = "REALTYHUB_JWT_SECRET"

// jwtSecretLoader reads the signing secret from the environment, falling
// back to the configured one. A reload that would install a short secret
// fails and keeps the current one.
func jwtSecretLoader(configured string) secrets.Loader {
	env := secrets.EnvLoader(jwtSecretEnv)
	return func() (map[string]string, error) {
		vals, err := env()
		if err != nil {
			return nil, err
		}
		if vals[jwtSecretEnv] == "" {
			vals[jwtSecretEnv] = configured
		}
		if len(vals[jwtSecretEnv]) < config.MinJWTSecretLen {
			return nil, fmt.Errorf("%s must be at least %d bytes", jwtSecretEnv, config.MinJWTSecretLen)
		}
		return vals, nil
	}
}

// reloadOnHangup reloads the vault on SIGHUP until the returned function
// is called.
func reloadOnHangup(vault *secrets.Vault) func() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-hup:
				if err := vault.Reload(); err != nil {
					slog.Error("secret reload failed, keeping current secrets", "error", err)
					continue
				}
				slog.Info("secrets reloaded")
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
	}
}

// buildDomainCache assembles the resolver cache: ristretto in process,
// backed by a NATS KV bucket shared across replicas when NATS is enabled.
func buildDomainCache(ctx context.Context, cfg *config.Config, queue *cfnats.Queue, metrics *cfotel.Metrics) (*tenancy.DomainCache, func(), error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}

	var c cache.Cache = l1
	if queue != nil && cfg.Cache.L2Bucket != "" {
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			l1.Close()
			return nil, nil, fmt.Errorf("l2 cache: %w", err)
		}
		breaker := resilience.NewBreaker("domain-cache-l2", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		c = tiered.New(l1, natskv.New(kv), cfg.Tenancy.TenantCacheTTL, breaker)
		slog.Info("domain cache tiered", "bucket", cfg.Cache.L2Bucket)
	}

	return tenancy.NewDomainCache(c, cfg.Tenancy.HostCacheTTL, cfg.Tenancy.TenantCacheTTL, metrics), l1.Close, nil
}

// resumeStuck re-dispatches tenants left in provisioning by a previous
// process. Tenants another replica may still be running are left alone.
func resumeStuck(ctx context.Context, provisioning *service.ProvisioningService, runTimeout time.Duration) {
	resumed, err := provisioning.ResumeStale(ctx, runTimeout)
	if err != nil {
		slog.Warn("resume stale provisioning", "error", err)
		return
	}
	if len(resumed) > 0 {
		slog.Info("resumed stale provisioning", "tenants", resumed)
	}
}
