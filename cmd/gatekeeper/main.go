package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/api"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/authz"
	"github.com/shiftworks/gatekeeper/pkg/config"
	"github.com/shiftworks/gatekeeper/pkg/fiduciary"
	"github.com/shiftworks/gatekeeper/pkg/observability"
	"github.com/shiftworks/gatekeeper/pkg/payroll"
	"github.com/shiftworks/gatekeeper/pkg/principal"
	"github.com/shiftworks/gatekeeper/pkg/ratelimit"
	"github.com/shiftworks/gatekeeper/pkg/tenancy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
	}).Info("Starting gatekeeper")

	roles, err := config.LoadRoleConfig(cfg.RolesFile)
	if err != nil {
		return fmt.Errorf("failed to load role table: %w", err)
	}
	limits, err := config.LoadRateLimitConfig(cfg.RateLimitsFile)
	if err != nil {
		return fmt.Errorf("failed to load rate limit table: %w", err)
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx := context.Background()

	db, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}

	redisClient, err := openRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Audit trail. Postgres is the system of record and the query side; the
	// file sink is a secondary copy or the sole sink in dev deployments.
	var sinks []audit.Sink
	var auditStore audit.Store
	if db != nil {
		pgSink, err := audit.NewPostgresSink(db)
		if err != nil {
			return err
		}
		sinks = append(sinks, pgSink)
		auditStore = pgSink
	}
	if cfg.Observability.AuditFilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Observability.AuditFilePath)
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}
	if auditStore == nil {
		memSink := audit.NewMemorySink()
		sinks = append(sinks, memSink)
		auditStore = memSink
		logger.Warn("No postgres configured, audit queries served from process memory")
	}
	recorder := audit.NewRecorder(audit.NewMultiSink(sinks...), logger, metrics)

	// Stores. Without postgres everything runs in memory, which is only
	// useful for local development.
	var (
		principalStore principal.Store
		tenancyStore   tenancy.Store
		payrollStore   payroll.Store
		fiduciaryStore fiduciary.Store
	)
	if db != nil {
		if principalStore, err = principal.NewPostgresStore(db); err != nil {
			return err
		}
		if tenancyStore, err = tenancy.NewPostgresStore(db); err != nil {
			return err
		}
		if payrollStore, err = payroll.NewPostgresStore(db); err != nil {
			return err
		}
		if fiduciaryStore, err = fiduciary.NewPostgresStore(db); err != nil {
			return err
		}
	} else {
		principalStore = principal.NewMemoryStore()
		tenancyStore = tenancy.NewMemoryStore()
		payrollStore = payroll.NewMemoryStore()
		fiduciaryStore = fiduciary.NewMemoryStore()
	}

	var uploader fiduciary.Uploader
	if cfg.Storage.S3Bucket != "" {
		if uploader, err = fiduciary.NewS3Uploader(ctx, cfg.Storage); err != nil {
			return fmt.Errorf("failed to initialize S3 uploader: %w", err)
		}
	} else {
		dir := filepath.Join(os.TempDir(), "gatekeeper-exports")
		uploader = &fileUploader{dir: dir}
		logger.Warnf("No S3 bucket configured, export artifacts go to %s", dir)
	}

	resolver := authz.NewResolver(roles, principalStore, recorder, logger, metrics)

	var windowStore ratelimit.Store
	if redisClient != nil {
		windowStore = ratelimit.NewRedisStore(redisClient)
	} else {
		windowStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(limits, windowStore, logger, metrics)

	tenancySvc := tenancy.NewService(tenancyStore, logger)
	payrollSvc := payroll.NewService(payrollStore, logger)
	fiduciarySvc := fiduciary.NewService(fiduciaryStore, payrollStore, uploader, logger)

	actions := buildRegistry(tenancySvc, payrollSvc, fiduciarySvc)
	dispatcher := action.NewDispatcher(actions, resolver, limiter, recorder, logger, metrics)

	verifier := api.NewStaticTokenVerifier(cfg.StaticTokens)
	server := api.NewServer(dispatcher, limiter, resolver, auditStore, verifier, logger, metrics)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	scheduler, err := startScheduler(cfg, windowStore, auditStore, logger)
	if err != nil {
		return err
	}

	if metrics != nil && db != nil {
		go pollDBStats(db, metrics)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	if db != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}

	var group errgroup.Group
	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*sql.DB, error) {
	if cfg.Storage.PostgresURL == "" {
		logger.Warn("No postgres configured, running with in-memory stores")
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Storage.PostgresMaxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*redis.Client, error) {
	if cfg.Storage.RedisURL == "" {
		logger.Warn("No redis configured, rate limit windows held in memory")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Storage.RedisPassword != "" {
		opts.Password = cfg.Storage.RedisPassword
	}
	if cfg.Storage.RedisDB >= 0 {
		opts.DB = cfg.Storage.RedisDB
	}
	opts.MaxRetries = cfg.Storage.RedisMaxRetries
	opts.PoolSize = cfg.Storage.RedisPoolSize

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		// The limiter fails open, so an unreachable redis degrades the
		// service instead of blocking startup.
		logger.WithError(err).Warn("Redis unreachable at startup")
	}
	return client, nil
}

// buildRegistry is the static action table: every privileged action, its
// required permissions, and its risk classification.
func buildRegistry(tenancySvc *tenancy.Service, payrollSvc *payroll.Service, fiduciarySvc *fiduciary.Service) *action.Registry {
	r := action.NewRegistry()

	r.MustRegister(action.Descriptor{
		ID:                  action.AdminProvisionTenant,
		RequiredPermissions: []string{"admin.provision"},
		RiskLevel:           action.RiskCritical,
		Handler:             tenancySvc.ProvisionTenant,
	})
	r.MustRegister(action.Descriptor{
		ID:                  action.AdminManageBilling,
		RequiredPermissions: []string{"admin.billing"},
		RiskLevel:           action.RiskHigh,
		Handler:             tenancySvc.ManageBilling,
	})
	r.MustRegister(action.Descriptor{
		ID:                  action.AdminBroadcastAlert,
		RequiredPermissions: []string{"admin.broadcast"},
		RiskLevel:           action.RiskMedium,
		Handler:             tenancySvc.BroadcastSystemAlert,
	})

	r.MustRegister(action.Descriptor{
		ID:                  action.PayrollCalculateVars,
		RequiredPermissions: []string{"payroll.calculate"},
		RiskLevel:           action.RiskMedium,
		Handler:             payrollSvc.CalculatePeriodVariables,
	})
	r.MustRegister(action.Descriptor{
		ID:                  action.PayrollLockPeriod,
		RequiredPermissions: []string{"payroll.lock"},
		RiskLevel:           action.RiskHigh,
		Handler:             payrollSvc.LockPeriod,
	})
	r.MustRegister(action.Descriptor{
		ID:                  action.PayrollExportData,
		RequiredPermissions: []string{"payroll.export"},
		RiskLevel:           action.RiskHigh,
		Handler:             payrollSvc.ExportData,
	})

	r.MustRegister(action.Descriptor{
		ID:                  action.FiduciaryBulkExport,
		RequiredPermissions: []string{"fiduciary.access"},
		RiskLevel:           action.RiskHigh,
		Handler:             fiduciarySvc.BulkExport,
	})
	r.MustRegister(action.Descriptor{
		ID:                  action.FiduciaryFlagDiscrepancy,
		RequiredPermissions: []string{"fiduciary.access"},
		RiskLevel:           action.RiskMedium,
		Handler:             fiduciarySvc.FlagDiscrepancy,
	})
	r.MustRegister(action.Descriptor{
		ID:                  action.FiduciaryClientDashboard,
		RequiredPermissions: []string{"fiduciary.access"},
		RiskLevel:           action.RiskLow,
		Handler:             fiduciarySvc.ClientDashboard,
	})

	return r
}

// startScheduler runs the two maintenance jobs: sweeping leaked rate-limit
// windows and purging audit events past retention.
func startScheduler(cfg *config.Config, windows ratelimit.Store, auditStore audit.Store, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc("@every 15m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := windows.Sweep(ctx)
		if err != nil {
			logger.WithError(err).Warn("Rate limit window sweep failed")
			return
		}
		if removed > 0 {
			logger.Infof("Swept %d stale rate limit windows", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule window sweep: %w", err)
	}

	_, err = c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -cfg.AuditRetentionDays)
		purged, err := auditStore.Purge(ctx, cutoff)
		if err != nil {
			logger.WithError(err).Error("Audit retention purge failed")
			return
		}
		logger.Infof("Purged %d audit events older than %s", purged, cutoff.Format(time.RFC3339))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule audit purge: %w", err)
	}

	c.Start()
	return c, nil
}

// pollDBStats feeds connection pool gauges.
func pollDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Stats()
		metrics.DBConnectionsActive.Set(float64(stats.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}

// fileUploader writes export artifacts to local disk when no object store is
// configured.
type fileUploader struct {
	dir string
}

func (u *fileUploader) Upload(_ context.Context, key string, data []byte, _ string) error {
	path := filepath.Join(u.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
