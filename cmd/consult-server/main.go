package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/consult/internal/config"
	"github.com/ehr/consult/internal/domain/appointment"
	"github.com/ehr/consult/internal/domain/directory"
	"github.com/ehr/consult/internal/domain/identity"
	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/db"
	"github.com/ehr/consult/internal/platform/idp"
	"github.com/ehr/consult/internal/platform/metrics"
	"github.com/ehr/consult/internal/platform/middleware"
	"github.com/ehr/consult/internal/platform/notify"
	"github.com/ehr/consult/internal/platform/webhook"
	"github.com/ehr/consult/migrations"
)

const metricsNamespace = "consult"

func main() {
	rootCmd := &cobra.Command{
		Use:          "consult-server",
		Short:        "Consultation request and identity directory API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, _ *config.Config, _ zerolog.Logger) error {
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, _ *config.Config, _ zerolog.Logger) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Provision local identities for every identity-provider user",
		RunE: func(cmd *cobra.Command, args []string) error {
			pageSize, _ := cmd.Flags().GetInt("page-size")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) error {
				if pageSize <= 0 {
					pageSize = cfg.SyncPageSize
				}
				rec := newReconciler(cfg, pool, nil, logger)
				res, err := rec.SyncFromProvider(ctx, pageSize)
				if err != nil {
					return err
				}
				fmt.Printf("total=%d created=%d skipped=%d failed=%d\n", res.Total, res.Created, res.Skipped, len(res.Failed))
				for _, f := range res.Failed {
					fmt.Printf("  %s: %s\n", f.ProviderID, f.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("page-size", 0, "Users per provider page (defaults to SYNC_PAGE_SIZE)")
	return cmd
}

// withPool loads config, opens the pool and runs fn.
func withPool(ctx context.Context, fn func(context.Context, *pgxpool.Pool, *config.Config, zerolog.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, cfg, logger)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func newReconciler(cfg *config.Config, pool *pgxpool.Pool, m *metrics.Collector, logger zerolog.Logger) *identity.Reconciler {
	var opts []idp.Option
	if m != nil {
		opts = append(opts, idp.WithObserver(m.ObserveIDP))
	}
	client := idp.NewClient(cfg.IDPAPIURL, cfg.IDPSecretKey, opts...)
	return identity.NewReconciler(identity.NewRepoPG(pool), client, cfg.IsAdminEmail, m, logger)
}

func newVerifier(cfg *config.Config, logger zerolog.Logger) (*webhook.Verifier, error) {
	if cfg.WebhookSecret == "" && cfg.IsDev() {
		return webhook.NewInsecureVerifier(logger), nil
	}
	return webhook.NewVerifier(cfg.WebhookSecret, logger)
}

// sessionMiddleware verifies provider session tokens. In development a
// request without a token may name its provider id in X-Dev-User.
func sessionMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	var verify echo.MiddlewareFunc
	if cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
		sc, err := auth.NewSessionConfig(cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL, cfg.CORSOrigins)
		if err != nil {
			return nil, err
		}
		verify = auth.SessionMiddleware(sc)
	} else if !cfg.IsDev() {
		return nil, fmt.Errorf("no session verification configured")
	} else {
		verify = func(echo.HandlerFunc) echo.HandlerFunc {
			return func(echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "session tokens are not accepted without AUTH_ISSUER")
			}
		}
	}
	if cfg.IsDev() {
		return auth.DevSessionMiddleware(verify), nil
	}
	return verify, nil
}

// buildServer wires every component onto a new echo instance.
func buildServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*echo.Echo, error) {
	m := metrics.NewCollector(metricsNamespace)
	if pool != nil {
		m.RegisterPool(metricsNamespace, pool)
	}

	hub := notify.NewHub(logger)
	m.RegisterHub(metricsNamespace, hub.ClientCount, hub.Dropped)

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	session, err := sessionMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	rec := newReconciler(cfg, pool, m, logger)
	dirSvc := directory.NewService(directory.NewRepoPG(pool), logger)
	apptSvc := appointment.NewService(appointment.NewRepoPG(pool), dirSvc, hub, m, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(m.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevUserHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	identityHandler := identity.NewHandler(rec, verifier, cfg.SyncPageSize)
	identityHandler.RegisterWebhook(e.Group("/webhooks"))

	api := e.Group("/api/v1",
		session,
		auth.ActorMiddleware(rec),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			ExpiresIn:         3 * time.Minute,
		}),
		middleware.Audit(logger),
	)
	identityHandler.RegisterRoutes(api)
	directory.NewHandler(dirSvc).RegisterRoutes(api)
	appointment.NewHandler(apptSvc).RegisterRoutes(api)

	notify.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(e, session, auth.ActorMiddleware(rec))

	return e, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, err := buildServer(cfg, pool, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
