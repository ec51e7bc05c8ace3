package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/htncare/outreach/internal/config"
	"github.com/htncare/outreach/internal/domain/patient"
	"github.com/htncare/outreach/internal/domain/reading"
	"github.com/htncare/outreach/internal/domain/triage"
	"github.com/htncare/outreach/internal/platform/audit"
	"github.com/htncare/outreach/internal/platform/auth"
	"github.com/htncare/outreach/internal/platform/db"
	"github.com/htncare/outreach/internal/platform/middleware"
	"github.com/htncare/outreach/internal/platform/notification"
	"github.com/htncare/outreach/internal/platform/phi"
)

// PatientSourceAdapter adapts the patient service to triage.PatientSource,
// avoiding a direct dependency between the triage and patient packages.
type PatientSourceAdapter struct {
	svc *patient.Service
}

func (a *PatientSourceAdapter) ActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	return a.svc.ActiveIDs(ctx)
}

func (a *PatientSourceAdapter) Summaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]triage.PatientSummary, error) {
	patients, err := a.svc.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]triage.PatientSummary, len(patients))
	for _, p := range patients {
		out[p.ID] = triage.PatientSummary{
			ID:        p.ID,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Email:     p.Email,
			Phone:     p.Phone,
		}
	}
	return out, nil
}

// ReadingSourceAdapter adapts the reading service to triage.ReadingSource.
type ReadingSourceAdapter struct {
	svc *reading.Service
}

func toVitals(rs []*reading.Reading) []triage.VitalReading {
	out := make([]triage.VitalReading, len(rs))
	for i, r := range rs {
		out[i] = triage.VitalReading{
			Systolic:    r.Systolic,
			Diastolic:   r.Diastolic,
			HeartRate:   r.HeartRate,
			ReadingDate: r.ReadingDate,
		}
	}
	return out
}

func (a *ReadingSourceAdapter) ReadingsSince(ctx context.Context, since time.Time) (map[uuid.UUID][]triage.VitalReading, error) {
	grouped, err := a.svc.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]triage.VitalReading, len(grouped))
	for pid, rs := range grouped {
		out[pid] = toVitals(rs)
	}
	return out, nil
}

func (a *ReadingSourceAdapter) LatestReadingTimes(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	return a.svc.LatestTimes(ctx)
}

func (a *ReadingSourceAdapter) ReadingsForPatients(ctx context.Context, ids []uuid.UUID, since time.Time) (map[uuid.UUID][]triage.VitalReading, error) {
	grouped, err := a.svc.ListForPatientsSince(ctx, ids, since)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]triage.VitalReading, len(grouped))
	for pid, rs := range grouped {
		out[pid] = toVitals(rs)
	}
	return out, nil
}

func (a *ReadingSourceAdapter) LatestReadings(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]triage.VitalReading, error) {
	latest, err := a.svc.LatestPerPatient(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]triage.VitalReading, len(latest))
	for pid, r := range latest {
		out[pid] = triage.VitalReading{
			Systolic:    r.Systolic,
			Diastolic:   r.Diastolic,
			HeartRate:   r.HeartRate,
			ReadingDate: r.ReadingDate,
		}
	}
	return out, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "outreach-server",
		Short: "Hypertension outreach triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(triageCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the outreach API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func triageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Triage operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one triage pass over all active patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			cipher, err := buildCipher(cfg, logger)
			if err != nil {
				return err
			}

			patientSvc := patient.NewService(patient.NewRepoPG(pool, cipher), logger)
			readingSvc := reading.NewService(reading.NewRepoPG(pool), patientSvc, logger)

			evaluator := triage.NewEvaluator(
				triage.NewItemRepoPG(pool),
				&PatientSourceAdapter{svc: patientSvc},
				&ReadingSourceAdapter{svc: readingSvc},
				triage.NewTxRunnerPG(pool),
				nil,
				logger,
			)

			res, err := evaluator.RunPass(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Evaluated %d patients: %d created, %d updated, %d in cooldown, %d skipped.\n",
				res.PatientsEvaluated, res.ItemsCreated, res.ItemsUpdated, res.SkippedCooldown, res.SkippedErrors)
			return nil
		},
	})

	return cmd
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// buildCipher selects the PHI cipher from config. Production requires a key;
// config validation enforces that before this runs.
func buildCipher(cfg *config.Config, logger zerolog.Logger) (phi.Cipher, error) {
	key, err := cfg.PHIKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		logger.Warn().Msg("PHI_ENCRYPTION_KEY not set; PHI field-level encryption is disabled")
		return phi.Noop{}, nil
	}
	enc, err := phi.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("PHI field-level encryption enabled")
	return enc, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	cipher, err := buildCipher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PHI encryption")
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	triageMetrics := triage.NewMetrics(registry)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		logger.Warn().Msg("JWT_SIGNING_KEY not set; running with permissive dev authentication")
		e.Use(auth.DevMiddleware())
	} else {
		e.Use(auth.Middleware(auth.Config{
			SigningKey: []byte(cfg.JWTSigningKey),
			Issuer:     cfg.JWTIssuer,
		}))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Email sender
	var sender notification.EmailSender
	if cfg.SMTPHost != "" {
		smtp, err := notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure SMTP sender")
		}
		sender = smtp
	} else {
		logger.Warn().Msg("SMTP_HOST not set; outbound email is disabled")
		sender = notification.NopSender{}
	}

	auditLog := audit.NewLogger(pool, logger)

	// -- Register domain handlers --

	apiV1 := e.Group("/api/v1")

	patientSvc := patient.NewService(patient.NewRepoPG(pool, cipher), logger)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	readingSvc := reading.NewService(reading.NewRepoPG(pool), patientSvc, logger)
	reading.NewHandler(readingSvc).RegisterRoutes(apiV1)

	itemRepo := triage.NewItemRepoPG(pool)
	attemptRepo := triage.NewAttemptRepoPG(pool, cipher)
	txRunner := triage.NewTxRunnerPG(pool)
	patientSource := &PatientSourceAdapter{svc: patientSvc}
	readingSource := &ReadingSourceAdapter{svc: readingSvc}

	triageSvc := triage.NewService(itemRepo, attemptRepo, patientSource, readingSource,
		txRunner, sender, triageMetrics, logger)
	evaluator := triage.NewEvaluator(itemRepo, patientSource, readingSource,
		txRunner, triageMetrics, logger)
	triage.NewHandler(triageSvc, evaluator, auditLog).RegisterRoutes(apiV1)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
