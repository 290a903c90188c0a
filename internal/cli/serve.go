package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/api"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/middleware"
)

// sweepTimeout bounds a single scheduled compliance sweep.
const sweepTimeout = 10 * time.Minute

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the scheduled compliance sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, os.Stdout)
		logger.Info().
			Str("port", cfg.Port).
			Str("store", cfg.Store).
			Str("schedule", cfg.CheckSchedule).
			Int("offline_warning_days", cfg.OfflineWarningDays).
			Int("sla_window_days", cfg.SLAWindowDays).
			Msg("Starting Custodian")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		app, err := newApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		scheduler, err := app.startScheduler(ctx)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      app.newRouter(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("Custodian is ready")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down Custodian")
		case err := <-serverErr:
			logger.Error().Err(err).Msg("HTTP server failed")
		}

		cancel()
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("Scheduler shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server forced to shutdown")
		}

		logger.Info().Msg("Custodian stopped")
		return nil
	},
}

func init() {
	serveCommand.Flags().String("port", "8084", "HTTP port the API server listens on")
	serveCommand.Flags().String("check-schedule", "0 * * * *", "Cron schedule of the compliance sweep")
	_ = settings.BindPFlag("port", serveCommand.Flags().Lookup("port"))
	_ = settings.BindPFlag("check_schedule", serveCommand.Flags().Lookup("check-schedule"))
	rootCommand.AddCommand(serveCommand)
}

// newRouter builds the HTTP handler with the API routes and middleware.
func (app *application) newRouter() *gin.Engine {
	if app.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RecoveryMiddleware(app.logger))
	r.Use(middleware.LoggingMiddleware(app.logger))
	if len(app.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(corsConfig(app.cfg.AllowedOrigins)))
	}

	var mw []gin.HandlerFunc
	if app.cfg.APIKey != "" {
		mw = append(mw, api.APIKeyAuth(app.cfg.APIKey))
	} else {
		app.logger.Warn().Msg("CUSTODIAN_API_KEY not set; API authentication is disabled")
	}
	if app.cache != nil && app.cfg.RateLimitRequests > 0 {
		mw = append(mw, middleware.RateLimitMiddleware(app.cache, app.cfg.RateLimitRequests, app.cfg.RateLimitWindow, app.logger))
	}

	handler := api.NewHandler(app.engine, app.store, app.registry, app.health)
	handler.RegisterRoutes(r, mw...)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"X-Cache"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// startScheduler runs the compliance sweep on the configured cron schedule.
// Overlapping runs are skipped rather than queued.
func (app *application) startScheduler(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	log := app.logger.With().Str("component", "scheduler").Logger()

	var sweepJob gocron.Job
	sweepJob, err = s.NewJob(
		gocron.CronJob(app.cfg.CheckSchedule, false),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			defer cancel()
			if _, err := app.engine.Sweep(runCtx); err != nil {
				log.Error().Err(err).Msg("Compliance sweep failed")
			}
			if sweepJob != nil {
				if next, err := sweepJob.NextRun(); err == nil {
					log.Debug().Time("next_run", next).Msg("Compliance sweep completed")
				}
			}
		}),
		gocron.WithName("compliance-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, errors.Wrapf(err, "scheduling compliance sweep %q", app.cfg.CheckSchedule)
	}

	s.Start()
	if next, err := sweepJob.NextRun(); err == nil {
		log.Info().
			Str("job_id", sweepJob.ID().String()).
			Str("schedule", app.cfg.CheckSchedule).
			Time("next_run", next).
			Msg("Compliance sweep scheduled")
	}
	return s, nil
}
