package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/mlecomte/qrtrack/cmd"
	"github.com/mlecomte/qrtrack/internal/api"
	"github.com/mlecomte/qrtrack/internal/cache"
	"github.com/mlecomte/qrtrack/internal/config"
	"github.com/mlecomte/qrtrack/internal/models"
	"github.com/mlecomte/qrtrack/internal/qrimage"
	"github.com/mlecomte/qrtrack/internal/repository"
	"github.com/mlecomte/qrtrack/internal/schema"
	"github.com/mlecomte/qrtrack/internal/services"
	"github.com/mlecomte/qrtrack/internal/verify"
	"github.com/mlecomte/qrtrack/internal/workers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunServerCmd starts the HTTP server plus the scan workers and the
// optional destination monitor.
var RunServerCmd = &cobra.Command{
	Use:   "run-server",
	Short: "Start the tracking-link server and background workers.",
	Long: `Initializes the database (running the schema guardian), wires the cache,
QR generator, scan workers and destination monitor, then serves HTTP.`,
	Run: func(cobraCmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}

		logger := buildLogger(cfg)
		defer logger.Sync()
		zap.ReplaceGlobals(logger)

		db, err := gorm.Open(sqlite.Open(cfg.Database.Name), &gorm.Config{})
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}

		// Self-healing schema check: create missing tables, backfill
		// missing columns, keep serving on partial failure.
		if err := schema.NewGuardian(db).Ensure(); err != nil {
			logger.Fatal("schema guardian failed", zap.Error(err))
		}

		linkRepo := repository.NewLinkRepository(db)
		scanRepo := repository.NewScanRepository(db)

		linkCache := cache.New(cfg.Cache.RedisAddr,
			time.Duration(cfg.Cache.LinkTTLSeconds)*time.Second,
			time.Duration(cfg.Cache.ListTTLSeconds)*time.Second)
		if linkCache.Enabled() {
			logger.Info("cache layer enabled", zap.String("redis_addr", cfg.Cache.RedisAddr))
		} else {
			logger.Info("cache layer disabled, all lookups hit the store")
		}

		generator := qrimage.NewGenerator(cfg.QR.StorageDir, cfg.QR.SizePx, cfg.QR.RemoteFallbackURL)

		verifier := verify.NewVerifier(linkRepo,
			time.Duration(cfg.Verify.IntervalMinutes)*time.Minute)

		linkService := services.NewLinkService(linkRepo, scanRepo, linkCache, verifier, generator,
			services.Options{
				BaseURL:            cfg.Server.BaseURL,
				PrettyURLs:         cfg.Server.PrettyURLs,
				VerifyDestinations: cfg.Verify.DestinationsBeforeSave,
			})

		records := make(chan models.ScanRecord, cfg.Analytics.BufferSize)
		api.ScanRecordsChannel = records
		workers.StartScanWorkers(cfg.Analytics.WorkerCount, records, scanRepo)

		ctx, stop := context.WithCancel(context.Background())
		if cfg.Verify.IntervalMinutes > 0 {
			go verifier.Start(ctx)
		}

		if !cfg.DebugLoggingEnabled {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.Default()
		api.SetupRoutes(router, linkService, generator, cfg.Analytics.BufferSize)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: router,
		}

		go func() {
			logger.Info("server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutdown signal received")

		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}

		// Let in-flight scan events drain before the workers lose the
		// channel.
		close(records)
		time.Sleep(time.Second)
		logger.Info("server stopped")
	},
}

func buildLogger(cfg *config.Config) *zap.Logger {
	if cfg.DebugLoggingEnabled {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}

func init() {
	cmd.RootCmd.AddCommand(RunServerCmd)
}
