package cmd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/config"
	errwrap "github.com/modelgate/modelgate/internal/errors"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/provider/openai"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/server"
	"github.com/modelgate/modelgate/internal/server/handlers"
	"github.com/modelgate/modelgate/internal/usage"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long: `Start the gateway HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (placeholder - restart recommended)

On shutdown the server drains in-flight requests, flushes queued usage
records, and closes the rate-limit and usage stores.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		observability.InitServerLogger(binaryName, cfg.Logging.Level)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(binaryName, cfg.Metrics.Port); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		observability.ServerLogger.Info("Initializing gateway",
			zap.String("service", binaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", cfg.Metrics.Port))

		// Credential verifier
		publicKeyPEM, err := os.ReadFile(cfg.Auth.PublicKeyPath)
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitFileNotFound, "Failed to read auth public key", err)
		}
		verifier, err := auth.NewVerifier(publicKeyPEM, cfg.Auth.Issuer)
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitConfigInvalid, "Invalid auth public key", err)
		}

		// Rate limiter over the configured store
		tiers := ratelimit.DefaultTiers()
		if cfg.RateLimit.TierFile != "" {
			tiers, err = ratelimit.LoadTiers(cfg.RateLimit.TierFile)
			if err != nil {
				ExitWithCode(observability.ServerLogger, foundry.ExitConfigInvalid, "Invalid rate limit tier file", err)
			}
		}

		var limitStore ratelimit.Store
		switch cfg.RateLimit.Store {
		case "memory":
			limitStore = ratelimit.NewMemoryStore()
		default:
			limitStore, err = ratelimit.NewRedisStore(cmd.Context(), ratelimit.RedisConfig{
				Addr:     cfg.RateLimit.RedisAddr,
				Password: cfg.RateLimit.RedisPassword,
				DB:       cfg.RateLimit.RedisDB,
			})
			if err != nil {
				ExitWithCode(observability.ServerLogger, foundry.ExitExternalServiceUnavailable, "Failed to connect to rate limit store", err)
			}
		}

		limiter, err := ratelimit.NewLimiter(limitStore, tiers, ratelimit.WithCost(cfg.RateLimit.Cost))
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitConfigInvalid, "Failed to build rate limiter", err)
		}

		// Usage persistence and recorder
		usageStore, err := usage.Open(cmd.Context(), cfg.Store)
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitExternalServiceUnavailable, "Failed to open usage store", err)
		}
		if err := usageStore.Migrate(cmd.Context()); err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitExternalServiceUnavailable, "Failed to migrate usage store", err)
		}
		recorder := usage.NewRecorder(usageStore, cfg.Usage.BufferSize)

		// Provider client with retry policy
		driver := openai.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
		client, err := provider.NewClient(driver,
			provider.WithMaxRetries(cfg.Provider.MaxRetries),
			provider.WithAttemptTimeout(cfg.Provider.AttemptTimeout),
			provider.WithBackoffBase(cfg.Provider.BackoffBase))
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitConfigInvalid, "Failed to build provider client", err)
		}

		gw, err := gateway.New(client, recorder,
			gateway.WithRequestTimeout(cfg.Server.RequestTimeout))
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitConfigInvalid, "Failed to build gateway", err)
		}

		// Health manager with collaborator checks
		hm := handlers.NewHealthManager(versionInfo.Version)
		hm.RegisterChecker("rate_limit_store", handlers.HealthCheckerFunc(limitStore.Ping))
		hm.RegisterChecker("usage_store", handlers.HealthCheckerFunc(usageStore.Ping))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			Verifier:     verifier,
			Limiter:      limiter,
			Gateway:      gw,
			Health:       hm,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close stores (after recorder drain)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Closing stores...")
			if err := limitStore.Close(); err != nil {
				observability.ServerLogger.Warn("Rate limit store close failed", zap.Error(err))
			}
			if err := usageStore.Close(); err != nil {
				observability.ServerLogger.Warn("Usage store close failed", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Drain the usage recorder
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Draining usage recorder...")
			drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := recorder.Close(drainCtx); err != nil {
				observability.ServerLogger.Warn("Usage recorder drain incomplete", zap.Error(err))
			}
			return nil
		})

		// Handler 4: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					observability.ServerLogger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				observability.ServerLogger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))

			// TODO: propagate tier file changes to the limiter without restart
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
