package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/database"
	"github.com/example/paygate/internal/handlers"
	"github.com/example/paygate/internal/logger"
	"github.com/example/paygate/internal/routes"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "paygate",
		Short:   "Mobile-money payment gateway for M-Pesa and eMola",
		Version: Version,
		RunE:    runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			db, err := database.Connect(cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, logger.New(cfg.LogLevel), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("provider credentials",
		zap.String("mpesa_api_key", logger.MaskSecret(cfg.Mpesa.APIKey)),
		zap.String("mpesa_public_key", logger.MaskSecret(cfg.Mpesa.PublicKey)),
		zap.String("mpesa_service_provider_code", logger.MaskSecret(cfg.Mpesa.ServiceProviderCode)),
		zap.String("emola_username", logger.MaskSecret(cfg.Emola.Username)),
		zap.String("emola_password", logger.MaskSecret(cfg.Emola.Password)),
		zap.String("emola_key", logger.MaskSecret(cfg.Emola.Key)),
	)
	if cfg.Mpesa.InsecureSkipVerify {
		log.Warn("TLS certificate verification disabled for M-Pesa")
	}
	if cfg.Emola.InsecureSkipVerify {
		log.Warn("TLS certificate verification disabled for eMola")
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "Paygate",
		ErrorHandler: handlers.ErrorHandler(log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	if err := routes.Register(app, db, cfg, log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("mpesa_env", cfg.Mpesa.Env))
		errCh <- app.Listen(":" + cfg.AppPort)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}
