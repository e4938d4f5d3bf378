package routes

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/database"
	"github.com/example/paygate/internal/handlers"
	"github.com/example/paygate/internal/middleware"
	"github.com/example/paygate/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	oauthService, err := services.NewOAuthService(db, services.OAuthSettings{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.OAuthTokenTTL,
	}, log)
	if err != nil {
		return err
	}

	ledger := services.NewLedgerService(db, cfg.Location, log)
	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log)

	var (
		providers []services.Provider
		emola     *services.EmolaService
	)
	if cfg.MpesaEnabled() {
		tokens := services.NewMpesaTokenIssuer(cfg.Mpesa.APIKey, cfg.Mpesa.PublicKey)
		providers = append(providers, services.NewMpesaService(cfg.Mpesa, tokens, log))
	} else {
		log.Warn("M-Pesa credentials not configured, provider disabled")
	}
	if cfg.EmolaEnabled() {
		emola = services.NewEmolaService(cfg.Emola, log)
		providers = append(providers, emola)
	} else {
		log.Warn("eMola gateway not configured, provider disabled")
	}

	payments := services.NewPaymentService(ledger, services.PaymentSettings{
		ReferencePrefix: cfg.ReferencePrefix,
		CountryCode:     cfg.CountryCode,
		Location:        cfg.Location,
	}, log, providers...)
	if telegram.Enabled() {
		payments.WithNotifier(telegram)
	}

	oauthHandler := handlers.NewOAuthHandler(oauthService)
	paymentHandler := handlers.NewPaymentHandler(payments, map[string]string{
		services.ProviderMpesa: cfg.Mpesa.WalletID,
		services.ProviderEmola: cfg.Emola.WalletID,
	})
	callbackHandler := handlers.NewCallbackHandler(payments)
	transactionHandler := handlers.NewTransactionHandler(ledger, cfg.Location)

	auth := middleware.OAuthMiddleware(oauthService)

	app.Get("/health", handlers.Health(func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}))

	app.Post("/oauth/token", oauthHandler.Token)
	app.Post("/callback", callbackHandler.Callback)

	// Payments
	app.Post("/c2b", auth, paymentHandler.C2B)
	app.Post("/b2c", auth, paymentHandler.B2C)
	app.Post("/v1/c2b/mpesa-payment/:wallet_id", auth, paymentHandler.LegacyC2B(services.ProviderMpesa))
	app.Post("/v1/c2b/emola-payment/:wallet_id", auth, paymentHandler.LegacyC2B(services.ProviderEmola))

	// Ledger
	transactions := app.Group("/transactions", auth)
	transactions.Get("/", transactionHandler.List)
	transactions.Get("/daily", transactionHandler.Daily)
	transactions.Get("/monthly", transactionHandler.Monthly)
	transactions.Post("/:reference/status", paymentHandler.CheckStatus)

	if emola != nil {
		emolaHandler := handlers.NewEmolaHandler(emola, cfg.CountryCode)
		lookups := app.Group("/emola", auth)
		lookups.Get("/beneficiary", emolaHandler.Beneficiary)
		lookups.Get("/balance", emolaHandler.Balance)
	}

	return nil
}
