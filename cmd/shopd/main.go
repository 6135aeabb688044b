package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/OKaluzny/token-shop/internal/api"
	"github.com/OKaluzny/token-shop/internal/app"
	"github.com/OKaluzny/token-shop/internal/config"
	"github.com/OKaluzny/token-shop/internal/listener"
	"github.com/OKaluzny/token-shop/internal/notify"
	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/internal/token"
	"github.com/OKaluzny/token-shop/pkg/models"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}

	// Payment watcher on the shop address.
	manager := listener.NewManager(listener.ConfirmedOnly(paymentHandler(svc.Tokens, svc.Notifier, svc.Shop, cfg.ReceiptTo)))
	if svc.Shop != "" {
		watcher := listener.NewPollingListener(cfg.Network, cfg.PollInterval, storage.NewMemoryWatchStore(),
			listener.NewChainFetcher(svc.Node, svc.Tokens), listener.PollingConfig{ConfirmationDepth: cfg.ConfirmationDepth})
		manager.RegisterListener(cfg.Network, watcher)
		if err := manager.WatchAddress(cfg.Network, svc.Shop); err != nil {
			slog.Error("watch shop address failed", "error", err)
			os.Exit(1)
		}
		if err := manager.StartAll(ctx); err != nil {
			slog.Error("start listener failed", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no shop wallet, payment watcher disabled")
	}

	// A purchase holds its request open through two confirmation waits.
	requestTimeout := 2*cfg.ConfirmationTimeout + time.Minute
	server := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          api.ErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          requestTimeout,
	})
	if len(cfg.CORSOrigins) > 0 {
		server.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: strings.Join([]string{fiber.HeaderContentType, fiber.HeaderAuthorization, api.IdempotencyHeader}, ","),
			AllowMethods: strings.Join([]string{fiber.MethodGet, fiber.MethodPost}, ","),
		}))
	}
	api.NewHandler(svc.Workflow, svc.Ledger, svc.Store, svc.Tokens, svc.Item, svc.Shop).
		Register(server, api.Protected(cfg.ServerAPIKey))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "network", cfg.Network, "port", cfg.Port)
		if err := server.Listen(":" + cfg.Port); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	<-stop
	slog.Info("shutting down")

	if err := server.ShutdownWithTimeout(requestTimeout); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	cancel()
	manager.StopAll()
	svc.Close()

	slog.Info("server exited")
}

// paymentHandler logs confirmed payments to the shop and mails a receipt
// when an inbox is configured. Transfers out of the shop are skipped.
func paymentHandler(tokens *token.Registry, sender notify.Sender, shop, receiptTo string) listener.EventHandler {
	logger := slog.Default().With("component", "payments")
	return func(ctx context.Context, ev models.BlockEvent) error {
		if !strings.EqualFold(ev.To, shop) {
			logger.Debug("skipping outgoing transfer", "tx", ev.TxHash, "to", ev.To)
			return nil
		}
		amount := ev.Amount.String()
		if tok, err := symbolFor(tokens, ev.Contract); err == nil {
			amount = tok.Format(ev.Amount) + " " + strings.ToUpper(tok.Symbol)
		}
		logger.Info("payment confirmed",
			"tx", ev.TxHash,
			"block", ev.BlockNumber,
			"from", ev.From,
			"amount", amount,
		)
		if receiptTo == "" {
			return nil
		}
		return sender.Send(ctx, notify.PaymentReceived(receiptTo, amount, ev.TxHash))
	}
}

func symbolFor(tokens *token.Registry, contract string) (token.Token, error) {
	if contract == "" {
		return tokens.Lookup(token.NativeSymbol)
	}
	return tokens.ByContract(contract)
}
