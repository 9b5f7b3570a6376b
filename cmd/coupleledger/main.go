package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"coupleledger/internal/ai"
	"coupleledger/internal/config"
	"coupleledger/internal/core"
	"coupleledger/internal/device"
	apphttp "coupleledger/internal/http"
	"coupleledger/internal/ledger"
	"coupleledger/internal/log"
	"coupleledger/internal/migration"
	"coupleledger/internal/report"
	"coupleledger/internal/store"
)

// reportSummarizer adapts the Gemini client to the report controller,
// rendering payers with the device's configured aliases.
type reportSummarizer struct {
	client *ai.Client
	svc    *ledger.Service
}

func (s reportSummarizer) Summarize(ctx context.Context, m core.Month, txs []core.Transaction) ([]byte, error) {
	if s.client == nil {
		return nil, ai.ErrNoAPIKey
	}
	label, err := s.svc.PayerLabeler(ctx)
	if err != nil {
		return nil, err
	}
	rep, err := s.client.MonthlyReport(ctx, m, txs, label)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rep)
}

func main() {
	cfg := config.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", log.FieldError, err)
		os.Exit(1)
	}

	deviceStore, err := device.Open(cfg.DeviceDBPath)
	if err != nil {
		logger.Error("Failed to open device database", log.FieldError, err, "path", cfg.DeviceDBPath)
		os.Exit(1)
	}
	defer deviceStore.Close()

	var txStore store.Store
	if cfg.StoreConfigured() {
		hosted, err := store.Open(cfg.SupabaseDBURL)
		if err != nil {
			logger.Error("Failed to connect to hosted store", log.FieldError, err)
			os.Exit(1)
		}
		txStore = hosted
		logger.Info("Connected to hosted store", log.FieldComponent, log.ComponentStore)
	} else {
		txStore = store.NewDisconnected()
		logger.Warn("Hosted store not configured, running degraded",
			log.FieldComponent, log.ComponentStore)
	}

	svc := ledger.New(txStore, deviceStore,
		logger.WithComponent(log.ComponentLedger), cfg.ListLimit)

	var gemini *ai.Client
	var scanner apphttp.ReceiptScanner
	if cfg.GeminiAPIKey != "" {
		gemini = ai.New(cfg.GeminiAPIKey, cfg.GeminiModel)
		scanner = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, receipt scanning and reports disabled",
			log.FieldComponent, log.ComponentAI)
	}

	reports := report.NewController(
		deviceStore,
		txStore,
		reportSummarizer{client: gemini, svc: svc},
		logger.WithComponent(log.ComponentReport),
		report.Options{
			AllowCurrentMonth: cfg.ReportAllowCurrentMonth,
			ListLimit:         cfg.ListLimit,
		},
	)

	srv := apphttp.NewServer(apphttp.Options{
		Addr: ":" + cfg.Port,
		Env: apphttp.Env{
			SupabaseURL:     cfg.SupabaseURL,
			SupabaseAnonKey: cfg.SupabaseAnonKey,
		},
		StoreReady: txStore.Available(),
	}, svc, reports, scanner, deviceStore)

	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	// The legacy migration runs alongside the server; it no-ops when the
	// hosted store is not configured or the legacy table is empty.
	g.Go(func() error {
		runner := migration.NewRunner(deviceStore, txStore,
			logger.WithComponent(log.ComponentMigration))
		n, err := runner.Run(gctx)
		if err != nil {
			// The server keeps serving; the rows stay local and the next
			// start retries.
			logger.Error("Legacy migration failed", log.FieldError, err)
			return nil
		}
		if n > 0 {
			logger.Info("Legacy migration finished", log.FieldCount, n)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting server",
			log.FieldOperation, log.OpStartup,
			"port", cfg.Port,
			"store_ready", txStore.Available())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
}
