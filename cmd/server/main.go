package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/analytics"
	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/config"
	"github.com/tijarahlabs/storesync/internal/erp"
	"github.com/tijarahlabs/storesync/internal/httpapi"
	"github.com/tijarahlabs/storesync/internal/indexes"
	"github.com/tijarahlabs/storesync/internal/ingest"
	"github.com/tijarahlabs/storesync/internal/journal"
	"github.com/tijarahlabs/storesync/internal/metrics"
	"github.com/tijarahlabs/storesync/internal/ratelimit"
	"github.com/tijarahlabs/storesync/internal/scheduler"
	"github.com/tijarahlabs/storesync/internal/store"
	"github.com/tijarahlabs/storesync/internal/syncer"
)

func main() {
	cfg := config.Load()

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = log.With().Str("service", "storesync").Logger()

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	st, err := store.Open(ctx, store.Config{
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to store")
	}
	defer st.Close()

	fetcher := erp.NewClient(cfg.ERP)
	transformer := erp.NewTransformer(fetcher)

	c := cache.New(st)
	j := journal.New(st, cfg.Sync.StreamMaxLength, cfg.StreamRetention())
	ix := indexes.New(st, c)

	ing := ingest.New(st, c, j, fetcher, transformer, cfg.StreamRetention())
	ing.UseIndexer(ix)

	an := analytics.New(st, time.Duration(cfg.Analytics.RetentionDays)*24*time.Hour)

	srv := &httpapi.Server{
		Store:         st,
		Cache:         c,
		Journal:       j,
		Fetcher:       fetcher,
		Transformer:   transformer,
		Ingestor:      ing,
		Processor:     syncer.NewProcessor(j, syncer.NewDetector(c)),
		Queries:       cache.NewQueryCache(st, cfg.QueryCacheTTL()),
		Limiter:       ratelimit.New(st, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, int64(cfg.RateLimit.MaxRequests)),
		Analytics:     an,
		WebhookSecret: cfg.WebhookSecret,
	}

	sched, err := scheduler.New(cfg, ing, j, an)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build scheduler")
	}
	sched.Start()
	defer sched.Stop()

	collector := metrics.NewCollector(j)
	collector.Start()
	defer collector.Stop()

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
