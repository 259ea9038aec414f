// Command reindex rebuilds the secondary user index sets from the cached
// user records: province and city membership plus the non-registered set.
// It runs once and exits 0 on success, 1 on failure, so it can back a cron
// entry or a manual repair after an incident.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/cache"
	"github.com/tijarahlabs/storesync/internal/config"
	"github.com/tijarahlabs/storesync/internal/indexes"
	"github.com/tijarahlabs/storesync/internal/store"
)

var (
	timeout = flag.Duration("timeout", 5*time.Minute, "Abort the reconciliation after this long")
	quiet   = flag.Bool("quiet", false, "Only log warnings and errors")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "storesync-reindex").Logger()
	if *quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to store")
		os.Exit(1)
	}
	defer st.Close()

	report, err := indexes.New(st, cache.New(st)).Reconcile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("index reconciliation failed")
		os.Exit(1)
	}

	log.Info().
		Int("users", report.Users).
		Int("added", report.Added).
		Int("removed", report.Removed).
		Int("sets", report.Sets).
		Msg("indexes reconciled")
	os.Exit(0)
}
