package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"venue-matching-service/internal/adapter/cache"
	"venue-matching-service/internal/adapter/in_memory"
	"venue-matching-service/internal/adapter/pg"
	httpapi "venue-matching-service/internal/api/http"
	"venue-matching-service/internal/broadcast"
	"venue-matching-service/internal/core"
	"venue-matching-service/internal/port"
	"venue-matching-service/internal/sim"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx := context.Background()

	var ledger port.Ledger
	if dsn := env("VENUE_PG_DSN", ""); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.WithError(err).Fatal("connect to Postgres")
		}
		defer pool.Close()
		pgLedger := pg.NewLedger(pool)
		if err := pgLedger.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("ensure ledger schema")
		}
		ledger = pgLedger
	} else {
		log.Warn("VENUE_PG_DSN not set, using in-memory ledger")
		ledger = in_memory.NewLedger()
	}

	var bookCache port.Cache
	if addr := env("VENUE_REDIS_ADDR", ""); addr != "" {
		bookCache = cache.NewRedisCache(addr, env("VENUE_REDIS_PASSWORD", ""), 0, 5*time.Minute)
	}

	bc := broadcast.New(log)
	engine := core.NewEngine(env("VENUE_NAME", "main"), ledger, bookCache, bc, log)
	defer engine.Close()

	if err := engine.LoadOpenOrders(ctx); err != nil {
		log.WithError(err).Fatal("rebuild book from ledger")
	}

	// log market updates so fan-out is visible without any subscriber attached
	updates, cancelSub := bc.Subscribe()
	defer cancelSub()
	go func() {
		for u := range updates {
			log.WithFields(logrus.Fields{
				"bids":   len(u.Snapshot.Bids),
				"asks":   len(u.Snapshot.Asks),
				"trades": len(u.RecentTrades),
			}).Debug("market update")
		}
	}()

	if env("VENUE_SIM", "") == "1" {
		simCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go sim.New(engine, 200*time.Millisecond, log).Run(simCtx)
	}

	addr := env("VENUE_HTTP_ADDR", ":8080")
	log.WithField("addr", addr).Info("starting HTTP server")
	if err := httpapi.NewHTTPServer(engine).Run(addr); err != nil {
		log.WithError(err).Fatal("HTTP server failed")
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
