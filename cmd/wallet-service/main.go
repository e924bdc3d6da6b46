package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/shared/auth"
	"github.com/radieske/quickplay-platform-poc/internal/shared/config"
	"github.com/radieske/quickplay-platform-poc/internal/shared/db"
	"github.com/radieske/quickplay-platform-poc/internal/shared/logger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
	whttp "github.com/radieske/quickplay-platform-poc/internal/wallet-service/http"
	wrepo "github.com/radieske/quickplay-platform-poc/internal/wallet-service/repo"
)

func main() {
	cfg := config.Load()

	log, err := logger.New("wallet-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "wallet-service"), zap.String("env", cfg.Env))

	// Postgres: mesma base que o ledger compartilhado usa
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	repo := wrepo.NewPostgres(pg)
	authr := auth.NewResolver(cfg.JWTSecret)
	api := whttp.NewServer(log, authr, repo)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	apiSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.Router(),
	}

	log.Info("api listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
