package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/admission"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/engine"
	mhttp "github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/http"
	kpub "github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/producer"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/pubsub"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/settlement"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/ws"
	"github.com/radieske/quickplay-platform-poc/internal/shared/auth"
	"github.com/radieske/quickplay-platform-poc/internal/shared/cache"
	"github.com/radieske/quickplay-platform-poc/internal/shared/config"
	"github.com/radieske/quickplay-platform-poc/internal/shared/db"
	"github.com/radieske/quickplay-platform-poc/internal/shared/kafka"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/lock"
	"github.com/radieske/quickplay-platform-poc/internal/shared/logger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("matchmaking-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis (locks distribuídos + pub/sub de updates)
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Kafka writers (um por tópico)
	createdWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchCreated)
	defer createdWriter.Close()
	finishedWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchFinished)
	defer finishedWriter.Close()
	settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchSettled)
	defer settledWriter.Close()

	// deps
	repository := repo.NewPostgres(pg)
	led := ledger.NewPostgres(pg)
	locker := lock.NewRedis(rdb)
	publ := kpub.NewKafkaPublisher(createdWriter, finishedWriter, settledWriter)
	notif := pubsub.NewRedisPublisher(rdb, cfg.RedisPubSubChannel)
	authr := auth.NewResolver(cfg.JWTSecret)

	settler := settlement.NewEngine(log, repository, led, publ, cfg.FeeBps)
	eng := engine.NewService(log, locker, repository, settler, publ, notif,
		cfg.LockTTL, cfg.MaxRounds, cfg.RoundTimeout)
	adm := admission.NewService(log, locker, repository, led, publ, cfg.LockTTL, cfg.MaxStakeVP)

	// ws hub: assinatura só para participantes do match
	hub := ws.NewHub(
		func(*http.Request) bool { return true }, // CORS fica no gateway
		func(ctx context.Context, r *http.Request, matchID string) bool {
			userID, err := authr.UserID(r)
			if err != nil {
				return false
			}
			m, err := repository.GetMatch(ctx, matchID)
			if err != nil {
				return false
			}
			return m.Player(userID) != nil
		},
	)
	ws.StartRedisSubscriber(context.Background(), rdb, cfg.RedisPubSubChannel, hub)

	// metrics/health
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	api := mhttp.NewServer(log, authr, adm, eng, hub)
	apiSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.Router(),
	}

	log.Info("matchmaking-service listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
