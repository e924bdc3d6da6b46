package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/admission"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/engine"
	kpub "github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/producer"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/pubsub"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/settlement"
	"github.com/radieske/quickplay-platform-poc/internal/shared/cache"
	"github.com/radieske/quickplay-platform-poc/internal/shared/config"
	"github.com/radieske/quickplay-platform-poc/internal/shared/db"
	"github.com/radieske/quickplay-platform-poc/internal/shared/kafka"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/lock"
	"github.com/radieske/quickplay-platform-poc/internal/shared/logger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
)

// O match-timeout-worker varre matches ACTIVE cuja rodada estourou a
// janela e aplica a política de walkover: ninguém jogou -> cancela e
// devolve stakes; parte jogou -> os ausentes perdem por WO e a rodada
// resolve entre quem jogou.
//
// O mesmo tick também fecha dois buracos que não têm outro gatilho:
// quóruns deixados na fila por contenção no lock do bucket (SweepQueue)
// e matches terminais cuja liquidação nunca aplicou (SettlePending).
func main() {
	cfg := config.Load()
	log, err := logger.New("match-timeout-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	createdWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchCreated)
	defer createdWriter.Close()
	finishedWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchFinished)
	defer finishedWriter.Close()
	settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchSettled)
	defer settledWriter.Close()

	repository := repo.NewPostgres(pg)
	led := ledger.NewPostgres(pg)
	locker := lock.NewRedis(rdb)
	publ := kpub.NewKafkaPublisher(createdWriter, finishedWriter, settledWriter)
	notif := pubsub.NewRedisPublisher(rdb, cfg.RedisPubSubChannel)

	settler := settlement.NewEngine(log, repository, led, publ, cfg.FeeBps)
	eng := engine.NewService(log, locker, repository, settler, publ, notif,
		cfg.LockTTL, cfg.MaxRounds, cfg.RoundTimeout)
	adm := admission.NewService(log, locker, repository, led, publ, cfg.LockTTL, cfg.MaxStakeVP)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	// Varredura bem mais frequente que a janela: atraso máximo de
	// detecção fica na ordem do tick, não do timeout
	tick := cfg.RoundTimeout / 6
	if tick < 5*time.Second {
		tick = 5 * time.Second
	}

	log.Info("match-timeout-worker started",
		zap.Duration("roundTimeout", cfg.RoundTimeout),
		zap.Duration("tick", tick))

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	ctx := context.Background()
	for range ticker.C {
		if n, err := eng.ExpireStalled(ctx); err != nil {
			log.Warn("expire stalled", zap.Error(err))
		} else if n > 0 {
			log.Info("expired stalled rounds", zap.Int("count", n))
		}

		if n, err := adm.SweepQueue(ctx); err != nil {
			log.Warn("sweep queue", zap.Error(err))
		} else if n > 0 {
			log.Info("paired stranded quorums", zap.Int("count", n))
		}

		if n, err := settler.SettlePending(ctx, 100); err != nil {
			log.Warn("settle pending", zap.Error(err))
		} else if n > 0 {
			log.Info("settled pending matches", zap.Int("count", n))
		}
	}
}
