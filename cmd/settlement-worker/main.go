package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	kpub "github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/producer"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/settlement"
	"github.com/radieske/quickplay-platform-poc/internal/shared/config"
	"github.com/radieske/quickplay-platform-poc/internal/shared/db"
	"github.com/radieske/quickplay-platform-poc/internal/shared/kafka"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/logger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
	ev "github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

// O settlement-worker é a rede de segurança do pagamento: a liquidação
// inline do matchmaking-service pode falhar ou o processo pode morrer
// entre o FINISH e o Transfer. Reprocessar aqui é seguro porque o
// ledger é idempotente por ref.
func main() {
	cfg := config.Load()
	log, err := logger.New("settlement-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	// Consome match_finished; replays do mesmo match são no-op
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicMatchFinished, "settlement")
	defer reader.Close()

	settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchSettled)
	defer settledWriter.Close()

	dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchFinishedDLQ)
	defer dlqWriter.Close()

	repository := repo.NewPostgres(pg)
	led := ledger.NewPostgres(pg)
	publ := kpub.NewSettledPublisher(settledWriter)
	settler := settlement.NewEngine(log, repository, led, publ, cfg.FeeBps)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	log.Info("settlement-worker started", zap.String("consume", cfg.TopicMatchFinished))

	ctx := context.Background()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var finished ev.MatchFinished
		if jerr := json.Unmarshal(msg.Value, &finished); jerr != nil {
			log.Error("unmarshal match_finished", zap.Error(jerr))
			continue
		}

		if err := settleWithRetry(ctx, settler, finished.MatchID); err != nil {
			log.Error("settle failed, sending to DLQ",
				zap.String("matchId", finished.MatchID), zap.Error(err))
			_ = kafka.WriteJSON(ctx, dlqWriter, finished.MatchID, msg.Value)
		}
	}
}

// settleWithRetry tenta liquidar com backoff simples antes de desistir.
func settleWithRetry(ctx context.Context, settler *settlement.Engine, matchID string) error {
	const retries = 3
	var err error
	for i := 0; i <= retries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(300*i) * time.Millisecond)
		}
		if err = settler.Settle(ctx, matchID); err == nil {
			return nil
		}
	}
	return err
}
