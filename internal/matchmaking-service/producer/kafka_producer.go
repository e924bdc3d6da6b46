package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

// KafkaPublisher publica os eventos de ciclo de vida do match.
// Writers separados por tópico, chave = matchId (ordem por partição).
type KafkaPublisher struct {
	CreatedWriter  *kafka.Writer
	FinishedWriter *kafka.Writer
	SettledWriter  *kafka.Writer
}

func NewKafkaPublisher(created, finished, settled *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{CreatedWriter: created, FinishedWriter: finished, SettledWriter: settled}
}

func (p *KafkaPublisher) PublishMatchCreated(ctx context.Context, e events.MatchCreated) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return p.CreatedWriter.WriteMessages(ctx, kafka.Message{Key: []byte(e.MatchID), Value: b})
}

func (p *KafkaPublisher) PublishMatchFinished(ctx context.Context, e events.MatchFinished) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return p.FinishedWriter.WriteMessages(ctx, kafka.Message{Key: []byte(e.MatchID), Value: b})
}

func (p *KafkaPublisher) PublishMatchSettled(ctx context.Context, e events.MatchSettled) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return p.SettledWriter.WriteMessages(ctx, kafka.Message{Key: []byte(e.MatchID), Value: b})
}

// SettledPublisher publica apenas match_settled. O settlement-worker não
// emite os outros eventos do ciclo de vida e não precisa carregar os
// writers deles.
type SettledPublisher struct {
	Writer *kafka.Writer
}

func NewSettledPublisher(w *kafka.Writer) *SettledPublisher {
	return &SettledPublisher{Writer: w}
}

func (p *SettledPublisher) PublishMatchSettled(ctx context.Context, e events.MatchSettled) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.MatchID), Value: b})
}
