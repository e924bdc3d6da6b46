package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

// RedisPublisher publica atualizações de match no canal de broadcast.
// O hub websocket de cada instância assina o canal e repassa pros
// clientes inscritos. Assim o push funciona com N instâncias do serviço.
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func NewRedisPublisher(c *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{Client: c, Channel: channel}
}

func (p *RedisPublisher) PublishMatchUpdate(ctx context.Context, u events.MatchUpdate) error {
	u.TsUnixMs = time.Now().UnixMilli()
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.Channel, b).Err()
}
