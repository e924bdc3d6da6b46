package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript apaga a chave somente se o token ainda for o nosso.
// Evita que um lease expirado derrube o lock readquirido por outro dono.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implementa Locker sobre SET NX PX: aquisição e verificação são a
// mesma operação atômica no servidor, válida entre instâncias do serviço.
type Redis struct {
	Client *redis.Client
	Prefix string // ex: "lock:"
}

func NewRedis(c *redis.Client) *Redis { return &Redis{Client: c, Prefix: "lock:"} }

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, r.Prefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Lease{Key: key, Token: token}, nil
}

func (r *Redis) Release(ctx context.Context, lease *Lease) error {
	n, err := releaseScript.Run(ctx, r.Client, []string{r.Prefix + lease.Key}, lease.Token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
