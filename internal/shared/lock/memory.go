package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	token    string
	expireAt time.Time
}

// Memory implementa Locker em memória de processo, com a mesma semântica
// do backend Redis (check-and-set único, TTL, acquire-or-fail).
// Usado nos testes e em execução local sem Redis.
type Memory struct {
	mu   sync.Mutex
	keys map[string]memEntry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.keys[key]; ok && m.now().Before(e.expireAt) {
		return nil, ErrBusy
	}

	token := uuid.NewString()
	m.keys[key] = memEntry{token: token, expireAt: m.now().Add(ttl)}
	return &Lease{Key: key, Token: token}, nil
}

func (m *Memory) Release(_ context.Context, lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.keys[lease.Key]
	if !ok || e.token != lease.Token || !m.now().Before(e.expireAt) {
		return ErrNotHeld
	}
	delete(m.keys, lease.Key)
	return nil
}
