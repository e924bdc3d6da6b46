package ledger

import (
	"context"
	"sync"
)

// Memory implementa o Ledger em memória com a mesma semântica do backend
// Postgres (atomicidade, conservação, idempotência por ref).
// Usado nos testes e em execução local.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]int64),
		applied:  make(map[string]struct{}),
	}
}

func (m *Memory) Transfer(_ context.Context, ref string, entries []Entry) (bool, error) {
	norm, err := normalize(entries)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applied[ref]; ok {
		return false, nil
	}

	// valida tudo antes de aplicar qualquer linha
	for _, e := range norm {
		if m.balances[e.UserID]+e.AmountVP < 0 {
			return false, ErrInsufficientFunds
		}
	}
	for _, e := range norm {
		m.balances[e.UserID] += e.AmountVP
	}
	m.applied[ref] = struct{}{}
	return true, nil
}

func (m *Memory) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) Applied(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.applied[ref]
	return ok, nil
}

// SetBalance define saldo inicial de uma conta (helper de teste/local).
func (m *Memory) SetBalance(userID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = amount
}
