package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransferConservation(t *testing.T) {
	l := NewMemory()
	l.SetBalance("u1", 100)
	l.SetBalance("u2", 100)
	ctx := context.Background()

	applied, err := l.Transfer(ctx, "escrow:m1", []Entry{
		{UserID: "u1", AmountVP: -100},
		{UserID: "u2", AmountVP: -100},
		{UserID: EscrowAccount("m1"), AmountVP: 200},
	})
	require.NoError(t, err)
	require.True(t, applied)

	b1, _ := l.Balance(ctx, "u1")
	b2, _ := l.Balance(ctx, "u2")
	esc, _ := l.Balance(ctx, EscrowAccount("m1"))
	require.Equal(t, int64(0), b1)
	require.Equal(t, int64(0), b2)
	require.Equal(t, int64(200), esc)
}

func TestUnbalancedTransferRejected(t *testing.T) {
	l := NewMemory()
	l.SetBalance("u1", 100)

	_, err := l.Transfer(context.Background(), "ref", []Entry{
		{UserID: "u1", AmountVP: -100},
		{UserID: "u2", AmountVP: 99},
	})
	require.ErrorIs(t, err, ErrUnbalancedTransfer)

	// nada aplicado
	b, _ := l.Balance(context.Background(), "u1")
	require.Equal(t, int64(100), b)
}

func TestInsufficientFundsAllOrNothing(t *testing.T) {
	l := NewMemory()
	l.SetBalance("u1", 100)
	l.SetBalance("u2", 50)
	ctx := context.Background()

	_, err := l.Transfer(ctx, "escrow:m1", []Entry{
		{UserID: "u1", AmountVP: -100},
		{UserID: "u2", AmountVP: -100},
		{UserID: EscrowAccount("m1"), AmountVP: 200},
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// u1 não foi debitado mesmo tendo saldo: ou tudo, ou nada
	b1, _ := l.Balance(ctx, "u1")
	require.Equal(t, int64(100), b1)

	// a ref não ficou queimada: a transferência continua aplicável depois
	l.SetBalance("u2", 100)
	applied, err := l.Transfer(ctx, "escrow:m1", []Entry{
		{UserID: "u1", AmountVP: -100},
		{UserID: "u2", AmountVP: -100},
		{UserID: EscrowAccount("m1"), AmountVP: 200},
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func TestTransferIdempotentByRef(t *testing.T) {
	l := NewMemory()
	l.SetBalance("u1", 100)
	ctx := context.Background()

	entries := []Entry{
		{UserID: "u1", AmountVP: -40},
		{UserID: HouseAccount, AmountVP: 40},
	}

	seen, err := l.Applied(ctx, "settle:m1")
	require.NoError(t, err)
	require.False(t, seen)

	applied, err := l.Transfer(ctx, "settle:m1", entries)
	require.NoError(t, err)
	require.True(t, applied)

	seen, err = l.Applied(ctx, "settle:m1")
	require.NoError(t, err)
	require.True(t, seen)

	// replay com a mesma ref é inerte
	applied, err = l.Transfer(ctx, "settle:m1", entries)
	require.NoError(t, err)
	require.False(t, applied)

	b, _ := l.Balance(ctx, "u1")
	require.Equal(t, int64(60), b)
}

func TestConcurrentTransferSameRef(t *testing.T) {
	l := NewMemory()
	l.SetBalance("u1", 1000)
	ctx := context.Background()

	entries := []Entry{
		{UserID: "u1", AmountVP: -10},
		{UserID: HouseAccount, AmountVP: 10},
	}

	const n = 20
	var wg sync.WaitGroup
	appliedCount := 0
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := l.Transfer(ctx, "settle:mX", entries)
			require.NoError(t, err)
			mu.Lock()
			if applied {
				appliedCount++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, appliedCount)
	b, _ := l.Balance(ctx, "u1")
	require.Equal(t, int64(990), b)
}

func TestEntriesAggregatedPerAccount(t *testing.T) {
	l := NewMemory()
	l.SetBalance("u1", 10)

	// duas linhas da mesma conta são agregadas antes da checagem de saldo
	applied, err := l.Transfer(context.Background(), "ref", []Entry{
		{UserID: "u1", AmountVP: -30},
		{UserID: "u1", AmountVP: 25},
		{UserID: HouseAccount, AmountVP: 5},
	})
	require.NoError(t, err)
	require.True(t, applied)

	b, _ := l.Balance(context.Background(), "u1")
	require.Equal(t, int64(5), b)
}
