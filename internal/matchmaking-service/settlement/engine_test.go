package settlement

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

type fakePublisher struct {
	mu      sync.Mutex
	settled []events.MatchSettled
}

func (f *fakePublisher) PublishMatchSettled(_ context.Context, e events.MatchSettled) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, e)
	return nil
}

// seedMatch cria um match com stakes já no escrow, pronto pra transicionar.
func seedMatch(t *testing.T, r *repo.Memory, led *ledger.Memory, id string, players []string, stakeVP int64) *repo.Match {
	t.Helper()
	ctx := context.Background()

	m := &repo.Match{
		ID:           id,
		StakeVP:      stakeVP,
		PotVP:        stakeVP * int64(len(players)),
		PlayersCount: len(players),
		Status:       repo.MatchActive,
		Round:        1,
	}
	ticketIDs := make([]string, 0, len(players))
	for i, u := range players {
		tk := &repo.Ticket{ID: id + "-t-" + u, UserID: u, StakeVP: stakeVP, PlayersCount: len(players)}
		require.NoError(t, r.CreateTicket(ctx, tk))
		ticketIDs = append(ticketIDs, tk.ID)
		m.Players = append(m.Players, repo.MatchPlayer{UserID: u, Seat: i})
	}
	require.NoError(t, r.CreateMatchFromTickets(ctx, ticketIDs, m))
	led.SetBalance(ledger.EscrowAccount(id), m.PotVP)
	return m
}

func totalSupply(t *testing.T, led *ledger.Memory, accounts []string) int64 {
	t.Helper()
	var sum int64
	for _, a := range accounts {
		bal, err := led.Balance(context.Background(), a)
		require.NoError(t, err)
		sum += bal
	}
	return sum
}

func TestSettleFinishedSingleWinner(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	pub := &fakePublisher{}
	eng := NewEngine(zap.NewNop(), r, led, pub, 250)
	ctx := context.Background()

	m := seedMatch(t, r, led, "m1", []string{"w", "l"}, 100)
	require.NoError(t, r.FinishMatch(ctx, m.ID, 1, []string{"l"}, []string{"w"}))

	require.NoError(t, eng.Settle(ctx, m.ID))

	wBal, _ := led.Balance(ctx, "w")
	houseBal, _ := led.Balance(ctx, ledger.HouseAccount)
	escrowBal, _ := led.Balance(ctx, ledger.EscrowAccount(m.ID))
	require.EqualValues(t, 195, wBal)
	require.EqualValues(t, 5, houseBal)
	require.EqualValues(t, 0, escrowBal)

	// conservação: nada criado nem destruído
	supply := totalSupply(t, led, []string{"w", "l", ledger.HouseAccount, ledger.EscrowAccount(m.ID)})
	require.EqualValues(t, 200, supply)

	require.Len(t, pub.settled, 1)
	require.EqualValues(t, 5, pub.settled[0].FeeVP)
}

func TestSettleMultiWinnerRemainder(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	eng := NewEngine(zap.NewNop(), r, led, &fakePublisher{}, 250)
	ctx := context.Background()

	// pot 300, fee 7, payout 293 dividido entre 2: 147 + resto de 1 VP
	// pro vencedor de seat mais baixo
	m := seedMatch(t, r, led, "m1", []string{"a", "b", "c"}, 100)
	require.NoError(t, r.FinishMatch(ctx, m.ID, 1, []string{"c"}, []string{"a", "b"}))

	require.NoError(t, eng.Settle(ctx, m.ID))

	aBal, _ := led.Balance(ctx, "a")
	bBal, _ := led.Balance(ctx, "b")
	houseBal, _ := led.Balance(ctx, ledger.HouseAccount)
	require.EqualValues(t, 147, aBal)
	require.EqualValues(t, 146, bBal)
	require.EqualValues(t, 7, houseBal)
}

func TestSettleCancelledRefundsAll(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	pub := &fakePublisher{}
	eng := NewEngine(zap.NewNop(), r, led, pub, 250)
	ctx := context.Background()

	m := seedMatch(t, r, led, "m1", []string{"a", "b"}, 100)
	require.NoError(t, r.CancelMatch(ctx, m.ID))

	require.NoError(t, eng.Settle(ctx, m.ID))

	for _, u := range []string{"a", "b"} {
		bal, _ := led.Balance(ctx, u)
		require.EqualValues(t, 100, bal, u)
	}
	houseBal, _ := led.Balance(ctx, ledger.HouseAccount)
	escrowBal, _ := led.Balance(ctx, ledger.EscrowAccount(m.ID))
	require.EqualValues(t, 0, houseBal)
	require.EqualValues(t, 0, escrowBal)
	require.Len(t, pub.settled, 1)
	require.EqualValues(t, 0, pub.settled[0].FeeVP)
}

func TestSettleSmallPotFeeFloorsToZero(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	eng := NewEngine(zap.NewNop(), r, led, &fakePublisher{}, 250)
	ctx := context.Background()

	// pot 4: fee = floor(4 × 0,025) = 0; vencedor leva tudo
	m := seedMatch(t, r, led, "m1", []string{"w", "l"}, 2)
	require.NoError(t, r.FinishMatch(ctx, m.ID, 1, []string{"l"}, []string{"w"}))

	require.NoError(t, eng.Settle(ctx, m.ID))

	wBal, _ := led.Balance(ctx, "w")
	houseBal, _ := led.Balance(ctx, ledger.HouseAccount)
	require.EqualValues(t, 4, wBal)
	require.EqualValues(t, 0, houseBal)
}

func TestSettleActiveMatchRejected(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	eng := NewEngine(zap.NewNop(), r, led, &fakePublisher{}, 250)

	m := seedMatch(t, r, led, "m1", []string{"a", "b"}, 100)
	err := eng.Settle(context.Background(), m.ID)
	require.ErrorIs(t, err, ErrNotSettleable)
}

func TestSettlePendingDrainsStuckEscrow(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	pub := &fakePublisher{}
	eng := NewEngine(zap.NewNop(), r, led, pub, 250)
	ctx := context.Background()

	// dois terminais nunca liquidados e um ACTIVE que não entra na conta
	m1 := seedMatch(t, r, led, "m1", []string{"w1", "l1"}, 100)
	require.NoError(t, r.FinishMatch(ctx, m1.ID, 1, []string{"l1"}, []string{"w1"}))
	m2 := seedMatch(t, r, led, "m2", []string{"a", "b"}, 50)
	require.NoError(t, r.CancelMatch(ctx, m2.ID))
	seedMatch(t, r, led, "m3", []string{"x", "y"}, 100)

	n, err := eng.SettlePending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	w1Bal, _ := led.Balance(ctx, "w1")
	aBal, _ := led.Balance(ctx, "a")
	require.EqualValues(t, 195, w1Bal)
	require.EqualValues(t, 50, aBal)
	for _, id := range []string{"m1", "m2"} {
		escrow, _ := led.Balance(ctx, ledger.EscrowAccount(id))
		require.EqualValues(t, 0, escrow, id)
	}
	require.Len(t, pub.settled, 2)

	// já liquidados: a próxima passada não toca em nada
	n, err = eng.SettlePending(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, pub.settled, 2)
}

func TestSettleIdempotentByRef(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	pub := &fakePublisher{}
	eng := NewEngine(zap.NewNop(), r, led, pub, 250)
	ctx := context.Background()

	m := seedMatch(t, r, led, "m1", []string{"w", "l"}, 100)
	require.NoError(t, r.FinishMatch(ctx, m.ID, 1, []string{"l"}, []string{"w"}))

	require.NoError(t, eng.Settle(ctx, m.ID))
	require.NoError(t, eng.Settle(ctx, m.ID))
	require.NoError(t, eng.Settle(ctx, m.ID))

	wBal, _ := led.Balance(ctx, "w")
	require.EqualValues(t, 195, wBal)
	// replays não publicam de novo
	require.Len(t, pub.settled, 1)
}
