package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/lock"
	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

type fakePublisher struct {
	mu      sync.Mutex
	created []events.MatchCreated
}

func (f *fakePublisher) PublishMatchCreated(_ context.Context, e events.MatchCreated) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func newTestService() (*Service, *repo.Memory, *ledger.Memory, *fakePublisher) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	pub := &fakePublisher{}
	svc := NewService(zap.NewNop(), lock.NewMemory(), r, led, pub, 5*time.Second, 1_000_000)
	return svc, r, led, pub
}

func TestSubmitQuickplayValidation(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	ctx := context.Background()

	cases := []struct {
		name    string
		stake   int64
		players int
	}{
		{"stake zero", 0, 2},
		{"stake negative", -10, 2},
		{"stake above max", 2_000_000, 2},
		{"players below min", 100, 1},
		{"players above max", 100, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.SubmitQuickplay(ctx, "u1", tc.stake, tc.players)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSubmitQuickplayInsufficientFunds(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 50)

	_, _, err := svc.SubmitQuickplay(context.Background(), "u1", 100, 2)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestSubmitQuickplayQueuesWithoutQuorum(t *testing.T) {
	svc, _, led, pub := newTestService()
	led.SetBalance("u1", 1000)

	ticket, match, err := svc.SubmitQuickplay(context.Background(), "u1", 100, 2)
	require.NoError(t, err)
	require.Nil(t, match)
	require.Equal(t, repo.TicketQueued, ticket.Status)
	require.Empty(t, pub.created)

	// saldo não é debitado enquanto o ticket está na fila
	bal, _ := led.Balance(context.Background(), "u1")
	require.EqualValues(t, 1000, bal)
}

func TestSubmitQuickplaySingleStatePerUser(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	ctx := context.Background()

	_, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)

	// segundo submit do mesmo usuário, mesmo com parâmetros diferentes
	_, _, err = svc.SubmitQuickplay(ctx, "u1", 200, 3)
	require.ErrorIs(t, err, repo.ErrAlreadyInProgress)
}

func TestSubmitQuickplayRejectedWhileInActiveMatch(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	led.SetBalance("u2", 1000)
	ctx := context.Background()

	_, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)
	_, match, err := svc.SubmitQuickplay(ctx, "u2", 100, 2)
	require.NoError(t, err)
	require.NotNil(t, match)

	_, _, err = svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.ErrorIs(t, err, repo.ErrAlreadyInProgress)
}

func TestConcurrentQuickplaySameUser(t *testing.T) {
	svc, r, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, lock.ErrBusy), errors.Is(err, repo.ErrAlreadyInProgress):
			// contenção esperada
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)

	ticket, err := r.QueuedTicketByUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, repo.TicketQueued, ticket.Status)
}

func TestPairingFifoAndEscrow(t *testing.T) {
	svc, r, led, pub := newTestService()
	for _, u := range []string{"u1", "u2", "u3"} {
		led.SetBalance(u, 1000)
	}
	ctx := context.Background()

	t1, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)
	time.Sleep(time.Millisecond) // ordem FIFO estável
	t2, match, err := svc.SubmitQuickplay(ctx, "u2", 100, 2)
	require.NoError(t, err)
	require.NotNil(t, match)
	time.Sleep(time.Millisecond)
	t3, m3, err := svc.SubmitQuickplay(ctx, "u3", 100, 2)
	require.NoError(t, err)
	require.Nil(t, m3)

	// os dois mais antigos pareiam; o terceiro espera o próximo quórum
	got1, err := r.GetTicket(ctx, t1.ID)
	require.NoError(t, err)
	require.Equal(t, repo.TicketMatched, got1.Status)
	require.Equal(t, repo.TicketMatched, t2.Status)
	require.Equal(t, repo.TicketQueued, t3.Status)

	require.NotNil(t, match.Player("u1"))
	require.NotNil(t, match.Player("u2"))
	require.Nil(t, match.Player("u3"))
	require.Equal(t, repo.MatchActive, match.Status)
	require.Equal(t, 1, match.Round)
	require.EqualValues(t, 200, match.PotVP)

	// stakes debitados pro escrow no pareamento
	for _, u := range []string{"u1", "u2"} {
		bal, _ := led.Balance(ctx, u)
		require.EqualValues(t, 900, bal, u)
	}
	escrow, _ := led.Balance(ctx, ledger.EscrowAccount(match.ID))
	require.EqualValues(t, 200, escrow)

	require.Len(t, pub.created, 1)
	require.Equal(t, match.ID, pub.created[0].MatchID)
}

func TestSweepQueuePairsQuorumLeftByBucketContention(t *testing.T) {
	r := repo.NewMemory()
	led := ledger.NewMemory()
	pub := &fakePublisher{}
	locker := lock.NewMemory()
	svc := NewService(zap.NewNop(), locker, r, led, pub, 5*time.Second, 1_000_000)
	led.SetBalance("u1", 1000)
	led.SetBalance("u2", 1000)
	ctx := context.Background()

	// outro processo segura o lock do bucket durante os dois submits
	lease, err := locker.Acquire(ctx, "pair:100:2", time.Minute)
	require.NoError(t, err)

	_, m1, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)
	require.Nil(t, m1)
	time.Sleep(time.Millisecond)
	_, m2, err := svc.SubmitQuickplay(ctx, "u2", 100, 2)
	require.NoError(t, err)
	require.Nil(t, m2) // quórum completo, mas o bucket estava ocupado

	require.NoError(t, locker.Release(ctx, lease))

	// sem a varredura, ninguém mais revisita o bucket
	created, err := svc.SweepQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	for _, u := range []string{"u1", "u2"} {
		_, err := r.QueuedTicketByUser(ctx, u)
		require.ErrorIs(t, err, repo.ErrNotFound, u)
		m, err := r.ActiveMatchForUser(ctx, u)
		require.NoError(t, err, u)
		require.Equal(t, repo.MatchActive, m.Status)
	}
	require.Len(t, pub.created, 1)

	// fila vazia: varredura é no-op
	created, err = svc.SweepQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, created)
}

func TestPairingCancelsUnderfundedTickets(t *testing.T) {
	svc, r, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	led.SetBalance("u2", 1000)
	ctx := context.Background()

	t1, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)

	// u1 gasta o saldo depois de entrar na fila
	led.SetBalance("u1", 0)

	time.Sleep(time.Millisecond)
	_, match, err := svc.SubmitQuickplay(ctx, "u2", 100, 2)
	require.NoError(t, err)
	require.Nil(t, match) // quórum não fecha só com u2

	got, err := r.GetTicket(ctx, t1.ID)
	require.NoError(t, err)
	require.Equal(t, repo.TicketCancelled, got.Status)
}

func TestCancelQueuedTicket(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	ctx := context.Background()

	_, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)

	ticket, err := svc.Cancel(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, repo.TicketCancelled, ticket.Status)

	// cancelou: pode entrar de novo
	_, _, err = svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)
}

func TestCancelWithoutTicket(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Cancel(context.Background(), "u1")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCancelAfterMatchedIsNoOp(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	led.SetBalance("u2", 1000)
	ctx := context.Background()

	_, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)
	_, match, err := svc.SubmitQuickplay(ctx, "u2", 100, 2)
	require.NoError(t, err)
	require.NotNil(t, match)

	_, err = svc.Cancel(ctx, "u1")
	require.ErrorIs(t, err, ErrAlreadyMatched)
}

func TestGetTicketOwnerOnly(t *testing.T) {
	svc, _, led, _ := newTestService()
	led.SetBalance("u1", 1000)
	ctx := context.Background()

	ticket, _, err := svc.SubmitQuickplay(ctx, "u1", 100, 2)
	require.NoError(t, err)

	got, err := svc.GetTicket(ctx, "u1", ticket.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.ID, got.ID)

	// não dono: NotFound, nunca Forbidden
	_, err = svc.GetTicket(ctx, "u2", ticket.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
}
