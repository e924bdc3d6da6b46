package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/lock"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

var (
	// ErrValidation cobre payloads fora de faixa (stake, playersCount).
	ErrValidation = errors.New("invalid request")

	// ErrAlreadyMatched: cancelamento chegou depois do pareamento. No-op reportado.
	ErrAlreadyMatched = errors.New("ticket already matched")
)

const (
	MinPlayers = 2
	MaxPlayers = 8
)

// Repo é o recorte de persistência que a admissão usa.
type Repo interface {
	CreateTicket(ctx context.Context, t *repo.Ticket) error
	QueuedTicketByUser(ctx context.Context, userID string) (*repo.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (*repo.Ticket, error)
	QueuedTickets(ctx context.Context, stakeVP int64, playersCount int) ([]*repo.Ticket, error)
	QueuedBuckets(ctx context.Context) ([]repo.Bucket, error)
	CancelTicket(ctx context.Context, ticketID string) error
	CreateMatchFromTickets(ctx context.Context, ticketIDs []string, m *repo.Match) error
	ActiveMatchForUser(ctx context.Context, userID string) (*repo.Match, error)
}

type Publisher interface {
	PublishMatchCreated(ctx context.Context, e events.MatchCreated) error
}

// Service implementa a admissão de tickets: entrada na fila com garantia
// de no máximo um estado por usuário (fila XOR match) e pareamento FIFO
// serializado por bucket (stake, playersCount).
type Service struct {
	log        *zap.Logger
	locker     lock.Locker
	repo       Repo
	ledger     ledger.Ledger
	publ       Publisher
	lockTTL    time.Duration
	maxStakeVP int64
}

func NewService(log *zap.Logger, locker lock.Locker, r Repo, led ledger.Ledger, publ Publisher, lockTTL time.Duration, maxStakeVP int64) *Service {
	return &Service{log: log, locker: locker, repo: r, ledger: led, publ: publ, lockTTL: lockTTL, maxStakeVP: maxStakeVP}
}

// SubmitQuickplay cria o ticket do usuário e tenta parear. Retorna o ticket
// e, se o pareamento fechou quórum, o match criado.
//
// Todo o caminho roda sob o lock "quickplay:<userId>": a checagem de estado
// existente acontece DENTRO do lock (nunca confiar em leitura pré-lock), e
// requisições concorrentes do mesmo usuário recebem lock.ErrBusy.
func (s *Service) SubmitQuickplay(ctx context.Context, userID string, stakeVP int64, playersCount int) (*repo.Ticket, *repo.Match, error) {
	if stakeVP <= 0 || stakeVP > s.maxStakeVP {
		return nil, nil, fmt.Errorf("%w: stakeVp out of range", ErrValidation)
	}
	if playersCount < MinPlayers || playersCount > MaxPlayers {
		return nil, nil, fmt.Errorf("%w: playersCount out of range", ErrValidation)
	}

	var (
		ticket *repo.Ticket
		match  *repo.Match
	)
	err := lock.WithLock(ctx, s.locker, "quickplay:"+userID, s.lockTTL, func(ctx context.Context) error {
		// re-checagem dentro do lock: um estado por usuário
		if _, err := s.repo.QueuedTicketByUser(ctx, userID); err == nil {
			return repo.ErrAlreadyInProgress
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if _, err := s.repo.ActiveMatchForUser(ctx, userID); err == nil {
			return repo.ErrAlreadyInProgress
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		// saldo precisa cobrir a aposta antes de entrar na fila
		bal, err := s.ledger.Balance(ctx, userID)
		if err != nil {
			return err
		}
		if bal < stakeVP {
			return ledger.ErrInsufficientFunds
		}

		ticket = &repo.Ticket{
			ID:           uuid.NewString(),
			UserID:       userID,
			StakeVP:      stakeVP,
			PlayersCount: playersCount,
			Status:       repo.TicketQueued,
		}
		if err := s.repo.CreateTicket(ctx, ticket); err != nil {
			return err
		}
		metrics.TicketsCreated.Inc()

		match, err = s.tryPair(ctx, stakeVP, playersCount)
		return err
	})
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			metrics.LockBusy.WithLabelValues("quickplay").Inc()
		}
		return nil, nil, err
	}
	// o quórum pode ter fechado com tickets mais antigos da fila,
	// sem incluir o recém-criado
	if match != nil && match.Player(userID) != nil {
		ticket.Status = repo.TicketMatched
		ticket.MatchID = match.ID
		return ticket, match, nil
	}
	return ticket, nil, nil
}

// tryPair tenta fechar quórum no bucket (stake, playersCount). Serializado
// pelo lock do bucket pra duas tentativas concorrentes nunca reivindicarem
// tickets sobrepostos. Bucket ocupado não é erro: o ticket fica na fila e
// o próximo submit do bucket ou a varredura periódica (SweepQueue) fecha
// o quórum.
func (s *Service) tryPair(ctx context.Context, stakeVP int64, playersCount int) (*repo.Match, error) {
	var match *repo.Match
	key := fmt.Sprintf("pair:%d:%d", stakeVP, playersCount)
	err := lock.WithLock(ctx, s.locker, key, s.lockTTL, func(ctx context.Context) error {
		cands, err := s.repo.QueuedTickets(ctx, stakeVP, playersCount)
		if err != nil {
			return err
		}

		selected, err := s.selectFunded(ctx, cands, stakeVP, playersCount)
		if err != nil || len(selected) < playersCount {
			return err
		}

		match, err = s.createMatch(ctx, selected, stakeVP, playersCount)
		return err
	})
	if errors.Is(err, lock.ErrBusy) {
		metrics.LockBusy.WithLabelValues("pair").Inc()
		return nil, nil
	}
	return match, err
}

// selectFunded percorre a fila em ordem de chegada e devolve os primeiros
// playersCount tickets de usuários distintos com saldo pra cobrir o stake.
// Tickets sem saldo são cancelados na hora, não seguram a fila.
func (s *Service) selectFunded(ctx context.Context, cands []*repo.Ticket, stakeVP int64, playersCount int) ([]*repo.Ticket, error) {
	selected := make([]*repo.Ticket, 0, playersCount)
	seen := make(map[string]struct{}, playersCount)

	for _, t := range cands {
		if len(selected) == playersCount {
			break
		}
		if _, dup := seen[t.UserID]; dup {
			continue
		}

		bal, err := s.ledger.Balance(ctx, t.UserID)
		if err != nil {
			return nil, err
		}
		if bal < stakeVP {
			if err := s.repo.CancelTicket(ctx, t.ID); err != nil && !errors.Is(err, repo.ErrConflict) {
				return nil, err
			}
			s.log.Warn("ticket cancelled: insufficient funds at pairing",
				zap.String("ticketId", t.ID), zap.String("userId", t.UserID))
			continue
		}

		seen[t.UserID] = struct{}{}
		selected = append(selected, t)
	}
	return selected, nil
}

// createMatch debita as apostas pro escrow e cria o match ACTIVE com os
// tickets selecionados. O débito vem primeiro: se a criação falhar, o
// escrow é estornado e os tickets continuam na fila.
func (s *Service) createMatch(ctx context.Context, selected []*repo.Ticket, stakeVP int64, playersCount int) (*repo.Match, error) {
	matchID := uuid.NewString()
	potVP := stakeVP * int64(playersCount)

	entries := make([]ledger.Entry, 0, playersCount+1)
	for _, t := range selected {
		entries = append(entries, ledger.Entry{UserID: t.UserID, AmountVP: -stakeVP})
	}
	entries = append(entries, ledger.Entry{UserID: ledger.EscrowAccount(matchID), AmountVP: potVP})

	if _, err := s.ledger.Transfer(ctx, "escrow:"+matchID, entries); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// alguém gastou entre a checagem e o débito; fila segue intacta
			s.log.Warn("escrow transfer lost funding race", zap.String("matchId", matchID))
			return nil, nil
		}
		return nil, err
	}

	m := &repo.Match{
		ID:           matchID,
		StakeVP:      stakeVP,
		PotVP:        potVP,
		PlayersCount: playersCount,
		Status:       repo.MatchActive, // WAITING→ACTIVE na criação: pot fixado, jogadores confirmados
		Round:        1,
	}
	ticketIDs := make([]string, 0, playersCount)
	for i, t := range selected {
		m.Players = append(m.Players, repo.MatchPlayer{UserID: t.UserID, Seat: i})
		ticketIDs = append(ticketIDs, t.ID)
	}

	if err := s.repo.CreateMatchFromTickets(ctx, ticketIDs, m); err != nil {
		// estorna o escrow; os tickets não foram reivindicados
		void := make([]ledger.Entry, 0, len(entries))
		for _, e := range entries {
			void = append(void, ledger.Entry{UserID: e.UserID, AmountVP: -e.AmountVP})
		}
		if _, verr := s.ledger.Transfer(ctx, "escrow-void:"+matchID, void); verr != nil {
			s.log.Error("escrow void failed", zap.String("matchId", matchID), zap.Error(verr))
		}
		if errors.Is(err, repo.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	metrics.MatchesCreated.Inc()
	_ = s.publ.PublishMatchCreated(ctx, events.MatchCreated{
		MatchID:      matchID,
		PlayerIDs:    m.PlayerIDs(),
		StakeVP:      stakeVP,
		PotVP:        potVP,
		PlayersCount: playersCount,
	})
	s.log.Info("match created",
		zap.String("matchId", matchID),
		zap.Int64("stakeVp", stakeVP),
		zap.Int("players", playersCount))

	return m, nil
}

// SweepQueue revisita os buckets com quórum possível e pareia o que ficou
// pra trás. Cobre a corrida em que o submit perdeu o lock do bucket pra um
// scan que rodou antes do insert do ticket: sem tráfego novo no bucket,
// ninguém mais chamaria tryPair. O worker de timeout roda isto a cada tick.
// Retorna quantos matches foram criados.
func (s *Service) SweepQueue(ctx context.Context) (int, error) {
	buckets, err := s.repo.QueuedBuckets(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, b := range buckets {
		// um bucket pode ter mais de um quórum acumulado
		for {
			m, err := s.tryPair(ctx, b.StakeVP, b.PlayersCount)
			if err != nil {
				return created, err
			}
			if m == nil {
				break
			}
			created++
		}
	}
	return created, nil
}

// Cancel transiciona o ticket QUEUED do usuário pra CANCELLED, sob o mesmo
// lock da admissão. Se o ticket já pareou, reporta no-op (ErrAlreadyMatched).
func (s *Service) Cancel(ctx context.Context, userID string) (*repo.Ticket, error) {
	var ticket *repo.Ticket
	err := lock.WithLock(ctx, s.locker, "quickplay:"+userID, s.lockTTL, func(ctx context.Context) error {
		t, err := s.repo.QueuedTicketByUser(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			if _, merr := s.repo.ActiveMatchForUser(ctx, userID); merr == nil {
				return ErrAlreadyMatched
			}
			return repo.ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := s.repo.CancelTicket(ctx, t.ID); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return ErrAlreadyMatched
			}
			return err
		}
		t.Status = repo.TicketCancelled
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// GetTicket retorna o ticket apenas pro dono. Qualquer outro chamador
// recebe NotFound, nunca Forbidden, pra não confirmar que o id existe.
func (s *Service) GetTicket(ctx context.Context, userID, ticketID string) (*repo.Ticket, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, repo.ErrNotFound
	}
	return t, nil
}
