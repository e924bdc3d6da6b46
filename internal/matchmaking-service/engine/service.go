package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/rules"
	"github.com/radieske/quickplay-platform-poc/internal/shared/lock"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

var (
	// ErrInvalidState: a transição pedida não é permitida a partir do
	// status/rodada persistidos (match FINISHED, rodada errada, etc).
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden: o ator não é participante do match.
	ErrForbidden = errors.New("forbidden")
)

// Repo é o recorte de persistência que o state machine usa.
type Repo interface {
	GetMatch(ctx context.Context, matchID string) (*repo.Match, error)
	InsertMove(ctx context.Context, matchID string, round int, userID, move string) (bool, error)
	MovesForRound(ctx context.Context, matchID string, round int) (map[string]string, error)
	ResolveRound(ctx context.Context, matchID string, fromRound int, eliminated []string) error
	FinishMatch(ctx context.Context, matchID string, fromRound int, eliminated, winners []string) error
	CancelMatch(ctx context.Context, matchID string) error
	HistoryForUser(ctx context.Context, userID string, limit int) ([]*repo.Match, error)
	StalledMatches(ctx context.Context, cutoff time.Time) ([]*repo.Match, error)
}

// Settler liquida um match terminal. Idempotente por matchId.
type Settler interface {
	Settle(ctx context.Context, matchID string) error
}

type Publisher interface {
	PublishMatchFinished(ctx context.Context, e events.MatchFinished) error
}

// Notifier empurra atualizações de estado pros clientes conectados
// (pub/sub Redis → hub websocket).
type Notifier interface {
	PublishMatchUpdate(ctx context.Context, u events.MatchUpdate) error
}

// Service é o dono do ciclo de vida do match: aceitação de jogadas,
// resolução de rodadas, eliminação e disparo da liquidação.
type Service struct {
	log     *zap.Logger
	locker  lock.Locker
	repo    Repo
	settler Settler
	publ    Publisher
	notif   Notifier
	elim    rules.Elimination

	lockTTL      time.Duration
	maxRounds    int
	roundTimeout time.Duration
	now          func() time.Time
}

func NewService(
	log *zap.Logger,
	locker lock.Locker,
	r Repo,
	settler Settler,
	publ Publisher,
	notif Notifier,
	lockTTL time.Duration,
	maxRounds int,
	roundTimeout time.Duration,
) *Service {
	return &Service{
		log:          log,
		locker:       locker,
		repo:         r,
		settler:      settler,
		publ:         publ,
		notif:        notif,
		elim:         rules.CyclicElimination{},
		lockTTL:      lockTTL,
		maxRounds:    maxRounds,
		roundTimeout: roundTimeout,
		now:          time.Now,
	}
}

// SetElimination troca a política de eliminação (default: dominância cíclica).
func (s *Service) SetElimination(e rules.Elimination) { s.elim = e }

// SubmitMove registra a jogada write-once de um participante na rodada
// corrente. A validação final acontece dentro do lock por
// (match, usuário, rodada), contra o estado persistido.
func (s *Service) SubmitMove(ctx context.Context, matchID, userID string, round int, moveStr string) error {
	mv, err := rules.ParseMove(moveStr)
	if err != nil {
		return err
	}

	// pré-checagens baratas fora do lock; tudo revalidado dentro dele
	m, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Player(userID) == nil {
		return ErrForbidden
	}
	if err := validateMoveState(m, userID, round); err != nil {
		return err
	}

	key := fmt.Sprintf("move:%s:%s:%d", matchID, userID, round)
	err = lock.WithLock(ctx, s.locker, key, s.lockTTL, func(ctx context.Context) error {
		m, err := s.repo.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if err := validateMoveState(m, userID, round); err != nil {
			return err
		}

		inserted, err := s.repo.InsertMove(ctx, matchID, round, userID, string(mv))
		if err != nil {
			return err
		}
		if !inserted {
			return repo.ErrDuplicateMove
		}
		metrics.MovesAccepted.Inc()
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			metrics.LockBusy.WithLabelValues("move").Inc()
		}
		return err
	}

	return s.maybeResolve(ctx, matchID, round)
}

// validateMoveState aplica as regras de aceitação sobre um snapshot do match.
func validateMoveState(m *repo.Match, userID string, round int) error {
	if m.Status != repo.MatchActive {
		return ErrInvalidState
	}
	if round != m.Round {
		return ErrInvalidState
	}
	if p := m.Player(userID); p == nil || p.EliminatedRound != nil {
		return ErrInvalidState
	}
	return nil
}

// maybeResolve fecha a rodada se o conjunto de jogadas está completo.
// Serializado por "resolve:<matchId>": entre dois últimos jogadores
// concorrentes só um resolve; o outro vê o lock ocupado e retorna ok.
func (s *Service) maybeResolve(ctx context.Context, matchID string, round int) error {
	m, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != repo.MatchActive || m.Round != round {
		return nil // já resolvida por outro chamador
	}
	moves, err := s.repo.MovesForRound(ctx, matchID, round)
	if err != nil {
		return err
	}
	if !allMoved(m.AlivePlayers(), moves) {
		return nil
	}

	err = lock.WithLock(ctx, s.locker, "resolve:"+matchID, s.lockTTL, func(ctx context.Context) error {
		return s.resolveRound(ctx, matchID, round, nil)
	})
	if errors.Is(err, lock.ErrBusy) {
		// resolução em andamento por outro chamador
		metrics.LockBusy.WithLabelValues("resolve").Inc()
		return nil
	}
	return err
}

// resolveRound decide a rodada com o estado relido dentro do lock.
// forfeited lista jogadores eliminados por W.O. (caminho de timeout);
// a política de eliminação roda só sobre quem jogou.
func (s *Service) resolveRound(ctx context.Context, matchID string, round int, forfeited []string) error {
	m, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != repo.MatchActive || m.Round != round {
		return nil
	}

	raw, err := s.repo.MovesForRound(ctx, matchID, round)
	if err != nil {
		return err
	}

	forfeitSet := make(map[string]struct{}, len(forfeited))
	for _, id := range forfeited {
		forfeitSet[id] = struct{}{}
	}

	moves := make(map[string]rules.Move, len(raw))
	for _, uid := range m.AlivePlayers() {
		if _, out := forfeitSet[uid]; out {
			continue
		}
		mvs, ok := raw[uid]
		if !ok {
			return nil // conjunto incompleto; nada a resolver
		}
		moves[uid] = rules.Move(mvs)
	}

	eliminated := append([]string{}, forfeited...)
	eliminated = append(eliminated, s.elim.Eliminated(moves)...)

	elimSet := make(map[string]struct{}, len(eliminated))
	for _, id := range eliminated {
		elimSet[id] = struct{}{}
	}
	survivors := make([]string, 0, len(m.Players))
	for _, uid := range m.AlivePlayers() {
		if _, out := elimSet[uid]; !out {
			survivors = append(survivors, uid)
		}
	}

	if len(survivors) <= 1 || round >= s.maxRounds {
		return s.finish(ctx, m, round, eliminated, survivors)
	}

	if err := s.repo.ResolveRound(ctx, matchID, round, eliminated); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		return err
	}
	s.log.Info("round resolved",
		zap.String("matchId", matchID),
		zap.Int("round", round),
		zap.Strings("eliminated", eliminated))
	_ = s.notif.PublishMatchUpdate(ctx, events.MatchUpdate{
		MatchID: matchID,
		Status:  string(repo.MatchActive),
		Round:   round + 1,
		Kind:    events.UpdateRoundResolved,
	})
	return nil
}

// finish fecha o match em FINISHED e dispara a liquidação exatamente uma
// vez: a transição condicional garante um único vencedor da corrida, e a
// liquidação em si é idempotente por matchId.
func (s *Service) finish(ctx context.Context, m *repo.Match, round int, eliminated, winners []string) error {
	if err := s.repo.FinishMatch(ctx, m.ID, round, eliminated, winners); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		return err
	}

	s.log.Info("match finished",
		zap.String("matchId", m.ID),
		zap.Int("rounds", round),
		zap.Strings("winners", winners))

	if err := s.publ.PublishMatchFinished(ctx, events.MatchFinished{
		MatchID:   m.ID,
		Status:    string(repo.MatchFinished),
		WinnerIDs: winners,
		PotVP:     m.PotVP,
		Rounds:    round,
	}); err != nil {
		// sem evento o settlement-worker não reprocessa; a varredura de
		// liquidação pendente cobre o buraco
		s.log.Error("publish match_finished", zap.String("matchId", m.ID), zap.Error(err))
	}

	if err := s.settler.Settle(ctx, m.ID); err != nil {
		// reprocessado via match_finished ou pela varredura de pendências
		s.log.Error("settle after finish", zap.String("matchId", m.ID), zap.Error(err))
	}

	_ = s.notif.PublishMatchUpdate(ctx, events.MatchUpdate{
		MatchID:   m.ID,
		Status:    string(repo.MatchFinished),
		Round:     round,
		Kind:      events.UpdateMatchFinished,
		WinnerIDs: winners,
	})
	return nil
}

// ExpireStalled cancela ou resolve por W.O. os matches ACTIVE cuja rodada
// corrente estourou a janela. Retorna quantos matches foram tratados.
func (s *Service) ExpireStalled(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.roundTimeout)
	stalled, err := s.repo.StalledMatches(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, m := range stalled {
		err := lock.WithLock(ctx, s.locker, "resolve:"+m.ID, s.lockTTL, func(ctx context.Context) error {
			return s.expireOne(ctx, m.ID, cutoff)
		})
		if errors.Is(err, lock.ErrBusy) {
			continue
		}
		if err != nil {
			s.log.Error("expire stalled match", zap.String("matchId", m.ID), zap.Error(err))
			continue
		}
		handled++
	}
	return handled, nil
}

func (s *Service) expireOne(ctx context.Context, matchID string, cutoff time.Time) error {
	m, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != repo.MatchActive || !m.UpdatedAt.Before(cutoff) {
		return nil // progrediu entre a listagem e o lock
	}

	moves, err := s.repo.MovesForRound(ctx, matchID, m.Round)
	if err != nil {
		return err
	}

	var movers, nonMovers []string
	for _, uid := range m.AlivePlayers() {
		if _, ok := moves[uid]; ok {
			movers = append(movers, uid)
		} else {
			nonMovers = append(nonMovers, uid)
		}
	}

	// ninguém jogou: cancela e devolve as apostas via ledger
	if len(movers) == 0 {
		if err := s.repo.CancelMatch(ctx, matchID); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return nil
			}
			return err
		}
		s.log.Info("match cancelled on timeout", zap.String("matchId", matchID))

		if err := s.publ.PublishMatchFinished(ctx, events.MatchFinished{
			MatchID: matchID,
			Status:  string(repo.MatchCancelled),
			PotVP:   m.PotVP,
			Rounds:  m.Round,
		}); err != nil {
			s.log.Error("publish match_finished", zap.String("matchId", matchID), zap.Error(err))
		}
		if err := s.settler.Settle(ctx, matchID); err != nil {
			s.log.Error("settle after cancel", zap.String("matchId", matchID), zap.Error(err))
		}
		_ = s.notif.PublishMatchUpdate(ctx, events.MatchUpdate{
			MatchID: matchID,
			Status:  string(repo.MatchCancelled),
			Round:   m.Round,
			Kind:    events.UpdateMatchCancelled,
		})
		return nil
	}

	// parcialmente resolvível: quem não jogou perde por W.O. e a rodada
	// fecha entre quem jogou
	return s.resolveRound(ctx, matchID, m.Round, nonMovers)
}

// View retorna o match pro participante, junto com quem já jogou na rodada
// corrente (sem revelar as jogadas). Não participante recebe NotFound,
// nunca Forbidden: a existência do matchId não vaza.
func (s *Service) View(ctx context.Context, userID, matchID string) (*repo.Match, []string, error) {
	m, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if m.Player(userID) == nil {
		return nil, nil, repo.ErrNotFound
	}

	moves, err := s.repo.MovesForRound(ctx, matchID, m.Round)
	if err != nil {
		return nil, nil, err
	}
	moved := make([]string, 0, len(moves))
	for _, uid := range m.AlivePlayers() {
		if _, ok := moves[uid]; ok {
			moved = append(moved, uid)
		}
	}
	return m, moved, nil
}

// History lista os matches terminais do próprio usuário.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*repo.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.HistoryForUser(ctx, userID, limit)
}

func allMoved(alive []string, moves map[string]string) bool {
	for _, uid := range alive {
		if _, ok := moves[uid]; !ok {
			return false
		}
	}
	return len(alive) > 0
}
