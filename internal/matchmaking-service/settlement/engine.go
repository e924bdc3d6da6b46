package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/rules"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/metrics"
	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

// ErrNotSettleable: o match ainda não está em estado terminal.
var ErrNotSettleable = errors.New("match not settleable")

// Repo é o recorte de persistência que a liquidação usa.
type Repo interface {
	GetMatch(ctx context.Context, matchID string) (*repo.Match, error)
	UnsettledTerminalIDs(ctx context.Context, limit int) ([]string, error)
}

type Publisher interface {
	PublishMatchSettled(ctx context.Context, e events.MatchSettled) error
}

// Engine calcula e aplica a liquidação financeira de um match terminal.
// Uma transferência atômica por match, idempotente por matchId: replays
// (retry do worker, gatilhos duplicados) são inertes.
type Engine struct {
	log    *zap.Logger
	repo   Repo
	ledger ledger.Ledger
	publ   Publisher
	split  rules.Split
	feeBps int
}

func NewEngine(log *zap.Logger, r Repo, led ledger.Ledger, publ Publisher, feeBps int) *Engine {
	return &Engine{log: log, repo: r, ledger: led, publ: publ, split: rules.EqualSplit{}, feeBps: feeBps}
}

// SetSplit troca a política de divisão do prêmio (default: partes iguais).
func (e *Engine) SetSplit(s rules.Split) { e.split = s }

// Settle aplica a liquidação de um match FINISHED ou CANCELLED.
// FINISHED: fee = floor(pot × feeBps/10000) pra casa, o resto dividido
// entre os vencedores. CANCELLED: estorno integral, fee zero.
// O escrow do match é drenado a zero nos dois casos.
func (e *Engine) Settle(ctx context.Context, matchID string) error {
	m, err := e.repo.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.Status.Terminal() {
		return fmt.Errorf("%w: status=%s", ErrNotSettleable, m.Status)
	}

	feeVP, entries, err := e.compute(m)
	if err != nil {
		return err
	}

	applied, err := e.ledger.Transfer(ctx, "settle:"+matchID, entries)
	if err != nil {
		if errors.Is(err, ledger.ErrUnbalancedTransfer) {
			// invariante de conservação violado: erro de programação,
			// aborta sem tentar corrigir
			e.log.Error("UNBALANCED SETTLEMENT TRANSFER",
				zap.String("matchId", matchID), zap.Error(err))
		}
		return err
	}
	if !applied {
		return nil // já liquidado; replay inerte
	}

	metrics.MatchesSettled.WithLabelValues(string(m.Status)).Inc()
	e.log.Info("match settled",
		zap.String("matchId", matchID),
		zap.String("status", string(m.Status)),
		zap.Int64("feeVp", feeVP))

	lines := make([]events.SettlementLine, 0, len(entries))
	for _, en := range entries {
		lines = append(lines, events.SettlementLine{UserID: en.UserID, AmountVP: en.AmountVP})
	}
	_ = e.publ.PublishMatchSettled(ctx, events.MatchSettled{
		MatchID: matchID,
		Status:  string(m.Status),
		FeeVP:   feeVP,
		Lines:   lines,
	})
	return nil
}

// SettlePending varre matches terminais sem liquidação aplicada e liquida
// cada um. É o último recurso quando tanto o publish de match_finished
// quanto o Settle inline falharam: nesse cenário nenhum outro gatilho
// sobra e o escrow ficaria preso. Retorna quantos matches liquidou.
func (e *Engine) SettlePending(ctx context.Context, limit int) (int, error) {
	ids, err := e.repo.UnsettledTerminalIDs(ctx, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range ids {
		applied, err := e.ledger.Applied(ctx, "settle:"+id)
		if err != nil {
			return settled, err
		}
		if applied {
			continue
		}
		if err := e.Settle(ctx, id); err != nil {
			e.log.Error("settle pending", zap.String("matchId", id), zap.Error(err))
			continue
		}
		settled++
	}
	return settled, nil
}

// compute monta as linhas da transferência. A soma fecha em zero por
// construção; o Ledger ainda revalida antes de aplicar.
func (e *Engine) compute(m *repo.Match) (feeVP int64, entries []ledger.Entry, err error) {
	escrow := ledger.EscrowAccount(m.ID)

	switch m.Status {
	case repo.MatchCancelled:
		// estorno integral, sem taxa
		entries = append(entries, ledger.Entry{UserID: escrow, AmountVP: -m.PotVP})
		for _, p := range m.Players {
			entries = append(entries, ledger.Entry{UserID: p.UserID, AmountVP: m.StakeVP})
		}
		return 0, entries, nil

	case repo.MatchFinished:
		winners := m.WinnerIDs()
		if len(winners) == 0 {
			return 0, nil, fmt.Errorf("%w: finished match without winners", ErrNotSettleable)
		}
		feeVP = m.PotVP * int64(e.feeBps) / 10_000
		payout := m.PotVP - feeVP

		entries = append(entries, ledger.Entry{UserID: escrow, AmountVP: -m.PotVP})
		shares := e.split.Shares(payout, winners)
		for i, w := range winners {
			entries = append(entries, ledger.Entry{UserID: w, AmountVP: shares[i]})
		}
		if feeVP > 0 {
			entries = append(entries, ledger.Entry{UserID: ledger.HouseAccount, AmountVP: feeVP})
		}
		return feeVP, entries, nil
	}

	return 0, nil, fmt.Errorf("%w: status=%s", ErrNotSettleable, m.Status)
}
