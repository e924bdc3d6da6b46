package ledger

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnbalancedTransfer é classe de erro de programação: a soma das
	// linhas de uma transferência precisa ser zero. Nunca é corrigido
	// automaticamente; a transferência inteira é abortada.
	ErrUnbalancedTransfer = errors.New("unbalanced transfer")

	ErrEmptyTransfer = errors.New("empty transfer")
)

// HouseAccount é a conta que recebe a taxa da casa.
const HouseAccount = "house"

// EscrowAccount nomeia a conta de caução de um match: as apostas entram
// nela no pareamento e saem inteiras na liquidação.
func EscrowAccount(matchID string) string { return "match:" + matchID }

// Entry é uma linha de transferência: valor com sinal aplicado a uma conta.
type Entry struct {
	UserID   string
	AmountVP int64
}

// Ledger é a única fonte de verdade de saldos e o único componente
// autorizado a mutá-los. Transfer aplica todas as linhas atomicamente
// (ou nenhuma) e é idempotente por ref: um replay com a mesma ref é
// inerte e retorna applied=false.
type Ledger interface {
	Transfer(ctx context.Context, ref string, entries []Entry) (applied bool, err error)
	Balance(ctx context.Context, userID string) (int64, error)

	// Applied informa se a ref já foi aplicada em algum Transfer anterior.
	Applied(ctx context.Context, ref string) (bool, error)
}

// normalize valida a conservação e agrega linhas da mesma conta,
// devolvendo as contas em ordem determinística (evita deadlock entre
// transferências concorrentes que travam linhas em ordens diferentes).
func normalize(entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTransfer
	}

	var sum int64
	byUser := make(map[string]int64, len(entries))
	for _, e := range entries {
		sum += e.AmountVP
		byUser[e.UserID] += e.AmountVP
	}
	if sum != 0 {
		return nil, ErrUnbalancedTransfer
	}

	out := make([]Entry, 0, len(byUser))
	for u, amt := range byUser {
		out = append(out, Entry{UserID: u, AmountVP: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
