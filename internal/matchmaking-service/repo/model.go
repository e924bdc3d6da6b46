package repo

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInProgress: o usuário já tem ticket na fila ou match em andamento.
	ErrAlreadyInProgress = errors.New("already in progress")

	// ErrDuplicateMove: jogada já registrada para (match, usuário, rodada).
	ErrDuplicateMove = errors.New("duplicate move")

	// ErrConflict: transição condicional não aplicada: o estado persistido
	// mudou desde a leitura. Quem chamou deve reler dentro do lock.
	ErrConflict = errors.New("state conflict")
)

// Bucket identifica uma fila de pareamento: tickets QUEUED com o mesmo
// stake e tamanho de mesa.
type Bucket struct {
	StakeVP      int64
	PlayersCount int
}

type TicketStatus string

const (
	TicketQueued    TicketStatus = "QUEUED"
	TicketMatched   TicketStatus = "MATCHED"
	TicketCancelled TicketStatus = "CANCELLED"
)

type MatchStatus string

const (
	MatchWaiting   MatchStatus = "WAITING"
	MatchActive    MatchStatus = "ACTIVE"
	MatchFinished  MatchStatus = "FINISHED"
	MatchCancelled MatchStatus = "CANCELLED"
)

// Terminal indica estados dos quais nenhuma transição sai.
func (s MatchStatus) Terminal() bool { return s == MatchFinished || s == MatchCancelled }

// Ticket é um pedido de quickplay aguardando pareamento.
// No máximo um ticket QUEUED por usuário (índice único parcial no banco).
type Ticket struct {
	ID           string
	UserID       string
	StakeVP      int64
	PlayersCount int
	Status       TicketStatus
	MatchID      string // preenchido quando MATCHED
	CreatedAt    time.Time
}

type MatchPlayer struct {
	UserID          string
	Seat            int  // ordem de entrada no match (FIFO da fila)
	EliminatedRound *int // nil = ainda vivo
	Winner          bool
}

// Match é o grupo de jogadores pareados progredindo por rodadas.
// Pot fixado na criação; status só anda pra frente.
type Match struct {
	ID           string
	StakeVP      int64
	PotVP        int64
	PlayersCount int
	Status       MatchStatus
	Round        int
	Players      []MatchPlayer
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// Player retorna o participante ou nil se o usuário não joga este match.
func (m *Match) Player(userID string) *MatchPlayer {
	for i := range m.Players {
		if m.Players[i].UserID == userID {
			return &m.Players[i]
		}
	}
	return nil
}

// AlivePlayers retorna, em ordem de assento, os jogadores não eliminados.
func (m *Match) AlivePlayers() []string {
	out := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		if p.EliminatedRound == nil {
			out = append(out, p.UserID)
		}
	}
	return out
}

// WinnerIDs retorna, em ordem de assento, os vencedores de um match FINISHED.
func (m *Match) WinnerIDs() []string {
	out := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		if p.Winner {
			out = append(out, p.UserID)
		}
	}
	return out
}

// PlayerIDs retorna todos os participantes em ordem de assento.
func (m *Match) PlayerIDs() []string {
	out := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		out = append(out, p.UserID)
	}
	return out
}
