package rules

import "errors"

// ErrInvalidMove: valor fora da enumeração fechada de jogadas.
var ErrInvalidMove = errors.New("invalid move")

// Move é um valor da enumeração cíclica de jogadas. Nunca muta.
type Move string

const (
	MoveRock     Move = "ROCK"
	MovePaper    Move = "PAPER"
	MoveScissors Move = "SCISSORS"
)

// ParseMove valida a jogada enviada pelo cliente.
func ParseMove(s string) (Move, error) {
	switch Move(s) {
	case MoveRock, MovePaper, MoveScissors:
		return Move(s), nil
	}
	return "", ErrInvalidMove
}

// beats implementa a dominância cíclica: pedra > tesoura > papel > pedra.
func beats(a, b Move) bool {
	switch a {
	case MoveRock:
		return b == MoveScissors
	case MovePaper:
		return b == MoveRock
	case MoveScissors:
		return b == MovePaper
	}
	return false
}

// Elimination decide quem sai da rodada dado o conjunto de jogadas dos
// jogadores vivos. Política plugável; o produto ainda não fixou a regra
// definitiva para mesas grandes.
type Elimination interface {
	// Eliminated retorna os perdedores. Vazio = empate, todo mundo avança.
	Eliminated(moves map[string]Move) []string
}

// CyclicElimination é a regra padrão: com exatamente dois gestos distintos
// na mesa, os jogadores do gesto dominado saem; com um ou três gestos,
// empate e todos os empatados avançam.
type CyclicElimination struct{}

func (CyclicElimination) Eliminated(moves map[string]Move) []string {
	distinct := make(map[Move]struct{}, 3)
	for _, mv := range moves {
		distinct[mv] = struct{}{}
	}
	if len(distinct) != 2 {
		return nil
	}

	var a, b Move
	for mv := range distinct {
		if a == "" {
			a = mv
		} else {
			b = mv
		}
	}
	losing := a
	if beats(a, b) {
		losing = b
	}

	var out []string
	for uid, mv := range moves {
		if mv == losing {
			out = append(out, uid)
		}
	}
	return out
}

// Split divide o prêmio entre os vencedores. Política plugável pelo mesmo
// motivo da eliminação.
type Split interface {
	// Shares retorna uma fatia por vencedor, na mesma ordem da entrada.
	// Invariante: soma das fatias == payout.
	Shares(payoutVP int64, winners []string) []int64
}

// EqualSplit divide igualmente com arredondamento pra baixo; o resto vai
// um VP por vez para os vencedores mais antigos (ordem de assento).
// Determinístico, e a soma fecha sempre com o payout.
type EqualSplit struct{}

func (EqualSplit) Shares(payoutVP int64, winners []string) []int64 {
	n := int64(len(winners))
	if n == 0 {
		return nil
	}
	base := payoutVP / n
	rem := payoutVP % n

	out := make([]int64, n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}
