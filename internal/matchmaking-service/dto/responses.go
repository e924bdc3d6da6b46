package dto

import "time"

type TicketResponse struct {
	TicketID     string    `json:"ticketId"`
	Status       string    `json:"status"`
	StakeVP      int64     `json:"stakeVp"`
	PlayersCount int       `json:"playersCount"`
	MatchID      string    `json:"matchId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type PlayerView struct {
	UserID          string `json:"userId"`
	EliminatedRound *int   `json:"eliminatedRound,omitempty"`
	Winner          bool   `json:"winner,omitempty"`
	Moved           bool   `json:"moved"` // já jogou na rodada corrente (a jogada em si não vaza)
}

type MatchResponse struct {
	MatchID    string       `json:"matchId"`
	Status     string       `json:"status"`
	Round      int          `json:"round"`
	StakeVP    int64        `json:"stakeVp"`
	PotVP      int64        `json:"potVp"`
	Players    []PlayerView `json:"players"`
	CreatedAt  time.Time    `json:"createdAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"` // contenção transitória: tente de novo
}
