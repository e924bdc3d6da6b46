package dto

type QuickplayRequest struct {
	StakeVP      int64 `json:"stakeVp"`
	PlayersCount int   `json:"playersCount"`
}

type MoveRequest struct {
	Round int    `json:"round"`
	Move  string `json:"move"` // ROCK | PAPER | SCISSORS
}
