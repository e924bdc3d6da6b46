package events

type MatchFinished struct {
	MatchID   string   `json:"match_id"`
	Status    string   `json:"status"` // FINISHED | CANCELLED
	WinnerIDs []string `json:"winner_ids,omitempty"`
	PotVP     int64    `json:"pot_vp"`
	Rounds    int      `json:"rounds"`
	TsUnixMs  int64    `json:"ts_unix_ms"`
}
