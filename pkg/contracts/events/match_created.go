package events

type MatchCreated struct {
	MatchID      string   `json:"match_id"`
	PlayerIDs    []string `json:"player_ids"`
	StakeVP      int64    `json:"stake_vp"`
	PotVP        int64    `json:"pot_vp"`
	PlayersCount int      `json:"players_count"`
	TsUnixMs     int64    `json:"ts_unix_ms"`
}
