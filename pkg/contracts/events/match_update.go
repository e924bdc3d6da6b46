package events

// Tipos de atualização empurrados pros clientes via pub/sub + websocket.
const (
	UpdateRoundResolved  = "round_resolved"
	UpdateMatchFinished  = "match_finished"
	UpdateMatchCancelled = "match_cancelled"
)

// MatchUpdate é o payload de push em tempo real de um match.
// Nunca carrega as jogadas em si, só progresso de estado.
type MatchUpdate struct {
	MatchID   string   `json:"match_id"`
	Status    string   `json:"status"`
	Round     int      `json:"round"`
	Kind      string   `json:"kind"`
	WinnerIDs []string `json:"winner_ids,omitempty"`
	TsUnixMs  int64    `json:"ts_unix_ms"`
}
