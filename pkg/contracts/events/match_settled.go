package events

// SettlementLine é uma linha (crédito/débito) aplicada na liquidação.
type SettlementLine struct {
	UserID   string `json:"user_id"`
	AmountVP int64  `json:"amount_vp"` // com sinal; soma de todas as linhas = 0
}

type MatchSettled struct {
	MatchID  string           `json:"match_id"`
	Status   string           `json:"status"` // FINISHED | CANCELLED
	FeeVP    int64            `json:"fee_vp"`
	Lines    []SettlementLine `json:"lines"`
	TsUnixMs int64            `json:"ts_unix_ms"`
}
