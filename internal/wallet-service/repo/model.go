package repo

import "time"

// LedgerLine é uma movimentação da carteira vista pelo extrato.
type LedgerLine struct {
	TransferRef string
	AmountVP    int64
	CreatedAt   time.Time
}
