package dto

import "time"

type WalletResponse struct {
	UserID    string `json:"userId"`
	WalletID  string `json:"walletId"`
	BalanceVP int64  `json:"balanceVp"`
}

type StatementLine struct {
	TransferRef string    `json:"transferRef"`
	AmountVP    int64     `json:"amountVp"`
	CreatedAt   time.Time `json:"createdAt"`
}
