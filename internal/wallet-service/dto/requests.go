package dto

type DepositRequest struct {
	AmountVP    int64  `json:"amountVp"`
	ExternalRef string `json:"externalRef,omitempty"` // opcional p/ idempotência simples
}
