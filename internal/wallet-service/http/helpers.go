package http

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func newDepositRef() string { return uuid.New().String() }

// isUniqueViolation detecta colisão de (wallet_id, transfer_ref) no wallet_ledger.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
