package ledger

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// Postgres implementa o Ledger em banco, com lock pessimista por linha
// de carteira e registro de idempotência em ledger_transfers.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Transfer aplica todas as linhas em uma única transação.
// A linha de idempotência entra primeiro: se a ref já existe, nada é
// tocado; se qualquer conta ficaria negativa, tudo é desfeito, inclusive
// a linha de idempotência, então o match continua liquidável depois.
func (p *Postgres) Transfer(ctx context.Context, ref string, entries []Entry) (bool, error) {
	norm, err := normalize(entries)
	if err != nil {
		return false, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transfers(ref) VALUES($1) ON CONFLICT (ref) DO NOTHING`, ref)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil // replay: já aplicada
	}

	// contas em ordem determinística (normalize ordena por userID)
	for _, e := range norm {
		walletID, balance, err := lockWallet(ctx, tx, e.UserID)
		if err != nil {
			return false, err
		}
		if balance+e.AmountVP < 0 {
			return false, ErrInsufficientFunds
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE wallets SET balance_vp = balance_vp + $1, version = version + 1 WHERE id=$2`,
			e.AmountVP, walletID); err != nil {
			return false, err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_ledger(wallet_id, transfer_ref, amount_vp) VALUES($1,$2,$3)`,
			walletID, ref, e.AmountVP); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// lockWallet retorna a carteira da conta com a linha travada (FOR UPDATE),
// criando a carteira zerada se não existir (contas escrow/casa nascem aqui).
func lockWallet(ctx context.Context, tx *sql.Tx, userID string) (walletID string, balance int64, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT id, balance_vp FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&walletID, &balance)
	if err == sql.ErrNoRows {
		walletID = uuid.NewString()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO wallets(id, user_id, balance_vp, version) VALUES($1,$2,0,1)`,
			walletID, userID); err != nil {
			return "", 0, err
		}
		return walletID, 0, nil
	}
	return walletID, balance, err
}

// Applied consulta a linha de idempotência da ref.
func (p *Postgres) Applied(ctx context.Context, ref string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_transfers WHERE ref=$1)`, ref).Scan(&ok)
	return ok, err
}

// Balance retorna o saldo da conta; contas inexistentes valem zero.
func (p *Postgres) Balance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx,
		`SELECT balance_vp FROM wallets WHERE user_id=$1`, userID).Scan(&bal)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return bal, err
}
