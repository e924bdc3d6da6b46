package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// Postgres implementa operações de carteira em banco.
// Bloqueio, caução e liquidação de matches NÃO vivem aqui: são
// transferências do ledger compartilhado. A wallet-service só consulta
// saldo e credita depósitos.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// GetOrCreateWallet retorna o walletId e saldo de um usuário, criando a carteira se não existir
// Usa transação para garantir atomicidade
func (p *Postgres) GetOrCreateWallet(ctx context.Context, userID string) (walletID string, balance int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, err
	}
	defer tx.Rollback()

	var id string
	var bal int64
	err = tx.QueryRowContext(ctx, `SELECT id, balance_vp FROM wallets WHERE user_id=$1`, userID).Scan(&id, &bal)
	if err == sql.ErrNoRows {
		id = uuid.New().String()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO wallets(id, user_id, balance_vp, version) VALUES($1,$2,0,1)`,
			id, userID); err != nil {
			return "", 0, err
		}
		bal = 0
	} else if err != nil {
		return "", 0, err
	}

	if err = tx.Commit(); err != nil {
		return "", 0, err
	}

	return id, bal, nil
}

// Deposit incrementa o saldo da carteira e registra a operação no ledger
// Garante lock pessimista na linha da carteira
func (p *Postgres) Deposit(ctx context.Context, userID string, amount int64, externalRef string) (walletID string, newBalance int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		// ON CONFLICT cobre a corrida de criação entre dois primeiros depósitos
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO wallets(id, user_id, balance_vp, version) VALUES($1,$2,0,1)
			 ON CONFLICT (user_id) DO NOTHING`,
			uuid.New().String(), userID); err != nil {
			return "", 0, err
		}
		if err = tx.QueryRowContext(ctx,
			`SELECT id FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&id); err != nil {
			return "", 0, err
		}
	} else if err != nil {
		return "", 0, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE wallets SET balance_vp = balance_vp + $1, version = version + 1 WHERE id=$2`, amount, id); err != nil {
		return "", 0, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO wallet_ledger(wallet_id, transfer_ref, amount_vp) VALUES($1,$2,$3)`,
		id, "deposit:"+externalRef, amount); err != nil {
		return "", 0, err
	}

	if err = tx.QueryRowContext(ctx, `SELECT balance_vp FROM wallets WHERE id=$1`, id).Scan(&newBalance); err != nil {
		return "", 0, err
	}

	if err = tx.Commit(); err != nil {
		return "", 0, err
	}
	return id, newBalance, nil
}

// Statement lista as últimas movimentações da carteira do usuário,
// mais recente primeiro.
func (p *Postgres) Statement(ctx context.Context, userID string, limit int) ([]LedgerLine, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT wl.transfer_ref, wl.amount_vp, wl.created_at
		FROM wallet_ledger wl
		JOIN wallets w ON w.id = wl.wallet_id
		WHERE w.user_id=$1
		ORDER BY wl.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerLine
	for rows.Next() {
		var l LedgerLine
		if err := rows.Scan(&l.TransferRef, &l.AmountVP, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
