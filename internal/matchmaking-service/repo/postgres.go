package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Postgres implementa a persistência de tickets e matches.
// Toda transição de estado é um UPDATE condicional sobre o estado
// persistido; linhas não afetadas viram ErrConflict para o chamador
// revalidar dentro do lock.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// CreateTicket insere um ticket QUEUED. O índice único parcial em
// tickets(user_id) WHERE status='QUEUED' é o backstop do invariante
// "um ticket na fila por usuário".
func (p *Postgres) CreateTicket(ctx context.Context, t *Ticket) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tickets (id, user_id, stake_vp, players_count, status)
		VALUES ($1,$2,$3,$4,'QUEUED')`,
		t.ID, t.UserID, t.StakeVP, t.PlayersCount,
	)
	if err != nil {
		if pqe, ok := err.(*pq.Error); ok && pqe.Code == "23505" {
			return ErrAlreadyInProgress
		}
		return err
	}
	return nil
}

// QueuedTicketByUser retorna o ticket QUEUED do usuário, se houver.
func (p *Postgres) QueuedTicketByUser(ctx context.Context, userID string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, stake_vp, players_count, status, COALESCE(match_id,''), created_at
		FROM tickets WHERE user_id=$1 AND status='QUEUED'`, userID)
	return scanTicket(row)
}

// GetTicket busca um ticket pelo id.
func (p *Postgres) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, stake_vp, players_count, status, COALESCE(match_id,''), created_at
		FROM tickets WHERE id=$1`, ticketID)
	return scanTicket(row)
}

// QueuedTickets lista os tickets QUEUED compatíveis (mesmo stake, mesmo
// players_count) em ordem de criação: o mais antigo pareia primeiro.
func (p *Postgres) QueuedTickets(ctx context.Context, stakeVP int64, playersCount int) ([]*Ticket, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, stake_vp, players_count, status, COALESCE(match_id,''), created_at
		FROM tickets
		WHERE status='QUEUED' AND stake_vp=$1 AND players_count=$2
		ORDER BY created_at ASC`, stakeVP, playersCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicketRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// QueuedBuckets lista os buckets com tickets QUEUED suficientes pra fechar
// quórum. Alimenta a varredura periódica de pareamento.
func (p *Postgres) QueuedBuckets(ctx context.Context) ([]Bucket, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT stake_vp, players_count
		FROM tickets
		WHERE status='QUEUED'
		GROUP BY stake_vp, players_count
		HAVING COUNT(DISTINCT user_id) >= players_count`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.StakeVP, &b.PlayersCount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CancelTicket transiciona QUEUED→CANCELLED. ErrConflict se o ticket
// já saiu da fila (pareado ou cancelado em corrida).
func (p *Postgres) CancelTicket(ctx context.Context, ticketID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tickets SET status='CANCELLED' WHERE id=$1 AND status='QUEUED'`, ticketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CreateMatchFromTickets transiciona os tickets selecionados para MATCHED
// e cria o match com seus jogadores, tudo em uma transação. Se qualquer
// ticket já não estiver QUEUED, nada é aplicado (ErrConflict).
func (p *Postgres) CreateMatchFromTickets(ctx context.Context, ticketIDs []string, m *Match) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tickets SET status='MATCHED', match_id=$1
		WHERE id = ANY($2) AND status='QUEUED'`,
		m.ID, pq.Array(ticketIDs))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != int64(len(ticketIDs)) {
		return ErrConflict
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO matches (id, stake_vp, pot_vp, players_count, status, round)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.StakeVP, m.PotVP, m.PlayersCount, m.Status, m.Round); err != nil {
		return err
	}

	for _, pl := range m.Players {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO match_players (match_id, user_id, seat) VALUES ($1,$2,$3)`,
			m.ID, pl.UserID, pl.Seat); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetMatch carrega o match com seus jogadores.
func (p *Postgres) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	m := &Match{ID: matchID}
	err := p.db.QueryRowContext(ctx, `
		SELECT stake_vp, pot_vp, players_count, status, round, created_at, updated_at, finished_at
		FROM matches WHERE id=$1`, matchID).
		Scan(&m.StakeVP, &m.PotVP, &m.PlayersCount, &m.Status, &m.Round, &m.CreatedAt, &m.UpdatedAt, &m.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, seat, eliminated_round, winner
		FROM match_players WHERE match_id=$1 ORDER BY seat ASC`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pl MatchPlayer
		if err := rows.Scan(&pl.UserID, &pl.Seat, &pl.EliminatedRound, &pl.Winner); err != nil {
			return nil, err
		}
		m.Players = append(m.Players, pl)
	}
	return m, rows.Err()
}

// ActiveMatchForUser retorna o match WAITING/ACTIVE do usuário, se houver.
func (p *Postgres) ActiveMatchForUser(ctx context.Context, userID string) (*Match, error) {
	var matchID string
	err := p.db.QueryRowContext(ctx, `
		SELECT mp.match_id
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		WHERE mp.user_id=$1 AND m.status IN ('WAITING','ACTIVE')
		LIMIT 1`, userID).Scan(&matchID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.GetMatch(ctx, matchID)
}

// InsertMove registra a jogada write-once. A PK (match_id, round, user_id)
// garante no banco que a segunda escrita do mesmo trio nunca aplica.
func (p *Postgres) InsertMove(ctx context.Context, matchID string, round int, userID, move string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO match_moves (match_id, round, user_id, move)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (match_id, round, user_id) DO NOTHING`,
		matchID, round, userID, move)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MovesForRound retorna as jogadas registradas de uma rodada.
func (p *Postgres) MovesForRound(ctx context.Context, matchID string, round int) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, move FROM match_moves WHERE match_id=$1 AND round=$2`, matchID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var uid, mv string
		if err := rows.Scan(&uid, &mv); err != nil {
			return nil, err
		}
		out[uid] = mv
	}
	return out, rows.Err()
}

// ResolveRound elimina os perdedores e avança a rodada, condicionado ao
// par (status ACTIVE, round atual) persistido.
func (p *Postgres) ResolveRound(ctx context.Context, matchID string, fromRound int, eliminated []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE matches SET round = round + 1, updated_at = NOW()
		WHERE id=$1 AND status='ACTIVE' AND round=$2`, matchID, fromRound)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}

	if len(eliminated) > 0 {
		if _, err = tx.ExecContext(ctx, `
			UPDATE match_players SET eliminated_round=$1
			WHERE match_id=$2 AND user_id = ANY($3) AND eliminated_round IS NULL`,
			fromRound, matchID, pq.Array(eliminated)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FinishMatch fecha o match em FINISHED, marcando eliminados da última
// rodada e vencedores. Condicional em ACTIVE+round: entre dois últimos
// jogadores concorrentes, só um fecha; o outro recebe ErrConflict.
func (p *Postgres) FinishMatch(ctx context.Context, matchID string, fromRound int, eliminated, winners []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE matches SET status='FINISHED', updated_at=NOW(), finished_at=NOW()
		WHERE id=$1 AND status='ACTIVE' AND round=$2`, matchID, fromRound)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}

	if len(eliminated) > 0 {
		if _, err = tx.ExecContext(ctx, `
			UPDATE match_players SET eliminated_round=$1
			WHERE match_id=$2 AND user_id = ANY($3) AND eliminated_round IS NULL`,
			fromRound, matchID, pq.Array(eliminated)); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE match_players SET winner=TRUE
		WHERE match_id=$1 AND user_id = ANY($2)`,
		matchID, pq.Array(winners)); err != nil {
		return err
	}

	return tx.Commit()
}

// CancelMatch transiciona WAITING/ACTIVE→CANCELLED.
func (p *Postgres) CancelMatch(ctx context.Context, matchID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE matches SET status='CANCELLED', updated_at=NOW(), finished_at=NOW()
		WHERE id=$1 AND status IN ('WAITING','ACTIVE')`, matchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// HistoryForUser lista os matches terminais do próprio usuário,
// mais recente primeiro. Não existe variante cross-user.
func (p *Postgres) HistoryForUser(ctx context.Context, userID string, limit int) ([]*Match, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id
		FROM matches m
		JOIN match_players mp ON mp.match_id = m.id
		WHERE mp.user_id=$1 AND m.status IN ('FINISHED','CANCELLED')
		ORDER BY m.finished_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Match, 0, len(ids))
	for _, id := range ids {
		m, err := p.GetMatch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// StalledMatches lista matches ACTIVE sem progresso desde o corte.
// Alimenta o worker de timeout.
func (p *Postgres) StalledMatches(ctx context.Context, cutoff time.Time) ([]*Match, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM matches WHERE status='ACTIVE' AND updated_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Match, 0, len(ids))
	for _, id := range ids {
		m, err := p.GetMatch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// UnsettledTerminalIDs lista matches terminais cuja transferência de
// liquidação ainda não consta no ledger, mais antigos primeiro.
// Alimenta a varredura de liquidação pendente.
func (p *Postgres) UnsettledTerminalIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id
		FROM matches m
		WHERE m.status IN ('FINISHED','CANCELLED')
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_transfers lt WHERE lt.ref = 'settle:' || m.id
		  )
		ORDER BY m.finished_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanTicket(row *sql.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.UserID, &t.StakeVP, &t.PlayersCount, &t.Status, &t.MatchID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTicketRows(rows *sql.Rows) (*Ticket, error) {
	var t Ticket
	if err := rows.Scan(&t.ID, &t.UserID, &t.StakeVP, &t.PlayersCount, &t.Status, &t.MatchID, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
