package repo

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory implementa o mesmo contrato do Postgres em memória de processo,
// com as mesmas transições condicionais. Usado nos testes e em local dev.
type Memory struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	matches map[string]*Match
	moves   map[string]map[int]map[string]string // matchID -> round -> userID -> move
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tickets: make(map[string]*Ticket),
		matches: make(map[string]*Match),
		moves:   make(map[string]map[int]map[string]string),
		now:     time.Now,
	}
}

func (r *Memory) CreateTicket(_ context.Context, t *Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ex := range r.tickets {
		if ex.UserID == t.UserID && ex.Status == TicketQueued {
			return ErrAlreadyInProgress
		}
	}
	cp := *t
	cp.Status = TicketQueued
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.tickets[cp.ID] = &cp
	return nil
}

func (r *Memory) QueuedTicketByUser(_ context.Context, userID string) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tickets {
		if t.UserID == userID && t.Status == TicketQueued {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Memory) GetTicket(_ context.Context, ticketID string) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *Memory) QueuedTickets(_ context.Context, stakeVP int64, playersCount int) ([]*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Ticket
	for _, t := range r.tickets {
		if t.Status == TicketQueued && t.StakeVP == stakeVP && t.PlayersCount == playersCount {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Memory) QueuedBuckets(_ context.Context) ([]Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make(map[Bucket]map[string]struct{})
	for _, t := range r.tickets {
		if t.Status != TicketQueued {
			continue
		}
		b := Bucket{StakeVP: t.StakeVP, PlayersCount: t.PlayersCount}
		if users[b] == nil {
			users[b] = make(map[string]struct{})
		}
		users[b][t.UserID] = struct{}{}
	}

	var out []Bucket
	for b, us := range users {
		if len(us) >= b.PlayersCount {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StakeVP != out[j].StakeVP {
			return out[i].StakeVP < out[j].StakeVP
		}
		return out[i].PlayersCount < out[j].PlayersCount
	})
	return out, nil
}

func (r *Memory) CancelTicket(_ context.Context, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[ticketID]
	if !ok || t.Status != TicketQueued {
		return ErrConflict
	}
	t.Status = TicketCancelled
	return nil
}

func (r *Memory) CreateMatchFromTickets(_ context.Context, ticketIDs []string, m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ticketIDs {
		t, ok := r.tickets[id]
		if !ok || t.Status != TicketQueued {
			return ErrConflict
		}
	}
	for _, id := range ticketIDs {
		r.tickets[id].Status = TicketMatched
		r.tickets[id].MatchID = m.ID
	}

	cp := cloneMatch(m)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	cp.UpdatedAt = r.now()
	r.matches[cp.ID] = cp
	return nil
}

func (r *Memory) GetMatch(_ context.Context, matchID string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMatch(m), nil
}

func (r *Memory) ActiveMatchForUser(_ context.Context, userID string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.matches {
		if m.Status != MatchWaiting && m.Status != MatchActive {
			continue
		}
		if m.Player(userID) != nil {
			return cloneMatch(m), nil
		}
	}
	return nil, ErrNotFound
}

func (r *Memory) InsertMove(_ context.Context, matchID string, round int, userID, move string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.moves[matchID] == nil {
		r.moves[matchID] = make(map[int]map[string]string)
	}
	if r.moves[matchID][round] == nil {
		r.moves[matchID][round] = make(map[string]string)
	}
	if _, ok := r.moves[matchID][round][userID]; ok {
		return false, nil
	}
	r.moves[matchID][round][userID] = move
	return true, nil
}

func (r *Memory) MovesForRound(_ context.Context, matchID string, round int) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string)
	for uid, mv := range r.moves[matchID][round] {
		out[uid] = mv
	}
	return out, nil
}

func (r *Memory) ResolveRound(_ context.Context, matchID string, fromRound int, eliminated []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok || m.Status != MatchActive || m.Round != fromRound {
		return ErrConflict
	}
	m.Round++
	m.UpdatedAt = r.now()
	eliminate(m, fromRound, eliminated)
	return nil
}

func (r *Memory) FinishMatch(_ context.Context, matchID string, fromRound int, eliminated, winners []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok || m.Status != MatchActive || m.Round != fromRound {
		return ErrConflict
	}
	m.Status = MatchFinished
	now := r.now()
	m.UpdatedAt = now
	m.FinishedAt = &now
	eliminate(m, fromRound, eliminated)
	for _, w := range winners {
		if p := m.Player(w); p != nil {
			p.Winner = true
		}
	}
	return nil
}

func (r *Memory) CancelMatch(_ context.Context, matchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok || (m.Status != MatchWaiting && m.Status != MatchActive) {
		return ErrConflict
	}
	m.Status = MatchCancelled
	now := r.now()
	m.UpdatedAt = now
	m.FinishedAt = &now
	return nil
}

func (r *Memory) HistoryForUser(_ context.Context, userID string, limit int) ([]*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Match
	for _, m := range r.matches {
		if !m.Status.Terminal() || m.Player(userID) == nil {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(*out[j].FinishedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Memory) StalledMatches(_ context.Context, cutoff time.Time) ([]*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Match
	for _, m := range r.matches {
		if m.Status == MatchActive && m.UpdatedAt.Before(cutoff) {
			out = append(out, cloneMatch(m))
		}
	}
	return out, nil
}

// UnsettledTerminalIDs devolve os matches terminais. Sem visão do ledger
// aqui dentro, quem chama filtra pelas refs já aplicadas; a liquidação é
// idempotente, então o excesso é inerte.
func (r *Memory) UnsettledTerminalIDs(_ context.Context, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for id, m := range r.matches {
		if m.Status.Terminal() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TouchMatch recua updated_at de um match (helper de teste do timeout).
func (r *Memory) TouchMatch(matchID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.matches[matchID]; ok {
		m.UpdatedAt = at
	}
}

func eliminate(m *Match, round int, userIDs []string) {
	for _, id := range userIDs {
		if p := m.Player(id); p != nil && p.EliminatedRound == nil {
			rd := round
			p.EliminatedRound = &rd
		}
	}
}

func cloneMatch(m *Match) *Match {
	cp := *m
	cp.Players = make([]MatchPlayer, len(m.Players))
	copy(cp.Players, m.Players)
	for i := range cp.Players {
		if m.Players[i].EliminatedRound != nil {
			rd := *m.Players[i].EliminatedRound
			cp.Players[i].EliminatedRound = &rd
		}
	}
	if m.FinishedAt != nil {
		ts := *m.FinishedAt
		cp.FinishedAt = &ts
	}
	return &cp
}
