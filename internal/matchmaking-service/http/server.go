package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/admission"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/dto"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/engine"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/repo"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/rules"
	"github.com/radieske/quickplay-platform-poc/internal/matchmaking-service/ws"
	"github.com/radieske/quickplay-platform-poc/internal/shared/auth"
	"github.com/radieske/quickplay-platform-poc/internal/shared/ledger"
	"github.com/radieske/quickplay-platform-poc/internal/shared/lock"
)

// Server expõe a API HTTP do matchmaking: entrada/saída da fila,
// jogadas e consultas de match, todas autenticadas e self-scoped.
type Server struct {
	log  *zap.Logger
	auth *auth.Resolver
	adm  *admission.Service
	eng  *engine.Service
	hub  *ws.Hub
}

func NewServer(log *zap.Logger, a *auth.Resolver, adm *admission.Service, eng *engine.Service, hub *ws.Hub) *Server {
	return &Server{log: log, auth: a, adm: adm, eng: eng, hub: hub}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/matchmaking/quickplay", s.quickplay) // POST
	mux.HandleFunc("/matchmaking/cancel", s.cancel)       // POST
	mux.HandleFunc("/matchmaking/tickets/", s.getTicket)  // GET /matchmaking/tickets/{id}
	mux.HandleFunc("/matches/history", s.history)         // GET
	mux.HandleFunc("/matches/", s.matches)                // GET /matches/{id} | POST /matches/{id}/moves
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.HandleWS)
	}
	return mux
}

func (s *Server) quickplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req dto.QuickplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	ticket, match, err := s.adm.SubmitQuickplay(r.Context(), userID, req.StakeVP, req.PlayersCount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := struct {
		Ticket dto.TicketResponse `json:"ticket"`
		Match  *dto.MatchResponse `json:"match,omitempty"`
	}{Ticket: ticketResponse(ticket)}
	if match != nil {
		mr := matchResponse(match, nil)
		resp.Match = &mr
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, resp)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ticket, err := s.adm.Cancel(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, ticketResponse(ticket))
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/matchmaking/tickets/")
	if id == "" {
		http.Error(w, "ticketId required", http.StatusBadRequest)
		return
	}

	ticket, err := s.adm.GetTicket(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, ticketResponse(ticket))
}

// matches despacha GET /matches/{id} e POST /matches/{id}/moves
func (s *Server) matches(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/matches/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet:
		s.getMatch(w, r, userID, parts[0])
	case len(parts) == 2 && parts[1] == "moves" && r.Method == http.MethodPost:
		s.submitMove(w, r, userID, parts[0])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request, userID, matchID string) {
	m, moved, err := s.eng.View(r.Context(), userID, matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, matchResponse(m, moved))
}

func (s *Server) submitMove(w http.ResponseWriter, r *http.Request, userID, matchID string) {
	var req dto.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if err := s.eng.SubmitMove(r.Context(), matchID, userID, req.Round, req.Move); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ACCEPTED"}`))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := s.eng.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]dto.MatchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse(m, nil))
	}
	writeJSON(w, out)
}

// writeError mapeia a taxonomia de erros pro status HTTP, separando as
// classes retryable (contenção), corrigíveis pelo caller e fatais.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	retryable := false

	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, admission.ErrValidation), errors.Is(err, rules.ErrInvalidMove):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, repo.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lock.ErrBusy):
		status = http.StatusConflict
		retryable = true
	case errors.Is(err, repo.ErrAlreadyInProgress),
		errors.Is(err, admission.ErrAlreadyMatched),
		errors.Is(err, repo.ErrDuplicateMove),
		errors.Is(err, engine.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrUnbalancedTransfer):
		// classe fatal de operação: loga e não expõe detalhe
		s.log.Error("unbalanced transfer reached http boundary", zap.Error(err))
		status = http.StatusInternalServerError
		err = errors.New("internal error")
	default:
		s.log.Error("unhandled error", zap.Error(err))
		status = http.StatusInternalServerError
		err = errors.New("internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: err.Error(), Retryable: retryable})
}

func ticketResponse(t *repo.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		TicketID:     t.ID,
		Status:       string(t.Status),
		StakeVP:      t.StakeVP,
		PlayersCount: t.PlayersCount,
		MatchID:      t.MatchID,
		CreatedAt:    t.CreatedAt,
	}
}

func matchResponse(m *repo.Match, moved []string) dto.MatchResponse {
	movedSet := make(map[string]struct{}, len(moved))
	for _, uid := range moved {
		movedSet[uid] = struct{}{}
	}

	players := make([]dto.PlayerView, 0, len(m.Players))
	for _, p := range m.Players {
		_, didMove := movedSet[p.UserID]
		players = append(players, dto.PlayerView{
			UserID:          p.UserID,
			EliminatedRound: p.EliminatedRound,
			Winner:          p.Winner,
			Moved:           didMove,
		})
	}
	return dto.MatchResponse{
		MatchID:    m.ID,
		Status:     string(m.Status),
		Round:      m.Round,
		StakeVP:    m.StakeVP,
		PotVP:      m.PotVP,
		Players:    players,
		CreatedAt:  m.CreatedAt,
		FinishedAt: m.FinishedAt,
	}
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
