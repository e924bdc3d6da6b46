package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/shared/auth"
	"github.com/radieske/quickplay-platform-poc/internal/wallet-service/dto"
	"github.com/radieske/quickplay-platform-poc/internal/wallet-service/repo"
)

// Server expõe saldo, extrato e depósito da carteira do usuário autenticado.
type Server struct {
	log  *zap.Logger
	auth *auth.Resolver
	repo *repo.Postgres
}

func NewServer(log *zap.Logger, a *auth.Resolver, r *repo.Postgres) *Server {
	return &Server{log: log, auth: a, repo: r}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet", s.getWallet)              // GET
	mux.HandleFunc("/wallet/deposit", s.deposit)        // POST
	mux.HandleFunc("/wallet/statement", s.getStatement) // GET
	return mux
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	walletID, balance, err := s.repo.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		s.log.Error("get wallet", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, dto.WalletResponse{UserID: userID, WalletID: walletID, BalanceVP: balance})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AmountVP <= 0 {
		http.Error(w, "amountVp must be positive", http.StatusBadRequest)
		return
	}
	ref := req.ExternalRef
	if ref == "" {
		ref = newDepositRef()
	}

	walletID, balance, err := s.repo.Deposit(r.Context(), userID, req.AmountVP, ref)
	if err != nil {
		if isUniqueViolation(err) {
			// externalRef repetida: depósito já aplicado
			http.Error(w, "duplicate deposit", http.StatusConflict)
			return
		}
		s.log.Error("deposit", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.log.Info("deposit applied",
		zap.String("userId", userID),
		zap.Int64("amountVp", req.AmountVP))
	writeJSON(w, dto.WalletResponse{UserID: userID, WalletID: walletID, BalanceVP: balance})
}

func (s *Server) getStatement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := s.auth.UserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	lines, err := s.repo.Statement(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("statement", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]dto.StatementLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, dto.StatementLine{TransferRef: l.TransferRef, AmountVP: l.AmountVP, CreatedAt: l.CreatedAt})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
