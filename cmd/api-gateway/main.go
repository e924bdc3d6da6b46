package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/radieske/quickplay-platform-poc/internal/shared/config"
	"github.com/radieske/quickplay-platform-poc/internal/shared/logger"
)

func rp(to string) *httputil.ReverseProxy {
	u, _ := url.Parse(to)
	return httputil.NewSingleHostReverseProxy(u)
}

func main() {
	cfg := config.Load()
	log, _ := logger.New("api-gateway", cfg.Env)
	defer log.Sync()

	// targets
	matchmakingURL := os.Getenv("MATCHMAKING_URL")
	if matchmakingURL == "" {
		matchmakingURL = "http://localhost:8084"
	}
	walletURL := os.Getenv("WALLET_URL")
	if walletURL == "" {
		walletURL = "http://localhost:8082"
	}
	matchmaking := rp(matchmakingURL)
	wallet := rp(walletURL)

	mux := http.NewServeMux()

	// quickplay (ex.: /api/matchmaking/* -> matchmaking-service)
	mux.Handle("/api/matchmaking/", http.StripPrefix("/api", matchmaking))

	// matches e ws vivem no mesmo serviço
	mux.Handle("/api/matches/", http.StripPrefix("/api", matchmaking))
	mux.Handle("/api/ws", http.StripPrefix("/api", matchmaking))

	// wallet (ex.: /api/wallet/* -> wallet-service)
	mux.Handle("/api/wallet/", http.StripPrefix("/api", wallet))
	mux.Handle("/api/wallet", http.StripPrefix("/api", wallet))

	addr := ":" + cfg.HTTPPort
	log.Info("api-gateway listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, withCORS(mux)); err != nil && err != http.ErrServerClosed {
		log.Fatal("gateway failed", zap.Error(err))
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
