package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/quickplay-platform-poc/pkg/contracts/events"
)

// Authorizer decide se o usuário do request pode assinar um matchId.
// Assinatura segue a mesma regra das leituras por id: não participante
// não descobre nem que o match existe.
type Authorizer func(ctx context.Context, r *http.Request, matchID string) bool

// client embrulha a conexão com um mutex de escrita: o loop de leitura
// (pong, erro de subscribe) e o Broadcast do assinante Redis escrevem na
// mesma conexão a partir de goroutines diferentes, e o gorilla/websocket
// não tolera escritas concorrentes.
type client struct {
	wmu  sync.Mutex
	conn *websocket.Conn
}

func (c *client) writeJSON(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) writeText(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas de atualizações de match
// subs: mapeia matchID para o conjunto de conexões inscritas
type Hub struct {
	upgrader  websocket.Upgrader
	authorize Authorizer
	mu        sync.RWMutex
	// matchID -> set of clients
	subs map[string]map[*client]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
// e autorização por matchId.
func NewHub(allowOrigin func(r *http.Request) bool, authorize Authorizer) *Hub {
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: allowOrigin},
		authorize: authorize,
		subs:      make(map[string]map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
// Permite subscribe/unsubscribe em matches e responde a pings
// Cada cliente pode se inscrever em múltiplos matchIDs
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	cl := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if !h.authorize(r.Context(), r, msg.MatchID) {
				_ = cl.writeJSON(map[string]string{"type": "error", "error": "not found"})
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.MatchID]; !ok {
				h.subs[msg.MatchID] = make(map[*client]struct{})
			}
			h.subs[msg.MatchID][cl] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			if m, ok := h.subs[msg.MatchID]; ok {
				delete(m, cl)
				if len(m) == 0 {
					delete(h.subs, msg.MatchID)
				}
			}
			h.mu.Unlock()
		case "ping":
			_ = cl.writeJSON(map[string]string{"type": "pong"})
		}
	}
	// Remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for _, set := range h.subs {
		delete(set, cl)
	}
	h.mu.Unlock()
}

// Broadcast envia uma atualização para todos os clientes inscritos no matchID correspondente
func (h *Hub) Broadcast(update events.MatchUpdate) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.subs[update.MatchID]))
	for c := range h.subs[update.MatchID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	b, _ := json.Marshal(update)
	for _, c := range clients {
		_ = c.writeText(b)
	}
}
