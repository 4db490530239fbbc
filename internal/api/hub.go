// Package api exposes the engine's operational surface: a read-only
// inspection API over the ledger arena and a WebSocket hub streaming fill
// and settlement events. Nothing here participates in consensus.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openledger/chain-engine/internal/matching"
	"github.com/openledger/chain-engine/internal/metrics"
)

// EventMessage is a JSON message sent to WebSocket subscribers.
type EventMessage struct {
	Type     string `json:"type"` // "fill" or "global_settlement"
	OrderID  string `json:"order_id,omitempty"`
	Account  string `json:"account,omitempty"`
	Pays     string `json:"pays,omitempty"`
	Receives string `json:"receives,omitempty"`
	IsMaker  bool   `json:"is_maker,omitempty"`
	IsCall   bool   `json:"is_call,omitempty"`

	AssetID     string `json:"asset_id,omitempty"`
	SettlePrice string `json:"settle_price,omitempty"`
	Fund        string `json:"fund,omitempty"`
}

// Hub manages WebSocket connections and broadcasts market events to all
// connected clients. It implements matching.EventSink.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

var _ matching.EventSink = (*Hub)(nil)

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// OrderFilled broadcasts one side of an executed fill.
func (h *Hub) OrderFilled(ev matching.FillEvent) {
	h.send(EventMessage{
		Type:     "fill",
		OrderID:  ev.OrderID.String(),
		Account:  ev.Account.String(),
		Pays:     ev.Pays.String(),
		Receives: ev.Receives.String(),
		IsMaker:  ev.IsMaker,
		IsCall:   ev.IsCall,
	})
}

// GlobalSettlement broadcasts a market freeze.
func (h *Hub) GlobalSettlement(ev matching.SettlementEvent) {
	h.send(EventMessage{
		Type:        "global_settlement",
		AssetID:     ev.AssetID.String(),
		SettlePrice: ev.SettlePrice.String(),
		Fund:        ev.Fund.String(),
	})
}

func (h *Hub) send(msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full; subscribers must never block evaluation.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
