// Package ws is the websocket transport adapter: it accepts
// connections, seeds each one's lobby bindings from the bootstrap query
// parameters, feeds inbound JSON messages to the coordinator, and
// implements the coordinator's Transport for sends and broadcasts.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/playlobby/gamelobby/internal/coordinator"
)

const writeTimeout = 5 * time.Second

// Handler is the coordinator-side contract the hub drives.
type Handler interface {
	HandleConnect(ctx context.Context, client *coordinator.Client)
	HandleMessage(ctx context.Context, client *coordinator.Client, msg coordinator.Message)
}

// Hub tracks live websocket connections keyed by their coordinator
// client.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[*coordinator.Client]*conn
}

// conn serializes writes; the websocket allows one concurrent writer.
type conn struct {
	sock *websocket.Conn
	mu   sync.Mutex
}

func (c *conn) write(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.sock.Write(ctx, websocket.MessageText, data)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[*coordinator.Client]*conn),
	}
}

// Send delivers a payload to one connection.
func (h *Hub) Send(ctx context.Context, payload any, client *coordinator.Client) error {
	h.mu.RLock()
	c := h.conns[client]
	h.mu.RUnlock()

	if c == nil {
		return errors.New("connection gone")
	}
	return c.write(ctx, payload)
}

// Broadcast evaluates payload per matching connection and sends it.
// A failed send is logged and skipped; the rest of the fan-out
// proceeds.
func (h *Hub) Broadcast(ctx context.Context, payload func(*coordinator.Client) any, match func(*coordinator.Client) bool) {
	h.mu.RLock()
	targets := make(map[*coordinator.Client]*conn, len(h.conns))
	for client, c := range h.conns {
		targets[client] = c
	}
	h.mu.RUnlock()

	for client, c := range targets {
		if !match(client) {
			continue
		}
		if err := c.write(ctx, payload(client)); err != nil {
			h.logger.Debug("broadcast send failed", "error", err)
		}
	}
}

// Handler returns the http.Handler that upgrades connections and pumps
// messages into the coordinator. Bootstrap hints come from the gameId,
// gameCode and playerId query parameters.
func (h *Hub) Handler(coord Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			h.logger.Error("websocket accept failed", "error", err)
			return
		}
		defer sock.CloseNow()

		q := r.URL.Query()
		client := &coordinator.Client{
			GameID:   q.Get("gameId"),
			GameCode: q.Get("gameCode"),
			PlayerID: q.Get("playerId"),
		}

		c := &conn{sock: sock}
		h.mu.Lock()
		h.conns[client] = c
		h.mu.Unlock()
		defer func() {
			h.mu.Lock()
			delete(h.conns, client)
			h.mu.Unlock()
		}()

		ctx := r.Context()
		coord.HandleConnect(ctx, client)

		for {
			_, data, err := sock.Read(ctx)
			if err != nil {
				h.logger.Debug("websocket read ended", "error", err)
				return
			}

			var msg coordinator.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				h.logger.Debug("dropping malformed message", "error", err)
				continue
			}

			coord.HandleMessage(ctx, client, msg)
		}
	}
}
