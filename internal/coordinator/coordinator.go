// Package coordinator binds live connections to a (room, identity) pair
// and drives lobby state transitions. It processes each inbound message
// to completion — resolve room, resolve identity, apply the action, run
// hooks, broadcast the recomputed view — serialized per room.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/playlobby/gamelobby/internal/lobby"
)

// Built-in message types. Callers add custom types with On.
const (
	ActionCreate = "create"
	ActionJoin   = "join"
	ActionStart  = "start"
	ActionLeave  = "leave"
	ActionEnd    = "end"
)

// Client is one live connection and its lobby bindings. The transport
// seeds the fields from the connection's bootstrap parameters; the
// coordinator rebinds them as rooms and identities resolve.
type Client struct {
	GameID   string
	GameCode string
	PlayerID string
}

// Transport is the boundary to the socket layer. Broadcast evaluates
// the payload factory per matching connection and delivers best-effort:
// one failed send must not abort the rest.
type Transport interface {
	Send(ctx context.Context, payload any, client *Client) error
	Broadcast(ctx context.Context, payload func(*Client) any, match func(*Client) bool)
}

// Message is an inbound wire message. Unrecognized top-level fields are
// kept in Rest and forwarded verbatim into the hook payload.
type Message struct {
	Type           string
	GameID         string
	GameCode       string
	ForceSpectator bool
	Rest           map[string]any
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Type, _ = raw["type"].(string)
	m.GameID, _ = raw["gameId"].(string)
	m.GameCode, _ = raw["gameCode"].(string)
	m.ForceSpectator, _ = raw["forceSpectator"].(bool)
	delete(raw, "type")
	delete(raw, "gameId")
	delete(raw, "gameCode")
	delete(raw, "forceSpectator")
	m.Rest = raw
	return nil
}

// EventPayload is what hooks registered on the coordinator receive. It
// is mutable: a hook may rewrite it before the next hook runs.
type EventPayload struct {
	Type     string
	GameID   string
	PlayerID string
	Rest     map[string]any
}

// View is the per-connection snapshot sent after every state change.
// An unresolvable connection gets the zero View, which marshals to {}.
type View struct {
	Game      *lobby.Game      `json:"game,omitempty"`
	Player    *lobby.Player    `json:"player,omitempty"`
	Spectator *lobby.Spectator `json:"spectator,omitempty"`
	Turn      *lobby.Turn      `json:"turn,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Coordinator drives the lobby session state machine over a Store and
// fans results out through a Transport.
type Coordinator struct {
	store     lobby.Store
	transport Transport
	logger    *slog.Logger
	events    *lobby.Registry

	mu    sync.Mutex
	rooms map[string]*sync.Mutex
}

// New builds a coordinator with the built-in message vocabulary.
func New(store lobby.Store, transport Transport, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		transport: transport,
		logger:    logger,
		events:    lobby.NewRegistry(ActionCreate, ActionJoin, ActionStart, ActionLeave, ActionEnd),
		rooms:     make(map[string]*sync.Mutex),
	}
}

// Store exposes the session store, mainly so callers can attach
// store-level hooks next to coordinator ones.
func (c *Coordinator) Store() lobby.Store { return c.store }

// On attaches a hook to a message type, defining the type if it is not
// already in the vocabulary. Messages whose type has no definition are
// dropped, so registering a hook is what makes a custom type routable.
func (c *Coordinator) On(name string, hook lobby.Hook) lobby.Subscription {
	c.events.Define(name)
	sub, err := c.events.AddListener(name, hook)
	if err != nil {
		// Unreachable: the name was just defined.
		c.logger.Error("registering hook", "type", name, "error", err)
	}
	return sub
}

// Off removes a hook registered with On.
func (c *Coordinator) Off(sub lobby.Subscription) { c.events.RemoveListener(sub) }

// HandleConnect sends a freshly connected client its current view. The
// transport has already seeded the client's bindings from the bootstrap
// parameters; nothing is created here. View computation reads live
// store entities, so it happens inside the room's serialization region
// like every message handler.
func (c *Coordinator) HandleConnect(ctx context.Context, client *Client) {
	if game := c.lookupGame(ctx, client); game != nil {
		unlock := c.lockRoom(game.GameID)
		defer unlock()
	}
	c.send(ctx, c.viewFor(ctx, client), client)
}

// HandleMessage runs one inbound message through the full state
// machine. Failures are reported to the originating connection only;
// the coordinator keeps serving.
func (c *Coordinator) HandleMessage(ctx context.Context, client *Client, msg Message) {
	if !c.events.Known(msg.Type) {
		// Unrecognized types, including client keep-alive pings.
		return
	}

	game, err := c.resolveGame(ctx, &msg)
	if err != nil {
		c.send(ctx, errorPayload{Error: err.Error()}, client)
		return
	}

	unlock := c.lockRoom(game.GameID)
	ended := false
	defer func() {
		unlock()
		if ended {
			c.forgetRoom(game.GameID)
		}
	}()

	client.GameID = game.GameID

	if err := c.resolveIdentity(ctx, client, game, msg.ForceSpectator); err != nil {
		c.send(ctx, errorPayload{Error: err.Error()}, client)
		return
	}

	switch msg.Type {
	case ActionStart:
		if _, err := c.store.StartGame(ctx, client.GameID); err != nil {
			c.send(ctx, errorPayload{Error: err.Error()}, client)
		}
	case ActionLeave:
		if err := c.store.LeaveGame(ctx, client.GameID, client.PlayerID); err != nil {
			c.send(ctx, errorPayload{Error: err.Error()}, client)
		}
		client.GameID, client.GameCode, client.PlayerID = "", "", ""
		c.send(ctx, View{}, client)
	case ActionEnd:
		if err := c.store.EndGame(ctx, client.GameID); err != nil {
			c.send(ctx, errorPayload{Error: err.Error()}, client)
		}
		ended = true
		client.GameID, client.GameCode, client.PlayerID = "", "", ""
		c.send(ctx, View{}, client)
	}

	payload := &EventPayload{
		Type:     msg.Type,
		GameID:   client.GameID,
		PlayerID: client.PlayerID,
		Rest:     msg.Rest,
	}
	if err := c.events.Run(ctx, msg.Type, payload, c.store); err != nil {
		c.logger.Error("event hooks failed", "type", msg.Type, "game_id", game.GameID, "error", err)
		c.send(ctx, errorPayload{Error: err.Error()}, client)
		return
	}

	c.broadcast(ctx, game.GameID)
}

// resolveGame finds the room by id, then by code, then creates one.
func (c *Coordinator) resolveGame(ctx context.Context, msg *Message) (*lobby.Game, error) {
	if msg.GameID != "" {
		if game, err := c.store.FindGame(ctx, msg.GameID); err == nil {
			return game, nil
		}
	}
	if msg.GameCode != "" {
		if game, err := c.store.FindGameWithCode(ctx, msg.GameCode); err == nil {
			return game, nil
		}
	}
	return c.store.CreateGame(ctx, "")
}

// resolveIdentity keeps a known identity, otherwise admits a new one.
// The admission policy lives here and only here: a started game (or an
// explicit request) gets a spectator, anything else gets a player.
func (c *Coordinator) resolveIdentity(ctx context.Context, client *Client, game *lobby.Game, forceSpectator bool) error {
	if client.PlayerID != "" {
		if player, err := c.store.FindPlayer(ctx, game.GameID, client.PlayerID); err == nil {
			client.PlayerID = player.PlayerID
			return nil
		}
		if spectator, err := c.store.FindSpectator(ctx, game.GameID, client.PlayerID); err == nil {
			client.PlayerID = spectator.SpectatorID
			return nil
		}
	}

	if game.Started || forceSpectator {
		spectator, err := c.store.CreateSpectator(ctx, game.GameID)
		if err != nil {
			return err
		}
		client.PlayerID = spectator.SpectatorID
		return nil
	}

	player, err := c.store.CreatePlayer(ctx, game.GameID, "", "")
	if err != nil {
		return err
	}
	client.PlayerID = player.PlayerID
	return nil
}

// viewFor computes a connection's snapshot. When the room or the
// identity no longer resolves, the bindings are cleared and the empty
// view is returned.
func (c *Coordinator) viewFor(ctx context.Context, client *Client) View {
	game := c.lookupGame(ctx, client)
	if game != nil {
		player, _ := c.store.FindPlayer(ctx, game.GameID, client.PlayerID)
		spectator, _ := c.store.FindSpectator(ctx, game.GameID, client.PlayerID)

		if player != nil || spectator != nil {
			turn, err := c.store.CurrentTurn(ctx, game.GameID)
			if err != nil && !errors.Is(err, lobby.ErrNotFound) {
				c.logger.Error("loading current turn", "game_id", game.GameID, "error", err)
			}
			return View{Game: game, Player: player, Spectator: spectator, Turn: turn}
		}
	}

	client.GameID, client.GameCode, client.PlayerID = "", "", ""
	return View{}
}

func (c *Coordinator) lookupGame(ctx context.Context, client *Client) *lobby.Game {
	if client.GameID != "" {
		if game, err := c.store.FindGame(ctx, client.GameID); err == nil {
			return game
		}
	}
	if client.GameCode != "" {
		if game, err := c.store.FindGameWithCode(ctx, client.GameCode); err == nil {
			return game
		}
	}
	return nil
}

func (c *Coordinator) broadcast(ctx context.Context, gameID string) {
	c.transport.Broadcast(ctx,
		func(client *Client) any { return c.viewFor(ctx, client) },
		func(client *Client) bool { return client.GameID == gameID })
}

func (c *Coordinator) send(ctx context.Context, payload any, client *Client) {
	if err := c.transport.Send(ctx, payload, client); err != nil {
		c.logger.Debug("send failed", "error", err)
	}
}

// lockRoom serializes message handling per room. Store backends do not
// need their own cross-operation locking as long as every mutation of a
// room happens inside this region.
func (c *Coordinator) lockRoom(gameID string) func() {
	c.mu.Lock()
	l, ok := c.rooms[gameID]
	if !ok {
		l = &sync.Mutex{}
		c.rooms[gameID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (c *Coordinator) forgetRoom(gameID string) {
	c.mu.Lock()
	delete(c.rooms, gameID)
	c.mu.Unlock()
}
