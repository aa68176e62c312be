// Package lobby holds the session-store layer for ephemeral multiplayer
// lobbies: the entity types, the event-hook registry, the Store contract,
// and its two backends (in-memory and SQLite).
package lobby

// Game is one lobby session. It owns its players, spectators and turns;
// all mutation goes through a Store.
type Game struct {
	GameID     string         `json:"gameId"`
	GameCode   string         `json:"gameCode"`
	Started    bool           `json:"started"`
	Players    []*Player      `json:"players"`
	Spectators []*Spectator   `json:"spectators"`
	Turns      []*Turn        `json:"turns"`
	Custom     map[string]any `json:"custom"`
}

// Player is an identity admitted before the game started. At most one
// player per game is admin: the first one admitted into an empty player
// list.
type Player struct {
	PlayerID string         `json:"playerId"`
	GameID   string         `json:"gameId"`
	Name     string         `json:"name"`
	Avatar   string         `json:"avatar"`
	IsAdmin  bool           `json:"isAdmin"`
	Custom   map[string]any `json:"custom"`
}

// Spectator is an identity admitted after the game started (or that
// asked to watch).
type Spectator struct {
	SpectatorID string         `json:"spectatorId"`
	GameID      string         `json:"gameId"`
	Name        string         `json:"name"`
	Custom      map[string]any `json:"custom"`
}

// Turn is an append-only progress marker. Index is 1-based, strictly
// increasing with no gaps; the turn with the highest index is current.
type Turn struct {
	TurnID string         `json:"turnId"`
	GameID string         `json:"gameId"`
	Index  int            `json:"index"`
	Custom map[string]any `json:"custom"`
}

// FindPlayer returns the player with the given id, or nil.
func (g *Game) FindPlayer(playerID string) *Player {
	for _, p := range g.Players {
		if p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

// FindSpectator returns the spectator with the given id, or nil.
func (g *Game) FindSpectator(spectatorID string) *Spectator {
	for _, s := range g.Spectators {
		if s.SpectatorID == spectatorID {
			return s
		}
	}
	return nil
}

// CurrentTurn returns the turn with the highest index, or nil if the
// game has no turns yet.
func (g *Game) CurrentTurn() *Turn {
	if len(g.Turns) == 0 {
		return nil
	}
	return g.Turns[len(g.Turns)-1]
}
