package lobby

import "context"

// Mutators applied by the edit operations. Which of the mutated fields
// actually persist is a backend decision: the in-memory backend keeps
// everything, the relational backend writes only its per-entity column
// allow-list.
type (
	GameMutator      func(*Game) error
	PlayerMutator    func(*Player) error
	SpectatorMutator func(*Spectator) error
	TurnMutator      func(*Turn) error
)

// Store is the canonical holder of lobby entities. Finds and edits
// report a missing target with ErrNotFound; LeaveGame treats an unknown
// identity inside an existing game as a no-op, and EndGame treats an
// absent game as a no-op.
//
// The admission policy (player vs spectator) is not the store's
// business: callers decide and invoke CreatePlayer or CreateSpectator
// explicitly.
type Store interface {
	// Setup (re)initializes backend resources. Idempotent.
	Setup(ctx context.Context) error

	// CreateGame creates an empty, unstarted game. An empty code means
	// "allocate one"; allocation fails with ErrCodeSpaceExhausted once
	// the retry budget is spent. Fires createGame.
	CreateGame(ctx context.Context, code string) (*Game, error)
	FindGame(ctx context.Context, gameID string) (*Game, error)
	FindGameWithCode(ctx context.Context, code string) (*Game, error)
	EditGame(ctx context.Context, gameID string, mutate GameMutator) (*Game, error)
	// LeaveGame removes the identity from whichever of players or
	// spectators holds it. Fires leaveGame with the game after removal.
	LeaveGame(ctx context.Context, gameID, identityID string) error
	// StartGame marks the game started and creates turn 1. Fires
	// startGame (after createTurn).
	StartGame(ctx context.Context, gameID string) (*Game, error)
	// EndGame deletes the game and everything it owns.
	EndGame(ctx context.Context, gameID string) error

	// CreatePlayer admits a player; the first player into an empty
	// player list is admin. Fires createPlayer.
	CreatePlayer(ctx context.Context, gameID, name, avatar string) (*Player, error)
	FindPlayer(ctx context.Context, gameID, playerID string) (*Player, error)
	EditPlayer(ctx context.Context, gameID, playerID string, mutate PlayerMutator) (*Player, error)

	// CreateSpectator admits a spectator. Fires createSpectator.
	CreateSpectator(ctx context.Context, gameID string) (*Spectator, error)
	FindSpectator(ctx context.Context, gameID, spectatorID string) (*Spectator, error)
	EditSpectator(ctx context.Context, gameID, spectatorID string, mutate SpectatorMutator) (*Spectator, error)

	// CreateTurn appends the next turn (index = count + 1). Fires
	// createTurn.
	CreateTurn(ctx context.Context, gameID string) (*Turn, error)
	FindTurn(ctx context.Context, gameID, turnID string) (*Turn, error)
	// CurrentTurn returns the turn with the highest index, or
	// ErrNotFound if the game has no turns.
	CurrentTurn(ctx context.Context, gameID string) (*Turn, error)
	EditTurn(ctx context.Context, gameID, turnID string, mutate TurnMutator) (*Turn, error)
	EditCurrentTurn(ctx context.Context, gameID string, mutate TurnMutator) (*Turn, error)
	// EndCurrentTurn fires endCurrentTurn against the current turn so
	// listeners can finalize it, then unconditionally creates the next
	// turn. The two steps are deliberately not one transaction.
	EndCurrentTurn(ctx context.Context, gameID string) error

	// Events exposes the store's hook registry.
	Events() *Registry
}
