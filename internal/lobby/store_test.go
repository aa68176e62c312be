package lobby_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/playlobby/gamelobby/internal/database"
	"github.com/playlobby/gamelobby/internal/lobby"
	"github.com/playlobby/gamelobby/internal/migrations"
)

// The conformance suite below runs against both backends: every Store
// behavior that is not explicitly backend-specific must hold for each.

func backends() map[string]func(t *testing.T) lobby.Store {
	return map[string]func(t *testing.T) lobby.Store{
		"memory": func(t *testing.T) lobby.Store {
			t.Helper()
			return lobby.NewMemoryStore()
		},
		"sqlite": newSQLiteStore,
	}
}

func newSQLiteStore(t *testing.T) lobby.Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	store := lobby.NewSQLStore(db)
	if err := store.Setup(ctx); err != nil {
		t.Fatalf("store setup: %v", err)
	}
	return store
}

func eachBackend(t *testing.T, test func(t *testing.T, store lobby.Store)) {
	t.Helper()
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			test(t, newStore(t))
		})
	}
}

// Fail-fast setup helpers: a backend failure here must abort the test
// immediately instead of surfacing later as a nil dereference.

func mustCreateGame(t *testing.T, store lobby.Store, code string) *lobby.Game {
	t.Helper()
	game, err := store.CreateGame(context.Background(), code)
	if err != nil {
		t.Fatalf("creating game: %v", err)
	}
	return game
}

func mustCreatePlayer(t *testing.T, store lobby.Store, gameID, name string) *lobby.Player {
	t.Helper()
	player, err := store.CreatePlayer(context.Background(), gameID, name, "")
	if err != nil {
		t.Fatalf("creating player: %v", err)
	}
	return player
}

func mustCreateSpectator(t *testing.T, store lobby.Store, gameID string) *lobby.Spectator {
	t.Helper()
	spectator, err := store.CreateSpectator(context.Background(), gameID)
	if err != nil {
		t.Fatalf("creating spectator: %v", err)
	}
	return spectator
}

func mustStartGame(t *testing.T, store lobby.Store, gameID string) *lobby.Game {
	t.Helper()
	game, err := store.StartGame(context.Background(), gameID)
	if err != nil {
		t.Fatalf("starting game: %v", err)
	}
	return game
}

func mustFindGame(t *testing.T, store lobby.Store, gameID string) *lobby.Game {
	t.Helper()
	game, err := store.FindGame(context.Background(), gameID)
	if err != nil {
		t.Fatalf("finding game: %v", err)
	}
	return game
}

var codePattern = regexp.MustCompile(`^[A-Z]{4}$`)

func TestCreateGame(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		game := mustCreateGame(t, store, "")

		if game.GameID == "" {
			t.Error("expected a game id")
		}
		if !codePattern.MatchString(game.GameCode) {
			t.Errorf("game code %q does not match ^[A-Z]{4}$", game.GameCode)
		}
		if game.Started {
			t.Error("new game must not be started")
		}
		if len(game.Players) != 0 || len(game.Spectators) != 0 || len(game.Turns) != 0 {
			t.Errorf("new game must be empty, got %d players, %d spectators, %d turns",
				len(game.Players), len(game.Spectators), len(game.Turns))
		}
	})
}

func TestCreateGameWithCode(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "WXYZ")
		if game.GameCode != "WXYZ" {
			t.Errorf("expected code WXYZ, got %q", game.GameCode)
		}

		found, err := store.FindGameWithCode(ctx, "WXYZ")
		if err != nil {
			t.Fatalf("finding game by code: %v", err)
		}
		if found.GameID != game.GameID {
			t.Errorf("expected game %s, got %s", game.GameID, found.GameID)
		}
	})
}

func TestCreateGameDuplicateCode(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		mustCreateGame(t, store, "DUPE")

		// Codes are unique among live games on every backend.
		if _, err := store.CreateGame(ctx, "DUPE"); !errors.Is(err, lobby.ErrCodeTaken) {
			t.Errorf("expected ErrCodeTaken, got %v", err)
		}
	})
}

func TestFindGameMiss(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		if _, err := store.FindGame(ctx, "nope"); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("FindGame miss: expected ErrNotFound, got %v", err)
		}
		if _, err := store.FindGameWithCode(ctx, "ZZZZ"); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("FindGameWithCode miss: expected ErrNotFound, got %v", err)
		}
	})
}

func TestEditGamePersistsCustom(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")

		if _, err := store.EditGame(ctx, game.GameID, func(g *lobby.Game) error {
			g.Custom["word"] = "banana"
			return nil
		}); err != nil {
			t.Fatalf("editing game: %v", err)
		}

		found := mustFindGame(t, store, game.GameID)
		if found.Custom["word"] != "banana" {
			t.Errorf("expected custom word banana, got %v", found.Custom["word"])
		}
	})
}

func TestEditGameNotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		_, err := store.EditGame(context.Background(), "nope", func(g *lobby.Game) error { return nil })
		if !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreatePlayerAdmin(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		game := mustCreateGame(t, store, "")
		first := mustCreatePlayer(t, store, game.GameID, "ada")
		second := mustCreatePlayer(t, store, game.GameID, "grace")

		if !first.IsAdmin {
			t.Error("first player must be admin")
		}
		if second.IsAdmin {
			t.Error("second player must not be admin")
		}

		found := mustFindGame(t, store, game.GameID)
		if len(found.Players) != 2 {
			t.Fatalf("expected 2 players, got %d", len(found.Players))
		}
		if found.Players[0].PlayerID != first.PlayerID || found.Players[1].PlayerID != second.PlayerID {
			t.Error("players must keep join order")
		}
	})
}

func TestAdminAfterFirstLeaves(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		first := mustCreatePlayer(t, store, game.GameID, "")

		if err := store.LeaveGame(ctx, game.GameID, first.PlayerID); err != nil {
			t.Fatalf("leaving game: %v", err)
		}

		// The player list is empty again, so the next admission is admin.
		next := mustCreatePlayer(t, store, game.GameID, "")
		if !next.IsAdmin {
			t.Error("player joining an empty player list must be admin")
		}
	})
}

func TestSpectator(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		spectator := mustCreateSpectator(t, store, game.GameID)

		if _, err := store.FindSpectator(ctx, game.GameID, spectator.SpectatorID); err != nil {
			t.Errorf("finding spectator: %v", err)
		}
		// Mutually exclusive membership: the id is not a player.
		if _, err := store.FindPlayer(ctx, game.GameID, spectator.SpectatorID); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("spectator id resolved as player: %v", err)
		}
	})
}

func TestLeaveGameUnknownIdentity(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		mustCreatePlayer(t, store, game.GameID, "")

		if err := store.LeaveGame(ctx, game.GameID, "unknown-id"); err != nil {
			t.Fatalf("leave with unknown identity must not fail: %v", err)
		}

		found := mustFindGame(t, store, game.GameID)
		if len(found.Players) != 1 || len(found.Spectators) != 0 {
			t.Errorf("membership changed: %d players, %d spectators",
				len(found.Players), len(found.Spectators))
		}
	})
}

func TestLeaveGameRemovesIdentity(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		player := mustCreatePlayer(t, store, game.GameID, "")
		spectator := mustCreateSpectator(t, store, game.GameID)

		if err := store.LeaveGame(ctx, game.GameID, player.PlayerID); err != nil {
			t.Fatalf("leaving as player: %v", err)
		}
		if err := store.LeaveGame(ctx, game.GameID, spectator.SpectatorID); err != nil {
			t.Fatalf("leaving as spectator: %v", err)
		}

		found := mustFindGame(t, store, game.GameID)
		if len(found.Players) != 0 || len(found.Spectators) != 0 {
			t.Errorf("expected empty membership, got %d players, %d spectators",
				len(found.Players), len(found.Spectators))
		}
	})
}

func TestStartGame(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		game := mustCreateGame(t, store, "")
		started := mustStartGame(t, store, game.GameID)

		if !started.Started {
			t.Error("game must be started")
		}
		if len(started.Turns) != 1 {
			t.Fatalf("expected 1 turn, got %d", len(started.Turns))
		}
		if started.Turns[0].Index != 1 {
			t.Errorf("first turn index: expected 1, got %d", started.Turns[0].Index)
		}
	})
}

func TestStartGameNotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		if _, err := store.StartGame(context.Background(), "nope"); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEndGame(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		player := mustCreatePlayer(t, store, game.GameID, "")

		if err := store.EndGame(ctx, game.GameID); err != nil {
			t.Fatalf("ending game: %v", err)
		}

		if _, err := store.FindGame(ctx, game.GameID); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("game still findable after end: %v", err)
		}
		if _, err := store.FindPlayer(ctx, game.GameID, player.PlayerID); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("player survived game end: %v", err)
		}

		// Ending twice is a no-op.
		if err := store.EndGame(ctx, game.GameID); err != nil {
			t.Errorf("ending an absent game must not fail: %v", err)
		}
	})
}

func TestCodeReusableAfterEnd(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "QQQQ")
		if err := store.EndGame(ctx, game.GameID); err != nil {
			t.Fatalf("ending game: %v", err)
		}

		// Codes are only unique among live games.
		if _, err := store.CreateGame(ctx, "QQQQ"); err != nil {
			t.Errorf("reusing code of an ended game: %v", err)
		}
	})
}

func TestTurnSequence(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		mustStartGame(t, store, game.GameID)

		const rounds = 2
		for i := 0; i < rounds; i++ {
			if err := store.EndCurrentTurn(ctx, game.GameID); err != nil {
				t.Fatalf("ending turn %d: %v", i+1, err)
			}
		}

		turn, err := store.CurrentTurn(ctx, game.GameID)
		if err != nil {
			t.Fatalf("current turn: %v", err)
		}
		if turn.Index != rounds+1 {
			t.Errorf("current turn index: expected %d, got %d", rounds+1, turn.Index)
		}

		found := mustFindGame(t, store, game.GameID)
		if len(found.Turns) != rounds+1 {
			t.Fatalf("expected %d turns, got %d", rounds+1, len(found.Turns))
		}
		for i, tn := range found.Turns {
			if tn.Index != i+1 {
				t.Errorf("turn %d has index %d", i, tn.Index)
			}
		}
	})
}

func TestCurrentTurnBeforeStart(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		game := mustCreateGame(t, store, "")
		if _, err := store.CurrentTurn(context.Background(), game.GameID); !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("expected ErrNotFound before start, got %v", err)
		}
	})
}

func TestEditTurnCustom(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		mustStartGame(t, store, game.GameID)

		if _, err := store.EditCurrentTurn(ctx, game.GameID, func(turn *lobby.Turn) error {
			turn.Custom["phase"] = "night"
			return nil
		}); err != nil {
			t.Fatalf("editing current turn: %v", err)
		}

		turn, err := store.CurrentTurn(ctx, game.GameID)
		if err != nil {
			t.Fatalf("current turn: %v", err)
		}
		if turn.Custom["phase"] != "night" {
			t.Errorf("expected custom phase night, got %v", turn.Custom["phase"])
		}
	})
}

func TestEditPlayer(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		game := mustCreateGame(t, store, "")
		player := mustCreatePlayer(t, store, game.GameID, "")

		edited, err := store.EditPlayer(ctx, game.GameID, player.PlayerID, func(p *lobby.Player) error {
			p.Name = "ada"
			p.Avatar = "robot"
			return nil
		})
		if err != nil {
			t.Fatalf("editing player: %v", err)
		}
		if edited.Name != "ada" || edited.Avatar != "robot" {
			t.Errorf("edit not applied: name %q avatar %q", edited.Name, edited.Avatar)
		}

		found, err := store.FindPlayer(ctx, game.GameID, player.PlayerID)
		if err != nil {
			t.Fatalf("finding player: %v", err)
		}
		if found.Name != "ada" || found.Avatar != "robot" {
			t.Errorf("edit not persisted: name %q avatar %q", found.Name, found.Avatar)
		}
	})
}

func TestEditPlayerNotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		game := mustCreateGame(t, store, "")
		_, err := store.EditPlayer(context.Background(), game.GameID, "nope", func(p *lobby.Player) error { return nil })
		if !errors.Is(err, lobby.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreHooks(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		var order []string
		if _, err := store.Events().AddListener(lobby.EventCreatePlayer, func(ctx context.Context, payload any, s lobby.Store) error {
			player, ok := payload.(*lobby.Player)
			if !ok {
				t.Fatalf("createPlayer payload: got %T", payload)
			}
			if player.PlayerID == "" {
				t.Error("hook must see the created player")
			}
			order = append(order, "first")
			return nil
		}); err != nil {
			t.Fatalf("registering hook: %v", err)
		}
		if _, err := store.Events().AddListener(lobby.EventCreatePlayer, func(ctx context.Context, payload any, s lobby.Store) error {
			order = append(order, "second")
			return nil
		}); err != nil {
			t.Fatalf("registering hook: %v", err)
		}

		game := mustCreateGame(t, store, "")
		mustCreatePlayer(t, store, game.GameID, "")

		// Both hooks ran, in registration order, before CreatePlayer
		// returned.
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("hook order: %v", order)
		}
	})
}

func TestHookMutatesCustom(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		store.Events().AddListener(lobby.EventCreateGame, func(ctx context.Context, payload any, s lobby.Store) error {
			payload.(*lobby.Game).Custom["seeded"] = "yes"
			return nil
		})

		game := mustCreateGame(t, store, "")

		found := mustFindGame(t, store, game.GameID)
		if found.Custom["seeded"] != "yes" {
			t.Errorf("hook mutation not persisted: %v", found.Custom)
		}
	})
}

func TestEndCurrentTurnHook(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		var sawIndex int
		store.Events().AddListener(lobby.EventEndCurrentTurn, func(ctx context.Context, payload any, s lobby.Store) error {
			sawIndex = payload.(*lobby.Turn).Index
			return nil
		})

		game := mustCreateGame(t, store, "")
		mustStartGame(t, store, game.GameID)

		if err := store.EndCurrentTurn(ctx, game.GameID); err != nil {
			t.Fatalf("ending turn: %v", err)
		}

		// The hook runs against the turn being closed, not the new one.
		if sawIndex != 1 {
			t.Errorf("endCurrentTurn hook saw index %d, expected 1", sawIndex)
		}
	})
}

func TestHookFailureStopsOperation(t *testing.T) {
	eachBackend(t, func(t *testing.T, store lobby.Store) {
		ctx := context.Background()

		ran := false
		store.Events().AddListener(lobby.EventCreateGame, func(ctx context.Context, payload any, s lobby.Store) error {
			return errors.New("boom")
		})
		store.Events().AddListener(lobby.EventCreateGame, func(ctx context.Context, payload any, s lobby.Store) error {
			ran = true
			return nil
		})

		if _, err := store.CreateGame(ctx, ""); err == nil {
			t.Fatal("expected hook failure to surface")
		}
		if ran {
			t.Error("second hook must not run after the first fails")
		}
	})
}
