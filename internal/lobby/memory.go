package lobby

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps every game in a single instance-owned ordered
// collection. Each instance is independent; tests construct one per
// case and Setup resets it.
//
// The collection itself is guarded, but entities are handed out live:
// callers rely on the coordinator's per-room serialization (or a single
// test goroutine) while mutating them.
type MemoryStore struct {
	mu     sync.RWMutex
	games  []*Game
	events *Registry
}

// NewMemoryStore builds an empty in-memory store with the standard
// store event vocabulary.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: NewRegistry(StoreEvents()...)}
}

func (s *MemoryStore) Events() *Registry { return s.events }

func (s *MemoryStore) Setup(ctx context.Context) error {
	s.mu.Lock()
	s.games = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateGame(ctx context.Context, code string) (*Game, error) {
	if code == "" {
		var err error
		code, err = allocateCode(ctx, func(ctx context.Context, candidate string) (bool, error) {
			_, err := s.FindGameWithCode(ctx, candidate)
			if err == nil {
				return true, nil
			}
			return false, nil
		})
		if err != nil {
			return nil, err
		}
	} else if _, err := s.FindGameWithCode(ctx, code); err == nil {
		return nil, ErrCodeTaken
	}

	game := &Game{
		GameID:     uuid.NewString(),
		GameCode:   code,
		Players:    []*Player{},
		Spectators: []*Spectator{},
		Turns:      []*Turn{},
		Custom:     map[string]any{},
	}

	s.mu.Lock()
	s.games = append(s.games, game)
	s.mu.Unlock()

	if err := s.events.Run(ctx, EventCreateGame, game, s); err != nil {
		return nil, err
	}
	return game, nil
}

func (s *MemoryStore) FindGame(ctx context.Context, gameID string) (*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.games {
		if g.GameID == gameID {
			return g, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindGameWithCode(ctx context.Context, code string) (*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.games {
		if g.GameCode == code {
			return g, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EditGame(ctx context.Context, gameID string, mutate GameMutator) (*Game, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(game); err != nil {
			return nil, err
		}
	}
	return game, nil
}

func (s *MemoryStore) LeaveGame(ctx context.Context, gameID, identityID string) error {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i, p := range game.Players {
		if p.PlayerID == identityID {
			game.Players = append(game.Players[:i:i], game.Players[i+1:]...)
			break
		}
	}
	for i, sp := range game.Spectators {
		if sp.SpectatorID == identityID {
			game.Spectators = append(game.Spectators[:i:i], game.Spectators[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	return s.events.Run(ctx, EventLeaveGame, game, s)
}

func (s *MemoryStore) StartGame(ctx context.Context, gameID string) (*Game, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	game.Started = true

	if _, err := s.CreateTurn(ctx, gameID); err != nil {
		return nil, err
	}

	if err := s.events.Run(ctx, EventStartGame, game, s); err != nil {
		return nil, err
	}
	return game, nil
}

func (s *MemoryStore) EndGame(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.games {
		if g.GameID == gameID {
			s.games = append(s.games[:i:i], s.games[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) CreatePlayer(ctx context.Context, gameID, name, avatar string) (*Player, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	player := &Player{
		PlayerID: uuid.NewString(),
		GameID:   gameID,
		Name:     name,
		Avatar:   avatar,
		Custom:   map[string]any{},
	}

	s.mu.Lock()
	player.IsAdmin = len(game.Players) == 0
	game.Players = append(game.Players, player)
	s.mu.Unlock()

	if err := s.events.Run(ctx, EventCreatePlayer, player, s); err != nil {
		return nil, err
	}
	return player, nil
}

func (s *MemoryStore) FindPlayer(ctx context.Context, gameID, playerID string) (*Player, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if p := game.FindPlayer(playerID); p != nil {
		return p, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EditPlayer(ctx context.Context, gameID, playerID string, mutate PlayerMutator) (*Player, error) {
	player, err := s.FindPlayer(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(player); err != nil {
			return nil, err
		}
	}
	return player, nil
}

func (s *MemoryStore) CreateSpectator(ctx context.Context, gameID string) (*Spectator, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	spectator := &Spectator{
		SpectatorID: uuid.NewString(),
		GameID:      gameID,
		Custom:      map[string]any{},
	}

	s.mu.Lock()
	game.Spectators = append(game.Spectators, spectator)
	s.mu.Unlock()

	if err := s.events.Run(ctx, EventCreateSpectator, spectator, s); err != nil {
		return nil, err
	}
	return spectator, nil
}

func (s *MemoryStore) FindSpectator(ctx context.Context, gameID, spectatorID string) (*Spectator, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if sp := game.FindSpectator(spectatorID); sp != nil {
		return sp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EditSpectator(ctx context.Context, gameID, spectatorID string, mutate SpectatorMutator) (*Spectator, error) {
	spectator, err := s.FindSpectator(ctx, gameID, spectatorID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(spectator); err != nil {
			return nil, err
		}
	}
	return spectator, nil
}

func (s *MemoryStore) CreateTurn(ctx context.Context, gameID string) (*Turn, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		TurnID: uuid.NewString(),
		GameID: gameID,
		Custom: map[string]any{},
	}

	s.mu.Lock()
	turn.Index = len(game.Turns) + 1
	game.Turns = append(game.Turns, turn)
	s.mu.Unlock()

	if err := s.events.Run(ctx, EventCreateTurn, turn, s); err != nil {
		return nil, err
	}
	return turn, nil
}

func (s *MemoryStore) FindTurn(ctx context.Context, gameID, turnID string) (*Turn, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, t := range game.Turns {
		if t.TurnID == turnID {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CurrentTurn(ctx context.Context, gameID string) (*Turn, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if t := game.CurrentTurn(); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EditTurn(ctx context.Context, gameID, turnID string, mutate TurnMutator) (*Turn, error) {
	turn, err := s.FindTurn(ctx, gameID, turnID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(turn); err != nil {
			return nil, err
		}
	}
	return turn, nil
}

func (s *MemoryStore) EditCurrentTurn(ctx context.Context, gameID string, mutate TurnMutator) (*Turn, error) {
	turn, err := s.CurrentTurn(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s.EditTurn(ctx, gameID, turn.TurnID, mutate)
}

func (s *MemoryStore) EndCurrentTurn(ctx context.Context, gameID string) error {
	turn, err := s.CurrentTurn(ctx, gameID)
	if err != nil {
		return err
	}

	if err := s.events.Run(ctx, EventEndCurrentTurn, turn, s); err != nil {
		return err
	}

	_, err = s.CreateTurn(ctx, gameID)
	return err
}
