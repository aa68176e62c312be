package lobby

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SQLStore is the relational backend. Every operation maps to a single
// SQL statement: finds aggregate owned rows with json_group_array so no
// client-side joins happen, creates compute derived columns (is_admin,
// turn index) inside the INSERT itself, and edits follow the
// fetch-mutate-UPDATE…RETURNING shape with a per-entity column
// allow-list.
type SQLStore struct {
	db     *sql.DB
	events *Registry
}

var _ Store = (*SQLStore)(nil)
var _ Store = (*MemoryStore)(nil)

// NewSQLStore wraps an open database. The schema is owned by the
// migrations package.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, events: NewRegistry(StoreEvents()...)}
}

func (s *SQLStore) Events() *Registry { return s.events }

func (s *SQLStore) Setup(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// findGameSQL loads a game and everything it owns in one statement.
// is_admin is re-encoded as a JSON boolean so rows unmarshal straight
// into the entity types.
const findGameSQL = `
	SELECT g.id, g.code, g.started, g.custom,
		(SELECT json_group_array(json_object(
			'playerId', p.id, 'gameId', p.game_id, 'name', p.name,
			'avatar', p.avatar,
			'isAdmin', json(CASE WHEN p.is_admin THEN 'true' ELSE 'false' END),
			'custom', json(p.custom)) ORDER BY p.rowid)
			FROM players p WHERE p.game_id = g.id),
		(SELECT json_group_array(json_object(
			'spectatorId', sp.id, 'gameId', sp.game_id, 'name', sp.name,
			'custom', json(sp.custom)) ORDER BY sp.rowid)
			FROM spectators sp WHERE sp.game_id = g.id),
		(SELECT json_group_array(json_object(
			'turnId', t.id, 'gameId', t.game_id, 'index', t.idx,
			'custom', json(t.custom)) ORDER BY t.idx)
			FROM turns t WHERE t.game_id = g.id)
	FROM games g`

func (s *SQLStore) CreateGame(ctx context.Context, code string) (*Game, error) {
	if code == "" {
		var err error
		code, err = allocateCode(ctx, func(ctx context.Context, candidate string) (bool, error) {
			var n int
			if err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM games WHERE code = ?`, candidate).Scan(&n); err != nil {
				return false, fmt.Errorf("probing game code: %w", err)
			}
			return n > 0, nil
		})
		if err != nil {
			return nil, err
		}
	} else if _, err := s.FindGameWithCode(ctx, code); err == nil {
		// The UNIQUE column would reject the INSERT anyway; probing
		// first keeps the error the same across backends.
		return nil, ErrCodeTaken
	}

	gameID := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO games (id, code, started, custom) VALUES (?, ?, 0, '{}')`,
		gameID, code); err != nil {
		return nil, fmt.Errorf("creating game: %w", err)
	}

	// Run hooks through the edit path so their changes to custom
	// persist, the same way every create operation does.
	return s.EditGame(ctx, gameID, func(g *Game) error {
		return s.events.Run(ctx, EventCreateGame, g, s)
	})
}

func (s *SQLStore) FindGame(ctx context.Context, gameID string) (*Game, error) {
	return s.scanGame(s.db.QueryRowContext(ctx, findGameSQL+` WHERE g.id = ?`, gameID))
}

func (s *SQLStore) FindGameWithCode(ctx context.Context, code string) (*Game, error) {
	return s.scanGame(s.db.QueryRowContext(ctx, findGameSQL+` WHERE g.code = ?`, code))
}

func (s *SQLStore) EditGame(ctx context.Context, gameID string, mutate GameMutator) (*Game, error) {
	game, err := s.FindGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if mutate == nil {
		return game, nil
	}
	if err := mutate(game); err != nil {
		return nil, err
	}

	stmt, err := updateSQL("games", []col{{"custom", game.Custom}}, "id = ?", "id")
	if err != nil {
		return nil, err
	}
	// The driver rejects Exec for statements that return rows, so the
	// RETURNING row must be scanned even though only the id comes back.
	var id string
	err = s.db.QueryRowContext(ctx, stmt, gameID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("editing game: %w", err)
	}
	return s.FindGame(ctx, gameID)
}

func (s *SQLStore) LeaveGame(ctx context.Context, gameID, identityID string) error {
	if _, err := s.FindGame(ctx, gameID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM players WHERE game_id = ? AND id = ?`, gameID, identityID); err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM spectators WHERE game_id = ? AND id = ?`, gameID, identityID); err != nil {
		return fmt.Errorf("removing spectator: %w", err)
	}

	_, err := s.EditGame(ctx, gameID, func(g *Game) error {
		return s.events.Run(ctx, EventLeaveGame, g, s)
	})
	return err
}

func (s *SQLStore) StartGame(ctx context.Context, gameID string) (*Game, error) {
	// The flag flip and the first turn land together or not at all.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting game: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`UPDATE games SET started = 1 WHERE id = ? RETURNING id`, gameID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("starting game: %w", err)
	}

	turnID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, game_id, idx, custom)
		 VALUES (?, ?, (SELECT COUNT(*) FROM turns WHERE game_id = ?) + 1, '{}')`,
		turnID, gameID, gameID); err != nil {
		return nil, fmt.Errorf("creating first turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("starting game: %w", err)
	}

	if _, err := s.EditTurn(ctx, gameID, turnID, func(t *Turn) error {
		return s.events.Run(ctx, EventCreateTurn, t, s)
	}); err != nil {
		return nil, err
	}

	return s.EditGame(ctx, gameID, func(g *Game) error {
		return s.events.Run(ctx, EventStartGame, g, s)
	})
}

func (s *SQLStore) EndGame(ctx context.Context, gameID string) error {
	// Players, spectators and turns go with the game via ON DELETE CASCADE.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, gameID); err != nil {
		return fmt.Errorf("ending game: %w", err)
	}
	return nil
}

func (s *SQLStore) CreatePlayer(ctx context.Context, gameID, name, avatar string) (*Player, error) {
	playerID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (id, game_id, name, avatar, is_admin, custom)
		 VALUES (?, ?, ?, ?, (SELECT COUNT(*) FROM players WHERE game_id = ?) = 0, '{}')`,
		playerID, gameID, name, avatar, gameID)
	if err != nil {
		return nil, admissionError("creating player", err)
	}

	return s.EditPlayer(ctx, gameID, playerID, func(p *Player) error {
		return s.events.Run(ctx, EventCreatePlayer, p, s)
	})
}

const playerColumns = `id, game_id, name, avatar, is_admin, custom`

func (s *SQLStore) FindPlayer(ctx context.Context, gameID, playerID string) (*Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ? AND id = ?`,
		gameID, playerID))
}

func (s *SQLStore) EditPlayer(ctx context.Context, gameID, playerID string, mutate PlayerMutator) (*Player, error) {
	player, err := s.FindPlayer(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if mutate == nil {
		return player, nil
	}
	if err := mutate(player); err != nil {
		return nil, err
	}

	stmt, err := updateSQL("players",
		[]col{{"name", player.Name}, {"avatar", player.Avatar}, {"custom", player.Custom}},
		"game_id = ? AND id = ?", playerColumns)
	if err != nil {
		return nil, err
	}
	return scanPlayer(s.db.QueryRowContext(ctx, stmt, gameID, playerID))
}

func (s *SQLStore) CreateSpectator(ctx context.Context, gameID string) (*Spectator, error) {
	spectatorID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spectators (id, game_id, name, custom) VALUES (?, ?, '', '{}')`,
		spectatorID, gameID)
	if err != nil {
		return nil, admissionError("creating spectator", err)
	}

	return s.EditSpectator(ctx, gameID, spectatorID, func(sp *Spectator) error {
		return s.events.Run(ctx, EventCreateSpectator, sp, s)
	})
}

const spectatorColumns = `id, game_id, name, custom`

func (s *SQLStore) FindSpectator(ctx context.Context, gameID, spectatorID string) (*Spectator, error) {
	return scanSpectator(s.db.QueryRowContext(ctx,
		`SELECT `+spectatorColumns+` FROM spectators WHERE game_id = ? AND id = ?`,
		gameID, spectatorID))
}

func (s *SQLStore) EditSpectator(ctx context.Context, gameID, spectatorID string, mutate SpectatorMutator) (*Spectator, error) {
	spectator, err := s.FindSpectator(ctx, gameID, spectatorID)
	if err != nil {
		return nil, err
	}
	if mutate == nil {
		return spectator, nil
	}
	if err := mutate(spectator); err != nil {
		return nil, err
	}

	stmt, err := updateSQL("spectators",
		[]col{{"name", spectator.Name}, {"custom", spectator.Custom}},
		"game_id = ? AND id = ?", spectatorColumns)
	if err != nil {
		return nil, err
	}
	return scanSpectator(s.db.QueryRowContext(ctx, stmt, gameID, spectatorID))
}

func (s *SQLStore) CreateTurn(ctx context.Context, gameID string) (*Turn, error) {
	turnID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, game_id, idx, custom)
		 VALUES (?, ?, (SELECT COUNT(*) FROM turns WHERE game_id = ?) + 1, '{}')`,
		turnID, gameID, gameID)
	if err != nil {
		return nil, admissionError("creating turn", err)
	}

	return s.EditTurn(ctx, gameID, turnID, func(t *Turn) error {
		return s.events.Run(ctx, EventCreateTurn, t, s)
	})
}

const turnColumns = `id, game_id, idx, custom`

func (s *SQLStore) FindTurn(ctx context.Context, gameID, turnID string) (*Turn, error) {
	return scanTurn(s.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE game_id = ? AND id = ?`,
		gameID, turnID))
}

func (s *SQLStore) CurrentTurn(ctx context.Context, gameID string) (*Turn, error) {
	return scanTurn(s.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE game_id = ? ORDER BY idx DESC LIMIT 1`,
		gameID))
}

func (s *SQLStore) EditTurn(ctx context.Context, gameID, turnID string, mutate TurnMutator) (*Turn, error) {
	turn, err := s.FindTurn(ctx, gameID, turnID)
	if err != nil {
		return nil, err
	}
	if mutate == nil {
		return turn, nil
	}
	if err := mutate(turn); err != nil {
		return nil, err
	}

	stmt, err := updateSQL("turns",
		[]col{{"custom", turn.Custom}},
		"game_id = ? AND id = ?", turnColumns)
	if err != nil {
		return nil, err
	}
	return scanTurn(s.db.QueryRowContext(ctx, stmt, gameID, turnID))
}

func (s *SQLStore) EditCurrentTurn(ctx context.Context, gameID string, mutate TurnMutator) (*Turn, error) {
	turn, err := s.CurrentTurn(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s.EditTurn(ctx, gameID, turn.TurnID, mutate)
}

func (s *SQLStore) EndCurrentTurn(ctx context.Context, gameID string) error {
	if _, err := s.EditCurrentTurn(ctx, gameID, func(t *Turn) error {
		return s.events.Run(ctx, EventEndCurrentTurn, t, s)
	}); err != nil {
		return err
	}

	_, err := s.CreateTurn(ctx, gameID)
	return err
}

// --- row scanning ---

func (s *SQLStore) scanGame(row *sql.Row) (*Game, error) {
	var (
		g                     Game
		started               int
		custom                string
		players, specs, turns string
	)
	err := row.Scan(&g.GameID, &g.GameCode, &started, &custom, &players, &specs, &turns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning game: %w", err)
	}

	g.Started = started != 0
	if err := json.Unmarshal([]byte(custom), &g.Custom); err != nil {
		return nil, fmt.Errorf("decoding game custom data: %w", err)
	}
	if err := json.Unmarshal([]byte(players), &g.Players); err != nil {
		return nil, fmt.Errorf("decoding players: %w", err)
	}
	if err := json.Unmarshal([]byte(specs), &g.Spectators); err != nil {
		return nil, fmt.Errorf("decoding spectators: %w", err)
	}
	if err := json.Unmarshal([]byte(turns), &g.Turns); err != nil {
		return nil, fmt.Errorf("decoding turns: %w", err)
	}
	if g.Players == nil {
		g.Players = []*Player{}
	}
	if g.Spectators == nil {
		g.Spectators = []*Spectator{}
	}
	if g.Turns == nil {
		g.Turns = []*Turn{}
	}
	return &g, nil
}

func scanPlayer(row *sql.Row) (*Player, error) {
	var (
		p       Player
		isAdmin int
		custom  string
	)
	err := row.Scan(&p.PlayerID, &p.GameID, &p.Name, &p.Avatar, &isAdmin, &custom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning player: %w", err)
	}
	p.IsAdmin = isAdmin != 0
	if err := json.Unmarshal([]byte(custom), &p.Custom); err != nil {
		return nil, fmt.Errorf("decoding player custom data: %w", err)
	}
	return &p, nil
}

func scanSpectator(row *sql.Row) (*Spectator, error) {
	var (
		sp     Spectator
		custom string
	)
	err := row.Scan(&sp.SpectatorID, &sp.GameID, &sp.Name, &custom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning spectator: %w", err)
	}
	if err := json.Unmarshal([]byte(custom), &sp.Custom); err != nil {
		return nil, fmt.Errorf("decoding spectator custom data: %w", err)
	}
	return &sp, nil
}

func scanTurn(row *sql.Row) (*Turn, error) {
	var (
		t      Turn
		custom string
	)
	err := row.Scan(&t.TurnID, &t.GameID, &t.Index, &custom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning turn: %w", err)
	}
	if err := json.Unmarshal([]byte(custom), &t.Custom); err != nil {
		return nil, fmt.Errorf("decoding turn custom data: %w", err)
	}
	return &t, nil
}

// --- allow-listed updates ---

// col is one column/value pair of an allow-listed update.
type col struct {
	name  string
	value any
}

// updateSQL builds the single UPDATE…RETURNING statement for an edit.
// SET values are interpolated as literals (the edit path does not use
// bound parameters), so every value passes through sqlLiteral's quote
// guard. WHERE arguments stay bound placeholders.
func updateSQL(table string, cols []col, where, returning string) (string, error) {
	assignments := make([]string, 0, len(cols))
	for _, c := range cols {
		lit, err := sqlLiteral(c.value)
		if err != nil {
			return "", fmt.Errorf("encoding %s.%s: %w", table, c.name, err)
		}
		assignments = append(assignments, c.name+" = "+lit)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		table, strings.Join(assignments, ", "), where, returning), nil
}

// sqlLiteral renders a value as a quoted SQL literal. The single quote
// is the statement-terminator hazard for this quoting scheme, so it is
// doubled. Non-string values are stored as JSON text.
func sqlLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quoteSQL(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return quoteSQL(string(b)), nil
	}
}

func quoteSQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// admissionError maps a foreign-key failure (the parent game is gone)
// to ErrNotFound.
func admissionError(op string, err error) error {
	if strings.Contains(err.Error(), "FOREIGN KEY") {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
