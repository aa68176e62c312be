package lobby

import "errors"

var (
	// ErrNotFound is returned when a find or edit targets an entity
	// that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCodeSpaceExhausted is returned when the code allocator cannot
	// draw an unused game code within its retry budget.
	ErrCodeSpaceExhausted = errors.New("game code space exhausted")

	// ErrCodeTaken is returned when a caller-supplied game code is
	// already held by a live game.
	ErrCodeTaken = errors.New("game code already in use")

	// ErrUnknownEvent is returned when a listener is registered for an
	// event name outside the registry's vocabulary.
	ErrUnknownEvent = errors.New("unknown event name")
)
