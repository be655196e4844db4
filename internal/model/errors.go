package model

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy. Callers wrap these with goerr.Wrap to attach context and
// match them with errors.Is.
var (
	// ErrValidation marks malformed input. The operation that returned it has
	// not mutated any state.
	ErrValidation = goerr.New("validation failed")

	// ErrCollaborator marks a failed or unparseable call to the AI backend.
	ErrCollaborator = goerr.New("ai collaborator call failed")

	// ErrPrecondition marks an operation invoked in a phase or state that does
	// not support it.
	ErrPrecondition = goerr.New("precondition not met")

	// ErrRiskNotFound is returned when a risk id is not in the store.
	ErrRiskNotFound = goerr.New("risk not found")

	// ErrStale is returned by generation-guarded writes after the session has
	// been reset. Background callers drop the result.
	ErrStale = goerr.New("stale generation")
)
