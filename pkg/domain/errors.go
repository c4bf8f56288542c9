package domain

import "errors"

var (
	// ErrInvalidRequest marks malformed or incomplete input requests. These
	// are rejected before pipeline entry, never silently defaulted.
	ErrInvalidRequest = errors.New("invalid input request")

	// ErrCrashProbabilityUnset is returned when a stage reads a candidate's
	// crash probability before the risk scoring stage has run.
	ErrCrashProbabilityUnset = errors.New("crash probability not yet scored")

	// ErrDecisionAlreadySet is returned on an attempt to move a decision
	// context out of a terminal decision state.
	ErrDecisionAlreadySet = errors.New("final decision already set")

	// ErrUnknownActionType is returned when an action carries a type tag
	// outside the two closed variant families.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrConflictingActions is returned when a plan targets one resource in
	// conflicting ways.
	ErrConflictingActions = errors.New("plan contains conflicting actions")
)
