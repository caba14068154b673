package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPlayerCount       = errors.New("invalid player count")
	ErrInvalidRoleConfiguration = errors.New("invalid role configuration")
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	ErrWrongPhase           = errors.New("action not allowed in current phase")
	ErrUnknownPlayer        = errors.New("unknown player")
	ErrNotHost              = errors.New("only the host can do that")
	ErrNotLeader            = errors.New("only the leader can propose a team")
	ErrAlreadyProposed      = errors.New("team already proposed")
	ErrInvalidTeam          = errors.New("invalid team")
	ErrAlreadyVoted         = errors.New("already voted")
	ErrNotOnTeam            = errors.New("not on the mission team")
	ErrGoodMustSucceed      = errors.New("good players can only submit success")
	ErrNotEliminator        = errors.New("only the assassin can eliminate")
	ErrInvalidTarget        = errors.New("invalid target")
	ErrInvalidSettings      = errors.New("invalid settings")
	ErrRoomFull             = errors.New("room is full")
	ErrInvalidName          = errors.New("invalid display name")
	ErrNameTaken            = errors.New("display name taken")
	ErrAlreadyJoined        = errors.New("already joined")
	ErrUnsupportedCommand   = errors.New("unsupported command")
	ErrGameAlreadyCompleted = errors.New("game already completed")

	// ErrStaleTimer is returned for a timeout whose phase already advanced.
	// It is a no-op, not a failure.
	ErrStaleTimer = errors.New("stale timer")

	ErrStaleDelta = errors.New("delta already applied")
	ErrVersionGap = errors.New("missing deltas before this version")
)

// ValidationError is an action that is invalid for the current phase or the
// actor's role. It is reported to the acting client only.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func reject(err error) error {
	var v *ValidationError
	if errors.As(err, &v) {
		return err
	}
	return &ValidationError{Err: err}
}

// StaleTransitionError means the state a transition was computed from was
// superseded before it could be committed. Callers retry on fresh state.
type StaleTransitionError struct {
	Expected int
	Err      error
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition at version %d: %v", e.Expected, e.Err)
}

func (e *StaleTransitionError) Unwrap() error { return e.Err }

// FatalStateError is an unreachable transition or a corrupt room. It is never
// retried; the room is aborted.
type FatalStateError struct {
	From   Phase
	To     Phase
	Reason string
}

func (e *FatalStateError) Error() string {
	return fmt.Sprintf("fatal state %s -> %s: %s", e.From, e.To, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsFatal(err error) bool {
	var f *FatalStateError
	return errors.As(err, &f)
}
