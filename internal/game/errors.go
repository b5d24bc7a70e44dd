package game

import "errors"

// Violation kinds. Every rejected operation matches exactly one of these with errors.Is.
var (
	ErrPhaseViolation         = errors.New("phase violation")
	ErrTimingViolation        = errors.New("timing violation")
	ErrParticipationViolation = errors.New("participation violation")
	ErrValidationViolation    = errors.New("validation violation")
)

// ErrGameNotFound is returned for an id no instance was created under.
var ErrGameNotFound = errors.New("game not found")

// Violation is a rejected operation. It left the instance untouched.
type Violation struct {
	Kind   error
	Reason string

	// also lists broader sentinels this violation should match.
	also []error
}

func (v *Violation) Error() string {
	return v.Reason
}

// Is matches the violation's kind and any alias it was declared with.
func (v *Violation) Is(target error) bool {
	if target == v.Kind {
		return true
	}
	for _, a := range v.also {
		if target == a {
			return true
		}
	}
	return false
}

var (
	ErrNotJoinable     = &Violation{Kind: ErrPhaseViolation, Reason: "game is not open for joining"}
	ErrAlreadyStarted  = &Violation{Kind: ErrPhaseViolation, Reason: "game has already started"}
	ErrNotStarted      = &Violation{Kind: ErrPhaseViolation, Reason: "game hasn't started"}
	ErrAlreadyFinished = &Violation{Kind: ErrPhaseViolation, Reason: "game has already finished"}

	ErrTooEarly        = &Violation{Kind: ErrTimingViolation, Reason: "need to wait for join duration"}
	ErrTurnNotFinished = &Violation{Kind: ErrTimingViolation, Reason: "turn hasn't finished yet"}

	ErrAlreadyJoined  = &Violation{Kind: ErrParticipationViolation, Reason: "player already joined", also: []error{ErrNotJoinable}}
	ErrNoPlayers      = &Violation{Kind: ErrParticipationViolation, Reason: "need at least one player to start the game"}
	ErrNotParticipant = &Violation{Kind: ErrParticipationViolation, Reason: "player is not part of this game"}

	ErrOutOfRange      = &Violation{Kind: ErrValidationViolation, Reason: "coordinates out of range"}
	ErrInvalidLineKind = &Violation{Kind: ErrValidationViolation, Reason: "unknown line kind"}
	ErrNumberNotDrawn  = &Violation{Kind: ErrValidationViolation, Reason: "number hasn't been drawn"}
	ErrNotAWinningLine = &Violation{Kind: ErrValidationViolation, Reason: "line is not complete"}
	ErrPotOverflow     = &Violation{Kind: ErrValidationViolation, Reason: "pot would overflow"}
)
