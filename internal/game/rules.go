// internal/game/rules.go
package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Rules is the per-deployment configuration. It is fixed once a Bingo is built.
type Rules struct {
	JoinDuration time.Duration // how long an instance stays open before it may start
	TurnDuration time.Duration // minimum spacing between draws
	JoinFee      uint256.Int   // pulled from every joining player
	JoinToken    string        // asset the fee and pot are held in

	// DrawRetries bounds how often a draw that hits an already drawn number is
	// resampled. Once exhausted the duplicate is accepted and counted.
	DrawRetries int
}

// DefaultRules mirrors the reference deployment: 30 minute join window, 5 minute
// turns, a fee of 1e18 base units.
func DefaultRules() Rules {
	fee, _ := uint256.FromDecimal("1000000000000000000")
	return Rules{
		JoinDuration: 30 * time.Minute,
		TurnDuration: 5 * time.Minute,
		JoinFee:      *fee,
		JoinToken:    "WETH",
		DrawRetries:  16,
	}
}

// Validate rejects configurations the state machine cannot run with.
func (r Rules) Validate() error {
	var errs []error
	if r.JoinDuration <= 0 {
		errs = append(errs, fmt.Errorf("join duration must be positive, got %s", r.JoinDuration))
	}
	if r.TurnDuration <= 0 {
		errs = append(errs, fmt.Errorf("turn duration must be positive, got %s", r.TurnDuration))
	}
	if r.JoinToken == "" {
		errs = append(errs, errors.New("join token must be set"))
	}
	if r.DrawRetries < 0 {
		errs = append(errs, fmt.Errorf("draw retries must be non-negative, got %d", r.DrawRetries))
	}
	return errors.Join(errs...)
}
