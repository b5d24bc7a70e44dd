// Package escrow holds the asset ledger the game pulls join fees from and pays pots into.
package escrow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance is returned when the paying account holds less than the amount.
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")

	// ErrInsufficientAllowance is returned when a pull exceeds what the payer authorized.
	ErrInsufficientAllowance = errors.New("escrow: insufficient allowance")
)

// Ledger is the fungible-asset collaborator of the game engine.
//
// TransferFrom pulls amount from payer to payee and requires payer to have approved
// payee for at least that much. Transfer pushes amount out of from's own balance.
// BalanceOf is for observers; the engine never reads balances.
type Ledger interface {
	TransferFrom(ctx context.Context, token string, payer, payee uuid.UUID, amount uint256.Int) error
	Transfer(ctx context.Context, token string, from, payee uuid.UUID, amount uint256.Int) error
	BalanceOf(ctx context.Context, token string, who uuid.UUID) (uint256.Int, error)
}

// Funder is implemented by ledgers this service administers itself, so accounts
// can be topped up and fee pulls authorized without an outside asset system.
type Funder interface {
	Deposit(ctx context.Context, token string, who uuid.UUID, amount uint256.Int) error
	Approve(ctx context.Context, token string, owner, spender uuid.UUID, amount uint256.Int) error
}
