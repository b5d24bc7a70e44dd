package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	token   string
	owner   uuid.UUID
	spender uuid.UUID
}

type balanceKey struct {
	token string
	who   uuid.UUID
}

// MemoryLedger keeps balances and allowances in process memory.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[balanceKey]uint256.Int
	allowances map[allowanceKey]uint256.Int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[balanceKey]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
	}
}

// Mint credits amount to who out of thin air.
func (l *MemoryLedger) Mint(token string, who uuid.UUID, amount uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(balanceKey{token, who}, amount)
}

// Deposit is Mint behind the Funder signature.
func (l *MemoryLedger) Deposit(_ context.Context, token string, who uuid.UUID, amount uint256.Int) error {
	return l.Mint(token, who, amount)
}

// Approve lets spender pull up to amount from owner, replacing any earlier approval.
func (l *MemoryLedger) Approve(_ context.Context, token string, owner, spender uuid.UUID, amount uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{token, owner, spender}] = amount
	return nil
}

// Allowance returns what spender may still pull from owner.
func (l *MemoryLedger) Allowance(token string, owner, spender uuid.UUID) uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{token, owner, spender}]
}

func (l *MemoryLedger) TransferFrom(_ context.Context, token string, payer, payee uuid.UUID, amount uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ak := allowanceKey{token, payer, payee}
	allowed := l.allowances[ak]
	if allowed.Lt(&amount) {
		return fmt.Errorf("pull %s from %s: %w", amount.Dec(), payer, ErrInsufficientAllowance)
	}
	if err := l.move(token, payer, payee, amount); err != nil {
		return err
	}
	allowed.Sub(&allowed, &amount)
	l.allowances[ak] = allowed
	return nil
}

func (l *MemoryLedger) Transfer(_ context.Context, token string, from, payee uuid.UUID, amount uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, payee, amount)
}

func (l *MemoryLedger) BalanceOf(_ context.Context, token string, who uuid.UUID) (uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{token, who}], nil
}

// move assumes the lock is held.
func (l *MemoryLedger) move(token string, from, to uuid.UUID, amount uint256.Int) error {
	fk, tk := balanceKey{token, from}, balanceKey{token, to}
	bal := l.balances[fk]
	if bal.Lt(&amount) {
		return fmt.Errorf("move %s from %s: %w", amount.Dec(), from, ErrInsufficientBalance)
	}
	before := bal
	bal.Sub(&bal, &amount)
	l.balances[fk] = bal
	if err := l.credit(tk, amount); err != nil {
		l.balances[fk] = before
		return err
	}
	return nil
}

func (l *MemoryLedger) credit(k balanceKey, amount uint256.Int) error {
	bal := l.balances[k]
	if _, overflow := bal.AddOverflow(&bal, &amount); overflow {
		return fmt.Errorf("credit %s to %s overflows", amount.Dec(), k.who)
	}
	l.balances[k] = bal
	return nil
}
