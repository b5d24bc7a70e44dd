// internal/escrow/postgres.go
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerSchema creates the tables used by PostgresLedger. Amounts are NUMERIC(78,0),
// wide enough for any 256-bit value.
const LedgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_balances (
	token   TEXT          NOT NULL,
	account UUID          NOT NULL,
	amount  NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (amount >= 0),
	PRIMARY KEY (token, account)
);
CREATE TABLE IF NOT EXISTS ledger_allowances (
	token   TEXT          NOT NULL,
	owner   UUID          NOT NULL,
	spender UUID          NOT NULL,
	amount  NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (amount >= 0),
	PRIMARY KEY (token, owner, spender)
);
`

// PostgresLedger keeps balances in Postgres. Every movement runs in a single
// transaction with the touched rows locked.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// EnsureSchema creates the ledger tables if they are missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, LedgerSchema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Deposit credits amount to who, e.g. after an off-platform top-up.
func (l *PostgresLedger) Deposit(ctx context.Context, token string, who uuid.UUID, amount uint256.Int) error {
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return creditTx(ctx, tx, token, who, amount)
	})
}

// Approve sets the amount spender may pull from owner.
func (l *PostgresLedger) Approve(ctx context.Context, token string, owner, spender uuid.UUID, amount uint256.Int) error {
	q := `
		INSERT INTO ledger_allowances (token, owner, spender, amount)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (token, owner, spender)
		DO UPDATE SET amount = EXCLUDED.amount
	`
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, token, owner, spender, amount.Dec())
		return err
	})
}

func (l *PostgresLedger) TransferFrom(ctx context.Context, token string, payer, payee uuid.UUID, amount uint256.Int) error {
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			SELECT amount::text FROM ledger_allowances
			WHERE token = $1 AND owner = $2 AND spender = $3
			FOR UPDATE
		`
		allowed, err := scanAmount(tx.QueryRow(ctx, q, token, payer, payee))
		if err != nil {
			return err
		}
		if allowed.Lt(&amount) {
			return ErrInsufficientAllowance
		}
		if err := debitTx(ctx, tx, token, payer, amount); err != nil {
			return err
		}
		if err := creditTx(ctx, tx, token, payee, amount); err != nil {
			return err
		}
		upd := `
			UPDATE ledger_allowances SET amount = amount - $4::numeric
			WHERE token = $1 AND owner = $2 AND spender = $3
		`
		_, err = tx.Exec(ctx, upd, token, payer, payee, amount.Dec())
		return err
	})
	if err != nil {
		return fmt.Errorf("pull %s %s from %s: %w", amount.Dec(), token, payer, err)
	}
	return nil
}

func (l *PostgresLedger) Transfer(ctx context.Context, token string, from, payee uuid.UUID, amount uint256.Int) error {
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := debitTx(ctx, tx, token, from, amount); err != nil {
			return err
		}
		return creditTx(ctx, tx, token, payee, amount)
	})
	if err != nil {
		return fmt.Errorf("push %s %s to %s: %w", amount.Dec(), token, payee, err)
	}
	return nil
}

func (l *PostgresLedger) BalanceOf(ctx context.Context, token string, who uuid.UUID) (uint256.Int, error) {
	q := `SELECT amount::text FROM ledger_balances WHERE token = $1 AND account = $2`
	return scanAmount(l.pool.QueryRow(ctx, q, token, who))
}

func debitTx(ctx context.Context, tx pgx.Tx, token string, who uuid.UUID, amount uint256.Int) error {
	q := `SELECT amount::text FROM ledger_balances WHERE token = $1 AND account = $2 FOR UPDATE`
	bal, err := scanAmount(tx.QueryRow(ctx, q, token, who))
	if err != nil {
		return err
	}
	if bal.Lt(&amount) {
		return ErrInsufficientBalance
	}
	upd := `UPDATE ledger_balances SET amount = amount - $3::numeric WHERE token = $1 AND account = $2`
	_, err = tx.Exec(ctx, upd, token, who, amount.Dec())
	return err
}

func creditTx(ctx context.Context, tx pgx.Tx, token string, who uuid.UUID, amount uint256.Int) error {
	q := `
		INSERT INTO ledger_balances (token, account, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (token, account)
		DO UPDATE SET amount = ledger_balances.amount + EXCLUDED.amount
	`
	_, err := tx.Exec(ctx, q, token, who, amount.Dec())
	return err
}

// scanAmount reads a decimal text amount; a missing row counts as zero.
func scanAmount(row pgx.Row) (uint256.Int, error) {
	var s string
	if err := row.Scan(&s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uint256.Int{}, nil
		}
		return uint256.Int{}, err
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return *v, nil
}
