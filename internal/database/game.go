// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/bingo/internal/cache"
)

// Schema holds the history tables. Game ids are the engine's arena indices and
// restart at 0 with every process, so rows are keyed by (run_id, id).
const Schema = `
CREATE TABLE IF NOT EXISTS bingo_games (
	run_id      UUID NOT NULL,
	id          BIGINT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	start_time  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	end_time    TIMESTAMPTZ,
	winner_id   UUID,
	pot         NUMERIC(78, 0),
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS game_actions (
	run_id         UUID NOT NULL,
	game_id        BIGINT NOT NULL,
	action_index   INTEGER NOT NULL,
	actor_user_id  UUID NOT NULL,
	action_type    TEXT NOT NULL,
	action_payload JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, game_id, action_index),
	FOREIGN KEY (run_id, game_id) REFERENCES bingo_games (run_id, id)
);
`

// Action types that close a game row.
const actionGameWon = "game_won"

// GameHistory persists action records. It is the historian's sink.
type GameHistory struct {
	pool *pgxpool.Pool
}

func NewGameHistory(pool *pgxpool.Pool) *GameHistory {
	return &GameHistory{pool: pool}
}

// EnsureSchema creates the history tables if they are missing.
func (h *GameHistory) EnsureSchema(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}
	return nil
}

// InsertGameActions writes a batch in one transaction. Replayed records are ignored.
func (h *GameHistory) InsertGameActions(ctx context.Context, batch []cache.GameActionRecord) error {
	err := pgx.BeginTxFunc(ctx, h.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batch {
			if err := insertGameActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert action %d of game %d: %w", rec.ActionIndex, rec.GameID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx insert game actions: %w", err)
	}
	return nil
}

// MarkGameAbandoned closes a game row that is still in progress.
func (h *GameHistory) MarkGameAbandoned(ctx context.Context, runID uuid.UUID, gameID uint64) error {
	q := `
		UPDATE bingo_games
		SET status = 'abandoned', end_time = NOW()
		WHERE run_id = $1 AND id = $2 AND status = 'in_progress'
	`
	if _, err := h.pool.Exec(ctx, q, runID, int64(gameID)); err != nil {
		return fmt.Errorf("mark game %d abandoned: %w", gameID, err)
	}
	return nil
}

// insertGameActionTx inserts one record, creating the game row on first sight. A
// game_won record completes the row with its winner and pot.
func insertGameActionTx(ctx context.Context, tx pgx.Tx, rec cache.GameActionRecord) error {
	upsertGameQ := `
		INSERT INTO bingo_games (run_id, id, status, start_time)
		VALUES ($1, $2, 'in_progress', NOW())
		ON CONFLICT (run_id, id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, upsertGameQ, rec.RunID, int64(rec.GameID)); err != nil {
		return err
	}

	jsonPayload, err := json.Marshal(payloadOrEmpty(rec.ActionPayload))
	if err != nil {
		return err
	}
	actionInsertQ := `
		INSERT INTO game_actions (
			run_id, game_id, action_index, actor_user_id, action_type, action_payload
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, game_id, action_index) DO NOTHING
	`
	if _, err := tx.Exec(ctx, actionInsertQ,
		rec.RunID, int64(rec.GameID), rec.ActionIndex, rec.ActorUserID, rec.ActionType, jsonPayload,
	); err != nil {
		return err
	}

	if rec.ActionType == actionGameWon {
		pot, _ := rec.ActionPayload["pot"].(string)
		if pot == "" {
			pot = "0"
		}
		finalizeQ := `
			UPDATE bingo_games
			SET status = 'completed', end_time = NOW(), winner_id = $3, pot = $4::numeric
			WHERE run_id = $1 AND id = $2
		`
		if _, err := tx.Exec(ctx, finalizeQ, rec.RunID, int64(rec.GameID), rec.ActorUserID, pot); err != nil {
			return err
		}
	}
	return nil
}

func payloadOrEmpty(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	return p
}
