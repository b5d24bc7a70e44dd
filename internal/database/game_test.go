package database

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/bingo/internal/cache"
)

func TestPayloadOrEmpty(t *testing.T) {
	assert.NotNil(t, payloadOrEmpty(nil))
	p := map[string]interface{}{"number": 12}
	assert.Equal(t, p, payloadOrEmpty(p))
}

// testHistory connects to the PG_* database; tests that need it are skipped otherwise.
func testHistory(t *testing.T) (*GameHistory, context.Context) {
	if os.Getenv("PG_HOST") == "" {
		t.Skip("PG_HOST not set")
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	h := NewGameHistory(pool)
	require.NoError(t, h.EnsureSchema(ctx))
	return h, ctx
}

func TestInsertGameActionsCompletesGame(t *testing.T) {
	h, ctx := testHistory(t)
	run := uuid.New()
	winner := uuid.New()

	batch := []cache.GameActionRecord{
		{RunID: run, GameID: 0, ActionIndex: 1, ActorUserID: uuid.Nil, ActionType: "game_initiated"},
		{RunID: run, GameID: 0, ActionIndex: 2, ActorUserID: winner, ActionType: "player_joined"},
		{RunID: run, GameID: 0, ActionIndex: 3, ActorUserID: winner, ActionType: actionGameWon,
			ActionPayload: map[string]interface{}{"pot": "100"}},
	}
	require.NoError(t, h.InsertGameActions(ctx, batch))
	// Replays are ignored.
	require.NoError(t, h.InsertGameActions(ctx, batch[:1]))

	status, gotWinner, pot := gameRow(t, h, ctx, run, 0)
	assert.Equal(t, "completed", status)
	assert.Equal(t, winner, gotWinner)
	assert.Equal(t, "100", pot)
	assert.Equal(t, 3, actionCount(t, h, ctx, run, 0))
}

func TestRestartedRunDoesNotCollide(t *testing.T) {
	h, ctx := testHistory(t)
	before, after := uuid.New(), uuid.New()
	first, second := uuid.New(), uuid.New()

	require.NoError(t, h.InsertGameActions(ctx, []cache.GameActionRecord{
		{RunID: before, GameID: 0, ActionIndex: 1, ActionType: "game_initiated"},
		{RunID: before, GameID: 0, ActionIndex: 2, ActorUserID: first, ActionType: actionGameWon,
			ActionPayload: map[string]interface{}{"pot": "100"}},
	}))
	// The next process numbers its games from 0 again.
	require.NoError(t, h.InsertGameActions(ctx, []cache.GameActionRecord{
		{RunID: after, GameID: 0, ActionIndex: 1, ActionType: "game_initiated"},
		{RunID: after, GameID: 0, ActionIndex: 2, ActorUserID: second, ActionType: actionGameWon,
			ActionPayload: map[string]interface{}{"pot": "300"}},
	}))

	_, w, pot := gameRow(t, h, ctx, before, 0)
	assert.Equal(t, first, w)
	assert.Equal(t, "100", pot)
	_, w, pot = gameRow(t, h, ctx, after, 0)
	assert.Equal(t, second, w)
	assert.Equal(t, "300", pot)
	assert.Equal(t, 2, actionCount(t, h, ctx, after, 0))
}

func TestMarkGameAbandonedLeavesCompletedGames(t *testing.T) {
	h, ctx := testHistory(t)
	run := uuid.New()

	require.NoError(t, h.InsertGameActions(ctx, []cache.GameActionRecord{
		{RunID: run, GameID: 0, ActionIndex: 1, ActionType: "game_initiated"},
		{RunID: run, GameID: 1, ActionIndex: 1, ActionType: actionGameWon, ActorUserID: uuid.New()},
	}))
	require.NoError(t, h.MarkGameAbandoned(ctx, run, 0))
	require.NoError(t, h.MarkGameAbandoned(ctx, run, 1))

	open, _, _ := gameRow(t, h, ctx, run, 0)
	done, _, _ := gameRow(t, h, ctx, run, 1)
	assert.Equal(t, "abandoned", open)
	assert.Equal(t, "completed", done)
}

func gameRow(t *testing.T, h *GameHistory, ctx context.Context, run uuid.UUID, id uint64) (string, uuid.UUID, string) {
	t.Helper()
	var status, pot string
	var winner *uuid.UUID
	var potText *string
	err := h.pool.QueryRow(ctx,
		`SELECT status, winner_id, pot::text FROM bingo_games WHERE run_id = $1 AND id = $2`, run, int64(id),
	).Scan(&status, &winner, &potText)
	require.NoError(t, err)
	if potText != nil {
		pot = *potText
	}
	if winner == nil {
		return status, uuid.Nil, pot
	}
	return status, *winner, pot
}

func actionCount(t *testing.T, h *GameHistory, ctx context.Context, run uuid.UUID, id uint64) int {
	t.Helper()
	var n int
	require.NoError(t, h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM game_actions WHERE run_id = $1 AND game_id = $2`, run, int64(id),
	).Scan(&n))
	return n
}
