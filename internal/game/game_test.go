// internal/game/game_test.go
package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/bingo/internal/board"
	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/escrow"
)

const testToken = "WETH"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []GameEvent
}

func (mb *mockBroadcaster) broadcastFn(ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.events = append(mb.events, ev)
}

func (mb *mockBroadcaster) types() []GameEventType {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]GameEventType, len(mb.events))
	for i, ev := range mb.events {
		out[i] = ev.Type
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []cache.GameActionRecord
}

func (p *recordingPublisher) PublishGameAction(_ context.Context, rec cache.GameActionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// brokenPayout refuses every push so a win has to be rolled back.
type brokenPayout struct {
	*escrow.MemoryLedger
}

func (brokenPayout) Transfer(context.Context, string, uuid.UUID, uuid.UUID, uint256.Int) error {
	return escrow.ErrInsufficientBalance
}

// hookedLedger runs a one-shot hook at the start of the next pull or push, from
// inside the ledger call.
type hookedLedger struct {
	*escrow.MemoryLedger
	onPull func()
	onPush func()
}

func (l *hookedLedger) TransferFrom(ctx context.Context, token string, payer, payee uuid.UUID, amount uint256.Int) error {
	if h := l.onPull; h != nil {
		l.onPull = nil
		h()
	}
	return l.MemoryLedger.TransferFrom(ctx, token, payer, payee, amount)
}

func (l *hookedLedger) Transfer(ctx context.Context, token string, from, payee uuid.UUID, amount uint256.Int) error {
	if h := l.onPush; h != nil {
		l.onPush = nil
		h()
	}
	return l.MemoryLedger.Transfer(ctx, token, from, payee, amount)
}

// within fails the test if fn does not return in time.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("engine call did not return")
	}
}

type fixture struct {
	t      *testing.T
	bingo  *Bingo
	clock  *FakeClock
	ledger *escrow.MemoryLedger
	events *mockBroadcaster
	rules  Rules
}

func testRules() Rules {
	rules := DefaultRules()
	rules.JoinFee = *uint256.NewInt(100)
	rules.DrawRetries = 1000
	return rules
}

func setupBingo(t *testing.T, ledger escrow.Ledger, mem *escrow.MemoryLedger, opts ...Option) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		t:      t,
		clock:  NewFakeClock(epoch),
		ledger: mem,
		events: &mockBroadcaster{},
		rules:  testRules(),
	}
	all := append([]Option{WithClock(f.clock), WithLogger(logger), WithEventHandler(f.events.broadcastFn)}, opts...)
	b, err := NewBingo(f.rules, ledger, all...)
	require.NoError(t, err)
	f.bingo = b
	return f
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	mem := escrow.NewMemoryLedger()
	return setupBingo(t, mem, mem, opts...)
}

// fund gives a new player twice the fee and approves the engine to pull it.
func (f *fixture) fund() uuid.UUID {
	f.t.Helper()
	p := uuid.New()
	require.NoError(f.t, f.ledger.Mint(testToken, p, *uint256.NewInt(200)))
	require.NoError(f.t, f.ledger.Approve(context.Background(), testToken, p, f.bingo.Account(), *uint256.NewInt(200)))
	return p
}

func (f *fixture) balance(who uuid.UUID) uint64 {
	f.t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), testToken, who)
	require.NoError(f.t, err)
	return bal.Uint64()
}

// startedGame creates a game, joins the given players and starts it.
func (f *fixture) startedGame(players ...uuid.UUID) uint64 {
	f.t.Helper()
	ctx := context.Background()
	id, err := f.bingo.InitiateGame(ctx)
	require.NoError(f.t, err)
	for _, p := range players {
		require.NoError(f.t, f.bingo.Join(ctx, id, p))
	}
	f.clock.Advance(f.rules.JoinDuration)
	require.NoError(f.t, f.bingo.Start(ctx, id))
	return id
}

// drawAndMark advances one turn, draws, and marks the number for every player
// holding it. It returns the first player with a complete line, if any.
func (f *fixture) drawAndMark(id uint64, players []uuid.UUID) (uuid.UUID, bool) {
	f.t.Helper()
	ctx := context.Background()
	f.clock.Advance(f.rules.TurnDuration)
	n, err := f.bingo.Draw(ctx, id)
	require.NoError(f.t, err)
	for _, p := range players {
		row, col, err := f.bingo.CheckIfNumberIsInBoard(id, p, n)
		require.NoError(f.t, err)
		if row == board.NotFound {
			continue
		}
		require.NoError(f.t, f.bingo.MarkNumber(ctx, id, p, row, col))
	}
	for _, p := range players {
		_, _, ok, err := f.bingo.FindWinningLine(id, p)
		require.NoError(f.t, err)
		if ok {
			return p, true
		}
	}
	return uuid.Nil, false
}

func (f *fixture) playUntilLine(id uint64, players ...uuid.UUID) uuid.UUID {
	f.t.Helper()
	for i := 0; i < 2000; i++ {
		if p, ok := f.drawAndMark(id, players); ok {
			return p
		}
	}
	f.t.Fatal("no player completed a line")
	return uuid.Nil
}

func TestInitiateGameIsOpenWithEmptyPot(t *testing.T) {
	f := newFixture(t)
	id, err := f.bingo.InitiateGame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	snap, err := f.bingo.Games(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseOpen, snap.Phase)
	assert.Equal(t, "0", snap.PotAmount)
	assert.Equal(t, epoch, snap.CreationTime)
	assert.Equal(t, epoch.Add(f.rules.JoinDuration), snap.JoinDeadline)
	assert.Zero(t, snap.LastDrawnNumber)
	assert.Nil(t, snap.StartTime)
	assert.Nil(t, snap.Winner)
}

func TestInitiateGameAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)
	for want := uint64(0); want < 3; want++ {
		id, err := f.bingo.InitiateGame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.Equal(t, 3, f.bingo.Count())
}

func TestUnknownGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.bingo.Join(ctx, 7, uuid.New()), ErrGameNotFound)
	assert.ErrorIs(t, f.bingo.Start(ctx, 7), ErrGameNotFound)
	_, err := f.bingo.Draw(ctx, 7)
	assert.ErrorIs(t, err, ErrGameNotFound)
	_, err = f.bingo.Games(7)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestJoinCollectsFeeAndDealsBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id, _ := f.bingo.InitiateGame(ctx)

	require.NoError(t, f.bingo.Join(ctx, id, p))

	assert.Equal(t, uint64(100), f.balance(p))
	assert.Equal(t, uint64(100), f.balance(f.bingo.Account()))

	snap, _ := f.bingo.Games(id)
	assert.Equal(t, "100", snap.PotAmount)
	assert.Equal(t, []uuid.UUID{p}, snap.Players)

	grid, err := f.bingo.GetBoard(id, p)
	require.NoError(t, err)
	seen := map[uint8]bool{}
	for _, row := range grid {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, uint8(board.MinValue))
			assert.LessOrEqual(t, v, uint8(board.MaxValue))
			assert.False(t, seen[v], "value %d dealt twice", v)
			seen[v] = true
		}
	}
	marks, err := f.bingo.GetMarkedSquares(id, p)
	require.NoError(t, err)
	assert.Equal(t, board.Matrix{}, marks)
}

func TestJoinTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id, _ := f.bingo.InitiateGame(ctx)
	require.NoError(t, f.bingo.Join(ctx, id, p))
	before, _ := f.bingo.GetBoard(id, p)

	err := f.bingo.Join(ctx, id, p)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.ErrorIs(t, err, ErrNotJoinable)
	assert.ErrorIs(t, err, ErrParticipationViolation)

	after, _ := f.bingo.GetBoard(id, p)
	assert.Equal(t, before, after, "board must not be regenerated")
	snap, _ := f.bingo.Games(id)
	assert.Equal(t, "100", snap.PotAmount)
	assert.Equal(t, uint64(100), f.balance(p))
}

func TestJoinWithoutAllowanceLeavesGameUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := uuid.New()
	require.NoError(t, f.ledger.Mint(testToken, p, *uint256.NewInt(500)))
	id, _ := f.bingo.InitiateGame(ctx)

	err := f.bingo.Join(ctx, id, p)
	assert.ErrorIs(t, err, escrow.ErrInsufficientAllowance)

	snap, _ := f.bingo.Games(id)
	assert.Empty(t, snap.Players)
	assert.Equal(t, "0", snap.PotAmount)
	_, err = f.bingo.GetBoard(id, p)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestJoinAfterStartIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.startedGame(f.fund())
	err := f.bingo.Join(context.Background(), id, f.fund())
	assert.ErrorIs(t, err, ErrNotJoinable)
	assert.ErrorIs(t, err, ErrPhaseViolation)
}

func TestStartGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.bingo.InitiateGame(ctx)

	err := f.bingo.Start(ctx, id)
	assert.ErrorIs(t, err, ErrTooEarly)
	assert.ErrorIs(t, err, ErrTimingViolation)

	f.clock.Advance(f.rules.JoinDuration)
	err = f.bingo.Start(ctx, id)
	assert.ErrorIs(t, err, ErrNoPlayers)
	assert.ErrorIs(t, err, ErrParticipationViolation)

	require.NoError(t, f.bingo.Join(ctx, id, f.fund()))
	f.clock.Advance(time.Second)
	require.NoError(t, f.bingo.Start(ctx, id))

	snap, _ := f.bingo.Games(id)
	assert.Equal(t, PhaseActive, snap.Phase)
	require.NotNil(t, snap.StartTime)
	assert.Equal(t, f.clock.Now(), *snap.StartTime)
	assert.Equal(t, f.clock.Now().Add(f.rules.TurnDuration), *snap.TurnDeadline)

	err = f.bingo.Start(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.ErrorIs(t, err, ErrPhaseViolation)
}

func TestDrawGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.bingo.InitiateGame(ctx)

	_, err := f.bingo.Draw(ctx, id)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, f.bingo.Join(ctx, id, f.fund()))
	f.clock.Advance(f.rules.JoinDuration)
	require.NoError(t, f.bingo.Start(ctx, id))

	_, err = f.bingo.Draw(ctx, id)
	assert.ErrorIs(t, err, ErrTurnNotFinished)
	assert.ErrorIs(t, err, ErrTimingViolation)

	f.clock.Advance(f.rules.TurnDuration)
	n, err := f.bingo.Draw(ctx, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, uint8(1))
	assert.LessOrEqual(t, n, uint8(254))

	snap, _ := f.bingo.Games(id)
	assert.Equal(t, n, snap.LastDrawnNumber)
	assert.Equal(t, []int{int(n)}, snap.DrawnNumbers)
	assert.Equal(t, f.clock.Now().Add(f.rules.TurnDuration), *snap.TurnDeadline)

	_, err = f.bingo.Draw(ctx, id)
	assert.ErrorIs(t, err, ErrTurnNotFinished, "deadline advances after every draw")
}

func TestDrawsAreUniqueWhileBudgetLasts(t *testing.T) {
	f := newFixture(t)
	id := f.startedGame(f.fund())
	for i := 0; i < 100; i++ {
		f.clock.Advance(f.rules.TurnDuration)
		_, err := f.bingo.Draw(context.Background(), id)
		require.NoError(t, err)
	}
	snap, _ := f.bingo.Games(id)
	seen := map[int]bool{}
	for _, n := range snap.DrawnNumbers {
		assert.False(t, seen[n], "number %d drawn twice", n)
		seen[n] = true
	}
	assert.Zero(t, snap.Duplicates)
}

func TestDrawAcceptsDuplicateWhenBudgetExhausted(t *testing.T) {
	mem := escrow.NewMemoryLedger()
	f := setupBingo(t, mem, mem)
	rules := f.rules
	rules.DrawRetries = 0
	b, err := NewBingo(rules, mem, WithClock(f.clock), WithLogger(f.bingo.logger))
	require.NoError(t, err)
	f.bingo = b

	id := f.startedGame(f.fund())
	for i := 0; i < 300; i++ {
		f.clock.Advance(f.rules.TurnDuration)
		_, err := f.bingo.Draw(context.Background(), id)
		require.NoError(t, err)
	}
	snap, _ := f.bingo.Games(id)
	assert.Len(t, snap.DrawnNumbers, 300)
	assert.GreaterOrEqual(t, snap.Duplicates, 300-254)
}

func TestMarkNumberValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id, _ := f.bingo.InitiateGame(ctx)
	require.NoError(t, f.bingo.Join(ctx, id, p))

	err := f.bingo.MarkNumber(ctx, id, p, 0, 0)
	assert.ErrorIs(t, err, ErrNotStarted)

	f.clock.Advance(f.rules.JoinDuration)
	require.NoError(t, f.bingo.Start(ctx, id))

	err = f.bingo.MarkNumber(ctx, id, p, 0, 0)
	assert.ErrorIs(t, err, ErrNumberNotDrawn)
	assert.ErrorIs(t, err, ErrValidationViolation)

	err = f.bingo.MarkNumber(ctx, id, p, 5, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
	err = f.bingo.MarkNumber(ctx, id, p, 0, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = f.bingo.MarkNumber(ctx, id, uuid.New(), 0, 0)
	assert.ErrorIs(t, err, ErrNotParticipant)

	marks, _ := f.bingo.GetMarkedSquares(id, p)
	assert.Equal(t, board.Matrix{}, marks)
}

func TestMarkNumberIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id := f.startedGame(p)

	var row, col int
	for {
		f.clock.Advance(f.rules.TurnDuration)
		n, err := f.bingo.Draw(ctx, id)
		require.NoError(t, err)
		row, col, err = f.bingo.CheckIfNumberIsInBoard(id, p, n)
		require.NoError(t, err)
		if row != board.NotFound {
			break
		}
	}
	require.NoError(t, f.bingo.MarkNumber(ctx, id, p, row, col))
	first, _ := f.bingo.PackedBoard(id, p)
	require.NoError(t, f.bingo.MarkNumber(ctx, id, p, row, col))
	second, _ := f.bingo.PackedBoard(id, p)
	assert.Equal(t, first, second)

	marks, _ := f.bingo.GetMarkedSquares(id, p)
	assert.True(t, marks[row][col])
}

func TestCheckIfNumberIsInBoardSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id, _ := f.bingo.InitiateGame(ctx)
	require.NoError(t, f.bingo.Join(ctx, id, p))
	grid, _ := f.bingo.GetBoard(id, p)

	row, col, err := f.bingo.CheckIfNumberIsInBoard(id, p, grid[2][3])
	require.NoError(t, err)
	assert.Equal(t, 2, row)
	assert.Equal(t, 3, col)

	present := map[uint8]bool{}
	for _, r := range grid {
		for _, v := range r {
			present[v] = true
		}
	}
	for v := 1; v <= 254; v++ {
		if !present[uint8(v)] {
			row, col, err = f.bingo.CheckIfNumberIsInBoard(id, p, uint8(v))
			require.NoError(t, err)
			assert.Equal(t, board.NotFound, row)
			assert.Equal(t, board.NotFound, col)
			break
		}
	}
}

func TestWinScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id := f.startedGame(p)
	before := f.balance(p)

	winner := f.playUntilLine(id, p)
	require.Equal(t, p, winner)
	index, kind, ok, err := f.bingo.FindWinningLine(id, p)
	require.NoError(t, err)
	require.True(t, ok)

	snap, _ := f.bingo.Games(id)
	pot := snap.PotAmount
	require.Equal(t, "100", pot)

	require.NoError(t, f.bingo.Win(ctx, id, p, index, kind))

	snap, _ = f.bingo.Games(id)
	assert.Equal(t, PhaseFinished, snap.Phase)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, p, *snap.Winner)
	assert.Equal(t, pot, snap.PotAmount)
	assert.Equal(t, before+100, f.balance(p))
	assert.Equal(t, uint64(0), f.balance(f.bingo.Account()))

	f.clock.Advance(f.rules.TurnDuration)
	_, err = f.bingo.Draw(ctx, id)
	assert.ErrorIs(t, err, ErrPhaseViolation)
	assert.ErrorIs(t, f.bingo.MarkNumber(ctx, id, p, 0, 0), ErrAlreadyFinished)

	assert.Contains(t, f.events.types(), EventGameWon)
}

func TestWinRejectsIncompleteLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fund()
	id := f.startedGame(p)

	err := f.bingo.Win(ctx, id, p, 0, board.Row)
	assert.ErrorIs(t, err, ErrNotAWinningLine)
	assert.ErrorIs(t, err, ErrValidationViolation)

	assert.ErrorIs(t, f.bingo.Win(ctx, id, p, 0, board.Diagonal), ErrNotAWinningLine)
	assert.ErrorIs(t, f.bingo.Win(ctx, id, p, 5, board.Column), ErrOutOfRange)
	assert.ErrorIs(t, f.bingo.Win(ctx, id, p, 0, board.LineKind(9)), ErrInvalidLineKind)
	assert.ErrorIs(t, f.bingo.Win(ctx, id, uuid.New(), 0, board.Row), ErrNotParticipant)

	snap, _ := f.bingo.Games(id)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Nil(t, snap.Winner)
}

func TestRaceOnlyFirstWinnerIsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	players := []uuid.UUID{f.fund(), f.fund(), f.fund()}
	id := f.startedGame(players...)

	winner := f.playUntilLine(id, players...)
	index, kind, _, err := f.bingo.FindWinningLine(id, winner)
	require.NoError(t, err)
	require.NoError(t, f.bingo.Win(ctx, id, winner, index, kind))
	assert.Equal(t, uint64(100+300), f.balance(winner))

	for _, p := range players {
		if p == winner {
			continue
		}
		err := f.bingo.Win(ctx, id, p, 0, board.Row)
		assert.ErrorIs(t, err, ErrAlreadyFinished)
		assert.ErrorIs(t, err, ErrPhaseViolation)
		assert.Equal(t, uint64(100), f.balance(p))
	}
	err = f.bingo.Win(ctx, id, winner, index, kind)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
	assert.Equal(t, uint64(400), f.balance(winner))
}

func TestInstancesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.fund(), f.fund()

	id0, _ := f.bingo.InitiateGame(ctx)
	id1, _ := f.bingo.InitiateGame(ctx)
	require.NoError(t, f.bingo.Join(ctx, id0, a))
	require.NoError(t, f.bingo.Join(ctx, id1, b))
	f.clock.Advance(f.rules.JoinDuration)
	require.NoError(t, f.bingo.Start(ctx, id0))

	before, _ := f.bingo.Games(id1)
	winner := f.playUntilLine(id0, a)
	index, kind, _, _ := f.bingo.FindWinningLine(id0, winner)
	require.NoError(t, f.bingo.Win(ctx, id0, winner, index, kind))

	after, _ := f.bingo.Games(id1)
	assert.Equal(t, before, after)
	assert.Equal(t, PhaseOpen, after.Phase)
	_, err := f.bingo.GetBoard(id1, a)
	assert.ErrorIs(t, err, ErrNotParticipant)

	require.NoError(t, f.bingo.Start(ctx, id1))
	snap, _ := f.bingo.Games(id1)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Empty(t, snap.DrawnNumbers)
}

func TestWinRolledBackWhenPayoutFails(t *testing.T) {
	mem := escrow.NewMemoryLedger()
	f := setupBingo(t, brokenPayout{mem}, mem)
	ctx := context.Background()
	p := f.fund()
	id := f.startedGame(p)

	f.playUntilLine(id, p)
	index, kind, _, _ := f.bingo.FindWinningLine(id, p)
	err := f.bingo.Win(ctx, id, p, index, kind)
	require.Error(t, err)
	assert.True(t, errors.Is(err, escrow.ErrInsufficientBalance))

	snap, _ := f.bingo.Games(id)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Nil(t, snap.Winner)
	assert.Equal(t, "100", snap.PotAmount)
	assert.NotContains(t, f.events.types(), EventGameWon)
}

func TestPayoutCanCallBackIntoEngine(t *testing.T) {
	mem := escrow.NewMemoryLedger()
	hooked := &hookedLedger{MemoryLedger: mem}
	f := setupBingo(t, hooked, mem)
	ctx := context.Background()
	players := []uuid.UUID{f.fund(), f.fund()}
	id := f.startedGame(players...)
	other, _ := f.bingo.InitiateGame(ctx)

	winner := f.playUntilLine(id, players...)
	loser := players[0]
	if loser == winner {
		loser = players[1]
	}
	index, kind, _, _ := f.bingo.FindWinningLine(id, winner)

	var during Snapshot
	var rivalErr, otherErr error
	hooked.onPush = func() {
		during, _ = f.bingo.Games(id)
		rivalErr = f.bingo.Win(ctx, id, loser, 0, board.Diagonal)
		otherErr = f.bingo.Join(ctx, other, loser)
	}
	var winErr error
	within(t, 2*time.Second, func() {
		winErr = f.bingo.Win(ctx, id, winner, index, kind)
	})
	require.NoError(t, winErr)

	assert.Equal(t, PhaseFinished, during.Phase, "finalized before the push")
	require.NotNil(t, during.Winner)
	assert.Equal(t, winner, *during.Winner)
	assert.ErrorIs(t, rivalErr, ErrAlreadyFinished)
	assert.NoError(t, otherErr, "other instances stay usable during a payout")
	assert.Equal(t, uint64(100+200), f.balance(winner))
}

func TestJoinReservesSeatDuringPull(t *testing.T) {
	mem := escrow.NewMemoryLedger()
	hooked := &hookedLedger{MemoryLedger: mem}
	f := setupBingo(t, hooked, mem)
	ctx := context.Background()
	p := f.fund()
	id, _ := f.bingo.InitiateGame(ctx)

	var during Snapshot
	var again error
	hooked.onPull = func() {
		during, _ = f.bingo.Games(id)
		again = f.bingo.Join(ctx, id, p)
	}
	var joinErr error
	within(t, 2*time.Second, func() {
		joinErr = f.bingo.Join(ctx, id, p)
	})
	require.NoError(t, joinErr)

	assert.Empty(t, during.Players, "seat is not taken until the fee arrives")
	assert.ErrorIs(t, again, ErrAlreadyJoined)
	snap, _ := f.bingo.Games(id)
	assert.Equal(t, []uuid.UUID{p}, snap.Players)
	assert.Equal(t, "100", snap.PotAmount)
	assert.Equal(t, uint64(100), f.balance(p))
}

func TestJoinRefundedWhenGameStartsDuringPull(t *testing.T) {
	mem := escrow.NewMemoryLedger()
	hooked := &hookedLedger{MemoryLedger: mem}
	f := setupBingo(t, hooked, mem)
	ctx := context.Background()
	early, late := f.fund(), f.fund()
	id, _ := f.bingo.InitiateGame(ctx)
	require.NoError(t, f.bingo.Join(ctx, id, early))
	f.clock.Advance(f.rules.JoinDuration)

	var startErr error
	hooked.onPull = func() { startErr = f.bingo.Start(ctx, id) }
	err := f.bingo.Join(ctx, id, late)
	require.NoError(t, startErr)
	assert.ErrorIs(t, err, ErrNotJoinable)

	snap, _ := f.bingo.Games(id)
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.Equal(t, []uuid.UUID{early}, snap.Players)
	assert.Equal(t, "100", snap.PotAmount)
	assert.Equal(t, uint64(200), f.balance(late), "fee returned")
	assert.Equal(t, uint64(100), f.balance(f.bingo.Account()))
}

func TestEventsAndRecordsFollowApplyOrder(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	ctx := context.Background()
	id, _ := f.bingo.InitiateGame(ctx)

	players := make([]uuid.UUID, 16)
	for i := range players {
		players[i] = f.fund()
	}
	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(p uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, f.bingo.Join(ctx, id, p))
		}(p)
	}
	wg.Wait()

	// A join that finds delivery in progress leaves its event to the active deliverer.
	require.Eventually(t, func() bool {
		return pub.count() == len(players)+1 && len(f.events.types()) == len(players)+1
	}, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	for i, rec := range pub.records {
		assert.Equal(t, i+1, rec.ActionIndex)
		assert.Equal(t, f.bingo.Run(), rec.RunID)
	}
	pub.mu.Unlock()

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	for i, ev := range f.events.events {
		assert.Equal(t, i+1, ev.Seq)
	}
	snap, _ := f.bingo.Games(id)
	assert.Equal(t, len(players)+1, snap.Seq)
}

func TestEventHandlerMayCallBackIntoEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var nested uint64
	var once sync.Once
	f.bingo.onEvent = func(ev GameEvent) {
		f.events.broadcastFn(ev)
		if ev.Type == EventPlayerJoined {
			once.Do(func() { nested, _ = f.bingo.InitiateGame(ctx) })
		}
	}
	id, _ := f.bingo.InitiateGame(ctx)
	p := f.fund()
	var joinErr error
	within(t, 2*time.Second, func() {
		joinErr = f.bingo.Join(ctx, id, p)
	})
	require.NoError(t, joinErr)

	assert.Equal(t, uint64(1), nested)
	assert.Equal(t, []GameEventType{EventGameInitiated, EventPlayerJoined, EventGameInitiated}, f.events.types())
}

func TestGenerateBoardDoesNotTouchGames(t *testing.T) {
	f := newFixture(t)
	grid := f.bingo.GenerateBoard()
	assert.NotEqual(t, board.Grid{}, grid)
	assert.Zero(t, f.bingo.Count())
	assert.NotEqual(t, f.bingo.RandomBytes(), f.bingo.RandomBytes())
}

func TestActionsArePublished(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	f.startedGame(f.fund())

	// initiated, joined, started
	assert.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []GameEventType{EventGameInitiated, EventPlayerJoined, EventGameStarted}, f.events.types())
}

func TestNewBingoRejectsBadRules(t *testing.T) {
	rules := DefaultRules()
	rules.TurnDuration = 0
	_, err := NewBingo(rules, escrow.NewMemoryLedger())
	assert.Error(t, err)

	_, err = NewBingo(DefaultRules(), nil)
	assert.Error(t, err)
}
