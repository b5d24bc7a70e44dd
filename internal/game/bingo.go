// internal/game/bingo.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/board"
	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/escrow"
	"github.com/jason-s-yu/bingo/internal/prng"
)

// DefaultAccount is the escrow account that holds pots unless WithAccount overrides it.
var DefaultAccount = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bingo:escrow"))

// ActionPublisher receives one record per state change, for the history log.
type ActionPublisher interface {
	PublishGameAction(ctx context.Context, record cache.GameActionRecord) error
}

// Bingo runs every instance. One mutex guards all instance state, so no call ever
// observes another half applied. The mutex is never held across a ledger call or
// a delivery, so the ledger and event handlers may call back into the engine.
type Bingo struct {
	mu sync.Mutex

	rules   Rules
	account uuid.UUID
	run     uuid.UUID
	games   *Registry
	ledger  escrow.Ledger
	source  *prng.Source
	clock   Clock
	logger  *logrus.Logger

	publisher ActionPublisher
	onEvent   func(GameEvent)

	// outbox holds records and events in the order their operations were applied.
	// It is guarded by mu and drained by whoever holds deliverMu.
	outbox    []emission
	deliverMu sync.Mutex
}

// emission is what one applied operation hands to the outside world.
type emission struct {
	record *cache.GameActionRecord
	event  GameEvent
}

// Option customizes a Bingo at construction.
type Option func(*Bingo)

func WithLogger(logger *logrus.Logger) Option {
	return func(b *Bingo) { b.logger = logger }
}

func WithClock(c Clock) Option {
	return func(b *Bingo) { b.clock = c }
}

// WithAccount sets the escrow account fees are pulled into and pots are paid from.
func WithAccount(id uuid.UUID) Option {
	return func(b *Bingo) { b.account = id }
}

func WithPublisher(p ActionPublisher) Option {
	return func(b *Bingo) { b.publisher = p }
}

// WithEventHandler registers fn to receive every GameEvent. fn runs after the
// operation's lock is released and may call back into the engine.
func WithEventHandler(fn func(GameEvent)) Option {
	return func(b *Bingo) { b.onEvent = fn }
}

// NewBingo validates rules and builds an engine around ledger.
func NewBingo(rules Rules, ledger escrow.Ledger, opts ...Option) (*Bingo, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	b := &Bingo{
		rules:   rules,
		account: DefaultAccount,
		run:     uuid.New(),
		games:   NewRegistry(),
		ledger:  ledger,
		clock:   SystemClock{},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.source = prng.NewSource(b.clock.Now)
	return b, nil
}

// Rules returns the configuration the engine was built with.
func (b *Bingo) Rules() Rules {
	return b.rules
}

// Account returns the escrow account of the engine.
func (b *Bingo) Account() uuid.UUID {
	return b.account
}

// Run identifies this engine process in action records. Instance ids restart at
// 0 with every process, so history is keyed by (Run, id).
func (b *Bingo) Run() uuid.UUID {
	return b.run
}

// Count returns how many instances exist.
func (b *Bingo) Count() int {
	return b.games.Len()
}

// InitiateGame creates a new instance, already open for joins.
func (b *Bingo) InitiateGame(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	now := b.clock.Now()
	id := b.games.Create(now, b.rules)
	g, _ := b.games.at(id)
	g.Phase = PhaseOpen
	deadline := g.JoinDeadline
	b.emit(g, uuid.Nil, map[string]interface{}{"joinDeadline": deadline.Unix()},
		GameEvent{Type: EventGameInitiated, GameID: id})
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"game": id, "joinDeadline": deadline}).Info("game initiated")
	b.deliver()
	return id, nil
}

// Join pulls the join fee from caller and deals them a board. The seat is reserved
// while the fee is pulled; if the instance starts in the meantime the fee is
// returned and the join fails with ErrNotJoinable.
func (b *Bingo) Join(ctx context.Context, gameID uint64, caller uuid.UUID) error {
	fee := b.rules.JoinFee

	b.mu.Lock()
	g, err := b.lookup(gameID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if err := b.checkJoin(g, caller); err != nil {
		b.mu.Unlock()
		return b.reject(gameID, caller, "join", err)
	}
	g.reserveJoin(caller, fee)
	b.mu.Unlock()

	pullErr := b.ledger.TransferFrom(ctx, b.rules.JoinToken, caller, b.account, fee)

	b.mu.Lock()
	g.releaseJoin(caller, fee)
	if pullErr != nil {
		b.mu.Unlock()
		b.logger.WithError(pullErr).WithFields(logrus.Fields{"game": gameID, "player": caller}).Warn("join fee pull failed")
		return fmt.Errorf("failed to collect join fee: %w", pullErr)
	}
	if g.Phase != PhaseOpen {
		b.mu.Unlock()
		return b.refundJoin(ctx, gameID, caller)
	}

	grid := board.Generate(b.source.Stream(gameID, caller))
	g.addPlayer(caller, board.EncodeGrid(grid, uint256.Int{}))
	g.Pot.Add(&g.Pot, &fee)
	pot := g.Pot.Dec()
	b.emit(g, caller, map[string]interface{}{"pot": pot},
		GameEvent{Type: EventPlayerJoined, GameID: gameID, User: &caller, Payload: map[string]interface{}{"pot": pot}})
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"game": gameID, "player": caller, "pot": pot}).Info("player joined")
	b.deliver()
	return nil
}

// refundJoin returns the fee of a join that lost the race against Start.
func (b *Bingo) refundJoin(ctx context.Context, gameID uint64, caller uuid.UUID) error {
	fields := logrus.Fields{"game": gameID, "player": caller}
	if err := b.ledger.Transfer(ctx, b.rules.JoinToken, b.account, caller, b.rules.JoinFee); err != nil {
		b.logger.WithError(err).WithFields(fields).Error("join fee refund failed")
		return errors.Join(ErrNotJoinable, fmt.Errorf("failed to refund join fee: %w", err))
	}
	b.logger.WithFields(fields).Info("game started during join, fee refunded")
	return b.reject(gameID, caller, "join", ErrNotJoinable)
}

func (b *Bingo) checkJoin(g *Game, caller uuid.UUID) error {
	if g.Phase != PhaseOpen {
		return ErrNotJoinable
	}
	if g.isPlayer(caller) || g.isJoining(caller) {
		return ErrAlreadyJoined
	}
	var committed, next uint256.Int
	if _, overflow := committed.AddOverflow(&g.Pot, &g.reserved); overflow {
		return ErrPotOverflow
	}
	if _, overflow := next.AddOverflow(&committed, &b.rules.JoinFee); overflow {
		return ErrPotOverflow
	}
	return nil
}

// Start moves an open instance to active once its join window has passed.
func (b *Bingo) Start(ctx context.Context, gameID uint64) error {
	b.mu.Lock()
	g, err := b.lookup(gameID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	now := b.clock.Now()
	switch {
	case g.Phase != PhaseOpen:
		err = ErrAlreadyStarted
	case now.Before(g.JoinDeadline):
		err = ErrTooEarly
	case len(g.Players) == 0:
		err = ErrNoPlayers
	}
	if err != nil {
		b.mu.Unlock()
		return b.reject(gameID, uuid.Nil, "start", err)
	}

	g.Phase = PhaseActive
	g.StartedAt = now
	g.TurnDeadline = now.Add(b.rules.TurnDuration)
	players := len(g.Players)
	b.emit(g, uuid.Nil, map[string]interface{}{"players": players},
		GameEvent{Type: EventGameStarted, GameID: gameID, Payload: map[string]interface{}{"players": players}})
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"game": gameID, "players": players}).Info("game started")
	b.deliver()
	return nil
}

// Draw reveals the next number once the current turn has elapsed. A value that was
// already drawn is resampled up to Rules.DrawRetries times, then accepted as is.
func (b *Bingo) Draw(ctx context.Context, gameID uint64) (uint8, error) {
	b.mu.Lock()
	g, err := b.lookup(gameID)
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	now := b.clock.Now()
	switch {
	case g.Phase != PhaseActive:
		err = ErrNotStarted
	case now.Before(g.TurnDeadline):
		err = ErrTurnNotFinished
	}
	if err != nil {
		b.mu.Unlock()
		return 0, b.reject(gameID, uuid.Nil, "draw", err)
	}

	stream := b.source.Stream(gameID, uuid.Nil)
	n := stream.Byte()
	for attempt := 0; g.wasDrawn(n) && attempt < b.rules.DrawRetries; attempt++ {
		n = stream.Byte()
	}
	duplicate := g.wasDrawn(n)
	if duplicate {
		g.Duplicates++
	}
	g.recordDraw(n)
	g.TurnDeadline = now.Add(b.rules.TurnDuration)
	turn := len(g.Drawn)
	b.emit(g, uuid.Nil, map[string]interface{}{"number": n, "duplicate": duplicate},
		GameEvent{Type: EventNumberDrawn, GameID: gameID, Number: n, Payload: map[string]interface{}{"turn": turn}})
	b.mu.Unlock()

	entry := b.logger.WithFields(logrus.Fields{"game": gameID, "number": n, "turn": turn})
	if duplicate {
		entry.Warn("draw budget exhausted, accepted repeated number")
	} else {
		entry.Info("number drawn")
	}
	b.deliver()
	return n, nil
}

// MarkNumber marks (row, col) on caller's board if its value was drawn. Marking an
// already marked cell succeeds without change.
func (b *Bingo) MarkNumber(ctx context.Context, gameID uint64, caller uuid.UUID, row, col int) error {
	b.mu.Lock()
	g, err := b.lookup(gameID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	word, err := b.checkPlay(g, caller)
	if err == nil && !board.InRange(row, col) {
		err = ErrOutOfRange
	}
	var value uint8
	if err == nil {
		value = board.DecodeGrid(word)[row][col]
		if !g.wasDrawn(value) {
			err = ErrNumberNotDrawn
		}
	}
	if err != nil {
		b.mu.Unlock()
		return b.reject(gameID, caller, "mark", err)
	}

	g.setBoard(caller, board.MarkCell(word, row, col))
	b.emit(g, caller, map[string]interface{}{"row": row, "col": col, "number": value},
		GameEvent{Type: EventSquareMarked, GameID: gameID, User: &caller, Number: value,
			Payload: map[string]interface{}{"row": row, "col": col}})
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"game": gameID, "player": caller, "row": row, "col": col}).Debug("square marked")
	b.deliver()
	return nil
}

// Win claims the pot for a completed line. The instance is finalized before the pot
// is pushed and the lock is released for the push, so any call made meanwhile,
// including one from inside the ledger, sees the instance finished. If the push
// fails the claim is undone and the error returned.
func (b *Bingo) Win(ctx context.Context, gameID uint64, caller uuid.UUID, index int, kind board.LineKind) error {
	b.mu.Lock()
	g, err := b.lookup(gameID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	word, err := b.checkPlay(g, caller)
	if err == nil {
		err = checkLine(board.DecodeBoolMatrix(word), index, kind)
	}
	if err != nil {
		b.mu.Unlock()
		return b.reject(gameID, caller, "win", err)
	}

	winner := caller
	g.Phase = PhaseFinished
	g.Winner = &winner
	pot := g.Pot
	b.mu.Unlock()

	if !pot.IsZero() {
		if err := b.ledger.Transfer(ctx, b.rules.JoinToken, b.account, caller, pot); err != nil {
			// Nothing mutates a finished instance, so restoring the phase is safe.
			b.mu.Lock()
			g.Phase = PhaseActive
			g.Winner = nil
			b.mu.Unlock()
			b.logger.WithError(err).WithFields(logrus.Fields{"game": gameID, "player": caller}).Error("pot payout failed, win rolled back")
			return fmt.Errorf("failed to pay out pot: %w", err)
		}
	}

	payload := map[string]interface{}{"index": index, "kind": kind.String(), "pot": pot.Dec()}
	b.mu.Lock()
	b.emit(g, caller, payload, GameEvent{Type: EventGameWon, GameID: gameID, User: &caller, Payload: payload})
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"game": gameID, "player": caller, "kind": kind, "index": index, "pot": pot.Dec()}).Info("game won")
	b.deliver()
	return nil
}

func checkLine(m board.Matrix, index int, kind board.LineKind) error {
	switch kind {
	case board.Row, board.Column:
		if index < 0 || index >= board.Size {
			return ErrOutOfRange
		}
	case board.Diagonal:
	default:
		return ErrInvalidLineKind
	}
	ok, err := board.LineComplete(m, index, kind)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAWinningLine
	}
	return nil
}

// checkPlay gates mark and win: the instance must be active and caller a player.
func (b *Bingo) checkPlay(g *Game, caller uuid.UUID) (uint256.Int, error) {
	switch g.Phase {
	case PhaseActive:
	case PhaseFinished:
		return uint256.Int{}, ErrAlreadyFinished
	default:
		return uint256.Int{}, ErrNotStarted
	}
	word, ok := g.boardOf(caller)
	if !ok {
		return uint256.Int{}, ErrNotParticipant
	}
	return word, nil
}

// GetBoard returns the numbers dealt to who.
func (b *Bingo) GetBoard(gameID uint64, who uuid.UUID) (board.Grid, error) {
	word, err := b.word(gameID, who)
	if err != nil {
		return board.Grid{}, err
	}
	return board.DecodeGrid(word), nil
}

// GetMarkedSquares returns the mark matrix of who.
func (b *Bingo) GetMarkedSquares(gameID uint64, who uuid.UUID) (board.Matrix, error) {
	word, err := b.word(gameID, who)
	if err != nil {
		return board.Matrix{}, err
	}
	return board.DecodeBoolMatrix(word), nil
}

// PackedBoard returns the raw word of who, grid and marks together.
func (b *Bingo) PackedBoard(gameID uint64, who uuid.UUID) (uint256.Int, error) {
	return b.word(gameID, who)
}

// CheckIfNumberIsInBoard locates n on who's board. Both coordinates are
// board.NotFound when n is absent.
func (b *Bingo) CheckIfNumberIsInBoard(gameID uint64, who uuid.UUID, n uint8) (int, int, error) {
	grid, err := b.GetBoard(gameID, who)
	if err != nil {
		return board.NotFound, board.NotFound, err
	}
	row, col := board.Find(grid, n)
	return row, col, nil
}

// FindWinningLine returns the selector a win call for who would need.
func (b *Bingo) FindWinningLine(gameID uint64, who uuid.UUID) (int, board.LineKind, bool, error) {
	m, err := b.GetMarkedSquares(gameID, who)
	if err != nil {
		return 0, 0, false, err
	}
	index, kind, ok := board.WinningLine(m)
	return index, kind, ok, nil
}

// Games returns a copy of one instance.
func (b *Bingo) Games(gameID uint64) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, err := b.lookup(gameID)
	if err != nil {
		return Snapshot{}, err
	}
	return g.snapshot(), nil
}

// GenerateBoard deals a throwaway board without touching any instance.
func (b *Bingo) GenerateBoard() board.Grid {
	return board.Generate(b.source.Stream(0, uuid.Nil))
}

// RandomBytes returns one raw entropy block.
func (b *Bingo) RandomBytes() [32]byte {
	return b.source.RandomBytes()
}

func (b *Bingo) word(gameID uint64, who uuid.UUID) (uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, err := b.lookup(gameID)
	if err != nil {
		return uint256.Int{}, err
	}
	word, ok := g.boardOf(who)
	if !ok {
		return uint256.Int{}, ErrNotParticipant
	}
	return word, nil
}

func (b *Bingo) lookup(gameID uint64) (*Game, error) {
	g, ok := b.games.at(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return g, nil
}

func (b *Bingo) reject(gameID uint64, caller uuid.UUID, op string, err error) error {
	fields := logrus.Fields{"game": gameID, "op": op}
	if caller != uuid.Nil {
		fields["player"] = caller
	}
	b.logger.WithFields(fields).Warnf("rejected: %v", err)
	return err
}

// emit numbers the action within its instance and queues its record and event.
// The caller holds mu and calls deliver once it has released it.
func (b *Bingo) emit(g *Game, actorID uuid.UUID, payload map[string]interface{}, ev GameEvent) {
	g.actionIndex++
	ev.Seq = g.actionIndex
	e := emission{event: ev}
	if b.publisher != nil {
		if payload == nil {
			payload = make(map[string]interface{})
		}
		e.record = &cache.GameActionRecord{
			RunID:         b.run,
			GameID:        g.ID,
			ActionIndex:   g.actionIndex,
			ActorUserID:   actorID,
			ActionType:    string(ev.Type),
			ActionPayload: payload,
			Timestamp:     b.clock.Now().UnixMilli(),
		}
	}
	b.outbox = append(b.outbox, e)
}

// deliver drains the outbox in order. Only one goroutine delivers at a time; a
// caller that finds delivery in progress, including a handler calling back into
// the engine, leaves its emissions to the active deliverer.
func (b *Bingo) deliver() {
	for {
		if !b.deliverMu.TryLock() {
			return
		}
		for {
			b.mu.Lock()
			batch := b.outbox
			b.outbox = nil
			b.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				b.dispatch(e)
			}
		}
		b.deliverMu.Unlock()

		// Emissions queued between the last drain and the unlock were skipped by
		// their owners, so look again.
		b.mu.Lock()
		idle := len(b.outbox) == 0
		b.mu.Unlock()
		if idle {
			return
		}
	}
}

func (b *Bingo) dispatch(e emission) {
	if e.record != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.publisher.PublishGameAction(ctx, *e.record); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{"game": e.record.GameID, "action": e.record.ActionIndex}).Error("failed to publish game action")
		}
		cancel()
	}
	if b.onEvent != nil {
		b.onEvent(e.event)
	}
}
