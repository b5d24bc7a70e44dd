// internal/game/game.go
package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/jason-s-yu/bingo/internal/board"
)

// Phase is the coarse lifecycle stage of an instance. It only ever moves forward.
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhaseOpen
	PhaseActive
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseOpen:
		return "open"
	case PhaseActive:
		return "active"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// GameEventType is an enum-like type for broadcasting game actions.
type GameEventType string

const (
	EventGameInitiated GameEventType = "game_initiated"
	EventPlayerJoined  GameEventType = "player_joined"
	EventGameStarted   GameEventType = "game_started"
	EventNumberDrawn   GameEventType = "number_drawn"
	EventSquareMarked  GameEventType = "square_marked"
	EventGameWon       GameEventType = "game_won"
)

// GameEvent holds data about an event that can be broadcast to clients in a consistent format.
type GameEvent struct {
	Type    GameEventType          `json:"type"`
	GameID  uint64                 `json:"gameId"`
	User    *uuid.UUID             `json:"user,omitempty"`
	Number  uint8                  `json:"number,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Seq is the instance's action index after this event. Events of one instance
	// are delivered in Seq order.
	Seq int `json:"seq"`
}

// Game is one instance record. Records live in the Registry arena and are never freed.
type Game struct {
	ID    uint64
	Phase Phase

	CreatedAt    time.Time
	JoinDeadline time.Time
	StartedAt    time.Time
	TurnDeadline time.Time

	// Drawn keeps draw order; drawn indexes it by value.
	Drawn     []uint8
	drawn     [board.MaxValue + 1]bool
	LastDrawn uint8

	// Duplicates counts draws accepted after the resample budget ran out.
	Duplicates int

	// Players keeps join order; boards holds each player's packed word.
	Players []uuid.UUID
	boards  map[uuid.UUID]uint256.Int

	// joining holds callers whose fee pull is in flight; reserved is the sum of
	// their fees, counted against the pot ceiling.
	joining  map[uuid.UUID]struct{}
	reserved uint256.Int

	Pot    uint256.Int
	Winner *uuid.UUID

	actionIndex int
}

func newGame(id uint64, now time.Time, rules Rules) Game {
	return Game{
		ID:           id,
		Phase:        PhaseCreated,
		CreatedAt:    now,
		JoinDeadline: now.Add(rules.JoinDuration),
		boards:       make(map[uuid.UUID]uint256.Int),
		joining:      make(map[uuid.UUID]struct{}),
	}
}

func (g *Game) isPlayer(who uuid.UUID) bool {
	_, ok := g.boards[who]
	return ok
}

func (g *Game) addPlayer(who uuid.UUID, word uint256.Int) {
	g.Players = append(g.Players, who)
	g.boards[who] = word
}

func (g *Game) isJoining(who uuid.UUID) bool {
	_, ok := g.joining[who]
	return ok
}

func (g *Game) reserveJoin(who uuid.UUID, fee uint256.Int) {
	g.joining[who] = struct{}{}
	g.reserved.Add(&g.reserved, &fee)
}

func (g *Game) releaseJoin(who uuid.UUID, fee uint256.Int) {
	delete(g.joining, who)
	g.reserved.Sub(&g.reserved, &fee)
}

func (g *Game) wasDrawn(n uint8) bool {
	return g.drawn[n]
}

func (g *Game) recordDraw(n uint8) {
	g.Drawn = append(g.Drawn, n)
	g.drawn[n] = true
	g.LastDrawn = n
}

// boardOf returns the packed word of who.
func (g *Game) boardOf(who uuid.UUID) (uint256.Int, bool) {
	w, ok := g.boards[who]
	return w, ok
}

func (g *Game) setBoard(who uuid.UUID, w uint256.Int) {
	g.boards[who] = w
}
