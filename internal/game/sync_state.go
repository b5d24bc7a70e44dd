// internal/game/sync_state.go
package game

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a read-only copy of one instance. Boards are not included; they are
// fetched per player through GetBoard and GetMarkedSquares.
type Snapshot struct {
	ID              uint64      `json:"id"`
	Phase           Phase       `json:"phase"`
	CreationTime    time.Time   `json:"creationTime"`
	JoinDeadline    time.Time   `json:"joinDeadline"`
	StartTime       *time.Time  `json:"startTime,omitempty"`
	TurnDeadline    *time.Time  `json:"turnDeadline,omitempty"`
	DrawnNumbers    []int       `json:"drawnNumbers"`
	LastDrawnNumber uint8       `json:"lastDrawnNumber"`
	Duplicates      int         `json:"duplicates"`
	Players         []uuid.UUID `json:"players"`
	PotAmount       string      `json:"potAmount"`
	Winner          *uuid.UUID  `json:"winner,omitempty"`
	Seq             int         `json:"seq"`
}

// snapshot copies g. Slices are cloned so callers cannot reach back into the record.
func (g *Game) snapshot() Snapshot {
	snap := Snapshot{
		ID:              g.ID,
		Phase:           g.Phase,
		CreationTime:    g.CreatedAt,
		JoinDeadline:    g.JoinDeadline,
		DrawnNumbers:    make([]int, len(g.Drawn)),
		LastDrawnNumber: g.LastDrawn,
		Duplicates:      g.Duplicates,
		Players:         append([]uuid.UUID{}, g.Players...),
		PotAmount:       g.Pot.Dec(),
		Seq:             g.actionIndex,
	}
	for i, n := range g.Drawn {
		snap.DrawnNumbers[i] = int(n)
	}
	if !g.StartedAt.IsZero() {
		start, turn := g.StartedAt, g.TurnDeadline
		snap.StartTime = &start
		snap.TurnDeadline = &turn
	}
	if g.Winner != nil {
		w := *g.Winner
		snap.Winner = &w
	}
	return snap
}
