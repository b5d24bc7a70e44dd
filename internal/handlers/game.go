// internal/handlers/game.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/jason-s-yu/bingo/internal/board"
)

type markRequest struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type winRequest struct {
	Index int            `json:"index"`
	Kind  board.LineKind `json:"kind"`
}

// CreateGameHandler opens a new instance and returns its id.
func CreateGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireCaller(w, r); !ok {
			return
		}
		id, err := gs.Bingo.InitiateGame(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
	}
}

// GetGameHandler returns the public snapshot of one instance.
func GetGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		snap, err := gs.Bingo.Games(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// JoinGameHandler pulls the join fee from the caller and deals their board.
func JoinGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		if err := gs.Bingo.Join(r.Context(), id, caller); err != nil {
			writeError(w, err)
			return
		}
		grid, err := gs.Bingo.GetBoard(id, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"board": grid})
	}
}

// StartGameHandler moves an open instance to active.
func StartGameHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireCaller(w, r); !ok {
			return
		}
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		if err := gs.Bingo.Start(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DrawHandler reveals the next number.
func DrawHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireCaller(w, r); !ok {
			return
		}
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		n, err := gs.Bingo.Draw(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"number": n})
	}
}

// MarkHandler marks a cell of the caller's board.
func MarkHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		var req markRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := gs.Bingo.MarkNumber(r.Context(), id, caller, req.Row, req.Col); err != nil {
			writeError(w, err)
			return
		}
		marks, err := gs.Bingo.GetMarkedSquares(id, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"marks": marks})
	}
}

// WinHandler claims the pot for a completed line.
func WinHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		var req winRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := gs.Bingo.Win(r.Context(), id, caller, req.Index, req.Kind); err != nil {
			writeError(w, err)
			return
		}
		snap, err := gs.Bingo.Games(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// BoardHandler returns the numbers of a player's board, the caller's by default.
func BoardHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		who, ok := playerFromQuery(w, r)
		if !ok {
			return
		}
		grid, err := gs.Bingo.GetBoard(id, who)
		if err != nil {
			writeError(w, err)
			return
		}
		word, _ := gs.Bingo.PackedBoard(id, who)
		writeJSON(w, http.StatusOK, map[string]interface{}{"board": grid, "packed": word.Hex()})
	}
}

// MarksHandler returns a player's mark matrix.
func MarksHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		who, ok := playerFromQuery(w, r)
		if !ok {
			return
		}
		marks, err := gs.Bingo.GetMarkedSquares(id, who)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"marks": marks})
	}
}

// LocateHandler finds ?number= on a player's board. Absent numbers report row and
// col 5.
func LocateHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		n, err := strconv.ParseUint(r.URL.Query().Get("number"), 10, 8)
		if err != nil {
			http.Error(w, "number must be a byte value", http.StatusBadRequest)
			return
		}
		who, ok := playerFromQuery(w, r)
		if !ok {
			return
		}
		row, col, err := gs.Bingo.CheckIfNumberIsInBoard(id, who, uint8(n))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"row":   row,
			"col":   col,
			"found": row != board.NotFound,
		})
	}
}

// WinningLineHandler returns the (index, kind) a win call would need, if any.
func WinningLineHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		who, ok := playerFromQuery(w, r)
		if !ok {
			return
		}
		index, kind, found, err := gs.Bingo.FindWinningLine(id, who)
		if err != nil {
			writeError(w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusOK, map[string]interface{}{"found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"found": true, "index": index, "kind": kind})
	}
}

// GenerateBoardHandler deals a board that belongs to no game.
func GenerateBoardHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"board": gs.Bingo.GenerateBoard()})
	}
}
