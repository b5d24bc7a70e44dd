// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/board"
	"github.com/jason-s-yu/bingo/internal/middleware"
)

// GameMessage represents the structure for incoming WebSocket messages.
type GameMessage struct {
	Type string `json:"type"`

	// Row and Col address a cell for "mark".
	Row int `json:"row,omitempty"`
	Col int `json:"col,omitempty"`

	// Index and Kind select a line for "win".
	Index int            `json:"index,omitempty"`
	Kind  board.LineKind `json:"kind,omitempty"`
}

// GameWSHandler upgrades the connection, sends the current snapshot, then streams
// every event of the game. Authenticated players may also mark and claim wins
// over the same connection.
func GameWSHandler(logger *logrus.Logger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDFromPath(w, r)
		if !ok {
			return
		}
		caller, authErr := callerFromRequest(r)

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"bingo"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("WebSocket accept error for game %d: %v", gameID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "internal server error during handler exit")

		if c.Subprotocol() != "bingo" {
			c.Close(BadSubprotocolError, "client must use the 'bingo' subprotocol")
			return
		}
		if authErr != nil {
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}
		// Subscribe before reading the snapshot so no event falls between the two.
		events, unsubscribe := gs.Hub.Subscribe(gameID)
		defer unsubscribe()
		snap, err := gs.Bingo.Games(gameID)
		if err != nil {
			c.Close(InvalidGameIDError, "game not found")
			return
		}

		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sendWsMessage(ctx, c, map[string]interface{}{"type": "sync_state", "game": snap})
		go writeEvents(ctx, c, events, snap.Seq)

		err = readGameMessages(ctx, c, gs, gameID, caller, logger)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// writeEvents forwards hub events to the client until ctx ends or the feed closes.
// Events already reflected in the snapshot (seq <= after) are skipped.
func writeEvents(ctx context.Context, c *websocket.Conn, events <-chan []byte, after int) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				return
			}
			if eventSeq(data) <= after {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// eventSeq reads the seq of an encoded event, or 0 if it has none.
func eventSeq(data []byte) int {
	var ev struct {
		Seq int `json:"seq"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return 0
	}
	return ev.Seq
}

// readGameMessages handles client messages until the connection closes. It
// returns nil on a normal closure.
func readGameMessages(ctx context.Context, c *websocket.Conn, gs *GameServer, gameID uint64, caller uuid.UUID, logger *logrus.Logger) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg GameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendWsError(ctx, c, "invalid JSON format")
			continue
		}
		fields := logrus.Fields{"game": gameID, "player": caller, "type": msg.Type}
		logger.WithFields(fields).Debug("ws message")

		switch msg.Type {
		case "ping":
			sendWsMessage(ctx, c, map[string]string{"type": "pong"})
		case "sync":
			snap, err := gs.Bingo.Games(gameID)
			if err != nil {
				sendWsError(ctx, c, err.Error())
				continue
			}
			sendWsMessage(ctx, c, map[string]interface{}{"type": "sync_state", "game": snap})
		case "mark":
			if err := gs.Bingo.MarkNumber(ctx, gameID, caller, msg.Row, msg.Col); err != nil {
				sendWsError(ctx, c, err.Error())
			}
		case "win":
			if err := gs.Bingo.Win(ctx, gameID, caller, msg.Index, msg.Kind); err != nil {
				sendWsError(ctx, c, err.Error())
			}
		default:
			logger.WithFields(fields).Warn("unknown ws message type")
			sendWsError(ctx, c, "unknown message type: "+msg.Type)
		}
	}
}

// sendWsMessage marshals a message and sends it with a write timeout.
func sendWsMessage(ctx context.Context, c *websocket.Conn, message interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// Write failures surface in the read loop as a closed connection.
	_ = c.Write(writeCtx, websocket.MessageText, msgBytes)
}

// sendWsError sends a structured error message to the client.
func sendWsError(ctx context.Context, c *websocket.Conn, errorMsg string) {
	sendWsMessage(ctx, c, map[string]interface{}{
		"type":    "error",
		"message": errorMsg,
	})
}
