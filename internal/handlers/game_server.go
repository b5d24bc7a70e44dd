// internal/handlers/game_server.go
package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/escrow"
	"github.com/jason-s-yu/bingo/internal/game"
	"github.com/jason-s-yu/bingo/internal/middleware"
)

// GameServer is a high-level struct that holds the engine, the ledger it settles
// against, and the hub that fans game events out to websocket subscribers.
type GameServer struct {
	Bingo  *game.Bingo
	Ledger escrow.Ledger
	Hub    *Hub

	// AllowDeposits registers POST /ledger/deposit, which lets any caller credit
	// itself. Only enable it for play-money ledgers.
	AllowDeposits bool
}

// NewGameServer builds the engine around ledger and wires its events into a new Hub.
func NewGameServer(logger *logrus.Logger, rules game.Rules, ledger escrow.Ledger, opts ...game.Option) (*GameServer, error) {
	hub := NewHub(logger)
	opts = append([]game.Option{game.WithLogger(logger), game.WithEventHandler(hub.Broadcast)}, opts...)
	b, err := game.NewBingo(rules, ledger, opts...)
	if err != nil {
		return nil, err
	}
	return &GameServer{Bingo: b, Ledger: ledger, Hub: hub}, nil
}

// Routes registers every endpoint on a fresh mux, each wrapped in request logging.
func (gs *GameServer) Routes(logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.LogMiddleware(logger)(h))
	}

	// identity and ledger
	handle("POST /guest", GuestHandler(logger))
	handle("GET /balance", BalanceHandler(gs))
	if gs.AllowDeposits {
		handle("POST /ledger/deposit", DepositHandler(logger, gs))
	}
	handle("POST /ledger/approve", ApproveHandler(logger, gs))

	// game lifecycle
	handle("POST /games", CreateGameHandler(gs))
	handle("GET /games/{id}", GetGameHandler(gs))
	handle("POST /games/{id}/join", JoinGameHandler(gs))
	handle("POST /games/{id}/start", StartGameHandler(gs))
	handle("POST /games/{id}/draw", DrawHandler(gs))
	handle("POST /games/{id}/mark", MarkHandler(gs))
	handle("POST /games/{id}/win", WinHandler(gs))

	// board queries
	handle("GET /games/{id}/board", BoardHandler(gs))
	handle("GET /games/{id}/marks", MarksHandler(gs))
	handle("GET /games/{id}/locate", LocateHandler(gs))
	handle("GET /games/{id}/winning-line", WinningLineHandler(gs))
	handle("GET /board/generate", GenerateBoardHandler(gs))

	// websocket feed; the connection itself is logged on accept and close
	mux.Handle("GET /games/{id}/ws", GameWSHandler(logger, gs))
	return mux
}
