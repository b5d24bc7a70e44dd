package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/auth"
	"github.com/jason-s-yu/bingo/internal/escrow"
)

type amountRequest struct {
	Amount string `json:"amount"`
}

func (a amountRequest) parse() (uint256.Int, error) {
	if a.Amount == "" {
		return uint256.Int{}, errors.New("amount is required")
	}
	v, err := uint256.FromDecimal(a.Amount)
	if err != nil {
		return uint256.Int{}, errors.New("amount must be a non-negative decimal integer")
	}
	return *v, nil
}

// GuestHandler issues a fresh identity and sets it as the auth cookie.
func GuestHandler(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New()
		token, err := auth.CreateJWT(id)
		if err != nil {
			logger.WithError(err).Error("failed to create guest token")
			http.Error(w, "failed to create token", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    token,
			HttpOnly: true,
			Path:     "/",
		})
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "token": token})
	}
}

// BalanceHandler returns the caller's balance in the join token.
func BalanceHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		token := gs.Bingo.Rules().JoinToken
		bal, err := gs.Ledger.BalanceOf(r.Context(), token, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "balance": bal.Dec()})
	}
}

// DepositHandler credits the caller. Only ledgers this service administers accept it.
func DepositHandler(logger *logrus.Logger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		funder, ok := gs.Ledger.(escrow.Funder)
		if !ok {
			http.Error(w, "ledger does not accept deposits", http.StatusNotImplemented)
			return
		}
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		amount, err := req.parse()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		token := gs.Bingo.Rules().JoinToken
		if err := funder.Deposit(r.Context(), token, caller, amount); err != nil {
			logger.WithError(err).WithField("player", caller).Warn("deposit failed")
			writeError(w, err)
			return
		}
		bal, err := gs.Ledger.BalanceOf(r.Context(), token, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "balance": bal.Dec()})
	}
}

// ApproveHandler authorizes the engine to pull up to amount from the caller.
func ApproveHandler(logger *logrus.Logger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		funder, ok := gs.Ledger.(escrow.Funder)
		if !ok {
			http.Error(w, "ledger does not accept approvals", http.StatusNotImplemented)
			return
		}
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		amount, err := req.parse()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		token := gs.Bingo.Rules().JoinToken
		if err := funder.Approve(r.Context(), token, caller, gs.Bingo.Account(), amount); err != nil {
			logger.WithError(err).WithField("player", caller).Warn("approve failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"spender": gs.Bingo.Account(), "amount": amount.Dec()})
	}
}
