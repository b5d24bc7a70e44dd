package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jason-s-yu/bingo/internal/auth"
	"github.com/jason-s-yu/bingo/internal/escrow"
	"github.com/jason-s-yu/bingo/internal/game"
)

const authCookie = "auth_token"

var errMissingToken = errors.New("missing auth token")

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken looks for a bearer token first, then the auth cookie, then a
// "token" query parameter for websocket clients that cannot set headers.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if token := extractCookieToken(r.Header.Get("Cookie"), authCookie); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// callerFromRequest authenticates the request and returns the caller identity.
func callerFromRequest(r *http.Request) (uuid.UUID, error) {
	token := requestToken(r)
	if token == "" {
		return uuid.Nil, errMissingToken
	}
	return auth.AuthenticateJWT(token)
}

// requireCaller writes 401/403 and returns false when the request is not authenticated.
func requireCaller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	caller, err := callerFromRequest(r)
	if errors.Is(err, errMissingToken) {
		http.Error(w, "missing auth_token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return uuid.Nil, false
	}
	return caller, true
}

// gameIDFromPath parses the {id} path value.
func gameIDFromPath(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// playerFromQuery returns the "player" query parameter, defaulting to the caller.
func playerFromQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if raw := r.URL.Query().Get("player"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid player id", http.StatusBadRequest)
			return uuid.Nil, false
		}
		return id, true
	}
	return requireCaller(w, r)
}

// statusFor maps engine and ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrTimingViolation):
		return http.StatusTooEarly
	case errors.Is(err, game.ErrValidationViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrPhaseViolation), errors.Is(err, game.ErrParticipationViolation):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrInsufficientBalance), errors.Is(err, escrow.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as {"error": ...} with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes an optional JSON body into v; an empty body is allowed.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("bad request payload: %w", err)
	}
	return nil
}
