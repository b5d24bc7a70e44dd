// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the game feed.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was missing, invalid or expired.
	InvalidGameIDError    = 3003 // Target game in the WS URL does not exist.
)
