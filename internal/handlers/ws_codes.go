// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby feed.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidLobbyIDError = 3003 // Target lobby ID specified in the WS URL does not exist.
)
