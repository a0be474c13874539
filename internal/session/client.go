// Package session is the client side of a race: an API client, the locally merged lobby
// snapshot, polling and websocket feeds, and the optimistic advance pipeline.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/race"
)

const lobbyPath = "/api/race/lobby"

// APIError is a non-2xx response from the lobby service. It matches the race kind sentinel
// for its code, and the specific sentinel whose text equals its message.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lobby service: %d %s", e.Status, e.Code)
	}
	return e.Message
}

// Unwrap returns the race error kind for Code.
func (e *APIError) Unwrap() error { return race.KindForCode(e.Code) }

// Is matches the specific race sentinel with the same message.
func (e *APIError) Is(target error) bool {
	return target != nil && e.Message != "" && target.Error() == e.Message
}

// Client talks to the lobby service over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// CreateParams are the optional lobby settings for Create. Zero means server default.
type CreateParams struct {
	Capacity  int
	Threshold int
}

type actionBody struct {
	Action     string `json:"action"`
	LobbyID    string `json:"lobbyId,omitempty"`
	Address    string `json:"address,omitempty"`
	Name       string `json:"name,omitempty"`
	Color      string `json:"color,omitempty"`
	Capacity   int    `json:"capacity,omitempty"`
	Threshold  int    `json:"threshold,omitempty"`
	MinPlayers int    `json:"minPlayers,omitempty"`
	Amount     int    `json:"amount,omitempty"`
}

// Create opens a lobby with p as its first player.
func (c *Client) Create(ctx context.Context, params CreateParams, p models.Player) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "create", Capacity: params.Capacity, Threshold: params.Threshold,
		Address: p.Address, Name: p.Name, Color: p.Color})
}

// JoinAny joins the oldest open lobby, or a new one.
func (c *Client) JoinAny(ctx context.Context, p models.Player) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "joinAny", Address: p.Address, Name: p.Name, Color: p.Color})
}

// Join adds p to lobbyID.
func (c *Client) Join(ctx context.Context, lobbyID string, p models.Player) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "join", LobbyID: lobbyID, Address: p.Address, Name: p.Name, Color: p.Color})
}

// Leave removes address from lobbyID.
func (c *Client) Leave(ctx context.Context, lobbyID, address string) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "leave", LobbyID: lobbyID, Address: address})
}

// Start begins the countdown once minPlayers are present.
func (c *Client) Start(ctx context.Context, lobbyID string, minPlayers int) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "start", LobbyID: lobbyID, MinPlayers: minPlayers})
}

// Advance adds amount clicks for address.
func (c *Client) Advance(ctx context.Context, lobbyID, address string, amount int) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "advance", LobbyID: lobbyID, Address: address, Amount: amount})
}

// Reset returns lobbyID to an empty waiting lobby.
func (c *Client) Reset(ctx context.Context, lobbyID string) (models.Lobby, error) {
	return c.action(ctx, actionBody{Action: "reset", LobbyID: lobbyID})
}

// Get queries one lobby.
func (c *Client) Get(ctx context.Context, lobbyID string) (models.Lobby, error) {
	var l models.Lobby
	err := c.do(ctx, http.MethodGet, lobbyPath+"?id="+url.QueryEscape(lobbyID), nil, &l)
	return l, err
}

// List returns the lobby summaries.
func (c *Client) List(ctx context.Context) ([]models.LobbySummary, error) {
	var out struct {
		Lobbies []models.LobbySummary `json:"lobbies"`
	}
	err := c.do(ctx, http.MethodGet, lobbyPath, nil, &out)
	return out.Lobbies, err
}

// Heartbeat refreshes the player's presence.
func (c *Client) Heartbeat(ctx context.Context, p models.Player) error {
	return c.do(ctx, http.MethodPost, "/api/presence", map[string]string{
		"address": p.Address, "name": p.Name, "color": p.Color,
	}, nil)
}

// LobbyFeedURL is the websocket URL of the lobby's snapshot feed.
func (c *Client) LobbyFeedURL(lobbyID string) string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + lobbyPath + "/ws/" + url.PathEscape(lobbyID)
}

func (c *Client) action(ctx context.Context, body actionBody) (models.Lobby, error) {
	var l models.Lobby
	err := c.do(ctx, http.MethodPost, lobbyPath, body, &l)
	return l, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		return apiErr
	}
	apiErr.Code = codeForStatus(resp.StatusCode)
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

// codeForStatus covers servers (or proxies) that answer with plain text.
func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return race.CodeNotFound
	case http.StatusBadRequest:
		return race.CodeInvalidInput
	case http.StatusConflict:
		return race.CodePhaseConflict
	}
	return race.CodeInternal
}
