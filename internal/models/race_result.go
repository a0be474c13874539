package models

// RaceResult is the archived outcome of a finished lobby.
type RaceResult struct {
	LobbyID    string   `json:"lobby_id"`
	Threshold  int      `json:"threshold"`
	Winner     string   `json:"winner"`
	Standings  []Player `json:"standings"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt int64    `json:"finished_at"`
}
