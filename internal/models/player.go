package models

// Player is a racer embedded in a Lobby. Address keeps the form it was first joined with;
// comparisons go through AddressKey.
type Player struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Color   string `json:"color"` // #RRGGBB
	Clicks  int    `json:"clicks"`
}
