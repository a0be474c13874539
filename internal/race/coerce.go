package race

import (
	"math"
	"strings"
)

// Lobby sizing and race tuning. Out-of-range input is clamped or defaulted, never rejected.
const (
	MinCapacity      = 2
	MaxCapacity      = 10
	DefaultCapacity  = 5
	DefaultThreshold = 50
	MaxThreshold     = 100_000
	DefaultAmount    = 1
	MaxAdvanceAmount = 1_000
	MaxAddressLength = 128
)

// ThresholdOptions is the menu of click targets offered to lobby creators.
var ThresholdOptions = []int{25, 50, 100, 200}

// CoerceCapacity clamps capacity into [MinCapacity, MaxCapacity]; zero means "unset".
func CoerceCapacity(capacity int) int {
	if capacity == 0 {
		return DefaultCapacity
	}
	return clamp(capacity, MinCapacity, MaxCapacity)
}

// CoerceThreshold returns threshold if it is a usable positive click target, else DefaultThreshold.
func CoerceThreshold(threshold int) int {
	if threshold <= 0 || threshold > MaxThreshold {
		return DefaultThreshold
	}
	return threshold
}

// ChooseThreshold snaps a requested threshold onto ThresholdOptions, defaulting when it is not on the menu.
func ChooseThreshold(threshold int) int {
	for _, opt := range ThresholdOptions {
		if opt == threshold {
			return threshold
		}
	}
	return DefaultThreshold
}

// ClampMinPlayers clamps a start request's minimum into [MinCapacity, capacity].
func ClampMinPlayers(minPlayers, capacity int) int {
	if minPlayers == 0 {
		minPlayers = MinCapacity
	}
	return clamp(minPlayers, MinCapacity, capacity)
}

// CoerceAmount turns an advance amount into a positive click count.
func CoerceAmount(amount int) int {
	if amount <= 0 {
		return DefaultAmount
	}
	return min(amount, MaxAdvanceAmount)
}

// IntFromFloat floors a decoded JSON number. NaN and infinities become 0 ("unset"),
// magnitudes beyond int32 saturate so later clamps stay meaningful.
func IntFromFloat(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	v = math.Floor(v)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}

func validAddress(address string) error {
	a := strings.TrimSpace(address)
	if a == "" {
		return ErrMissingAddress
	}
	if len(a) > MaxAddressLength || strings.ContainsAny(a, " \t\r\n") {
		return ErrBadAddress
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
