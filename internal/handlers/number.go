package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jason-s-yu/clickrace/internal/race"
)

// flexInt decodes a JSON number, numeric string, or anything else (as 0). Fractions are floored.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*n = 0
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*n = flexInt(race.IntFromFloat(f))
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			*n = flexInt(race.IntFromFloat(f))
		}
	}
	return nil
}
