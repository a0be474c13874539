package database

import (
	"testing"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultResultsLimit, ClampLimit(0))
	assert.Equal(t, DefaultResultsLimit, ClampLimit(-4))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxResultsLimit, ClampLimit(MaxResultsLimit+1))
}

func TestStandingsRoundTrip(t *testing.T) {
	raw, err := encodeStandings(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	players := []models.Player{{Address: "0x1", Name: "one", Color: "#111111", Clicks: 3}}
	raw, err = encodeStandings(players)
	require.NoError(t, err)
	got, err := decodeStandings(raw)
	require.NoError(t, err)
	assert.Equal(t, players, got)

	got, err = decodeStandings(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = decodeStandings([]byte("{"))
	assert.Error(t, err)
}
