package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/clickrace/internal/models"
)

const (
	DefaultResultsLimit = 20
	MaxResultsLimit     = 100
)

const schema = `
	CREATE TABLE IF NOT EXISTS race_results (
		lobby_id    TEXT        NOT NULL,
		finished_at BIGINT      NOT NULL,
		started_at  BIGINT      NOT NULL,
		threshold   INT         NOT NULL,
		winner      TEXT        NOT NULL,
		standings   JSONB       NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (lobby_id, finished_at)
	)
`

// Results archives finished races.
type Results struct {
	pool *pgxpool.Pool
}

// NewResults wraps an open pool.
func NewResults(pool *pgxpool.Pool) *Results {
	return &Results{pool: pool}
}

// EnsureSchema creates the race_results table if missing.
func (r *Results) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create race_results: %w", err)
	}
	return nil
}

// Insert writes a batch in a single transaction. Re-delivered results are ignored.
func (r *Results) Insert(ctx context.Context, results []models.RaceResult) error {
	if len(results) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO race_results (lobby_id, finished_at, started_at, threshold, winner, standings)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (lobby_id, finished_at) DO NOTHING
		`
		for _, res := range results {
			standings, err := encodeStandings(res.Standings)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, q, res.LobbyID, res.FinishedAt, res.StartedAt, res.Threshold, res.Winner, standings); err != nil {
				return fmt.Errorf("insert result %s: %w", res.LobbyID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx insert race results: %w", err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (r *Results) Recent(ctx context.Context, limit int) ([]models.RaceResult, error) {
	q := `
		SELECT lobby_id, finished_at, started_at, threshold, winner, standings
		FROM race_results
		ORDER BY finished_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, q, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.RaceResult, 0)
	for rows.Next() {
		var (
			res models.RaceResult
			raw []byte
		)
		if err := rows.Scan(&res.LobbyID, &res.FinishedAt, &res.StartedAt, &res.Threshold, &res.Winner, &raw); err != nil {
			return nil, err
		}
		if res.Standings, err = decodeStandings(raw); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ClampLimit maps a requested page size onto [1, MaxResultsLimit]; non-positive means the default.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultResultsLimit
	case limit > MaxResultsLimit:
		return MaxResultsLimit
	}
	return limit
}

func encodeStandings(players []models.Player) ([]byte, error) {
	if players == nil {
		players = []models.Player{}
	}
	b, err := json.Marshal(players)
	if err != nil {
		return nil, fmt.Errorf("marshal standings: %w", err)
	}
	return b, nil
}

func decodeStandings(raw []byte) ([]models.Player, error) {
	players := []models.Player{}
	if len(raw) == 0 {
		return players, nil
	}
	if err := json.Unmarshal(raw, &players); err != nil {
		return nil, fmt.Errorf("decode standings: %w", err)
	}
	return players, nil
}
