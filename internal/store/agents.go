package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/beatforge/api/internal/model"
)

// GetAgent fetches the mirrored producer profile.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	var (
		a          model.Agent
		genresJSON string
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, genres_json, default_price, default_stems_price,
		 payout_email, reputation, created_at FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &genresJSON, &a.DefaultPrice, &a.DefaultStemsPrice,
			&a.PayoutEmail, &a.Reputation, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if err := json.Unmarshal([]byte(genresJSON), &a.Genres); err != nil {
		a.Genres = nil
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// UpsertAgent writes the mirrored profile. The identity service owns the
// canonical record; this keeps the local copy in sync.
func (s *Store) UpsertAgent(ctx context.Context, a *model.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	genres, err := json.Marshal(a.Genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, genres_json, default_price, default_stems_price,
		 payout_email, reputation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name, genres_json = excluded.genres_json,
		 default_price = excluded.default_price,
		 default_stems_price = excluded.default_stems_price,
		 payout_email = excluded.payout_email`,
		a.ID, a.Name, string(genres), a.DefaultPrice, a.DefaultStemsPrice,
		a.PayoutEmail, a.Reputation, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// IncrementReputation awards a fixed reputation delta to the agent.
func (s *Store) IncrementReputation(ctx context.Context, id string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET reputation = reputation + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("increment reputation: %w", err)
	}
	return nil
}

// LogRequest appends one accepted generation request to the rate window.
func (s *Store) LogRequest(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_log (agent_id, created_at) VALUES (?, ?)`,
		agentID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("log request: %w", err)
	}
	return nil
}

// CountRequestsSince counts accepted requests in the sliding window.
func (s *Store) CountRequestsSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	return s.countRows(ctx,
		`SELECT COUNT(*) FROM request_log WHERE agent_id = ? AND created_at >= ?`,
		agentID, formatTime(since))
}
