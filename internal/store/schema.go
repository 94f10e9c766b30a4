package store

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL DEFAULT '',
		genres_json         TEXT NOT NULL DEFAULT '[]',
		default_price       REAL NOT NULL DEFAULT 0,
		default_stems_price REAL NOT NULL DEFAULT 0,
		payout_email        TEXT NOT NULL DEFAULT '',
		reputation          INTEGER NOT NULL DEFAULT 0,
		created_at          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS beats (
		id                TEXT PRIMARY KEY,
		agent_id          TEXT NOT NULL,
		task_id           TEXT NOT NULL,
		title             TEXT NOT NULL,
		genre             TEXT NOT NULL,
		style             TEXT NOT NULL DEFAULT '',
		tempo             INTEGER NOT NULL DEFAULT 0,
		duration          REAL NOT NULL DEFAULT 0,
		provider_track_id TEXT NOT NULL DEFAULT '',
		audio_url         TEXT NOT NULL DEFAULT '',
		stream_url        TEXT NOT NULL DEFAULT '',
		lossless_url      TEXT NOT NULL DEFAULT '',
		image_url         TEXT NOT NULL DEFAULT '',
		stems_json        TEXT NOT NULL DEFAULT '{}',
		silent_stems_json TEXT NOT NULL DEFAULT '[]',
		mirrors_json      TEXT NOT NULL DEFAULT '{}',
		price             REAL NOT NULL,
		stems_price       REAL NOT NULL,
		sold              INTEGER NOT NULL DEFAULT 0,
		deleted           INTEGER NOT NULL DEFAULT 0,
		status            TEXT NOT NULL,
		lossless_status   TEXT NOT NULL DEFAULT '',
		stems_status      TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_beats_agent ON beats(agent_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_beats_task ON beats(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_beats_track ON beats(provider_track_id)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id               TEXT PRIMARY KEY,
		beat_id          TEXT NOT NULL,
		buyer_email      TEXT NOT NULL,
		tier             TEXT NOT NULL,
		amount           REAL NOT NULL,
		platform_fee     REAL NOT NULL,
		seller_share     REAL NOT NULL,
		currency         TEXT NOT NULL,
		paypal_order_id  TEXT NOT NULL DEFAULT '',
		paypal_status    TEXT NOT NULL,
		capture_id       TEXT NOT NULL DEFAULT '',
		download_count   INTEGER NOT NULL DEFAULT 0,
		download_token   TEXT NOT NULL DEFAULT '',
		token_expires_at TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_order ON purchases(paypal_order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_beat ON purchases(beat_id)`,
	`CREATE TABLE IF NOT EXISTS request_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id   TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_log_agent ON request_log(agent_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS contact_verifications (
		email      TEXT NOT NULL,
		code       TEXT NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (email, code)
	)`,
}

func (s *Store) applyMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
