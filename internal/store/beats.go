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

const beatColumns = `id, agent_id, task_id, title, genre, style, tempo, duration,
	provider_track_id, audio_url, stream_url, lossless_url, image_url,
	stems_json, silent_stems_json, mirrors_json, price, stems_price,
	sold, deleted, status, lossless_status, stems_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeat(row rowScanner) (*model.Beat, error) {
	var (
		b                                  model.Beat
		stemsJSON, silentJSON, mirrorsJSON string
		sold, deleted                      int
		createdAt, updatedAt               string
	)
	err := row.Scan(
		&b.ID, &b.AgentID, &b.TaskID, &b.Title, &b.Genre, &b.Style, &b.Tempo,
		&b.Duration, &b.ProviderTrackID, &b.AudioURL, &b.StreamURL,
		&b.LosslessURL, &b.ImageURL, &stemsJSON, &silentJSON, &mirrorsJSON,
		&b.Price, &b.StemsPrice, &sold, &deleted, &b.Status,
		&b.LosslessStatus, &b.StemsStatus, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan beat: %w", err)
	}
	b.Sold = sold == 1
	b.Deleted = deleted == 1
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(stemsJSON), &b.StemURLs); err != nil {
		b.StemURLs = nil
	}
	if err := json.Unmarshal([]byte(silentJSON), &b.SilentStems); err != nil {
		b.SilentStems = nil
	}
	if err := json.Unmarshal([]byte(mirrorsJSON), &b.MirrorURLs); err != nil {
		b.MirrorURLs = nil
	}
	return &b, nil
}

func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func marshalList(l []string) string {
	if len(l) == 0 {
		return "[]"
	}
	data, err := json.Marshal(l)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// CreateBeat inserts a new beat row.
func (s *Store) CreateBeat(ctx context.Context, b *model.Beat) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO beats (`+beatColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AgentID, b.TaskID, b.Title, b.Genre, b.Style, b.Tempo,
		b.Duration, b.ProviderTrackID, b.AudioURL, b.StreamURL, b.LosslessURL,
		b.ImageURL, marshalMap(b.StemURLs), marshalList(b.SilentStems),
		marshalMap(b.MirrorURLs), b.Price, b.StemsPrice,
		boolToInt(b.Sold), boolToInt(b.Deleted), string(b.Status),
		string(b.LosslessStatus), string(b.StemsStatus),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert beat: %w", err)
	}
	return nil
}

// GetBeat fetches one beat by id.
func (s *Store) GetBeat(ctx context.Context, id string) (*model.Beat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+beatColumns+` FROM beats WHERE id = ?`, id)
	return scanBeat(row)
}

// BeatsByTask returns the sibling beats for a provider task, oldest first.
func (s *Store) BeatsByTask(ctx context.Context, taskID string) ([]*model.Beat, error) {
	return s.queryBeats(ctx,
		`SELECT `+beatColumns+` FROM beats WHERE task_id = ? ORDER BY created_at ASC, id ASC`,
		taskID)
}

// BeatsByProviderTracks returns beats whose recorded provider track id is
// one of the given ids, oldest first. Used when a callback omits the task.
func (s *Store) BeatsByProviderTracks(ctx context.Context, trackIDs []string) ([]*model.Beat, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + beatColumns + ` FROM beats WHERE provider_track_id IN (?`
	args := []any{trackIDs[0]}
	for _, id := range trackIDs[1:] {
		query += ", ?"
		args = append(args, id)
	}
	query += `) ORDER BY created_at ASC, id ASC`
	return s.queryBeats(ctx, query, args...)
}

// LatestGeneratingBeats returns the most recently created beats still
// generating, reordered oldest first. Last-resort callback matching.
func (s *Store) LatestGeneratingBeats(ctx context.Context, limit int) ([]*model.Beat, error) {
	beats, err := s.queryBeats(ctx,
		`SELECT `+beatColumns+` FROM beats WHERE status = ? AND deleted = 0
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(model.BeatStatusGenerating), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}
	return beats, nil
}

// ListBeatsByAgent returns the agent's beats, newest first, excluding
// soft-deleted rows.
func (s *Store) ListBeatsByAgent(ctx context.Context, agentID string) ([]*model.Beat, error) {
	return s.queryBeats(ctx,
		`SELECT `+beatColumns+` FROM beats WHERE agent_id = ? AND deleted = 0
		 ORDER BY created_at DESC`, agentID)
}

func (s *Store) queryBeats(ctx context.Context, query string, args ...any) ([]*model.Beat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query beats: %w", err)
	}
	defer rows.Close()

	var beats []*model.Beat
	for rows.Next() {
		b, err := scanBeat(rows)
		if err != nil {
			return nil, err
		}
		beats = append(beats, b)
	}
	return beats, rows.Err()
}

// CompleteBeat records primary completion from a generation callback.
// Guarded on status so a duplicate delivery for an already complete beat
// never regresses stored media.
func (s *Store) CompleteBeat(ctx context.Context, id, trackID, audioURL, streamURL, imageURL string, duration float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beats SET status = ?, provider_track_id = ?, audio_url = ?,
		 stream_url = CASE WHEN ? != '' THEN ? ELSE stream_url END,
		 image_url = CASE WHEN ? != '' THEN ? ELSE image_url END,
		 duration = ?, updated_at = ?
		 WHERE id = ? AND status != ?`,
		string(model.BeatStatusComplete), trackID, audioURL,
		streamURL, streamURL, imageURL, imageURL, duration,
		formatTime(time.Now()), id, string(model.BeatStatusComplete),
	)
	if err != nil {
		return fmt.Errorf("complete beat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// RecordStreamPreview stores the intermediate streaming reference without
// touching status.
func (s *Store) RecordStreamPreview(ctx context.Context, id, trackID, streamURL, imageURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE beats SET provider_track_id = ?, stream_url = ?,
		 image_url = CASE WHEN ? != '' THEN ? ELSE image_url END, updated_at = ?
		 WHERE id = ? AND status = ?`,
		trackID, streamURL, imageURL, imageURL, formatTime(time.Now()),
		id, string(model.BeatStatusGenerating),
	)
	if err != nil {
		return fmt.Errorf("record stream preview: %w", err)
	}
	return nil
}

// BackfillBeatMedia fills previously empty media fields on a complete beat
// without overwriting stored values. Duplicate deliveries are allowed to
// repair holes, never to erase good data.
func (s *Store) BackfillBeatMedia(ctx context.Context, id, streamURL, imageURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE beats SET
		 stream_url = CASE WHEN stream_url = '' THEN ? ELSE stream_url END,
		 image_url = CASE WHEN image_url = '' THEN ? ELSE image_url END,
		 updated_at = ?
		 WHERE id = ?`,
		streamURL, imageURL, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("backfill beat media: %w", err)
	}
	return nil
}

// SetJobStatus updates the lossless or stems sub-state machine.
func (s *Store) SetJobStatus(ctx context.Context, id, job string, status model.JobStatus) error {
	column, err := jobColumn(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE beats SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set %s status: %w", job, err)
	}
	return nil
}

// CompleteLossless stores the lossless URL and marks the job complete,
// unless the job already finished (duplicate delivery no-op).
func (s *Store) CompleteLossless(ctx context.Context, id, url string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beats SET lossless_status = ?, lossless_url = ?, updated_at = ?
		 WHERE id = ? AND lossless_status != ?`,
		string(model.JobStatusComplete), url, formatTime(time.Now()),
		id, string(model.JobStatusComplete))
	if err != nil {
		return fmt.Errorf("complete lossless: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CompleteStems stores the stem map plus the silent-stem exclusion list
// and marks the job complete, unless it already finished.
func (s *Store) CompleteStems(ctx context.Context, id string, stems map[string]string, silent []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beats SET stems_status = ?, stems_json = ?, silent_stems_json = ?, updated_at = ?
		 WHERE id = ? AND stems_status != ?`,
		string(model.JobStatusComplete), marshalMap(stems), marshalList(silent),
		formatTime(time.Now()), id, string(model.JobStatusComplete))
	if err != nil {
		return fmt.Errorf("complete stems: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// FailBeat fails a beat that is still generating. Completed beats never
// regress.
func (s *Store) FailBeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE beats SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.BeatStatusFailed), formatTime(time.Now()),
		id, string(model.BeatStatusGenerating))
	if err != nil {
		return fmt.Errorf("fail beat: %w", err)
	}
	return nil
}

// SetMirrors records archived media copies for a beat.
func (s *Store) SetMirrors(ctx context.Context, id string, mirrors map[string]string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE beats SET mirrors_json = ?, updated_at = ? WHERE id = ?`,
		marshalMap(mirrors), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set mirrors: %w", err)
	}
	return nil
}

// MarkBeatSold flips the sold flag exactly once. Returns ErrConflict when
// the beat was already sold; this is the double-sale guard.
func (s *Store) MarkBeatSold(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beats SET sold = 1, updated_at = ? WHERE id = ? AND sold = 0`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark beat sold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// SoftDeleteBeat marks an unsold beat deleted for its owner.
func (s *Store) SoftDeleteBeat(ctx context.Context, id, agentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beats SET deleted = 1, updated_at = ?
		 WHERE id = ? AND agent_id = ? AND sold = 0 AND deleted = 0`,
		formatTime(time.Now()), id, agentID)
	if err != nil {
		return fmt.Errorf("soft delete beat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// SweepStaleGenerating fails any of the agent's beats stuck generating
// longer than the staleness window. Called opportunistically, not by a
// timer.
func (s *Store) SweepStaleGenerating(ctx context.Context, agentID string, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beats SET status = ?, updated_at = ?
		 WHERE agent_id = ? AND status = ? AND created_at < ?`,
		string(model.BeatStatusFailed), formatTime(time.Now()),
		agentID, string(model.BeatStatusGenerating), formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("sweep stale beats: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountBeatsSince counts beats the agent created after the cutoff.
func (s *Store) CountBeatsSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	return s.countRows(ctx,
		`SELECT COUNT(*) FROM beats WHERE agent_id = ? AND created_at >= ?`,
		agentID, formatTime(since))
}

// CountGeneratingSince counts the agent's beats still generating that were
// created after the cutoff. Dedup guard input.
func (s *Store) CountGeneratingSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	return s.countRows(ctx,
		`SELECT COUNT(*) FROM beats WHERE agent_id = ? AND status = ? AND created_at >= ?`,
		agentID, string(model.BeatStatusGenerating), formatTime(since))
}

func (s *Store) countRows(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func jobColumn(job string) (string, error) {
	switch job {
	case "lossless":
		return "lossless_status", nil
	case "stems":
		return "stems_status", nil
	}
	return "", fmt.Errorf("unknown job %q", job)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
