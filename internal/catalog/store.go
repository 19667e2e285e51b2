package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sermonsync/internal/config"
	"sermonsync/internal/services"
)

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    date TEXT,
    description TEXT,
    feed_url TEXT,
    channel_url TEXT,
    channel_video_id TEXT,
    media_url TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    transcript TEXT,
    transcript_source TEXT,
    progress_json TEXT,
    revision INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_feed_url ON catalog_entries(feed_url);
CREATE INDEX IF NOT EXISTS idx_catalog_channel_video_id ON catalog_entries(channel_video_id);
CREATE INDEX IF NOT EXISTS idx_catalog_status ON catalog_entries(status);
`

// Open initializes or connects to the catalog database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "catalog.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the catalog database location.
func (s *Store) Path() string {
	return s.path
}

// Insert persists a new entry and returns it with its assigned identifier.
func (s *Store) Insert(ctx context.Context, entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, errors.New("entry is nil")
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	progressJSON, err := entry.Progress.JSON()
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO catalog_entries (
            title, date, description, feed_url, channel_url, channel_video_id,
            media_url, status, error_message, transcript, transcript_source,
            progress_json, revision, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		entry.Title,
		nullableTime(entry.Date),
		nullableString(entry.Description),
		nullableString(entry.FeedURL),
		nullableString(entry.ChannelURL),
		nullableString(entry.ChannelVideoID),
		nullableString(entry.MediaURL),
		entry.Status,
		nullableString(entry.ErrorMessage),
		nullableString(entry.Transcript),
		nullableString(entry.TranscriptSource),
		nullableString(progressJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a catalog entry by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM catalog_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// FindByFeedURL returns the first entry matching a feed canonical URL.
func (s *Store) FindByFeedURL(ctx context.Context, url string) (*Entry, error) {
	return s.findByColumn(ctx, "feed_url", url)
}

// FindByChannelVideoID returns the first entry matching a channel video identifier.
func (s *Store) FindByChannelVideoID(ctx context.Context, videoID string) (*Entry, error) {
	return s.findByColumn(ctx, "channel_video_id", videoID)
}

func (s *Store) findByColumn(ctx context.Context, column, value string) (*Entry, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE `+column+` = ? ORDER BY id LIMIT 1`,
		value,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by %s: %w", column, err)
	}
	return entry, nil
}

// Update persists changes to an existing entry. The write is optimistic: it
// only succeeds when the entry's revision still matches the stored one, and
// bumps the revision on success. A stale revision yields services.ErrConflict.
func (s *Store) Update(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	progressJSON, err := entry.Progress.JSON()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE catalog_entries
         SET title = ?, date = ?, description = ?, feed_url = ?, channel_url = ?,
             channel_video_id = ?, media_url = ?, status = ?, error_message = ?,
             transcript = ?, transcript_source = ?, progress_json = ?,
             revision = revision + 1, updated_at = ?
         WHERE id = ? AND revision = ?`,
		entry.Title,
		nullableTime(entry.Date),
		nullableString(entry.Description),
		nullableString(entry.FeedURL),
		nullableString(entry.ChannelURL),
		nullableString(entry.ChannelVideoID),
		nullableString(entry.MediaURL),
		entry.Status,
		nullableString(entry.ErrorMessage),
		nullableString(entry.Transcript),
		nullableString(entry.TranscriptSource),
		nullableString(progressJSON),
		now.Format(time.RFC3339Nano),
		entry.ID,
		entry.Revision,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "catalog", "update", fmt.Sprintf("entry %d revision %d is stale", entry.ID, entry.Revision), nil)
	}
	entry.Revision++
	entry.UpdatedAt = now
	return nil
}

// updateProgressAttempts bounds the read-modify-write retry loop; conflicts
// past this point indicate a second pipeline writing the same entry.
const updateProgressAttempts = 5

// UpdateProgress applies fn to the entry's progress record under optimistic
// concurrency, retrying on conflicting writers.
func (s *Store) UpdateProgress(ctx context.Context, id int64, fn func(p *Progress)) (*Entry, error) {
	var lastErr error
	for attempt := 0; attempt < updateProgressAttempts; attempt++ {
		entry, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, services.Wrap(services.ErrNotFound, "catalog", "update progress", fmt.Sprintf("entry %d not found", id), nil)
		}
		if entry.Progress == nil {
			entry.Progress = &Progress{}
		}
		fn(entry.Progress)
		if err := s.Update(ctx, entry); err != nil {
			if errors.Is(err, services.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return entry, nil
	}
	return nil, lastErr
}

// MarkGenerating transitions an entry into the generating state with a queued
// progress step. The transition only applies to pending or failed entries,
// which closes the check-then-set window between two triggers racing to start
// the same episode. Chunk results from an earlier failed run are kept so the
// new run resumes instead of re-transcribing.
func (s *Store) MarkGenerating(ctx context.Context, id int64) (bool, error) {
	for attempt := 0; attempt < updateProgressAttempts; attempt++ {
		entry, err := s.GetByID(ctx, id)
		if err != nil {
			return false, err
		}
		if entry == nil || (entry.Status != StatusPending && entry.Status != StatusFailed) {
			return false, nil
		}
		if entry.Progress == nil {
			entry.Progress = &Progress{}
		}
		entry.Progress.SetStep(StepQueued, "Waiting for transcription to start", 0, -1)
		entry.Status = StatusGenerating
		entry.ErrorMessage = ""
		if err := s.Update(ctx, entry); err != nil {
			if errors.Is(err, services.ErrConflict) {
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, services.Wrap(services.ErrConflict, "catalog", "mark generating", fmt.Sprintf("entry %d kept changing", id), nil)
}

// MarkCompleted stores the finished transcript and clears progress. Terminal
// success is the only transition that drops the progress record.
func (s *Store) MarkCompleted(ctx context.Context, id int64, transcript, source string) error {
	if strings.TrimSpace(transcript) == "" {
		return services.Wrap(services.ErrValidation, "catalog", "mark completed", "transcript must not be empty", nil)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE catalog_entries
         SET status = ?, transcript = ?, transcript_source = ?, error_message = NULL,
             progress_json = NULL, revision = revision + 1, updated_at = ?
         WHERE id = ?`,
		StatusCompleted,
		transcript,
		nullableString(source),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure. Progress is left untouched so
// completed chunks survive for the next run.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE catalog_entries
         SET status = ?, error_message = ?, revision = revision + 1, updated_at = ?
         WHERE id = ?`,
		StatusFailed,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// RequestCancel flips a generating entry to failed with a cancelled progress
// step. The running pipeline notices the status change before its next chunk
// and stops, keeping everything transcribed so far.
func (s *Store) RequestCancel(ctx context.Context, id int64) (bool, error) {
	for attempt := 0; attempt < updateProgressAttempts; attempt++ {
		entry, err := s.GetByID(ctx, id)
		if err != nil {
			return false, err
		}
		if entry == nil || entry.Status != StatusGenerating {
			return false, nil
		}
		if entry.Progress == nil {
			entry.Progress = &Progress{}
		}
		entry.Progress.Step = StepCancelled
		entry.Progress.Message = CancelReason
		entry.Status = StatusFailed
		entry.ErrorMessage = CancelReason
		if err := s.Update(ctx, entry); err != nil {
			if errors.Is(err, services.ErrConflict) {
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, services.Wrap(services.ErrConflict, "catalog", "cancel", fmt.Sprintf("entry %d kept changing", id), nil)
}

// RetryFailed moves failed entries back to pending for reprocessing. With no
// ids, all failed entries are retried. Progress survives so retries resume.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE catalog_entries
            SET status = ?, error_message = NULL, revision = revision + 1, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			timestamp,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed entries: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, timestamp)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE catalog_entries
        SET status = ?, error_message = NULL, revision = revision + 1, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected entries: %w", err)
	}
	return res.RowsAffected()
}

// List returns entries filtered by status set (or all entries when no status
// is provided), newest publish date first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + entryColumns + ` FROM catalog_entries`
	orderClause := ` ORDER BY date DESC, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ChannelOnly returns persisted entries that have channel identity but no
// feed counterpart yet; reconciliation backfills these.
func (s *Store) ChannelOnly(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+entryColumns+` FROM catalog_entries
         WHERE channel_video_id IS NOT NULL AND channel_video_id != ''
           AND (feed_url IS NULL OR feed_url = '')
         ORDER BY date DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list channel-only entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats returns a count of entries grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM catalog_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates catalog state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusGenerating:
			health.Generating += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

const entryColumns = "id, title, date, description, feed_url, channel_url, channel_video_id, media_url, status, error_message, transcript, transcript_source, progress_json, revision, created_at, updated_at"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id               int64
		title            string
		dateRaw          sql.NullString
		description      sql.NullString
		feedURL          sql.NullString
		channelURL       sql.NullString
		channelVideoID   sql.NullString
		mediaURL         sql.NullString
		statusStr        string
		errorMessage     sql.NullString
		transcript       sql.NullString
		transcriptSource sql.NullString
		progressRaw      sql.NullString
		revision         int64
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&dateRaw,
		&description,
		&feedURL,
		&channelURL,
		&channelVideoID,
		&mediaURL,
		&statusStr,
		&errorMessage,
		&transcript,
		&transcriptSource,
		&progressRaw,
		&revision,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:               id,
		Title:            title,
		Description:      description.String,
		FeedURL:          feedURL.String,
		ChannelURL:       channelURL.String,
		ChannelVideoID:   channelVideoID.String,
		MediaURL:         mediaURL.String,
		Status:           Status(statusStr),
		ErrorMessage:     errorMessage.String,
		Transcript:       transcript.String,
		TranscriptSource: transcriptSource.String,
		Revision:         revision,
	}

	if dateRaw.Valid {
		if date, err := parseTimeString(dateRaw.String); err == nil {
			entry.Date = &date
		}
	}
	if progressRaw.Valid {
		progress, err := ParseProgress(progressRaw.String)
		if err != nil {
			return nil, err
		}
		entry.Progress = progress
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
