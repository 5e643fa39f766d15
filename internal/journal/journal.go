// Package journal keeps a SQLite record of played clips and enforces the
// clip retention policy.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yok-tottii/EzEcho/internal/logger"
)

// Retention modes
const (
	// RetentionEphemeral keeps no database; every method is a no-op
	RetentionEphemeral = "ephemeral"
	// RetentionPersistent stores clips and prunes by age and count
	RetentionPersistent = "persistent"
)

// Config holds journal configuration
type Config struct {
	Path          string `json:"path" yaml:"path"`
	RetentionMode string `json:"retention_mode" yaml:"retention_mode"`
	// RetentionDays removes clips older than this many days; 0 keeps all
	RetentionDays int `json:"retention_days" yaml:"retention_days"`
	// MaxClips keeps only the newest clips; 0 means unlimited
	MaxClips int `json:"max_clips" yaml:"max_clips"`
}

// Clip is one recorded utterance
type Clip struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	RecordedAt time.Time     `json:"recorded_at"`
	PlayedAt   time.Time     `json:"played_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Store wraps the SQLite clip table
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *logger.Logger
	clock func() time.Time
}

// Open initializes the journal according to cfg
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	if _, err := s.Prune(ctx); err != nil {
		log.Warn("Journal prune on start failed: %v", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS clips (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,
    played_at INTEGER,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_clips_recorded ON clips(recorded_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == RetentionEphemeral || s.db == nil
}

// Close releases the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendClip records a newly encoded clip
func (s *Store) AppendClip(ctx context.Context, clip Clip) error {
	if s.disabled() {
		return nil
	}
	if clip.RecordedAt.IsZero() {
		clip.RecordedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clips(id, path, bytes, duration_ms, recorded_at) VALUES(?, ?, ?, ?, ?)`,
		clip.ID, clip.Path, clip.Bytes, clip.Duration.Milliseconds(), clip.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append clip: %w", err)
	}
	return nil
}

// MarkPlayed stores the playback outcome of a clip
func (s *Store) MarkPlayed(ctx context.Context, id string, playErr error) error {
	if s.disabled() {
		return nil
	}
	var msg sql.NullString
	if playErr != nil {
		msg = sql.NullString{String: playErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE clips SET played_at = ?, error = ? WHERE id = ?`,
		s.clock().UnixMilli(), msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark clip played: %w", err)
	}
	return nil
}

// ListRecent returns up to limit clips, newest first
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Clip, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, bytes, duration_ms, recorded_at, played_at, error
		 FROM clips ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}
	defer rows.Close()

	var clips []Clip
	for rows.Next() {
		var (
			c          Clip
			durationMs int64
			recorded   int64
			played     sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Path, &c.Bytes, &durationMs, &recorded, &played, &errMsg); err != nil {
			return nil, err
		}
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.RecordedAt = time.UnixMilli(recorded)
		if played.Valid {
			c.PlayedAt = time.UnixMilli(played.Int64)
		}
		c.Error = errMsg.String
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// Prune removes clips past the retention policy together with their files.
// It returns the number of clips removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	if s.disabled() {
		return 0, nil
	}

	var conds []string
	var args []any
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		conds = append(conds, `recorded_at < ?`)
		args = append(args, cutoff.UnixMilli())
	}
	if s.cfg.MaxClips > 0 {
		conds = append(conds, `id IN (SELECT id FROM clips ORDER BY recorded_at DESC LIMIT -1 OFFSET ?)`)
		args = append(args, s.cfg.MaxClips)
	}
	if len(conds) == 0 {
		return 0, nil
	}

	where := conds[0]
	if len(conds) == 2 {
		where = conds[0] + " OR " + conds[1]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, path FROM clips WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to select expired clips: %w", err)
	}
	var ids, paths []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
		paths = append(paths, path)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM clips WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete clip: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, path := range paths {
		// a kept raw recording sits next to its clip
		for _, p := range []string{path, strings.TrimSuffix(path, ".wav") + ".pcm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("Failed to remove expired clip %s: %v", p, err)
			}
		}
	}
	if len(ids) > 0 {
		s.log.Info("Pruned %d clips", len(ids))
	}
	return len(ids), nil
}
