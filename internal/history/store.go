package history

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses recorded for each dispatch.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Record is one execution dispatch. Only run metadata is kept; the
// server never persists document or room state.
type Record struct {
	ID         int64     `json:"id"`
	Language   string    `json:"language"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the SQLite-backed execution run log.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Run log initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		language TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		detail TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one run to the log.
func (s *Store) Record(language, status string, duration time.Duration, detail string) error {
	_, err := s.db.Exec(
		"INSERT INTO executions (language, status, duration_ms, detail) VALUES (?, ?, ?, ?)",
		language, status, duration.Milliseconds(), detail,
	)
	return err
}

// Recent returns runs newest first.
func (s *Store) Recent(limit, offset int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, language, status, duration_ms, detail, created_at
		FROM executions
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Language, &rec.Status, &rec.DurationMs, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the total number of logged runs.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&count)
	return count, err
}

// Prune deletes everything but the most recent keepCount runs and
// returns how many rows went away.
func (s *Store) Prune(keepCount int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM executions
		WHERE id NOT IN (
			SELECT id FROM executions
			ORDER BY id DESC
			LIMIT ?
		)
	`, keepCount)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats summarizes the log for the stats endpoint.
func (s *Store) Stats() (map[string]any, error) {
	stats := make(map[string]any)

	total, err := s.Count()
	if err != nil {
		return nil, err
	}
	stats["total_runs"] = total

	var failed int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM executions WHERE status != ?", StatusOK,
	).Scan(&failed); err != nil {
		return nil, err
	}
	stats["failed_runs"] = failed

	return stats, nil
}
