package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Turn outcomes
const (
	OutcomeCompleted   = "completed"
	OutcomeConfigError = "config_error"
	OutcomeStreamError = "stream_error"
	OutcomeAbandoned   = "abandoned"
)

// TurnRecord describes one finished turn. It carries sizes and timings,
// never message text.
type TurnRecord struct {
	ID        string
	SessionID string
	Backend   string
	Model     string
	StartedAt time.Time
	Duration  time.Duration
	Fragments int
	Chars     int
	Outcome   string
}

// TurnLog stores turn records in SQLite
type TurnLog struct {
	db *sql.DB
}

// InitDB opens (or creates) the SQLite database at path
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTurnsTable := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		backend TEXT,
		model TEXT,
		started_at DATETIME,
		duration_ms INTEGER,
		fragments INTEGER,
		chars INTEGER,
		outcome TEXT
	);`

	if _, err := db.Exec(createTurnsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create turns table: %w", err)
	}

	return db, nil
}

// OpenTurnLog opens the turn log database at path
func OpenTurnLog(path string) (*TurnLog, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &TurnLog{db: db}, nil
}

// Record inserts a turn record
func (l *TurnLog) Record(ctx context.Context, rec TurnRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, backend, model, started_at, duration_ms, fragments, chars, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Backend, rec.Model, rec.StartedAt,
		rec.Duration.Milliseconds(), rec.Fragments, rec.Chars, rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (l *TurnLog) Recent(ctx context.Context, limit int) ([]TurnRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, backend, model, started_at, duration_ms, fragments, chars, outcome
		 FROM turns ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Backend, &rec.Model, &rec.StartedAt,
			&durationMs, &rec.Fragments, &rec.Chars, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database
func (l *TurnLog) Close() error {
	return l.db.Close()
}
