// Package history archives terminal executions to SQLite so completed runs
// survive registry cleanup and stay available for audit and debugging.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/yudha/arus/internal/observability"
	"github.com/yudha/arus/pkg/stream"
)

// Outcome labels for archived executions
const (
	OutcomeCompleted = "completed"
	OutcomeErrored   = "errored"
	OutcomeCancelled = "cancelled"
)

// ErrNotTerminal is returned when an execution that is still running is
// offered for archival.
var ErrNotTerminal = errors.New("execution is not terminal")

// Record is one archived execution
type Record struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	ConversationID string         `json:"conversation_id"`
	Outcome        string         `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	EventCount     int            `json:"event_count"`
	Events         []stream.Event `json:"events,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ArchivedAt     time.Time      `json:"archived_at"`
}

// Store persists terminal executions in a SQLite database
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds history store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// NewStore opens the archive database, creating the schema if needed
func NewStore(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode so archival writes do not block readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("History store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			event_count INTEGER NOT NULL,
			events TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			archived_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_executions_project ON executions(project_id);
		CREATE INDEX IF NOT EXISTS idx_executions_archived ON executions(archived_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Archive stores a terminal execution. Returns false when the execution was
// already archived; archiving is idempotent. Running executions are refused
// with ErrNotTerminal.
func (s *Store) Archive(e *stream.Execution) (bool, error) {
	if !e.IsComplete() {
		return false, ErrNotTerminal
	}

	events := e.Events()
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return false, fmt.Errorf("failed to serialize events: %w", err)
	}

	outcome := OutcomeCompleted
	switch {
	case e.IsCancelled():
		outcome = OutcomeCancelled
	case e.Err() != "":
		outcome = OutcomeErrored
	}

	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO executions
			(id, project_id, conversation_id, outcome, error, event_count, events, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.ConversationID, outcome, e.Err(),
		len(events), string(eventsJSON), e.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to archive execution: %w", err)
	}

	inserted, _ := result.RowsAffected()
	if inserted == 0 {
		return false, nil
	}

	observability.RecordArchivedExecutions(1)
	s.logger.Debug().
		Str("execution_id", e.ID).
		Str("outcome", outcome).
		Int("events", len(events)).
		Msg("Execution archived")
	return true, nil
}

// Get returns one archived execution with its events, sql.ErrNoRows when
// the id is unknown.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, conversation_id, outcome, error, event_count, events, created_at, archived_at
		 FROM executions WHERE id = ?`, id,
	)

	var rec Record
	var eventsJSON string
	var createdAt, archivedAt int64
	err := row.Scan(
		&rec.ID, &rec.ProjectID, &rec.ConversationID, &rec.Outcome, &rec.Error,
		&rec.EventCount, &eventsJSON, &createdAt, &archivedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &rec.Events); err != nil {
		return nil, fmt.Errorf("failed to decode archived events: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.ArchivedAt = time.Unix(archivedAt, 0)
	return &rec, nil
}

// List returns the most recently archived executions without their event
// payloads, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, project_id, conversation_id, outcome, error, event_count, created_at, archived_at
		 FROM executions ORDER BY archived_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var createdAt, archivedAt int64
		if err := rows.Scan(
			&rec.ID, &rec.ProjectID, &rec.ConversationID, &rec.Outcome, &rec.Error,
			&rec.EventCount, &createdAt, &archivedAt,
		); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.ArchivedAt = time.Unix(archivedAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of archived executions
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&count)
	return count, err
}

// Close closes the archive database
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing history store")
	return s.db.Close()
}
