// Package history persists chat sessions, comparison reports and batch
// results in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session id is unknown
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	artifact TEXT NOT NULL,
	mode TEXT NOT NULL,
	backend TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	original TEXT NOT NULL,
	candidate TEXT NOT NULL,
	report_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_results (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	result_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store is the history database. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// StoredReport is a comparison report row
type StoredReport struct {
	ID        string                   `json:"id"`
	SessionID string                   `json:"session_id,omitempty"`
	Report    *models.ComparisonReport `json:"report"`
	CreatedAt time.Time                `json:"created_at"`
}

// Open opens (creating if needed) the database at path
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}
	// one connection keeps :memory: databases alive and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug(ctx, "history database ready", logging.Fields{"path": path})
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession records a new conversation about artifact
func (s *Store) CreateSession(ctx context.Context, artifact string, mode models.AnalysisMode, backend models.LLMBackend) (*models.ChatSession, error) {
	session := &models.ChatSession{
		ID:        uuid.NewString(),
		Artifact:  artifact,
		Mode:      mode,
		Backend:   backend,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, artifact, mode, backend, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, artifact, string(mode), string(backend), session.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Sessions lists sessions, newest first. limit <= 0 returns all.
func (s *Store) Sessions(ctx context.Context, limit int) ([]models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, artifact, mode, backend, created_at FROM sessions ORDER BY created_at DESC LIMIT ?`,
		sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		var cs models.ChatSession
		var mode, backend string
		var created int64
		if err := rows.Scan(&cs.ID, &cs.Artifact, &mode, &backend, &created); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		cs.Mode = models.AnalysisMode(mode)
		cs.Backend = models.LLMBackend(backend)
		cs.CreatedAt = time.Unix(0, created)
		sessions = append(sessions, cs)
	}
	return sessions, rows.Err()
}

// AddTurn appends a message to a session
func (s *Store) AddTurn(ctx context.Context, sessionID, role, content string) (*models.ChatTurn, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	turn := &models.ChatTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ID, sessionID, role, content, turn.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to add turn: %w", err)
	}
	return turn, nil
}

// Turns returns the messages of a session in order
func (s *Store) Turns(ctx context.Context, sessionID string) ([]models.ChatTurn, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY created_at, rowid`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []models.ChatTurn
	for rows.Next() {
		turn := models.ChatTurn{SessionID: sessionID}
		var created int64
		if err := rows.Scan(&turn.ID, &turn.Role, &turn.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.CreatedAt = time.Unix(0, created)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// SaveReport stores a comparison report, optionally tied to a session
// (empty sessionID). A report without an ID gets one.
func (s *Store) SaveReport(ctx context.Context, sessionID string, report *models.ComparisonReport) (string, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, session_id, original, candidate, report_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID, nullString(sessionID), report.Original, report.Candidate, string(data), s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return report.ID, nil
}

// Reports lists stored reports, newest first. limit <= 0 returns all.
func (s *Store) Reports(ctx context.Context, limit int) ([]StoredReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, report_json, created_at FROM reports ORDER BY created_at DESC LIMIT ?`,
		sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []StoredReport
	for rows.Next() {
		var r StoredReport
		var sessionID sql.NullString
		var data string
		var created int64
		if err := rows.Scan(&r.ID, &sessionID, &data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r.SessionID = sessionID.String
		r.CreatedAt = time.Unix(0, created)
		r.Report = &models.ComparisonReport{}
		if err := json.Unmarshal([]byte(data), r.Report); err != nil {
			return nil, fmt.Errorf("failed to decode report %s: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SaveBatchResult stores one generate-and-analyze item of run runID
func (s *Store) SaveBatchResult(ctx context.Context, runID string, item *models.BatchItemResult) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch result: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_results (id, run_id, source, status, result_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, item.Source, string(item.Status), string(data), s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to save batch result: %w", err)
	}
	return id, nil
}

// BatchResults returns the items stored for runID in insertion order
func (s *Store) BatchResults(ctx context.Context, runID string) ([]models.BatchItemResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_json FROM batch_results WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch results: %w", err)
	}
	defer rows.Close()

	var items []models.BatchItemResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan batch result: %w", err)
		}
		var item models.BatchItemResult
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("failed to decode batch result: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) requireSession(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	return nil
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
