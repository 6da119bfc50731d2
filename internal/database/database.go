package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// SessionRecord represents one Start of a pipeline
type SessionRecord struct {
	ID        string
	Source    string
	Engine    string
	Width     int
	Height    int
	StartedAt time.Time
}

// CycleRecord represents one completed capture cycle
type CycleRecord struct {
	SessionID   string
	Seq         uint64
	Timestamp   time.Time
	Region      RegionRecord
	Expressions []float64
	Dominant    string
	Recovered   bool
	First       bool
}

// RegionRecord represents a face region
type RegionRecord struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Per-connection pragmas go in the DSN so every pooled connection has them.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the display server read while the pipeline writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveSession saves a session, ignoring duplicates
func (d *Database) SaveSession(s *SessionRecord) error {
	query := `INSERT INTO sessions (id, source, engine, width, height, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := d.db.Exec(query, s.ID, s.Source, s.Engine, s.Width, s.Height, s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (d *Database) GetSession(id string) (*SessionRecord, error) {
	query := `SELECT id, source, engine, width, height, started_at FROM sessions WHERE id = ?`

	var s SessionRecord
	err := d.db.QueryRow(query, id).Scan(&s.ID, &s.Source, &s.Engine, &s.Width, &s.Height, &s.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns sessions, newest first
func (d *Database) ListSessions(limit int) ([]*SessionRecord, error) {
	query := `SELECT id, source, engine, width, height, started_at FROM sessions ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		var s SessionRecord
		if err := rows.Scan(&s.ID, &s.Source, &s.Engine, &s.Width, &s.Height, &s.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// SaveCycle saves a cycle result
func (d *Database) SaveCycle(c *CycleRecord) error {
	exprJSON, err := json.Marshal(c.Expressions)
	if err != nil {
		return fmt.Errorf("failed to marshal expressions: %w", err)
	}

	query := `INSERT INTO cycles
		(session_id, seq, timestamp, x, y, width, height, expressions, dominant, recovered, first)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.Exec(query, c.SessionID, int64(c.Seq), c.Timestamp,
		c.Region.X, c.Region.Y, c.Region.Width, c.Region.Height,
		string(exprJSON), c.Dominant, boolToInt(c.Recovered), boolToInt(c.First))
	if err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles of a session, newest first.
// An empty sessionID matches every session.
func (d *Database) RecentCycles(sessionID string, limit int) ([]*CycleRecord, error) {
	query := `SELECT session_id, seq, timestamp, x, y, width, height, expressions, dominant, recovered, first
		FROM cycles WHERE 1=1`
	args := []interface{}{}

	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}

	query += " ORDER BY timestamp DESC, seq DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*CycleRecord
	for rows.Next() {
		var c CycleRecord
		var seq int64
		var exprJSON string
		var recovered, first int

		if err := rows.Scan(&c.SessionID, &seq, &c.Timestamp,
			&c.Region.X, &c.Region.Y, &c.Region.Width, &c.Region.Height,
			&exprJSON, &c.Dominant, &recovered, &first); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}

		c.Seq = uint64(seq)
		c.Recovered = recovered == 1
		c.First = first == 1
		if err := json.Unmarshal([]byte(exprJSON), &c.Expressions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal expressions: %w", err)
		}
		cycles = append(cycles, &c)
	}
	return cycles, rows.Err()
}

// CountCycles returns the number of stored cycles of a session
func (d *Database) CountCycles(sessionID string) (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM cycles WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count cycles: %w", err)
	}
	return n, nil
}

// DeleteOldCycles deletes cycles older than the specified time
func (d *Database) DeleteOldCycles(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM cycles WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cycles: %w", err)
	}
	return result.RowsAffected()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
