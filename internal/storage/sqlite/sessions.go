// Package sqlite persists collector data: pilot sessions, received telemetry
// and the control commands issued to clients. One database file is created
// per day.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kafly/skymetrics/pkg/logger"
	_ "modernc.org/sqlite"
)

// SessionRecord represents one client connection in the database.
type SessionRecord struct {
	ID              string     `json:"id"`
	PilotName       string     `json:"pilot_name"`
	VatsimID        string     `json:"vatsim_id"`
	IvaoID          string     `json:"ivao_id"`
	DepartureID     string     `json:"departure_id,omitempty"`
	ArrivalID       string     `json:"arrival_id,omitempty"`
	ConnectedAt     time.Time  `json:"connected_at"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	PacketsReceived int64      `json:"packets_received"`
	BytesReceived   int64      `json:"bytes_received"`
}

// SessionStorage owns the database handle and the sessions table.
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage opens (or creates) the database at dbPath and prepares
// the sessions table.
func NewSessionStorage(dbPath string, log *logger.Logger) (*SessionStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA cache_size=10000"); err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	storage := &SessionStorage{
		db:     db,
		logger: storageLogger,
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// GetDB returns the shared database handle for the other storage types.
func (s *SessionStorage) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SessionStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SessionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			pilot_name TEXT NOT NULL,
			vatsim_id TEXT,
			ivao_id TEXT,
			departure_id TEXT,
			arrival_id TEXT,
			connected_at TIMESTAMP NOT NULL,
			disconnected_at TIMESTAMP,
			packets_received INTEGER NOT NULL DEFAULT 0,
			bytes_received INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_connected_at ON sessions(connected_at)`)
	if err != nil {
		return fmt.Errorf("failed to create connected_at index: %w", err)
	}

	return nil
}

// CreateSession inserts a newly identified session.
func (s *SessionStorage) CreateSession(rec *SessionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions
		(id, pilot_name, vatsim_id, ivao_id, departure_id, arrival_id, connected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.PilotName,
		rec.VatsimID,
		rec.IvaoID,
		rec.DepartureID,
		rec.ArrivalID,
		rec.ConnectedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// CloseSession marks a session as disconnected and stores its final transfer
// counters.
func (s *SessionStorage) CloseSession(id string, disconnectedAt time.Time, packets, bytes int64) error {
	_, err := s.db.Exec(
		`UPDATE sessions
		SET disconnected_at = ?, packets_received = ?, bytes_received = ?
		WHERE id = ?`,
		disconnectedAt.Format(time.RFC3339),
		packets,
		bytes,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SessionStorage) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, pilot_name, vatsim_id, ivao_id, departure_id, arrival_id,
			connected_at, disconnected_at, packets_received, bytes_received
		FROM sessions ORDER BY connected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var connectedAt string
		var disconnectedAt sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.PilotName, &rec.VatsimID, &rec.IvaoID,
			&rec.DepartureID, &rec.ArrivalID,
			&connectedAt, &disconnectedAt,
			&rec.PacketsReceived, &rec.BytesReceived,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, connectedAt); err == nil {
			rec.ConnectedAt = t
		}
		if disconnectedAt.Valid {
			if t, err := time.Parse(time.RFC3339, disconnectedAt.String); err == nil {
				rec.DisconnectedAt = &t
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
