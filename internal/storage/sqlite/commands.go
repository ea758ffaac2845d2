package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kafly/skymetrics/pkg/logger"
)

// CommandRecord is the audit trail of control commands sent to clients.
type CommandRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	SentAt    time.Time `json:"sent_at"`
}

// CommandStorage handles storage of issued control commands.
type CommandStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewCommandStorage creates a command storage on the shared handle.
func NewCommandStorage(db *sql.DB, log *logger.Logger) *CommandStorage {
	storage := &CommandStorage{
		db:     db,
		logger: log.Named("sqlite-commands"),
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize command storage", logger.Error(err))
	}

	return storage
}

func (s *CommandStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			sent_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create commands table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_commands_session_id ON commands(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}

	return nil
}

// StoreCommand records one issued command.
func (s *CommandStorage) StoreCommand(sessionID, command string, sentAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO commands (session_id, command, sent_at) VALUES (?, ?, ?)`,
		sessionID, command, sentAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

// GetSessionCommands returns the commands sent to one session, oldest first.
func (s *CommandStorage) GetSessionCommands(sessionID string) ([]CommandRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, command, sent_at FROM commands
		WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var sentAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Command, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, sentAt); err == nil {
			rec.SentAt = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
