package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kafly/skymetrics/pkg/logger"
)

// TelemetryRecord represents one received telemetry message. The key flight
// parameters are broken out into columns for querying; the complete payload
// is kept verbatim in raw_json.
type TelemetryRecord struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"timestamp"`
	AltIndicated  float64   `json:"alt_ind"`
	VerticalSpeed float64   `json:"vs"`
	GS            float64   `json:"gs"`
	AGL           float64   `json:"agl"`
	OnGround      int       `json:"on_ground"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	RawJSON       string    `json:"raw_json,omitempty"`
}

// TelemetryStorage handles storage of received telemetry messages.
type TelemetryStorage struct {
	db       *sql.DB
	logger   *logger.Logger
	maxInAPI int
}

// NewTelemetryStorage creates a telemetry storage on the shared handle.
func NewTelemetryStorage(db *sql.DB, maxInAPI int, log *logger.Logger) *TelemetryStorage {
	storage := &TelemetryStorage{
		db:       db,
		logger:   log.Named("sqlite-telemetry"),
		maxInAPI: maxInAPI,
	}

	if err := storage.initDB(); err != nil {
		storage.logger.Error("Failed to initialize telemetry storage", logger.Error(err))
	}

	return storage
}

func (s *TelemetryStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS telemetry (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			alt_ind REAL,
			vs REAL,
			gs REAL,
			agl REAL,
			on_ground INTEGER,
			lat REAL,
			lng REAL,
			raw_json TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create telemetry table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_telemetry_session_id ON telemetry(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_telemetry_created_at ON telemetry(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// StoreTelemetry stores one received telemetry message.
func (s *TelemetryStorage) StoreTelemetry(rec *TelemetryRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO telemetry
		(session_id, created_at, alt_ind, vs, gs, agl, on_ground, lat, lng, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.CreatedAt.Format(time.RFC3339),
		rec.AltIndicated,
		rec.VerticalSpeed,
		rec.GS,
		rec.AGL,
		rec.OnGround,
		rec.Lat,
		rec.Lng,
		rec.RawJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert telemetry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// GetSessionTelemetry returns the most recent telemetry of a session, capped
// at the configured API limit, newest first.
func (s *TelemetryStorage) GetSessionTelemetry(sessionID string) ([]TelemetryRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, created_at, alt_ind, vs, gs, agl, on_ground, lat, lng
		FROM telemetry WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`,
		sessionID, s.maxInAPI)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var records []TelemetryRecord
	for rows.Next() {
		var rec TelemetryRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &createdAt,
			&rec.AltIndicated, &rec.VerticalSpeed, &rec.GS, &rec.AGL,
			&rec.OnGround, &rec.Lat, &rec.Lng,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
