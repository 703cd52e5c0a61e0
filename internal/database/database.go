package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Database handles SQLite storage of camera install defaults and ingest tokens.
type Database struct {
	db *sql.DB
}

// CameraRecord holds install/calibration defaults for a camera. They seed the
// runtime registry entry the first time the camera connects.
type CameraRecord struct {
	ID         int
	Name       string
	BevX       float64
	BevY       float64
	Theta      float64
	Homography [][]float64 // optional 3x3, image -> BEV
}

// TokenRecord is a camera ingest token. Token is either the plain value or a
// bcrypt hash of it.
type TokenRecord struct {
	CameraID int
	Token    string
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
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

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			bev_x REAL NOT NULL,
			bev_y REAL NOT NULL,
			theta REAL NOT NULL DEFAULT 0,
			homography TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS camera_tokens (
			camera_id INTEGER PRIMARY KEY,
			token TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveCamera saves or updates camera defaults
func (d *Database) SaveCamera(cam *CameraRecord) error {
	var homography sql.NullString
	if cam.Homography != nil {
		raw, err := json.Marshal(cam.Homography)
		if err != nil {
			return fmt.Errorf("failed to marshal homography: %w", err)
		}
		homography = sql.NullString{String: string(raw), Valid: true}
	}

	query := `INSERT INTO cameras (id, name, bev_x, bev_y, theta, homography)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			bev_x = excluded.bev_x,
			bev_y = excluded.bev_y,
			theta = excluded.theta,
			homography = excluded.homography`

	_, err := d.db.Exec(query, cam.ID, cam.Name, cam.BevX, cam.BevY, cam.Theta, homography)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// ListCameras returns all camera defaults ordered by id
func (d *Database) ListCameras() ([]*CameraRecord, error) {
	rows, err := d.db.Query(`SELECT id, name, bev_x, bev_y, theta, homography FROM cameras ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		var cam CameraRecord
		var homography sql.NullString
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.BevX, &cam.BevY, &cam.Theta, &homography); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		if homography.Valid && homography.String != "" {
			if err := json.Unmarshal([]byte(homography.String), &cam.Homography); err != nil {
				return nil, fmt.Errorf("failed to unmarshal homography for camera %d: %w", cam.ID, err)
			}
		}
		cameras = append(cameras, &cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera deletes camera defaults by ID
func (d *Database) DeleteCamera(id int) error {
	_, err := d.db.Exec("DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

// SaveToken sets the ingest token for a camera
func (d *Database) SaveToken(tok *TokenRecord) error {
	query := `INSERT INTO camera_tokens (camera_id, token, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(camera_id) DO UPDATE SET
			token = excluded.token,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := d.db.Exec(query, tok.CameraID, tok.Token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// ListTokens returns all ingest tokens ordered by camera id
func (d *Database) ListTokens() ([]*TokenRecord, error) {
	rows, err := d.db.Query("SELECT camera_id, token FROM camera_tokens ORDER BY camera_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*TokenRecord
	for rows.Next() {
		var tok TokenRecord
		if err := rows.Scan(&tok.CameraID, &tok.Token); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, &tok)
	}
	return tokens, rows.Err()
}

// DeleteToken revokes a camera's ingest token
func (d *Database) DeleteToken(cameraID int) error {
	if _, err := d.db.Exec("DELETE FROM camera_tokens WHERE camera_id = ?", cameraID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
