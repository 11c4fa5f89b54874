package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/pkg/calibration"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    calibration TEXT NOT NULL,
    last_result TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
)`

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository persists sessions in a SQLite database.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the session database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; the bot serializes through this connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &SQLiteRepository{db: db, path: path}, nil
}

// Path returns the database file path.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Get returns the session by ID, creating a new one if not found
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Session, error) {
	return LoadOrCreate(ctx, r, id, *calibration.NewState())
}

// Load reads a session.
func (r *SQLiteRepository) Load(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, calibration, last_result, created_at, updated_at FROM sessions WHERE id = ?`, id)

	var (
		s                    Session
		calJSON              string
		resultJSON           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &calJSON, &resultJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(calJSON), &s.Calibration); err != nil {
		return nil, fmt.Errorf("decode calibration of %s: %w", id, err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var report coinid.Report
		if err := json.Unmarshal([]byte(resultJSON.String), &report); err != nil {
			return nil, fmt.Errorf("decode last result of %s: %w", id, err)
		}
		s.LastResult = &report
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// Save upserts a session.
func (r *SQLiteRepository) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session without id")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}

	calJSON, err := json.Marshal(s.Calibration)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	var result sql.NullString
	if s.LastResult != nil {
		data, err := json.Marshal(s.LastResult)
		if err != nil {
			return fmt.Errorf("encode last result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, calibration, last_result, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             calibration = excluded.calibration,
             last_result = excluded.last_result,
             updated_at  = excluded.updated_at`,
		s.ID,
		string(calJSON),
		result,
		s.CreatedAt.UTC().Format(timeLayout),
		s.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a session.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all sessions, most recently updated first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, calibration, last_result IS NOT NULL, updated_at FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			calJSON   string
			updatedAt string
		)
		if err := rows.Scan(&sum.ID, &calJSON, &sum.HasResult, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var cal struct {
			Scale      float64 `json:"scale"`
			Calibrated bool    `json:"calibrated"`
		}
		if err := json.Unmarshal([]byte(calJSON), &cal); err != nil {
			return nil, fmt.Errorf("decode calibration of %s: %w", sum.ID, err)
		}
		sum.Scale = cal.Scale
		sum.Calibrated = cal.Calibrated
		sum.UpdatedAt = parseTime(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Repository = (*SQLiteRepository)(nil)
