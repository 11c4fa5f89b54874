// Package session keeps the per-user state of the front ends: the screen
// calibration and the last identification report.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/pkg/calibration"
)

// ErrNotFound is returned by Load and Delete for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// Session is the state of one user.
type Session struct {
	ID          string            `json:"id"`
	Calibration calibration.State `json:"calibration"`
	// LastResult is the report shown until the user starts a new analysis.
	LastResult *coinid.Report `json:"last_result,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// New creates a session with the default, uncalibrated state.
func New(id string) *Session {
	return NewWithCalibration(id, *calibration.NewState())
}

// NewWithCalibration creates a session starting from cal.
func NewWithCalibration(id string, cal calibration.State) *Session {
	if id == "" {
		id = NewID()
	}
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Calibration: cal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LoadOrCreate returns the stored session, or stores and returns a new one
// starting from cal.
func LoadOrCreate(ctx context.Context, r Repository, id string, cal calibration.State) (*Session, error) {
	s, err := r.Load(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	s = NewWithCalibration(id, cal)
	if err := r.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewID returns a random session ID.
func NewID() string {
	return uuid.NewString()
}

// ResetResult clears the last report and keeps the calibration.
func (s *Session) ResetResult() {
	s.LastResult = nil
	s.touch()
}

// SetResult stores the latest report.
func (s *Session) SetResult(r *coinid.Report) {
	s.LastResult = r
	s.touch()
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Summary is a listing entry.
type Summary struct {
	ID         string    `json:"id"`
	Calibrated bool      `json:"calibrated"`
	Scale      float64   `json:"scale"`
	HasResult  bool      `json:"has_result"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Repository persists sessions.
type Repository interface {
	// Get returns the session, creating and storing a new one if not found.
	Get(ctx context.Context, id string) (*Session, error)

	// Load returns the session or ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)

	// Save stores the session, replacing any previous state.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session.
	Delete(ctx context.Context, id string) error

	// List returns all sessions, most recently updated first.
	List(ctx context.Context) ([]Summary, error)

	Close() error
}

// Open returns the repository for driver "sqlite" or "memory".
func Open(driver, path string) (Repository, error) {
	switch driver {
	case "memory":
		return NewMemoryRepository(), nil
	case "sqlite", "":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown session storage %q", driver)
	}
}

func summarize(s *Session) Summary {
	return Summary{
		ID:         s.ID,
		Calibrated: s.Calibration.Calibrated,
		Scale:      s.Calibration.Scale,
		HasResult:  s.LastResult != nil,
		UpdatedAt:  s.UpdatedAt,
	}
}
