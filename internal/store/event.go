package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Event is one catalogued event record.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	ClipPath   string    `json:"clip"`
	RecordPath string    `json:"record"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventRepository provides access to the events table.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts e, assigning a new ID if it has none.
func (r *EventRepository) Create(e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO events (id, timestamp, kind, clip_path, record_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Kind, e.ClipPath, e.RecordPath, e.CreatedAt,
	)
	return err
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(id string) (*Event, error) {
	return r.scanOne(
		`SELECT id, timestamp, kind, clip_path, record_path, created_at
		 FROM events WHERE id = ?`, id)
}

// GetByClip retrieves the event that produced the clip at path.
func (r *EventRepository) GetByClip(path string) (*Event, error) {
	return r.scanOne(
		`SELECT id, timestamp, kind, clip_path, record_path, created_at
		 FROM events WHERE clip_path = ? ORDER BY timestamp DESC LIMIT 1`, path)
}

func (r *EventRepository) scanOne(query string, args ...any) (*Event, error) {
	e := &Event{}
	err := r.db.QueryRow(query, args...).
		Scan(&e.ID, &e.Timestamp, &e.Kind, &e.ClipPath, &e.RecordPath, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// List returns events newest first. A limit of 0 or less returns all of them.
func (r *EventRepository) List(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, timestamp, kind, clip_path, record_path, created_at
		 FROM events ORDER BY timestamp DESC, created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.ClipPath, &e.RecordPath, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// Latest returns the most recent event.
func (r *EventRepository) Latest() (*Event, error) {
	return r.scanOne(
		`SELECT id, timestamp, kind, clip_path, record_path, created_at
		 FROM events ORDER BY timestamp DESC, created_at DESC LIMIT 1`)
}

// Count returns the number of catalogued events.
func (r *EventRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Delete removes an event by ID.
func (r *EventRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
