package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetCourseByID retrieves a catalog course by ID
func (s *Store) GetCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	err := s.db.GetContext(ctx, &course, "SELECT * FROM courses WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// FindCourseWithDriveLink looks up a catalog entry holding a drive link
// for any of the given URL variants. Returns nil when none matches.
func (s *Store) FindCourseWithDriveLink(ctx context.Context, urls ...string) (*models.Course, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	var course models.Course
	err := s.db.GetContext(ctx, &course, `
		SELECT * FROM courses
		WHERE course_url = ANY($1) AND drive_link IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1`, pq.Array(urls))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// SetCourseDriveLink stores the drive link on the catalog entry matching
// any of the URL variants. Returns the number of rows updated.
func (s *Store) SetCourseDriveLink(ctx context.Context, driveLink string, urls ...string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE courses SET drive_link = $1, updated_at = NOW()
		WHERE course_url = ANY($2) AND drive_link IS NULL`,
		driveLink, pq.Array(urls))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordFulfillmentEvent appends an audit row. Audit writes must never
// break the main flow, so callers log and continue on error.
func (s *Store) RecordFulfillmentEvent(ctx context.Context, orderID, taskID *int64, eventType, severity, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillment_events (order_id, task_id, event_type, severity, message)
		VALUES ($1, $2, $3, $4, $5)`,
		orderID, taskID, eventType, severity, message)
	return err
}
