package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pqUniqueViolation is the Postgres error code for unique constraint
// violations; it is how duplicate webhook deliveries are detected.
const pqUniqueViolation = "23505"

// ErrDuplicateEvent is returned when an inbound event with the same external
// id was already persisted. Callers treat it as "already handled".
var ErrDuplicateEvent = errors.New("event already recorded")

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

// InsertEvent persists an inbound provider event. The unique index on
// external_event_id is the idempotency linchpin: the insert either wins or
// returns ErrDuplicateEvent, never check-then-insert.
func (s *Store) InsertEvent(ctx context.Context, externalEventID, eventType string, rawPayload []byte) (*models.InboundEvent, error) {
	query := `
		INSERT INTO inbound_events (external_event_id, event_type, raw_payload)
		VALUES ($1, $2, $3)
		RETURNING id, external_event_id, event_type, raw_payload, processed, attempts,
		          processing_error, received_at, processed_at`

	var event models.InboundEvent
	err := s.db.GetContext(ctx, &event, query, externalEventID, eventType, rawPayload)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrDuplicateEvent
		}
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return &event, nil
}

// GetEventByExternalID retrieves an inbound event by its provider id
func (s *Store) GetEventByExternalID(ctx context.Context, externalEventID string) (*models.InboundEvent, error) {
	var event models.InboundEvent
	err := s.db.GetContext(ctx, &event,
		"SELECT * FROM inbound_events WHERE external_event_id = $1", externalEventID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", externalEventID)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkEventProcessed marks an event as processed, clearing any error from a
// prior attempt. Processed is terminal.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbound_events
		SET processed = TRUE, processing_error = NULL, processed_at = NOW()
		WHERE id = $1 AND processed = FALSE`, eventID)
	return err
}

// MarkEventFailed records a failed processing attempt. The error lands in
// processing_error for operator tooling; attempts bounds the reclaim loop.
func (s *Store) MarkEventFailed(ctx context.Context, eventID int64, processingError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbound_events
		SET attempts = attempts + 1, processing_error = $2
		WHERE id = $1 AND processed = FALSE`, eventID, processingError)
	return err
}

// ListStalledEvents returns unprocessed events older than the grace interval
// with attempts still below the bound, oldest first. Events past the bound
// are terminal-failed and left for operator intervention.
func (s *Store) ListStalledEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.InboundEvent, error) {
	var events []models.InboundEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM inbound_events
		WHERE processed = FALSE AND attempts < $1 AND received_at < $2
		ORDER BY received_at
		LIMIT $3`, maxAttempts, olderThan, limit)
	return events, err
}
