// Package ledger is the durable record of processed external event IDs.
// Existence of a row is the idempotency check for critical webhook events:
// concurrent duplicate deliveries resolve through the (provider, event_id)
// primary key rather than any in-process lock.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"postdeck/pkg/logging"
)

// Providers tracked by the ledger.
const (
	ProviderStripe   = "stripe"
	ProviderAyrshare = "ayrshare"
)

// Ledger records which external events have already been acted on.
type Ledger struct {
	db     *sql.DB
	logger logging.Logger
}

// New creates a Ledger over the given database.
func New(db *sql.DB, logger logging.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// MarkProcessed records an event as processed. Returns true if this call
// inserted the record (the event is new), false if another delivery already
// claimed it. Insert-if-absent: duplicates surface as a zero row count, not
// as a constraint error.
func (l *Ledger) MarkProcessed(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO herald.processed_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return inserted > 0, nil
}

// IsProcessed reports whether the event has already been processed.
func (l *Ledger) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM herald.processed_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// Forget removes a processed-event record so the event can be replayed.
// Used by the operator repair path when a handler failed after claiming
// the event.
func (l *Ledger) Forget(ctx context.Context, provider, eventID string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM herald.processed_events WHERE provider = $1 AND event_id = $2
	`, provider, eventID)
	if err != nil {
		return fmt.Errorf("failed to forget processed event: %w", err)
	}
	return nil
}
