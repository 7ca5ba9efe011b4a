package storage

import (
	"context"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
)

// SaveTimer durably records a named timer's deadline, for
// post-incident diagnostics. The Timer Manager's own in-memory state
// is authoritative for firing; this table is not consulted to
// restart in-flight timers, since restored lockouts already carry
// their own unlock_at.
func (s *Store) SaveTimer(ctx context.Context, name string, deadline time.Time, payloadJSON string) error {
	_, execErr := s.db.ExecContext(ctx,
		`INSERT INTO timers (name, deadline, payload_json) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET deadline = excluded.deadline, payload_json = excluded.payload_json`,
		name, deadline.UTC().Format(timeLayout), payloadJSON)
	if execErr != nil {
		return &domain.PersistenceError{Operation: "save_timer", Cause: execErr}
	}
	return nil
}

// DeleteTimer removes a named timer's durable record.
func (s *Store) DeleteTimer(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE name = ?`, name)
	if err != nil {
		return &domain.PersistenceError{Operation: "delete_timer", Cause: err}
	}
	return nil
}
