package storage

import (
	"context"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
)

// ListViolations returns audit rows for account ordered oldest-first,
// for operator review and post-incident analysis.
func (s *Store) ListViolations(ctx context.Context, accountID string) ([]domain.ViolationAudit, error) {
	var rows []struct {
		ID                    string `db:"id"`
		Timestamp             string `db:"timestamp"`
		AccountID             string `db:"account_id"`
		RuleID                string `db:"rule_id"`
		Severity              string `db:"severity"`
		Message               string `db:"message"`
		ActionTaken           string `db:"action_taken"`
		CompositeContextJSON  string `db:"composite_context_json"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, timestamp, account_id, rule_id, severity, message, action_taken, composite_context_json
		 FROM violations WHERE account_id = ? ORDER BY timestamp ASC`, accountID); err != nil {
		return nil, &domain.PersistenceError{Operation: "list_violations", Cause: err}
	}
	out := make([]domain.ViolationAudit, 0, len(rows))
	for _, r := range rows {
		ts, _ := time.Parse(timeLayout, r.Timestamp)
		ctxMap, err := decodeCompositeContext(r.CompositeContextJSON)
		if err != nil {
			return nil, &domain.PersistenceError{Operation: "list_violations", Cause: err}
		}
		out = append(out, domain.ViolationAudit{
			ID:               r.ID,
			Timestamp:        ts,
			AccountID:        r.AccountID,
			RuleID:           r.RuleID,
			Severity:         domain.Severity(r.Severity),
			Message:          r.Message,
			ActionTaken:      r.ActionTaken,
			CompositeContext: ctxMap,
		})
	}
	return out, nil
}
