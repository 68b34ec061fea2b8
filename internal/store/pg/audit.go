package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"capledger.org/internal/audit"
)

var _ audit.Emitter = (*Store)(nil)

// Emit appends the event to audit_events.
func (s *Store) Emit(ctx context.Context, ev audit.Event) error {
	before, err := json.Marshal(nonNil(ev.Before))
	if err != nil {
		return fmt.Errorf("marshal audit before: %w", err)
	}
	after, err := json.Marshal(nonNil(ev.After))
	if err != nil {
		return fmt.Errorf("marshal audit after: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events(operation, actor, entity_type, entity_id, company_id,
			before, after, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.Operation, ev.Actor, ev.EntityType, ev.EntityID, nullIfEmpty(ev.CompanyID),
		before, after, nullIfEmpty(ev.RequestID), ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
