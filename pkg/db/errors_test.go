package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolationUnwrapsConstraint(t *testing.T) {
	cause := &pgconn.PgError{Code: "23505", ConstraintName: "ux_transactions_idempotency_key"}
	err := fmt.Errorf("recording ledger entry: %w", cause)

	if !IsUniqueViolation(err, "ux_transactions_idempotency_key") {
		t.Fatal("wrapped unique violation on the named constraint must match")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatal("wrapped unique violation must match without a constraint filter")
	}
	if IsUniqueViolation(err, "ux_outbox_events_event_aggregate") {
		t.Fatal("a different constraint must not match")
	}
	if IsUniqueViolation(fmt.Errorf("fk: %w", &pgconn.PgError{Code: "23503"}), "") {
		t.Fatal("non-unique violations must not match")
	}
}

func TestIsTransientClassifiesSerializationFailure(t *testing.T) {
	err := fmt.Errorf("debit: %w", &pgconn.PgError{Code: "40001"})
	if !IsTransient(err) {
		t.Fatal("serialization failures are retryable")
	}
	if IsTransient(fmt.Errorf("boom")) {
		t.Fatal("arbitrary errors are not retryable")
	}
}
