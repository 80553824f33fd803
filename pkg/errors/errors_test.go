package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	cases := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeInsufficientFunds, http.StatusUnprocessableEntity, false},
		{CodeInProgress, http.StatusConflict, true},
		{CodeIntegrity, http.StatusInternalServerError, false},
		{CodeStateConflict, http.StatusUnprocessableEntity, false},
		{CodeNotFound, http.StatusNotFound, false},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d got %d", tc.code, tc.status, meta.HTTPStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Fatalf("%s: expected retryable=%v", tc.code, tc.retryable)
		}
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("row not updated")
	err := Wrap(CodeInsufficientFunds, cause, "debit failed")

	typed := As(err)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeInsufficientFunds {
		t.Fatalf("unexpected code %s", typed.Code())
	}
	if typed.Unwrap() != cause {
		t.Fatal("expected cause to be preserved")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeInProgress, "locked"))
	if !HasCode(err, CodeInProgress) {
		t.Fatal("expected HasCode to find wrapped code")
	}
	if HasCode(err, CodeIntegrity) {
		t.Fatal("did not expect integrity code")
	}
}

func TestDetailsOnlyWhenSet(t *testing.T) {
	err := New(CodeValidation, "bad input").WithDetails(map[string]string{"amount": "must be positive"})
	if err.Details() == nil {
		t.Fatal("expected details")
	}
	if New(CodeValidation, "bad input").Details() != nil {
		t.Fatal("expected nil details by default")
	}
}
