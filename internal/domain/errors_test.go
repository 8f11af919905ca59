package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := Conflict("reminders.schedule", "lead already has a scheduled reminder")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected errors.Is to match ErrConflict")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("conflict must not match ErrValidation")
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if !IsConflict(wrapped) {
		t.Fatalf("expected wrapped conflict to be detected")
	}
}

func TestExternal_KeepsDomainErrors(t *testing.T) {
	nf := NotFound("leads.get", "lead")
	if got := External("leads.get", nf); !IsNotFound(got) {
		t.Fatalf("expected not_found to pass through, got %v", got)
	}

	cause := errors.New("connection refused")
	ext := External("leads.get", cause)
	if !IsExternal(ext) {
		t.Fatalf("expected external kind, got %v", ext)
	}
	if !errors.Is(ext, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
	if External("x", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestPartialFailure_DistinctFromTotalFailure(t *testing.T) {
	cause := External("leads.patch", errors.New("timeout"))
	err := Partial("reminders.schedule", "lead-1", []string{"insert_reminder"}, []string{"update_lead"}, cause)

	if !IsPartial(err) {
		t.Fatalf("expected partial kind")
	}
	if IsExternal(err) {
		t.Fatalf("partial failure must not be reported as a total external failure")
	}
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("expected errors.Is to match ErrPartialFailure")
	}

	var pe *PartialFailureError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PartialFailureError")
	}
	if pe.Ref != "lead-1" || len(pe.Pending) != 1 || pe.Pending[0] != "update_lead" {
		t.Fatalf("unexpected partial failure details: %+v", pe)
	}
}
