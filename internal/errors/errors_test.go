package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("apply: %w", New(CodeAlreadySpent, "note 0x01 spent"))
	if !stdErrors.Is(err, Sentinel(CodeAlreadySpent)) {
		t.Fatalf("expected wrapped error to match ALREADY_SPENT sentinel")
	}
	if stdErrors.Is(err, Sentinel(CodeNoteExists)) {
		t.Fatalf("unexpected match against NOTE_EXISTS")
	}
	if got := CodeOf(err); got != CodeAlreadySpent {
		t.Fatalf("unexpected code %s", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeStorageFailure, cause, "commit failed", WithMetadata("owner", "0xabc"))
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !ShouldAlert(err) {
		t.Fatalf("storage failures should alert by default")
	}
	if err.Metadata()["owner"] != "0xabc" {
		t.Fatalf("metadata not recorded: %v", err.Metadata())
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(err))
	}
}

func TestDefaultsAndOverrides(t *testing.T) {
	err := New(CodeInvalidProof, "")
	if err.Message() != "proof rejected" {
		t.Fatalf("expected registered default message, got %q", err.Message())
	}
	if err.ShouldAlert() {
		t.Fatalf("invalid proofs must not alert")
	}
	if !New(CodeInvalidProof, "", WithAlert(true)).ShouldAlert() {
		t.Fatalf("WithAlert override ignored")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
}

func TestUnregisteredCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	if attr.Severity != SeverityCritical {
		t.Fatalf("expected UNKNOWN attributes, got %+v", attr)
	}
	Register("CUSTOM", Attributes{Message: "custom", Severity: SeverityInfo})
	if AttributesOf("CUSTOM").Message != "custom" {
		t.Fatalf("registration lost")
	}
	found := false
	for _, code := range Codes() {
		if code == "CUSTOM" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Codes() should list registered code")
	}
}
