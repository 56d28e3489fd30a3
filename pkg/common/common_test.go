package common

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in      string
		kind    NodeKind
		raw     string
		wantErr bool
	}{
		{in: "person:42", kind: NodeKindPerson, raw: "42"},
		{in: "repo:org/name", kind: NodeKindRepository, raw: "org/name"},
		{in: "repo:a:b", kind: NodeKindRepository, raw: "a:b"},
		{in: "person:", wantErr: true},
		{in: "company:1", wantErr: true},
		{in: "42", wantErr: true},
	}

	for _, tt := range tests {
		kind, raw, err := ParseNodeID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.in, err)
		}
		if kind != tt.kind || raw != tt.raw {
			t.Fatalf("expected (%s, %s), got (%s, %s)", tt.kind, tt.raw, kind, raw)
		}
	}
}

func TestNewEdgeKeyIsCanonical(t *testing.T) {
	a := PersonID("b")
	b := PersonID("a")

	k1 := NewEdgeKey(a, b, EdgeCoEmployment)
	k2 := NewEdgeKey(b, a, EdgeCoEmployment)
	if k1 != k2 {
		t.Fatalf("expected equal keys, got %v and %v", k1, k2)
	}
	if k1.Src != b {
		t.Fatalf("expected src %s, got %s", b, k1.Src)
	}
}

func TestEdgeValidate(t *testing.T) {
	ok := Edge{Src: PersonID("a"), Dst: PersonID("b"), Type: EdgeCollaboration, Weight: 1}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid edge, got %v", err)
	}

	bad := []Edge{
		{Src: PersonID("a"), Dst: PersonID("a"), Type: EdgeCollaboration},
		{Src: PersonID("a"), Dst: PersonID("b"), Type: EdgeCollaboration, Weight: -1},
		{Src: PersonID("a"), Dst: PersonID("b"), Type: "friendship"},
		{Src: "", Dst: PersonID("b"), Type: EdgeCollaboration},
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Fatalf("expected error for edge %d", i)
		}
	}
}

func TestEmploymentRecordValidate(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, -1, 0)

	if err := (EmploymentRecord{PersonID: "p", CompanyID: "c", Start: start}).Validate(); err != nil {
		t.Fatalf("expected open-ended record to be valid, got %v", err)
	}
	if err := (EmploymentRecord{PersonID: "p", CompanyID: "c", Start: start, End: &before}).Validate(); err == nil {
		t.Fatal("expected error for end before start")
	}
	if err := (EmploymentRecord{CompanyID: "c", Start: start}).Validate(); err == nil {
		t.Fatal("expected error for missing person")
	}
}

func TestCosine(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := Cosine(v, v); got != 1 {
		t.Fatalf("expected self similarity 1, got %f", got)
	}
	zero := []float32{0, 0, 0}
	if got := Cosine(zero, zero); got != 1 {
		t.Fatalf("expected zero self similarity 1, got %f", got)
	}
	if got := Cosine(zero, v); got != 0 {
		t.Fatalf("expected 0 for zero vector, got %f", got)
	}
	if got := Cosine(v, []float32{1, 2}); got != 0 {
		t.Fatalf("expected 0 for length mismatch, got %f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected 0 for orthogonal vectors, got %f", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Phase: PhaseCollaboration, After: "repo:with:colons"}
	parsed, err := ParseCursor(c.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != c {
		t.Fatalf("expected %v, got %v", c, parsed)
	}

	zero, err := ParseCursor("")
	if err != nil || !zero.IsZero() {
		t.Fatalf("expected zero cursor, got %v (%v)", zero, err)
	}
	if zero.Normalize().Phase != PhaseEmployment {
		t.Fatalf("expected zero cursor to start at employment, got %s", zero.Normalize().Phase)
	}
	if _, err := ParseCursor("nope:1"); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		from, to JobState
		ok       bool
	}{
		{JobIdle, JobRunning, true},
		{JobRunning, JobCheckpointed, true},
		{JobCheckpointed, JobRunning, true},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobFailed, JobRunning, true},
		{JobIdle, JobCompleted, false},
		{JobCompleted, JobRunning, false},
		{JobCheckpointed, JobCompleted, true},
		{JobFailed, JobCompleted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Fatalf("expected %s -> %s to be %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}

	job := BuildJob{State: JobCompleted}
	if err := job.Transition(JobRunning); err == nil {
		t.Fatal("expected error leaving completed state")
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("traversal", "node %s", "person:1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("did not expect unavailable")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected kind not_found, got %s", KindOf(err))
	}

	backend := errors.New("connection refused")
	unavailable := Unavailable("store", backend)
	if !Retryable(unavailable) {
		t.Fatal("expected unavailable to be retryable")
	}
	if !errors.Is(unavailable, backend) {
		t.Fatal("expected cause to be preserved")
	}
	if Unavailable("store", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}

	overloaded := Overloaded("scoring", "too large")
	if Unavailable("store", overloaded) != overloaded {
		t.Fatal("expected typed error to pass through unchanged")
	}
}
