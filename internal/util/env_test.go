package util

import (
	"testing"
	"time"
)

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("KINSHIP_INT", "12")
	t.Setenv("KINSHIP_BAD_INT", "twelve")
	t.Setenv("KINSHIP_FLOAT", "0.25")
	t.Setenv("KINSHIP_DURATION", "250ms")
	t.Setenv("KINSHIP_BOOL", "TRUE")
	t.Setenv("KINSHIP_DATE", "2024-05-01")
	t.Setenv("KINSHIP_BAD_DATE", "May 1st")

	if got := GetEnvInt("KINSHIP_INT", 1); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if got := GetEnvInt("KINSHIP_BAD_INT", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	if got := GetEnvInt("KINSHIP_MISSING", 3); got != 3 {
		t.Fatalf("expected default 3, got %d", got)
	}
	if got := GetEnvFloat("KINSHIP_FLOAT", 1); got != 0.25 {
		t.Fatalf("expected 0.25, got %f", got)
	}
	if got := GetEnvDuration("KINSHIP_DURATION", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	if got := GetEnvBool("KINSHIP_BOOL", false); got {
		t.Fatal("expected only lowercase true to be accepted")
	}
	if got := GetEnvDate("KINSHIP_DATE", time.Time{}); !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2024-05-01, got %s", got)
	}
	if got := GetEnvDate("KINSHIP_BAD_DATE", time.Time{}); !got.IsZero() {
		t.Fatalf("expected zero default, got %s", got)
	}
}
