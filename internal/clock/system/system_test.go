package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	if !clk.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, clk.Now())
	}
	clk.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !clk.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, clk.Now())
	}
}
