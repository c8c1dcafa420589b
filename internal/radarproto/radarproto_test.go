package radarproto

import "testing"

func TestParseLine_Valid(t *testing.T) {
	target, ok := ParseLine("EVENTS: TARGET: 40 1000 2000")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if target != (Target{Speed: 40, X: 1000, Y: 2000}) {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestParseLine_WrongPrefix(t *testing.T) {
	if _, ok := ParseLine("EVENTS: MAX_SPEED: 99"); ok {
		t.Fatal("expected ok=false for non-TARGET line")
	}
}

func TestParseLine_WrongArity(t *testing.T) {
	if _, ok := ParseLine("EVENTS: TARGET: 40 1000"); ok {
		t.Fatal("expected ok=false for wrong token count")
	}
	if _, ok := ParseLine("EVENTS: TARGET: 40 1000 2000 3000"); ok {
		t.Fatal("expected ok=false for wrong token count")
	}
}

func TestParseLine_NonIntegerToken(t *testing.T) {
	if _, ok := ParseLine("EVENTS: TARGET: fast 1000 2000"); ok {
		t.Fatal("expected ok=false for non-integer token")
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(3, 4); d != 5 {
		t.Fatalf("expected 5, got %v", d)
	}
}

func TestToSample_RoundTripsXY(t *testing.T) {
	target := Target{Speed: 40, X: 1000, Y: 2000}
	sample := target.ToSample()
	if sample.X != target.X || sample.Y != target.Y {
		t.Fatalf("x/y did not round-trip: %+v vs %+v", sample, target)
	}
	if sample.Triggered {
		t.Fatal("expected Triggered false on raw projection")
	}
	if sample.Distance != Distance(target.X, target.Y) {
		t.Fatalf("unexpected distance: %v", sample.Distance)
	}
}
