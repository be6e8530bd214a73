package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	if d := Distance(17.4553223, 78.6664965, 17.4553223, 78.6664965); d != 0 {
		t.Fatalf("expected 0 for identical coordinates, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	lat1, lon1 := 17.4553223, 78.6664965
	lat2, lon2 := 17.4605, 78.4607
	d1 := Distance(lat1, lon1, lat2, lon2)
	d2 := Distance(lat2, lon2, lat1, lon1)
	if math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// Roughly 21.8 km between the campus and the test point; assert a
	// generous band rather than an exact float.
	d := Distance(17.4553223, 78.6664965, 17.4605, 78.4607)
	if d < 20000 || d > 24000 {
		t.Fatalf("distance out of expected band: %f", d)
	}
}

func TestWithinRadius(t *testing.T) {
	ok, d := WithinRadius(17.4553223, 78.6664965, 17.4605, 78.4607, 500)
	if ok {
		t.Fatalf("expected out of range, distance %f", d)
	}
	if d <= 500 {
		t.Fatalf("expected measured distance above radius, got %f", d)
	}

	ok, d = WithinRadius(17.4553223, 78.6664965, 17.4553223, 78.6664965, 500)
	if !ok || d != 0 {
		t.Fatalf("expected in range at distance 0, got ok=%v d=%f", ok, d)
	}
}

func TestWithinRadiusBoundary(t *testing.T) {
	// A point ~111m north of campus (0.001 degrees of latitude).
	ok, d := WithinRadius(17.4553223, 78.6664965, 17.4563223, 78.6664965, 200)
	if !ok {
		t.Fatalf("expected within 200m, got distance %f", d)
	}
	if d < 100 || d > 125 {
		t.Fatalf("0.001 degree latitude should be ~111m, got %f", d)
	}
}
