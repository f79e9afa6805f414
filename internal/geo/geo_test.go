package geo

import (
	"math"
	"testing"
)

func TestDistanceKmZeroAndSymmetry(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{-23.5505, -46.6333}, // São Paulo
		{51.5074, -0.1278},   // London
		{89.9, 179.9},
	}
	for _, p := range points {
		if d := DistanceKm(p[0], p[1], p[0], p[1]); d != 0 {
			t.Fatalf("DistanceKm(a,a) = %v, want 0", d)
		}
	}
	for i := range points {
		for j := range points {
			a, b := points[i], points[j]
			ab := DistanceKm(a[0], a[1], b[0], b[1])
			ba := DistanceKm(b[0], b[1], a[0], a[1])
			if math.Abs(ab-ba) > 1e-9 {
				t.Fatalf("asymmetric: %v vs %v", ab, ba)
			}
		}
	}
}

func TestDistanceKmKnownValues(t *testing.T) {
	// One degree of latitude along a meridian is ~111.19 km.
	d := DistanceKm(0, 0, 1, 0)
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("1 degree latitude = %v km, want ~111.19", d)
	}
	// São Paulo to Rio de Janeiro is roughly 360 km in a straight line.
	d = DistanceKm(-23.5505, -46.6333, -22.9068, -43.1729)
	if d < 350 || d > 370 {
		t.Fatalf("SP-Rio = %v km, want ~360", d)
	}
}
