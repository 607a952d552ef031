package geo

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	points := []Point{
		{Lon: 13.361389, Lat: 38.115556}, // Palermo
		{Lon: 15.087269, Lat: 37.502669}, // Catania
		{Lon: -122.4194, Lat: 37.7749},   // San Francisco
		{Lon: 0, Lat: 0},
		{Lon: -179.9, Lat: -85},
	}

	for _, p := range points {
		got := Decode(Encode(p))
		if math.Abs(got.Lon-p.Lon) > 1e-5 || math.Abs(got.Lat-p.Lat) > 1e-5 {
			t.Errorf("Decode(Encode(%v)) = %v", p, got)
		}
	}
}

func TestEncodeKnownScore(t *testing.T) {
	// GEOADD Sicily 13.361389 38.115556 "Palermo" stores this score
	const want = 3479099956230698
	if got := Encode(Point{Lon: 13.361389, Lat: 38.115556}); got != want {
		t.Errorf("Encode(Palermo) = %d, want %d", got, want)
	}
}

func TestDistance(t *testing.T) {
	palermo := Point{Lon: 13.361389, Lat: 38.115556}
	catania := Point{Lon: 15.087269, Lat: 37.502669}

	// GEODIST Sicily Palermo Catania is about 166274.15 meters
	d := Distance(palermo, catania)
	if math.Abs(d-166274.15) > 1 {
		t.Errorf("Distance() = %f, want about 166274.15", d)
	}
	if Distance(palermo, palermo) != 0 {
		t.Error("distance to self should be zero")
	}
}

func TestValidate(t *testing.T) {
	if err := (Point{Lon: 181, Lat: 0}).Validate(); err == nil {
		t.Error("longitude 181 should be rejected")
	}
	if err := (Point{Lon: 0, Lat: 86}).Validate(); err == nil {
		t.Error("latitude 86 should be rejected")
	}
	if err := (Point{Lon: 10, Lat: 10}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestUnitFactor(t *testing.T) {
	if f, err := UnitFactor("KM"); err != nil || f != 1000 {
		t.Errorf("UnitFactor(KM) = %v, %v", f, err)
	}
	if _, err := UnitFactor("parsec"); err == nil {
		t.Error("UnitFactor(parsec) should fail")
	}
}
