// Package geo implements the 52-bit geohash used to store positions as
// sorted set scores, and great-circle distances between positions.
package geo

import (
	"fmt"
	"math"
	"strings"
)

// Coordinate limits accepted by GEOADD (EPSG:900913 bounds)
const (
	LatMin = -85.05112878
	LatMax = 85.05112878
	LonMin = -180.0
	LonMax = 180.0

	// Step is the number of bits per coordinate
	Step = 26

	// EarthRadius in meters, as used by Redis
	EarthRadius = 6372797.560856
)

// Point is a longitude/latitude pair in degrees
type Point struct {
	Lon float64
	Lat float64
}

// Validate checks the point is within the encodable range
func (p Point) Validate() error {
	if p.Lon < LonMin || p.Lon > LonMax || p.Lat < LatMin || p.Lat > LatMax {
		return fmt.Errorf("ERR invalid longitude,latitude pair %f,%f", p.Lon, p.Lat)
	}
	return nil
}

// Encode returns the interleaved geohash of p. Latitude bits occupy the
// even positions and longitude bits the odd ones.
func Encode(p Point) uint64 {
	latOffset := (p.Lat - LatMin) / (LatMax - LatMin)
	lonOffset := (p.Lon - LonMin) / (LonMax - LonMin)

	lat := uint32(latOffset * (1 << Step))
	lon := uint32(lonOffset * (1 << Step))
	if lat >= 1<<Step {
		lat = 1<<Step - 1
	}
	if lon >= 1<<Step {
		lon = 1<<Step - 1
	}
	return interleave(lat, lon)
}

// Decode returns the center of the cell identified by hash
func Decode(hash uint64) Point {
	lat, lon := deinterleave(hash)
	scale := float64(uint64(1) << Step)

	latMin := LatMin + (LatMax-LatMin)*float64(lat)/scale
	latMax := LatMin + (LatMax-LatMin)*float64(lat+1)/scale
	lonMin := LonMin + (LonMax-LonMin)*float64(lon)/scale
	lonMax := LonMin + (LonMax-LonMin)*float64(lon+1)/scale

	p := Point{
		Lon: (lonMin + lonMax) / 2,
		Lat: (latMin + latMax) / 2,
	}
	p.Lon = math.Max(LonMin, math.Min(LonMax, p.Lon))
	p.Lat = math.Max(LatMin, math.Min(LatMax, p.Lat))
	return p
}

func interleave(even, odd uint32) uint64 {
	var out uint64
	for i := 0; i < Step; i++ {
		out |= uint64(even>>i&1) << (2 * i)
		out |= uint64(odd>>i&1) << (2*i + 1)
	}
	return out
}

func deinterleave(hash uint64) (even, odd uint32) {
	for i := 0; i < Step; i++ {
		even |= uint32(hash>>(2*i)&1) << i
		odd |= uint32(hash>>(2*i+1)&1) << i
	}
	return even, odd
}

// Distance returns the haversine distance between a and b in meters
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	u := math.Sin((lat2 - lat1) / 2)
	v := math.Sin((b.Lon - a.Lon) * math.Pi / 180 / 2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(u*u+math.Cos(lat1)*math.Cos(lat2)*v*v))
}

// UnitFactor returns meters per unit for m, km, mi and ft
func UnitFactor(unit string) (float64, error) {
	switch strings.ToLower(unit) {
	case "m":
		return 1, nil
	case "km":
		return 1000, nil
	case "mi":
		return 1609.34, nil
	case "ft":
		return 0.3048, nil
	}
	return 0, fmt.Errorf("ERR unsupported unit provided. please use M, KM, FT, MI")
}
