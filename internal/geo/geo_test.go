package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	testCases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		delta                  float64
	}{
		{"same_point", 3.139, 101.6869, 3.139, 101.6869, 0, 0},
		{"quarter_equator", 0, 0, 0, 90, EarthRadiusKm * math.Pi / 2, 1e-9},
		{"antipodal", 0, 0, 0, 180, EarthRadiusKm * math.Pi, 1e-6},
		{"pole_to_pole", 90, 0, -90, 0, EarthRadiusKm * math.Pi, 1e-6},
		{"near_one_one", 1, 1, 1.001, 1.001, 0.1572, 0.001},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Haversine(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			assert.InDelta(t, tc.want, got, tc.delta)
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	pts := []Point{{1.5, 103.7}, {5.4, 100.3}, {-33.9, 151.2}, {51.5, -0.12}, {0, 0}}
	for _, a := range pts {
		for _, b := range pts {
			assert.Equal(t, a.DistanceKm(b), b.DistanceKm(a))
		}
		assert.Equal(t, 0.0, a.DistanceKm(a))
	}
}

func TestHaversineOutOfRangeDoesNotPanic(t *testing.T) {
	d := Haversine(400, -720, 95, 1e6)
	assert.False(t, math.IsNaN(d))
}

func square(minLon, minLat, maxLon, maxLat float64) []Point {
	return []Point{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
		{Lat: minLat, Lon: minLon},
	}
}

func TestAreaContains(t *testing.T) {
	a := Area{Code: "A", Polys: []Polygon{
		NewPolygon([][]Point{square(0, 0, 10, 10), square(4, 4, 6, 6)}),
		NewPolygon([][]Point{square(20, 20, 21, 21)}),
	}}
	assert.True(t, a.Contains(Point{Lat: 1, Lon: 1}))
	assert.False(t, a.Contains(Point{Lat: 5, Lon: 5}), "inside hole")
	assert.True(t, a.Contains(Point{Lat: 20.5, Lon: 20.5}), "second part")
	assert.False(t, a.Contains(Point{Lat: 15, Lon: 15}))
	assert.Equal(t, [4]float64{0, 0, 21, 21}, a.BBox())
}

func TestPolygonAreaKm2(t *testing.T) {
	// 赤道附近 1°×1° 的格子约 111.32 × 110.57 km
	got := PolygonAreaKm2([]Polygon{NewPolygon([][]Point{square(0, 0, 1, 1)})})
	assert.InEpsilon(t, 12309.0, got, 0.005)

	withHole := PolygonAreaKm2([]Polygon{NewPolygon([][]Point{square(0, 0, 1, 1), square(0.25, 0.25, 0.75, 0.75)})})
	assert.InEpsilon(t, got*0.75, withHole, 0.01)

	// 高纬度同样经纬跨度面积更小
	north := PolygonAreaKm2([]Polygon{NewPolygon([][]Point{square(0, 60, 1, 61)})})
	require.Less(t, north, got)
}

func TestGeohash(t *testing.T) {
	assert.Equal(t, "u4pruydqqvj", Geohash(57.64911, 10.40744, 11))
	assert.Equal(t, "u4pruyd", Geohash(57.64911, 10.40744, 7))
	assert.Len(t, Geohash(3.139, 101.6869, 7), 7)
}
