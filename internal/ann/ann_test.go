package ann

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"str-access/internal/errs"
	"str-access/internal/geo"
)

func TestComputePinnedScenario(t *testing.T) {
	// n=1000, area=50, do=0.3
	obs := []Observation{{Weight: 1000, DistanceKm: 0.3, RegionKey: "R", RegionAreaKm2: 50}}
	res, err := Compute(obs)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, res.Do, 1e-12)
	assert.InDelta(t, 0.11180339887498948, res.De, 1e-12)
	assert.InDelta(t, 2.6832815729997477, res.ANN, 1e-9)
	assert.InDelta(t, 0.0018480942833091604, res.SE, 1e-12)
	assert.InDelta(t, 101.83279220366911, res.ZScore, 1e-6)
	assert.InDelta(t, 0, res.PValue, 1e-12)
	assert.Equal(t, 1000.0, res.N)
	assert.Equal(t, 50.0, res.AreaKm2)
}

func TestComputeWeightedMean(t *testing.T) {
	obs := []Observation{
		{Weight: 1, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 10},
		{Weight: 3, DistanceKm: 5, RegionKey: "A", RegionAreaKm2: 10},
	}
	res, err := Compute(obs)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, res.Do, 1e-12)
	assert.Equal(t, 10.0, res.AreaKm2, "same region counted once")
}

func TestComputeSumsDistinctAreas(t *testing.T) {
	obs := []Observation{
		{Weight: 1, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 10},
		{Weight: 1, DistanceKm: 1, RegionKey: "B", RegionAreaKm2: 30},
		{Weight: 1, DistanceKm: 1, RegionKey: "B", RegionAreaKm2: 30},
	}
	res, err := Compute(obs)
	require.NoError(t, err)
	assert.Equal(t, 40.0, res.AreaKm2)
}

func TestComputeAreaSumIsDeterministic(t *testing.T) {
	// 求和顺序不同时 1e16+1+1 与 1+1+1e16 的结果不同
	obs := []Observation{
		{Weight: 1, DistanceKm: 1, RegionKey: "b", RegionAreaKm2: 1},
		{Weight: 1, DistanceKm: 1, RegionKey: "a", RegionAreaKm2: 1e16},
		{Weight: 1, DistanceKm: 1, RegionKey: "c", RegionAreaKm2: 1},
	}
	for i := 0; i < 50; i++ {
		res, err := Compute(obs)
		require.NoError(t, err)
		require.Equal(t, 1e16, res.AreaKm2)
	}
}

func TestComputeInvalid(t *testing.T) {
	testCases := []struct {
		name string
		obs  []Observation
	}{
		{"empty", nil},
		{"zero_weight", []Observation{{Weight: 0, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 5}}},
		{"zero_area", []Observation{{Weight: 2, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 0}}},
		{"negative_weight", []Observation{{Weight: -1, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 5}}},
		{"nan_distance", []Observation{{Weight: 1, DistanceKm: math.NaN(), RegionKey: "A", RegionAreaKm2: 5}}},
		{"conflicting_area", []Observation{
			{Weight: 1, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 5},
			{Weight: 1, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 6},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.obs)
			assert.True(t, errs.IsInvalidInput(err), "got %v", err)
		})
	}
}

// nearestNeighbourObs：点集内部的最近邻距离（每点权重 1）
func nearestNeighbourObs(pts []geo.Point, area float64) []Observation {
	obs := make([]Observation, len(pts))
	for i, p := range pts {
		best := math.Inf(1)
		for j, q := range pts {
			if i != j {
				best = math.Min(best, p.DistanceKm(q))
			}
		}
		obs[i] = Observation{Weight: 1, DistanceKm: best, RegionKey: "R", RegionAreaKm2: area}
	}
	return obs
}

// 赤道附近 0.5°×0.5° 正方形
const squareAreaKm2 = 55.66 * 55.29

func TestComputeDispersionRegimes(t *testing.T) {
	t.Run("regular_grid_dispersed", func(t *testing.T) {
		var pts []geo.Point
		for i := 0; i < 20; i++ {
			for j := 0; j < 20; j++ {
				pts = append(pts, geo.Point{Lat: float64(i) * 0.025, Lon: float64(j) * 0.025})
			}
		}
		res, err := Compute(nearestNeighbourObs(pts, squareAreaKm2))
		require.NoError(t, err)
		assert.Greater(t, res.ANN, 1.0)
		assert.Greater(t, res.ZScore, 0.0)
	})
	t.Run("collapsed_points", func(t *testing.T) {
		pts := make([]geo.Point, 50)
		res, err := Compute(nearestNeighbourObs(pts, squareAreaKm2))
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.ANN)
		assert.Less(t, res.ZScore, 0.0)
	})
	t.Run("uniform_random", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		pts := make([]geo.Point, 400)
		for i := range pts {
			pts[i] = geo.Point{Lat: rng.Float64() * 0.5, Lon: rng.Float64() * 0.5}
		}
		res, err := Compute(nearestNeighbourObs(pts, squareAreaKm2))
		require.NoError(t, err)
		// 边界效应使 ANN 略高于 1，但仍在随机范围附近
		assert.InDelta(t, 1.0, res.ANN, 0.15)
		assert.InDelta(t, 0, res.ZScore, 2)
	})
}

func TestDescribe(t *testing.T) {
	obs := []Observation{
		{Weight: 4, DistanceKm: 1, RegionKey: "A", RegionAreaKm2: 10, ProviderID: "c1"},
		{Weight: 3, DistanceKm: 2, RegionKey: "A", RegionAreaKm2: 10, ProviderID: "c1"},
		{Weight: 2, DistanceKm: 3, RegionKey: "A", RegionAreaKm2: 10, ProviderID: "c2"},
		{Weight: 1, DistanceKm: 4, RegionKey: "A", RegionAreaKm2: 10, ProviderID: "c2"},
		{Weight: 0, DistanceKm: 10, RegionKey: "A", RegionAreaKm2: 10, ProviderID: "c3"},
	}
	rep, err := Describe("Kuala Lumpur", obs)
	require.NoError(t, err)
	assert.Equal(t, "Kuala Lumpur", rep.Label)
	assert.Equal(t, 5, rep.Distance.Count)
	assert.InDelta(t, 4.0, rep.Distance.Mean, 1e-12)
	assert.Equal(t, 1.0, rep.Distance.Min)
	assert.Equal(t, 10.0, rep.Distance.Max)
	assert.Equal(t, 2.0, rep.Distance.Q1)
	assert.Equal(t, 3.0, rep.Distance.Median)
	assert.Equal(t, 4.0, rep.Distance.Q3)
	assert.Equal(t, 2.0, rep.Distance.IQR)
	assert.InDelta(t, math.Sqrt(12.5), rep.Distance.Std, 1e-12)
	assert.Equal(t, 3, rep.MatchedProviders)
	assert.Equal(t, 10.0, rep.WeightTotal)
	require.NotNil(t, rep.Shape)
	assert.Greater(t, rep.Shape.Skew, 0.0)
	require.NotNil(t, rep.Spearman)
	assert.InDelta(t, -1.0, rep.Spearman.Rho, 1e-12)
	assert.Equal(t, 0.0, rep.Spearman.PValue)
	assert.InDelta(t, 2.0, rep.ANN.Do, 1e-12)
}

func TestQuantileMatchesPandas(t *testing.T) {
	s := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, quantile(0.25, s), 1e-12)
	assert.InDelta(t, 2.5, quantile(0.5, s), 1e-12)
	assert.InDelta(t, 3.25, quantile(0.75, s), 1e-12)
	assert.Equal(t, 7.0, quantile(0.5, []float64{7}))
}

func TestSpearmanTies(t *testing.T) {
	assert.Equal(t, []float64{1.5, 1.5, 3}, ranks([]float64{2, 2, 5}))
	_, ok := spearman([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok)

	c, ok := spearman([]float64{1, 2, 3, 4, 5, 6}, []float64{2, 1, 4, 3, 6, 5})
	require.True(t, ok)
	assert.InDelta(t, 0.8286, c.Rho, 1e-4)
	assert.Greater(t, c.PValue, 0.0)
	assert.Less(t, c.PValue, 0.1)
}

func TestByGroup(t *testing.T) {
	var obs []Observation
	var keys []string
	for g := 0; g < 6; g++ {
		for i := 0; i < 10; i++ {
			obs = append(obs, Observation{Weight: float64(i + 1), DistanceKm: float64(g + i), RegionKey: fmt.Sprint(g), RegionAreaKm2: 100})
			keys = append(keys, fmt.Sprintf("D%d", 5-g))
		}
	}
	// 一个组权重全为 0
	obs = append(obs, Observation{Weight: 0, DistanceKm: 1, RegionKey: "x", RegionAreaKm2: 1})
	keys = append(keys, "Dz")

	keyFn := func(i int) string { return keys[i] }
	one, err := ByGroup(context.Background(), obs, keyFn, 1)
	require.NoError(t, err)
	many, err := ByGroup(context.Background(), obs, keyFn, 8)
	require.NoError(t, err)
	require.Equal(t, one, many)
	require.Len(t, many, 7)
	assert.Equal(t, "D0", many[0].Key)
	assert.Equal(t, "Dz", many[6].Key)
	assert.True(t, errs.IsInvalidInput(many[6].Err))
	for _, g := range many[:6] {
		assert.NoError(t, g.Err)
		assert.Equal(t, 10, g.Report.Distance.Count)
	}
}

func TestByGroupCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ByGroup(ctx, []Observation{{Weight: 1}}, func(int) string { return "a" }, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
