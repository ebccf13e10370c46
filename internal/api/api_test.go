package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"str-access/internal/ann"
	"str-access/internal/cache"
	"str-access/internal/geo"
	"str-access/internal/nearest"
	"str-access/internal/store"
)

type fakeReader struct {
	run           *store.Run
	reports       []store.AreaReport
	providers     []nearest.Provider
	providerCalls int
	lastQuery     [3]string
}

func (f *fakeReader) LatestRun(context.Context) (*store.Run, error) {
	if f.run == nil {
		return nil, store.ErrNotFound
	}
	return f.run, nil
}

func (f *fakeReader) Reports(_ context.Context, runID, layer, code string) ([]store.AreaReport, error) {
	f.lastQuery = [3]string{runID, layer, code}
	var out []store.AreaReport
	for _, r := range f.reports {
		if (layer == "" || r.Layer == layer) && (code == "" || r.Code == code) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) Providers(context.Context, string) ([]nearest.Provider, error) {
	f.providerCalls++
	return f.providers, nil
}

func (f *fakeReader) GridPoints(_ context.Context, runID, district string, limit int) ([]store.GridRow, error) {
	return []store.GridRow{{Idx: 0, District: district, Estimated: 4}}, nil
}

func newFake() *fakeReader {
	return &fakeReader{
		run: &store.Run{ID: "run-1", Status: "done", Overall: ann.Report{Label: "study_region"}},
		reports: []store.AreaReport{
			{Layer: store.LayerDistrict, Code: "10_1", Name: "Petaling", Report: &ann.Report{Label: "10_1", Providers: 3}},
			{Layer: store.LayerParlimen, Code: "P.100", Name: "P.100 Pandan", Parent: "10_1", Error: "total weight is zero"},
		},
		providers: []nearest.Provider{
			{ID: "A", Name: "Klinik A", AreaCode: "10_1", Point: geo.Point{Lat: 3.25, Lon: 101.25}},
			{ID: "B", Name: "Klinik B", AreaCode: "10_2", Point: geo.Point{Lat: 3.25, Lon: 101.75}},
		},
	}
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestLatestRun(t *testing.T) {
	f := newFake()
	h := BuildRoutes(f, cache.New(nil, 0, 0))
	rec := get(t, h, "/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)

	f.run = nil
	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/latest").Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs/latest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReports(t *testing.T) {
	f := newFake()
	h := BuildRoutes(f, cache.New(nil, 0, 0))

	rec := get(t, h, "/reports?district=10_1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunID   string             `json:"run_id"`
		Reports []store.AreaReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	require.Len(t, body.Reports, 1)
	assert.Equal(t, 3, body.Reports[0].Report.Providers)
	assert.Equal(t, [3]string{"run-1", store.LayerDistrict, "10_1"}, f.lastQuery)

	rec = get(t, h, "/reports?run=run-0&layer=parlimen")
	require.Equal(t, http.StatusOK, rec.Code)
	var parl struct {
		RunID   string             `json:"run_id"`
		Reports []store.AreaReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parl))
	assert.Equal(t, "run-0", parl.RunID)
	require.Len(t, parl.Reports, 1)
	assert.Nil(t, parl.Reports[0].Report)
	assert.Equal(t, "10_1", parl.Reports[0].Parent)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/reports?district=99_9").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/reports?layer=dun").Code)
}

func TestPoints(t *testing.T) {
	h := BuildRoutes(newFake(), nil)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/points").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/points?district=10_1&limit=x").Code)
	rec := get(t, h, "/points?district=10_1&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"estimated_str":4`)
}

func TestNearest(t *testing.T) {
	f := newFake()
	h := BuildRoutes(f, nil)

	rec := get(t, h, "/nearest?lat=3.25&lon=101.7")
	require.Equal(t, http.StatusOK, rec.Code)
	var res nearestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "B", res.ProviderID)
	assert.Equal(t, "Klinik B", res.Name)
	assert.InDelta(t, geo.Haversine(3.25, 101.7, 3.25, 101.75), res.DistanceKm, 1e-9)
	assert.Len(t, res.Geohash, 7)

	// 名册按运行编号缓存在进程内
	get(t, h, "/nearest?lat=3.25&lon=101.2")
	assert.Equal(t, 1, f.providerCalls)
	f.run = &store.Run{ID: "run-2"}
	get(t, h, "/nearest?lat=3.25&lon=101.2")
	assert.Equal(t, 2, f.providerCalls)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/nearest?lat=abc&lon=101").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/nearest?lat=95&lon=101").Code)

	f.providers = nil
	f.run = &store.Run{ID: "run-3"}
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/nearest?lat=3&lon=101").Code)
}
