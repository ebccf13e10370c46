// 包 api：集中注册 HTTP API 路由以解耦主入口；只读访问已保存的分析结果
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"str-access/internal/cache"
	"str-access/internal/errs"
	"str-access/internal/geo"
	"str-access/internal/logger"
	"str-access/internal/metrics"
	"str-access/internal/nearest"
	"str-access/internal/store"
)

// Reader：API 依赖的只读存储接口（由 store.Store 实现）
type Reader interface {
	LatestRun(ctx context.Context) (*store.Run, error)
	Reports(ctx context.Context, runID, layer, code string) ([]store.AreaReport, error)
	Providers(ctx context.Context, runID string) ([]nearest.Provider, error)
	GridPoints(ctx context.Context, runID, district string, limit int) ([]store.GridRow, error)
}

// nearestResult：/nearest 返回结构
type nearestResult struct {
	RunID      string  `json:"run_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Geohash    string  `json:"geohash"`
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	AreaCode   string  `json:"area_code"`
	DistanceKm float64 `json:"distance_km"`
}

// providerSet：最近一次运行的服务点名册（进程内缓存，运行编号变化时重新加载）
type providerSet struct {
	mu    sync.Mutex
	runID string
	refs  []nearest.Provider
}

func (p *providerSet) get(ctx context.Context, rd Reader, runID string) ([]nearest.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID == runID && p.refs != nil {
		return p.refs, nil
	}
	refs, err := rd.Providers(ctx, runID)
	if err != nil {
		return nil, err
	}
	p.runID, p.refs = runID, refs
	logger.L().Info("providers_reloaded", "run", runID, "providers", len(refs))
	return refs, nil
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(rd Reader, c *cache.Cache) *http.ServeMux {
	mux := http.NewServeMux()
	ps := &providerSet{}

	mux.HandleFunc("/runs/latest", instrument("runs_latest", func(w http.ResponseWriter, r *http.Request) {
		run, err := rd.LatestRun(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, run)
	}))

	// /reports?run=&layer=&code=；district= 为 layer=district&code= 的简写
	mux.HandleFunc("/reports", instrument("reports", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		layer, code := q.Get("layer"), q.Get("code")
		if d := q.Get("district"); d != "" {
			layer, code = store.LayerDistrict, d
		}
		if layer != "" && layer != store.LayerStudyRegion && layer != store.LayerDistrict && layer != store.LayerParlimen {
			writeError(w, r, errs.Invalid("reports", "unknown layer %q", layer))
			return
		}
		runID, err := resolveRun(r.Context(), rd, q.Get("run"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		key := "reports:" + runID + ":" + layer + ":" + code
		reps, err := cache.Fetch(r.Context(), c, key, func(ctx context.Context) ([]store.AreaReport, error) {
			return rd.Reports(ctx, runID, layer, code)
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(reps) == 0 && code != "" {
			writeError(w, r, store.ErrNotFound)
			return
		}
		writeJSON(w, map[string]any{"run_id": runID, "reports": nonNil(reps)})
	}))

	// /points?run=&district=&limit=
	mux.HandleFunc("/points", instrument("points", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		district := q.Get("district")
		if district == "" {
			writeError(w, r, errs.Invalid("points", "district is required"))
			return
		}
		limit := 0
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, r, errs.Invalid("points", "bad limit %q", s))
				return
			}
			limit = n
		}
		runID, err := resolveRun(r.Context(), rd, q.Get("run"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		key := "points:" + runID + ":" + district + ":" + strconv.Itoa(limit)
		rows, err := cache.Fetch(r.Context(), c, key, func(ctx context.Context) ([]store.GridRow, error) {
			return rd.GridPoints(ctx, runID, district, limit)
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"run_id": runID, "district": district, "points": nonNil(rows)})
	}))

	// /nearest?lat=&lon=：最近一次运行名册中的最近服务点
	mux.HandleFunc("/nearest", instrument("nearest", func(w http.ResponseWriter, r *http.Request) {
		pt, err := parsePoint(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		run, err := rd.LatestRun(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		refs, err := ps.get(r.Context(), rd, run.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		m, err := nearest.MatchNearest(r.Context(), []geo.Point{pt}, refs, nearest.Options{Workers: 1})
		if err != nil {
			writeError(w, r, err)
			return
		}
		p := refs[m[0].Ref]
		writeJSON(w, nearestResult{
			RunID: run.ID, Lat: pt.Lat, Lon: pt.Lon, Geohash: geo.Geohash(pt.Lat, pt.Lon, 7),
			ProviderID: p.ID, Name: p.Name, AreaCode: p.AreaCode, DistanceKm: m[0].DistanceKm,
		})
	}))
	return mux
}

func resolveRun(ctx context.Context, rd Reader, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	run, err := rd.LatestRun(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func parsePoint(r *http.Request) (geo.Point, error) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, errs.Invalid("nearest", "lat and lon must be numbers")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return geo.Point{}, errs.Invalid("nearest", "coordinate (%v,%v) out of range", lat, lon)
	}
	return geo.Point{Lat: lat, Lon: lon}, nil
}

// instrument：仅允许 GET，并记录请求数与耗时
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.RequestsTotal.WithLabelValues(route).Inc()
		defer func() {
			metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		}()
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errs.IsInvalidInput(err):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return
	}
	if status == http.StatusInternalServerError {
		logger.L().Error("api_error", "path", r.URL.Path, "err", err)
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
