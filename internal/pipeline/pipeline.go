package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"str-access/internal/ann"
	"str-access/internal/areal"
	"str-access/internal/config"
	"str-access/internal/errs"
	"str-access/internal/geo"
	"str-access/internal/ingest"
	"str-access/internal/logger"
	"str-access/internal/metrics"
	"str-access/internal/nearest"
	"str-access/internal/spatialjoin"
)

// 派生列
const (
	AttrEstimated  = "estimated_str"
	AttrPopulation = "ascii_population"
	AttrRatio      = "str_percentage"
	AttrRatioSTR   = "str_ascii"
	AttrDistance   = "distance_km"
	TagProvider    = "provider_id"
)

// CategoryAttr：类别插值列名，如 "Warga Emas" → estimated_warga_emas
func CategoryAttr(category string) string {
	b := []byte("estimated_")
	for _, r := range strings.ToLower(strings.TrimSpace(category)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b = append(b, byte(r))
		default:
			b = append(b, '_')
		}
	}
	return string(b)
}

// Result：一次分析的完整输出
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Method     string
	Points     []areal.GridPoint
	Providers  []nearest.Provider
	Overall    ann.Report
	Districts  []ann.GroupReport
	Parlimen   []ann.GroupReport
	// 区域编码 → 名称（行政区与选区）
	Names map[string]string
	// 选区 → 行政区
	Crosswalk       map[string]string
	CrosswalkReport spatialjoin.CrosswalkReport
	Joins           []spatialjoin.JoinReport
	Estimate        areal.Report
	RatioEstimate   *areal.Report
	// 类别 → 该类别的插值报告（列名见 CategoryAttr）
	CategoryEstimates map[string]areal.Report
	Categories      []ingest.Share
	Gender          []ingest.Share
	Warnings        []string
}

// 文档注释：执行一次分析
// 背景：
// - 先在全国栅格上投影人口（投影总数针对全国），再做行政区/选区连接并裁剪到研究区；
// - STR 计数按选区做面插值得到 estimated_str；提供人口表时另外计算两段式估计 str_ascii；
// - 最近服务点使用全部名册（研究区边缘的点可能匹配到区外诊所）；
// - ANN 以 estimated_str 为权重，整体、逐行政区、逐选区各出一份报告。
// 约束：Data 不被修改（点集先复制）；任何阶段失败返回带阶段名的包装错误；ctx 取消时尽快返回。
func Run(ctx context.Context, cfg *config.Config, d *Data) (res *Result, err error) {
	l := logger.For("pipeline")
	res = &Result{RunID: uuid.NewString(), StartedAt: time.Now().UTC(), Method: cfg.CountMethod, Warnings: append([]string(nil), d.Warnings...)}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RunsTotal.WithLabelValues(status).Inc()
	}()
	policy := spatialjoin.ParsePolicy(cfg.JoinPolicy)
	points := clonePoints(d.Points)

	start := time.Now()
	if d.Population != nil {
		if err := areal.Project(points, areal.ProjectSpec{NationalTotal: cfg.NationalTotal, GrowthRate: cfg.GrowthRate, TargetAttr: AttrPopulation}); err != nil {
			return nil, fmt.Errorf("project: %w", err)
		}
	}

	districts, err := spatialjoin.NewLayer("district", d.Districts)
	if err != nil {
		return nil, fmt.Errorf("district layer: %w", err)
	}
	parlimen, err := spatialjoin.NewLayer("parlimen", d.Parlimen)
	if err != nil {
		return nil, fmt.Errorf("parlimen layer: %w", err)
	}
	if study := cfg.StudyDistricts(); len(study) > 0 {
		keep := toSet(study)
		if districts, err = districts.Filter(func(a *geo.Area) bool { return keep[a.Code] }); err != nil {
			return nil, fmt.Errorf("study region: %w", err)
		}
		if len(districts.Areas) == 0 {
			return nil, errs.Invalid("pipeline", "none of the study districts %v exist in the district layer", study)
		}
	}
	points, jr, err := spatialjoin.Assign(points, districts, DistrictTag, policy)
	if err != nil {
		return nil, fmt.Errorf("join districts: %w", err)
	}
	res.Joins = append(res.Joins, jr)
	metrics.PointsDroppedTotal.WithLabelValues(jr.Layer).Add(float64(jr.Unmatched))
	points, jr, err = spatialjoin.Assign(points, parlimen, ParlimenTag, policy)
	if err != nil {
		return nil, fmt.Errorf("join parlimen: %w", err)
	}
	res.Joins = append(res.Joins, jr)
	metrics.PointsDroppedTotal.WithLabelValues(jr.Layer).Add(float64(jr.Unmatched))
	if len(points) == 0 {
		return nil, errs.Invalid("pipeline", "no raster points fall inside the study region")
	}
	if res.Crosswalk, res.CrosswalkReport, err = spatialjoin.Crosswalk(points, ParlimenTag, DistrictTag, policy); err != nil {
		return nil, fmt.Errorf("crosswalk: %w", err)
	}
	metrics.ObserveStage("join", start, len(points))
	l.Info("join_done", "points", len(points), "ambiguous_district", res.Joins[0].Ambiguous,
		"ambiguous_parlimen", res.Joins[1].Ambiguous, "split_parlimen", res.CrosswalkReport.Split)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	if err := estimate(cfg, d, points, res); err != nil {
		return nil, err
	}
	metrics.ObserveStage("estimate", start, len(points))

	start = time.Now()
	src := make([]geo.Point, len(points))
	for i := range points {
		src[i] = points[i].Point
	}
	matches, err := nearest.MatchNearest(ctx, src, d.Providers, nearest.Options{Workers: cfg.Workers, Strategy: nearest.ParseStrategy(cfg.Strategy)})
	if err != nil {
		return nil, fmt.Errorf("match providers: %w", err)
	}
	if err := nearest.Attach(len(points), matches, func(i int, id string, km float64) {
		points[i].SetTag(TagProvider, id)
		points[i].SetAttr(AttrDistance, km)
	}); err != nil {
		return nil, err
	}
	metrics.ObserveStage("match", start, len(points))
	l.Info("match_done", "points", len(points), "providers", len(d.Providers))

	start = time.Now()
	if err := report(ctx, cfg, d, points, districts, parlimen, res); err != nil {
		return nil, err
	}
	metrics.ObserveStage("ann", start, len(points))

	res.Points = points
	res.Providers = append([]nearest.Provider(nil), d.Providers...)
	res.Names = make(map[string]string, len(d.Districts)+len(d.Parlimen))
	for _, a := range d.Districts {
		res.Names[a.Code] = a.Name
	}
	for _, a := range d.Parlimen {
		res.Names[a.Code] = a.Name
	}
	res.Categories, res.Gender = profile(d.Registrations, points)
	res.FinishedAt = time.Now().UTC()
	l.Info("run_done", "run", res.RunID, "points", len(points), "ann", res.Overall.ANN.ANN,
		"z", res.Overall.ANN.ZScore, "elapsed_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds())
	return res, nil
}

// estimate：STR 计数面插值（必选）与两段式估计（有人口表时）
func estimate(cfg *config.Config, d *Data, points []areal.GridPoint, res *Result) error {
	l := logger.For("pipeline")
	counts, err := ingest.CountBy(d.Registrations, cfg.CountMethod)
	if err != nil {
		return err
	}
	zones := map[string]bool{}
	for i := range points {
		zones[points[i].Tags[ParlimenTag]] = true
	}
	if study := cfg.StudyParlimen(); len(study) > 0 {
		keep := toSet(study)
		for z := range zones {
			if !keep[z] {
				delete(zones, z)
			}
		}
	}
	// 研究区外选区的计数不参与插值
	counts = ingest.Restrict(counts, zones)
	rep, err := areal.Disaggregate(points, counts, areal.Spec{
		GroupTag: ParlimenTag, TargetAttr: AttrEstimated, OnEmptyZone: areal.ParseEmptyZonePolicy(cfg.EmptyZone),
	})
	if err != nil {
		return fmt.Errorf("disaggregate: %w", err)
	}
	res.Estimate = rep
	for z, c := range rep.Dropped {
		res.Warnings = append(res.Warnings, fmt.Sprintf("estimate: zone %s has no raster mass, %.0f dropped", z, c))
	}
	l.Info("estimate_done", "zones", rep.Zones, "placed", rep.Placed, "dropped", len(rep.Dropped), "unmatched", len(rep.Unmatched))

	if err := estimateCategories(cfg, d, points, zones, res); err != nil {
		return err
	}

	if d.Population == nil {
		return nil
	}
	ratios, err := areal.Ratio(counts, ingest.Restrict(d.Population, zones))
	if err != nil {
		return fmt.Errorf("str ratio: %w", err)
	}
	rr, err := areal.ApplyRatio(points, ratios, areal.RatioSpec{GroupTag: ParlimenTag, BaseAttr: AttrPopulation, RatioAttr: AttrRatio, TargetAttr: AttrRatioSTR})
	if err != nil {
		return fmt.Errorf("apply ratio: %w", err)
	}
	res.RatioEstimate = &rr
	l.Info("ratio_done", "zones", rr.Zones, "placed", rr.Placed, "unmatched", len(rr.Unmatched))
	return nil
}

// estimateCategories：按类别分别插值，每个类别写入 estimated_<类别> 列
func estimateCategories(cfg *config.Config, d *Data, points []areal.GridPoint, zones map[string]bool, res *Result) error {
	cats := cfg.EstimateCategories()
	if len(cats) == 0 {
		return nil
	}
	res.CategoryEstimates = make(map[string]areal.Report, len(cats))
	seen := map[string]bool{}
	for _, cat := range cats {
		attr := CategoryAttr(cat)
		if seen[attr] {
			continue
		}
		seen[attr] = true
		counts, err := ingest.CountBy(ingest.OfCategory(d.Registrations, cat), cfg.CountMethod)
		if err != nil {
			return err
		}
		rep, err := areal.Disaggregate(points, ingest.Restrict(counts, zones), areal.Spec{
			GroupTag: ParlimenTag, TargetAttr: attr, OnEmptyZone: areal.ParseEmptyZonePolicy(cfg.EmptyZone),
		})
		if err != nil {
			return fmt.Errorf("disaggregate %s: %w", cat, err)
		}
		for z, c := range rep.Dropped {
			res.Warnings = append(res.Warnings, fmt.Sprintf("estimate %s: zone %s has no raster mass, %.0f dropped", cat, z, c))
		}
		res.CategoryEstimates[cat] = rep
		logger.For("pipeline").Info("category_estimate_done", "category", cat, "placed", rep.Placed)
	}
	return nil
}

// report：整体 + 逐行政区 + 逐选区的 ANN 报告
func report(ctx context.Context, cfg *config.Config, d *Data, points []areal.GridPoint, districts, parlimen *spatialjoin.Layer, res *Result) error {
	obsFor := func(tag string, layer *spatialjoin.Layer) []ann.Observation {
		obs := make([]ann.Observation, len(points))
		for i := range points {
			p := &points[i]
			code := p.Tags[tag]
			var area float64
			if a, ok := layer.Area(code); ok {
				area = a.AreaKm2
			}
			obs[i] = ann.Observation{
				Weight: p.Attrs[AttrEstimated], DistanceKm: p.Attrs[AttrDistance],
				RegionKey: code, RegionAreaKm2: area, ProviderID: p.Tags[TagProvider],
			}
		}
		return obs
	}
	byDistrict := obsFor(DistrictTag, districts)
	overall, err := ann.Describe("study_region", byDistrict)
	if err != nil {
		return fmt.Errorf("ann: %w", err)
	}
	provCount := providersPerDistrict(d.Providers, districts)
	for _, n := range provCount {
		overall.Providers += n
	}
	res.Overall = overall

	key := func(tag string) func(i int) string {
		return func(i int) string { return points[i].Tags[tag] }
	}
	if res.Districts, err = ann.ByGroup(ctx, byDistrict, key(DistrictTag), cfg.Workers); err != nil {
		return err
	}
	for i := range res.Districts {
		res.Districts[i].Report.Providers = provCount[res.Districts[i].Key]
	}
	if res.Parlimen, err = ann.ByGroup(ctx, obsFor(ParlimenTag, parlimen), key(ParlimenTag), cfg.Workers); err != nil {
		return err
	}
	for _, g := range append(append([]ann.GroupReport(nil), res.Districts...), res.Parlimen...) {
		if g.Err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("ann: %s: %v", g.Key, g.Err))
		}
	}
	return nil
}

// providersPerDistrict：名册带行政区编码时直接使用，否则按坐标定位
func providersPerDistrict(ps []nearest.Provider, layer *spatialjoin.Layer) map[string]int {
	out := map[string]int{}
	for _, p := range ps {
		code := p.AreaCode
		if code == "" {
			if hits := layer.Locate(p.Point); len(hits) > 0 {
				code = layer.Areas[hits[0]].Code
			}
		}
		if _, ok := layer.Area(code); ok {
			out[code]++
		}
	}
	return out
}

// profile：研究区内登记户的类别与性别分布
func profile(regs []ingest.Registration, points []areal.GridPoint) ([]ingest.Share, []ingest.Share) {
	zones := map[string]bool{}
	for i := range points {
		zones[points[i].Tags[ParlimenTag]] = true
	}
	var in []ingest.Registration
	seen := map[string]bool{}
	var cats []string
	for _, r := range regs {
		if !zones[r.Parlimen] {
			continue
		}
		in = append(in, r)
		if !seen[r.Beneficiary.ID] {
			seen[r.Beneficiary.ID] = true
			cats = append(cats, r.Category)
		}
	}
	if len(in) == 0 {
		return nil, nil
	}
	return ingest.PivotWithPercentage(cats), ingest.GenderDistribution(in)
}

func clonePoints(src []areal.GridPoint) []areal.GridPoint {
	out := make([]areal.GridPoint, len(src))
	for i, p := range src {
		q := areal.GridPoint{Point: p.Point, Z: p.Z, Attrs: make(map[string]float64, len(p.Attrs)+6), Tags: make(map[string]string, len(p.Tags)+3)}
		for k, v := range p.Attrs {
			q.Attrs[k] = v
		}
		for k, v := range p.Tags {
			q.Tags[k] = v
		}
		out[i] = q
	}
	return out
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
