package areal

import (
	"math"
	"sort"

	"str-access/internal/errs"
)

// 文档注释：面插值（dasymetric 分解）
// 背景：粗粒度区域（行政区、选区）的计数按栅格辅助权重分配到落在区域内的各点：
// est = C[g] · w / Σ_{g} w。同一算法服务"人口按行政区"与"STR 户数按选区"两处。
// 约束：
// - 每个区域的估计值之和等于 C[g]（浮点容差内），区域内估计值与权重成正比；
// - 区域总权重为 0 且计数非 0 时按 OnEmptyZone 处理，绝不产生 NaN/Inf；
// - 没有计数记录的区域得到 0，并在 Report.Unmatched 中列出；
// - 校验全部通过后才写入派生列，失败时不留下部分结果。
func Disaggregate(points []GridPoint, counts CountTable, spec Spec) (Report, error) {
	const op = "disaggregate"
	if spec.GroupTag == "" || spec.TargetAttr == "" {
		return Report{}, errs.Invalid(op, "group tag and target attribute are required")
	}
	totals := make(map[string]float64)
	weights := make([]float64, len(points))
	for i := range points {
		p := &points[i]
		g, ok := p.Tags[spec.GroupTag]
		if !ok || g == "" {
			return Report{}, errs.Invalid(op, "point %d has no %q tag", i, spec.GroupTag)
		}
		w, ok := p.Weight(spec.WeightAttr)
		if !ok {
			return Report{}, errs.Invalid(op, "point %d has no %q attribute", i, spec.WeightAttr)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return Report{}, errs.Invalid(op, "point %d has invalid weight %v", i, w)
		}
		if _, dup := p.Attrs[spec.TargetAttr]; dup {
			return Report{}, errs.Invalid(op, "attribute %q already set on point %d", spec.TargetAttr, i)
		}
		weights[i] = w
		totals[g] += w
	}

	rep := Report{Zones: len(totals), Dropped: map[string]float64{}}
	var empty []string
	var emptyCount float64
	for g, c := range counts {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Report{}, errs.Invalid(op, "count for zone %q is %v", g, c)
		}
		if c == 0 || totals[g] > 0 {
			continue
		}
		// 计数非零但区域内没有任何权重（含区域内无点）
		if spec.OnEmptyZone == EmptyZoneDrop {
			rep.Dropped[g] = c
			continue
		}
		empty = append(empty, g)
		emptyCount += c
	}
	if len(empty) > 0 {
		sort.Strings(empty)
		return Report{}, &errs.DisaggregationError{Zones: empty, Count: emptyCount}
	}
	for g := range totals {
		if _, ok := counts[g]; !ok {
			rep.Unmatched = append(rep.Unmatched, g)
		}
	}
	sort.Strings(rep.Unmatched)

	for i := range points {
		p := &points[i]
		g := p.Tags[spec.GroupTag]
		c, ok := counts[g]
		est := 0.0
		if ok && totals[g] > 0 {
			est = c * weights[i] / totals[g]
		}
		p.SetAttr(spec.TargetAttr, est)
		rep.Placed += est
	}
	return rep, nil
}
