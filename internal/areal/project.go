package areal

import (
	"math"
	"sort"

	"str-access/internal/errs"
)

const (
	// 2020 年全国人口普查总数
	DefaultNationalTotal = 32447100.0
	// 2020→2022 年人口增长系数
	DefaultGrowthRate = 1.0287
)

// ProjectSpec：栅格人口投影参数
type ProjectSpec struct {
	NationalTotal float64
	GrowthRate    float64
	TargetAttr    string
}

func DefaultProjectSpec() ProjectSpec {
	return ProjectSpec{NationalTotal: DefaultNationalTotal, GrowthRate: DefaultGrowthRate, TargetAttr: "ascii_population"}
}

// 文档注释：栅格人口投影
// 背景：WorldPop 栅格值只代表相对密度，按全国总数与增长系数缩放为人数：
// target = Z · NationalTotal / ΣZ · GrowthRate。
// 约束：ΣZ 必须为正；任一 Z 为负或非有限值时报错。
func Project(points []GridPoint, spec ProjectSpec) error {
	const op = "project_population"
	if spec.TargetAttr == "" || spec.NationalTotal <= 0 || spec.GrowthRate <= 0 {
		return errs.Invalid(op, "target attribute, national total and growth rate are required")
	}
	var sum float64
	for i := range points {
		z := points[i].Z
		if z < 0 || math.IsNaN(z) || math.IsInf(z, 0) {
			return errs.Invalid(op, "point %d has invalid raster value %v", i, z)
		}
		if _, dup := points[i].Attrs[spec.TargetAttr]; dup {
			return errs.Invalid(op, "attribute %q already set on point %d", spec.TargetAttr, i)
		}
		sum += z
	}
	if sum == 0 {
		return errs.Invalid(op, "raster total is zero")
	}
	scale := spec.NationalTotal / sum * spec.GrowthRate
	for i := range points {
		points[i].SetAttr(spec.TargetAttr, points[i].Z*scale)
	}
	return nil
}

// Ratio：numer[k]/denom[k]；分母缺失或为 0 时返回 DisaggregationError
func Ratio(numer, denom CountTable) (CountTable, error) {
	out := make(CountTable, len(numer))
	var bad []string
	var badCount float64
	for k, n := range numer {
		d, ok := denom[k]
		if !ok || d == 0 || math.IsNaN(d) {
			bad = append(bad, k)
			badCount += n
			continue
		}
		out[k] = n / d
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, &errs.DisaggregationError{Zones: bad, Count: badCount}
	}
	return out, nil
}

// RatioSpec：两段式估计参数
type RatioSpec struct {
	GroupTag   string
	BaseAttr   string
	RatioAttr  string
	TargetAttr string
}

func DefaultRatioSpec(groupTag string) RatioSpec {
	return RatioSpec{GroupTag: groupTag, BaseAttr: "ascii_population", RatioAttr: "str_percentage", TargetAttr: "str_ascii"}
}

// 文档注释：两段式 STR 估计
// 背景：先在选区层面求 STR 人数占官方人口比例，再乘以每个栅格点的投影人口。
// 约束：无比例记录的选区内点得到 0 并在 Report.Unmatched 列出；RatioAttr 为空时不写比例列。
func ApplyRatio(points []GridPoint, ratios CountTable, spec RatioSpec) (Report, error) {
	const op = "apply_ratio"
	if spec.GroupTag == "" || spec.BaseAttr == "" || spec.TargetAttr == "" {
		return Report{}, errs.Invalid(op, "group tag, base and target attributes are required")
	}
	seen := map[string]bool{}
	for i := range points {
		p := &points[i]
		g, ok := p.Tags[spec.GroupTag]
		if !ok || g == "" {
			return Report{}, errs.Invalid(op, "point %d has no %q tag", i, spec.GroupTag)
		}
		if _, ok := p.Attrs[spec.BaseAttr]; !ok {
			return Report{}, errs.Invalid(op, "point %d has no %q attribute", i, spec.BaseAttr)
		}
		for _, a := range []string{spec.RatioAttr, spec.TargetAttr} {
			if _, dup := p.Attrs[a]; dup && a != "" {
				return Report{}, errs.Invalid(op, "attribute %q already set on point %d", a, i)
			}
		}
		seen[g] = true
	}
	rep := Report{Zones: len(seen), Dropped: map[string]float64{}}
	for g := range seen {
		if _, ok := ratios[g]; !ok {
			rep.Unmatched = append(rep.Unmatched, g)
		}
	}
	sort.Strings(rep.Unmatched)
	for i := range points {
		p := &points[i]
		r := ratios[p.Tags[spec.GroupTag]]
		if spec.RatioAttr != "" {
			p.SetAttr(spec.RatioAttr, r)
		}
		v := p.Attrs[spec.BaseAttr] * r
		p.SetAttr(spec.TargetAttr, v)
		rep.Placed += v
	}
	return rep, nil
}
