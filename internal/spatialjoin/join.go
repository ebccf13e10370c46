package spatialjoin

import (
	"fmt"
	"sort"

	"str-access/internal/areal"
	"str-access/internal/errs"
)

// Policy：一个点/子区域命中多个目标时的处理方式
type Policy int

const (
	// PolicyFirst：保留图层顺序中第一个命中，并计入歧义数
	PolicyFirst Policy = iota
	// PolicyReject：返回 JoinAmbiguityError
	PolicyReject
)

func ParsePolicy(s string) Policy {
	if s == "reject" {
		return PolicyReject
	}
	return PolicyFirst
}

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "first"
}

// JoinReport：一次连接的统计
type JoinReport struct {
	Layer     string   `json:"layer"`
	Total     int      `json:"total"`
	Matched   int      `json:"matched"`
	Unmatched int      `json:"unmatched"`
	Ambiguous int      `json:"ambiguous"`
	Samples   []string `json:"ambiguous_samples,omitempty"`
}

const maxSamples = 10

// 文档注释：点-面内连接
// 背景：为每个栅格点写入所在区域编码（tag）；未落入任何区域的点被丢弃（内连接）。
// 约束：
// - 每个输入点至多输出一行，不会因边界重叠而重复计数；
// - 多个区域同时命中时按 policy 处理；
// - 返回的新切片与输入共享 Attrs/Tags。
func Assign(points []areal.GridPoint, layer *Layer, tag string, policy Policy) ([]areal.GridPoint, JoinReport, error) {
	rep := JoinReport{Layer: layer.Name, Total: len(points)}
	out := make([]areal.GridPoint, 0, len(points))
	for i := range points {
		p := points[i]
		hits := layer.Locate(p.Point)
		switch {
		case len(hits) == 0:
			rep.Unmatched++
			continue
		case len(hits) > 1:
			codes := make([]string, len(hits))
			for k, h := range hits {
				codes[k] = layer.Areas[h].Code
			}
			if policy == PolicyReject {
				return nil, rep, &errs.JoinAmbiguityError{Layer: layer.Name, Subject: pointLabel(i, p), Matches: codes}
			}
			rep.Ambiguous++
			if len(rep.Samples) < maxSamples {
				rep.Samples = append(rep.Samples, pointLabel(i, p))
			}
		}
		p.SetTag(tag, layer.Areas[hits[0]].Code)
		out = append(out, p)
	}
	rep.Matched = len(out)
	return out, rep, nil
}

func pointLabel(i int, p areal.GridPoint) string {
	return fmt.Sprintf("point#%d(%.5f,%.5f)", i, p.Point.Lat, p.Point.Lon)
}

// CrosswalkReport：子区域 → 父区域映射的统计
type CrosswalkReport struct {
	Children int      `json:"children"`
	Split    int      `json:"split"`
	Samples  []string `json:"split_samples,omitempty"`
}

// 文档注释：图层交叉映射（如选区 → 行政区）
// 背景：选区与行政区边界不嵌套，按栅格人口质量（Z）把每个子区域归入质量最大的父区域。
// 约束：
// - 点缺少 childTag 或 parentTag 时返回 InvalidInputError；
// - 子区域跨越多个父区域时：PolicyFirst 取质量最大者（并列取编码较小者）并计数，PolicyReject 报错；
// - 子区域质量全为 0 时按点数计。
func Crosswalk(points []areal.GridPoint, childTag, parentTag string, policy Policy) (map[string]string, CrosswalkReport, error) {
	type acc struct{ mass, count float64 }
	per := map[string]map[string]*acc{}
	for i := range points {
		p := &points[i]
		c, ok1 := p.Tags[childTag]
		par, ok2 := p.Tags[parentTag]
		if !ok1 || !ok2 {
			return nil, CrosswalkReport{}, errs.Invalid("crosswalk", "point %d lacks %q or %q tag", i, childTag, parentTag)
		}
		m := per[c]
		if m == nil {
			m = map[string]*acc{}
			per[c] = m
		}
		a := m[par]
		if a == nil {
			a = &acc{}
			m[par] = a
		}
		a.mass += p.Z
		a.count++
	}

	children := make([]string, 0, len(per))
	for c := range per {
		children = append(children, c)
	}
	sort.Strings(children)

	out := make(map[string]string, len(per))
	rep := CrosswalkReport{Children: len(per)}
	for _, c := range children {
		parents := make([]string, 0, len(per[c]))
		var totalMass float64
		for par, a := range per[c] {
			parents = append(parents, par)
			totalMass += a.mass
		}
		sort.Strings(parents)
		if len(parents) > 1 {
			if policy == PolicyReject {
				return nil, rep, &errs.JoinAmbiguityError{Layer: childTag + "->" + parentTag, Subject: c, Matches: parents}
			}
			rep.Split++
			if len(rep.Samples) < maxSamples {
				rep.Samples = append(rep.Samples, c)
			}
		}
		best := parents[0]
		for _, par := range parents[1:] {
			a, b := per[c][par], per[c][best]
			if totalMass > 0 && a.mass > b.mass || totalMass == 0 && a.count > b.count {
				best = par
			}
		}
		out[c] = best
	}
	return out, rep, nil
}
