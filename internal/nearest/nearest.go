package nearest

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"str-access/internal/errs"
	"str-access/internal/geo"
)

// Provider：医疗服务点（诊所）
type Provider struct {
	ID       string
	Name     string
	AreaCode string
	Point    geo.Point
}

// Match：单个源点的最近服务点；Ref 为 refs 中的序号
type Match struct {
	Source     int
	Ref        int
	ProviderID string
	DistanceKm float64
}

type Strategy int

const (
	StrategyAuto Strategy = iota
	StrategyBrute
	StrategyKDTree
)

// kd-tree 在参考点较少时没有收益
const autoKDThreshold = 64

func ParseStrategy(s string) Strategy {
	switch s {
	case "brute":
		return StrategyBrute
	case "kdtree":
		return StrategyKDTree
	default:
		return StrategyAuto
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyBrute:
		return "brute"
	case StrategyKDTree:
		return "kdtree"
	default:
		return "auto"
	}
}

type Options struct {
	Workers  int
	Strategy Strategy
}

// 文档注释：为每个源点寻找球面距离最近的服务点
// 背景：栅格点数万级、诊所数百级；源点按块分给 worker，参考集只读共享。
// 约束：
// - refs 为空返回 InvalidInputError；
// - 距离相等时取 refs 中序号最小者，两种策略结果逐项一致；
// - 输出顺序与 src 一致，距离取自匹配步骤本身，不二次计算。
func MatchNearest(ctx context.Context, src []geo.Point, refs []Provider, opts Options) ([]Match, error) {
	if len(refs) == 0 {
		return nil, errs.Invalid("match_nearest", "reference set is empty")
	}
	out := make([]Match, len(src))
	if len(src) == 0 {
		return out, nil
	}
	find := bruteFinder(refs)
	if useKD(opts.Strategy, src, refs) {
		t := buildKD(refs)
		find = t.nearest
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(src) {
		workers = len(src)
	}
	chunk := (len(src) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(src); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(src))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				// 每 1024 个点检查一次取消
				if (i-lo)&1023 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				j, d := find(src[i])
				out[i] = Match{Source: i, Ref: j, ProviderID: refs[j].ID, DistanceKm: d}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func bruteFinder(refs []Provider) func(geo.Point) (int, float64) {
	return func(p geo.Point) (int, float64) {
		best := -1
		bestD := math.Inf(1)
		for j := range refs {
			// 严格小于：并列时保留先出现的序号
			if d := p.DistanceKm(refs[j].Point); d < bestD {
				best, bestD = j, d
			}
		}
		return best, bestD
	}
}

// kd-tree 的经度剪枝要求所有点位于 180° 经度窗口内，否则回退暴力遍历
func useKD(s Strategy, src []geo.Point, refs []Provider) bool {
	switch s {
	case StrategyBrute:
		return false
	case StrategyAuto:
		if len(refs) <= autoKDThreshold {
			return false
		}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range refs {
		lo = math.Min(lo, r.Point.Lon)
		hi = math.Max(hi, r.Point.Lon)
	}
	for _, p := range src {
		lo = math.Min(lo, p.Lon)
		hi = math.Max(hi, p.Lon)
	}
	return hi-lo <= 180
}

// Attach：把匹配结果写入点的属性列；matches 与 setters 按序号一一对应
func Attach(n int, matches []Match, set func(i int, providerID string, distanceKm float64)) error {
	if len(matches) != n {
		return errs.Invalid("attach_nearest", "matches length %d does not equal point count %d", len(matches), n)
	}
	for _, m := range matches {
		set(m.Source, m.ProviderID, m.DistanceKm)
	}
	return nil
}
