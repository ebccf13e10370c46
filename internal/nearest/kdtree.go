package nearest

import (
	"math"

	"str-access/internal/geo"
)

// 文档注释：KD-Tree 最近邻（二维经纬）
// 背景：参考点（诊所）数量远小于栅格点，建树一次后对每个栅格点查询最近诊所，替代 O(n·m) 遍历。
// 约束：按经度优先/纬度交替分割；剪枝使用球面距离的严格下界，距离相等时取输入序号更小者，
// 因此结果与暴力遍历逐项一致。要求参考点与查询点的经度跨度不超过 180°（调用方检查）。
// 剪枝容差（千米），约 1mm
const pruneSlackKm = 1e-6

type kdNode struct {
	idx int
	ax  int // 0:lon,1:lat
	l   *kdNode
	r   *kdNode
}

type kdTree struct {
	root *kdNode
	refs []Provider
}

func buildKD(refs []Provider) *kdTree {
	ids := make([]int, len(refs))
	for i := range ids {
		ids[i] = i
	}
	t := &kdTree{refs: refs}
	t.root = t.build(ids, 0)
	return t
}

func (t *kdTree) build(ids []int, depth int) *kdNode {
	if len(ids) == 0 {
		return nil
	}
	ax := depth % 2
	// 选择中位数分割
	mid := len(ids) / 2
	t.selectNth(ids, mid, ax)
	node := &kdNode{idx: ids[mid], ax: ax}
	node.l = t.build(ids[:mid], depth+1)
	node.r = t.build(ids[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择（轴为经度/纬度）
func (t *kdTree) selectNth(a []int, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := t.partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func (t *kdTree) partition(a []int, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if t.key(a[j], ax) < t.key(pv, ax) {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func (t *kdTree) key(i, ax int) float64 {
	if ax == 0 {
		return t.refs[i].Point.Lon
	}
	return t.refs[i].Point.Lat
}

// 最近邻查询，返回参考点序号与距离（千米）
func (t *kdTree) nearest(pt geo.Point) (int, float64) {
	best := -1
	bestD := math.Inf(1)
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		d := pt.DistanceKm(t.refs[n.idx].Point)
		if d < bestD || (d == bestD && n.idx < best) {
			bestD = d
			best = n.idx
		}
		var key float64
		if n.ax == 0 {
			key = pt.Lon
		} else {
			key = pt.Lat
		}
		q := t.key(n.idx, n.ax)
		first, second := n.l, n.r
		if key > q {
			first, second = n.r, n.l
		}
		dfs(first)
		// 仅当分割平面到查询点的距离下界不超过当前最优距离时才遍历另一侧；
		// 容差需高于 haversine 的舍入误差，否则同址的更小序号服务点会被剪掉
		if planeLowerBound(pt, n.ax, math.Abs(key-q)) <= bestD+pruneSlackKm {
			dfs(second)
		}
	}
	dfs(t.root)
	return best, bestD
}

// planeLowerBound：查询点到分割面另一侧任意点的球面距离下界（千米）
// 纬度轴：大圆距离不小于纬度差；经度轴：到经线的最短距离为 asin(cosφ·sinΔλ)，Δλ>90° 时不剪枝。
func planeLowerBound(pt geo.Point, ax int, deltaDeg float64) float64 {
	delta := deltaDeg * math.Pi / 180
	if ax == 1 {
		return geo.EarthRadiusKm * delta
	}
	if delta >= math.Pi/2 {
		return 0
	}
	return geo.EarthRadiusKm * math.Asin(math.Cos(pt.Lat*math.Pi/180)*math.Sin(delta))
}
