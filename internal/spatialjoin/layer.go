package spatialjoin

import (
	"math"

	"str-access/internal/errs"
	"str-access/internal/geo"
)

// 网格桶边长（度）；马来西亚行政区尺度下每桶候选区域通常不超过数个
const cellDeg = 0.25

// 文档注释：多边形图层索引（网格桶候选 → 包围盒 → PIP 精确判定）
// 背景：栅格点十万级、区域百级；先按网格桶缩小候选，再逐个多边形判定。
// 约束：Code 在图层内唯一；Locate 返回的序号按图层原始顺序排列。
type Layer struct {
	Name   string
	Areas  []geo.Area
	byCode map[string]int
	cells  map[[2]int][]int
}

func NewLayer(name string, areas []geo.Area) (*Layer, error) {
	l := &Layer{Name: name, Areas: areas, byCode: make(map[string]int, len(areas)), cells: map[[2]int][]int{}}
	for i := range areas {
		a := &areas[i]
		if a.Code == "" {
			return nil, errs.Invalid("layer_"+name, "area %d has empty code", i)
		}
		if _, dup := l.byCode[a.Code]; dup {
			return nil, errs.Invalid("layer_"+name, "duplicate area code %q", a.Code)
		}
		l.byCode[a.Code] = i
		if len(a.Polys) == 0 {
			continue
		}
		b := a.BBox()
		x0, y0 := cellOf(b[0], b[1])
		x1, y1 := cellOf(b[2], b[3])
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				k := [2]int{x, y}
				l.cells[k] = append(l.cells[k], i)
			}
		}
	}
	return l, nil
}

func cellOf(lon, lat float64) (int, int) {
	return int(math.Floor(lon / cellDeg)), int(math.Floor(lat / cellDeg))
}

// Locate：包含该点的所有区域序号（图层顺序）
func (l *Layer) Locate(p geo.Point) []int {
	var out []int
	for _, i := range l.cells[cellKey(p)] {
		if l.Areas[i].Contains(p) {
			out = append(out, i)
		}
	}
	return out
}

func cellKey(p geo.Point) [2]int {
	x, y := cellOf(p.Lon, p.Lat)
	return [2]int{x, y}
}

// Area：按编码查找区域
func (l *Layer) Area(code string) (*geo.Area, bool) {
	i, ok := l.byCode[code]
	if !ok {
		return nil, false
	}
	return &l.Areas[i], true
}

// Codes：图层内全部编码（图层顺序）
func (l *Layer) Codes() []string {
	out := make([]string, len(l.Areas))
	for i := range l.Areas {
		out[i] = l.Areas[i].Code
	}
	return out
}

// Filter：保留满足条件的区域，返回新图层
func (l *Layer) Filter(keep func(a *geo.Area) bool) (*Layer, error) {
	var areas []geo.Area
	for i := range l.Areas {
		if keep(&l.Areas[i]) {
			areas = append(areas, l.Areas[i])
		}
	}
	return NewLayer(l.Name, areas)
}
