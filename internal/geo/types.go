package geo

// 文档注释：空间分析的最小数据结构
// 背景：统一承载栅格点、诊所坐标与行政/选区多边形；保持值类型以便在并行计算中只读共享。
// 约束：几何仅支持 GeoJSON 的 Polygon/MultiPolygon；每个 Polygon 以环列表表达，第一环为外环，其余为洞。

// Point：WGS84 经纬度（十进制度），不可变值类型
type Point struct {
	Lat float64
	Lon float64
}

// DistanceKm：到 q 的大圆距离（千米）
func (p Point) DistanceKm(q Point) float64 { return Haversine(p.Lat, p.Lon, q.Lat, q.Lon) }

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]Point
	BBox  [4]float64 // minLon, minLat, maxLon, maxLat
}

// Area：一个行政区或选区
// 约束：Code 在同一图层内唯一；AreaKm2 为等积投影下的面积，加载时计算一次。
type Area struct {
	Code    string
	Name    string
	Parent  string
	Polys   []Polygon
	AreaKm2 float64
}

// NewPolygon：由环构建多边形并计算包围盒
func NewPolygon(rings [][]Point) Polygon {
	p := Polygon{Rings: rings}
	p.BBox = computeBBox(p)
	return p
}

// Contains：点是否落在区域任一多边形内（包围盒预筛 + 射线法）
func (a *Area) Contains(pt Point) bool {
	for i := range a.Polys {
		if inBBox(pt, a.Polys[i].BBox) && pointInPoly(pt, a.Polys[i]) {
			return true
		}
	}
	return false
}

// BBox：区域整体包围盒
func (a *Area) BBox() [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, p := range a.Polys {
		if p.BBox[0] < b[0] {
			b[0] = p.BBox[0]
		}
		if p.BBox[1] < b[1] {
			b[1] = p.BBox[1]
		}
		if p.BBox[2] > b[2] {
			b[2] = p.BBox[2]
		}
		if p.BBox[3] > b[3] {
			b[3] = p.BBox[3]
		}
	}
	return b
}

func computeBBox(p Polygon) [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, r := range p.Rings {
		for _, pt := range r {
			if pt.Lon < b[0] {
				b[0] = pt.Lon
			}
			if pt.Lat < b[1] {
				b[1] = pt.Lat
			}
			if pt.Lon > b[2] {
				b[2] = pt.Lon
			}
			if pt.Lat > b[3] {
				b[3] = pt.Lat
			}
		}
	}
	return b
}
