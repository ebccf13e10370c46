package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// WGS84 椭球参数
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

// 文档注释：多边形面积（km²）
// 背景：先投影到圆柱等积投影（等价于 +proj=cea +ellps=WGS84 +lat_ts=0），再以平面鞋带公式求面积；
// 等积投影保证面积与坐标参考系无关。
// 约束：洞的面积从外环中扣除；跨越 180° 经线的多边形不做拆分。
func PolygonAreaKm2(polys []Polygon) float64 {
	mp := make(orb.MultiPolygon, 0, len(polys))
	for _, p := range polys {
		op := make(orb.Polygon, 0, len(p.Rings))
		for _, r := range p.Rings {
			ring := make(orb.Ring, 0, len(r))
			for _, pt := range r {
				x, y := ceaForward(pt.Lat, pt.Lon)
				ring = append(ring, orb.Point{x, y})
			}
			op = append(op, ring)
		}
		mp = append(mp, op)
	}
	return planar.Area(mp) / 1e6
}

// ceaForward：经纬度（度）到圆柱等积平面坐标（米）
func ceaForward(lat, lon float64) (float64, float64) {
	e2 := wgs84F * (2 - wgs84F)
	e := math.Sqrt(e2)
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	s := math.Sin(phi)
	q := (1 - e2) * (s/(1-e2*s*s) - (1/(2*e))*math.Log((1-e*s)/(1+e*s)))
	return wgs84A * lam, wgs84A * q / 2
}
