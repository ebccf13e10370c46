package areal

import "str-access/internal/geo"

// GridPoint：带权栅格点
// Z 为原始栅格值（人口密度）；Attrs 保存派生列（只追加、不改写）；Tags 保存各图层的区域编码。
type GridPoint struct {
	Point geo.Point
	Z     float64
	Attrs map[string]float64
	Tags  map[string]string
}

func NewGridPoint(lat, lon, z float64) GridPoint {
	return GridPoint{
		Point: geo.Point{Lat: lat, Lon: lon},
		Z:     z,
		Attrs: map[string]float64{},
		Tags:  map[string]string{},
	}
}

// Weight：attr 为空时取 Z
func (g *GridPoint) Weight(attr string) (float64, bool) {
	if attr == "" {
		return g.Z, true
	}
	v, ok := g.Attrs[attr]
	return v, ok
}

func (g *GridPoint) SetAttr(k string, v float64) {
	if g.Attrs == nil {
		g.Attrs = map[string]float64{}
	}
	g.Attrs[k] = v
}

func (g *GridPoint) SetTag(k, v string) {
	if g.Tags == nil {
		g.Tags = map[string]string{}
	}
	g.Tags[k] = v
}

// CountTable：区域编码 → 计数（已按维度过滤）
type CountTable map[string]float64

type EmptyZonePolicy int

const (
	// EmptyZoneFail：零质量区域持有非零计数时报错
	EmptyZoneFail EmptyZonePolicy = iota
	// EmptyZoneDrop：丢弃该计数并在报告中列出
	EmptyZoneDrop
)

func ParseEmptyZonePolicy(s string) EmptyZonePolicy {
	if s == "drop" {
		return EmptyZoneDrop
	}
	return EmptyZoneFail
}

// Spec：一次面插值的参数
type Spec struct {
	GroupTag    string
	WeightAttr  string
	TargetAttr  string
	OnEmptyZone EmptyZonePolicy
}

// Report：插值结果摘要
type Report struct {
	Zones     int                `json:"zones"`
	Placed    float64            `json:"placed"`
	Dropped   map[string]float64 `json:"dropped,omitempty"`
	Unmatched []string           `json:"unmatched,omitempty"`
}
