package ingest

import (
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"str-access/internal/errs"
	"str-access/internal/geo"
	"str-access/internal/logger"
)

// LayerSpec：GeoJSON 属性字段映射
// NameFixes 用于修正区域名称（如 "Sp Selatan" → "Seberang Perai Selatan"）。
type LayerSpec struct {
	CodeKey   string
	NameKey   string
	ParentKey string
	NameFixes map[string]string
}

// 文档注释：读取 GeoJSON 多边形图层
// 背景：行政区与选区边界以 FeatureCollection 提供；加载时计算等积面积，供 ANN 使用。
// 约束：
// - 仅接受 Polygon/MultiPolygon，其它几何跳过并计数；
// - 缺少编码属性或编码重复返回 InvalidInputError；
// - 数值型编码按十进制文本保存（如 14 → "14"）。
func ReadLayer(data []byte, spec LayerSpec) ([]geo.Area, error) {
	const op = "read_layer"
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	seen := map[string]bool{}
	var out []geo.Area
	for i, f := range fc.Features {
		code := propString(f.Properties, spec.CodeKey)
		if code == "" {
			return nil, errs.Invalid(op, "feature %d has no %q property", i, spec.CodeKey)
		}
		if seen[code] {
			return nil, errs.Invalid(op, "duplicate area code %q", code)
		}
		seen[code] = true
		polys := toPolygons(f.Geometry)
		if len(polys) == 0 {
			logger.L().Warn("layer_feature_skipped", "code", code, "geometry", geometryType(f.Geometry))
			continue
		}
		name := propString(f.Properties, spec.NameKey)
		if fixed, ok := spec.NameFixes[name]; ok {
			name = fixed
		}
		a := geo.Area{
			Code:   code,
			Name:   name,
			Parent: propString(f.Properties, spec.ParentKey),
			Polys:  polys,
		}
		a.AreaKm2 = geo.PolygonAreaKm2(a.Polys)
		out = append(out, a)
	}
	return out, nil
}

// ReadLayerFile：按路径读取图层
func ReadLayerFile(path string, spec LayerSpec) ([]geo.Area, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	areas, err := ReadLayer(b, spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.L().Info("layer_loaded", "path", path, "areas", len(areas))
	return areas, nil
}

func propString(p geojson.Properties, key string) string {
	if key == "" || p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toPolygons(g orb.Geometry) []geo.Polygon {
	switch t := g.(type) {
	case orb.Polygon:
		return []geo.Polygon{toPolygon(t)}
	case orb.MultiPolygon:
		out := make([]geo.Polygon, 0, len(t))
		for _, p := range t {
			out = append(out, toPolygon(p))
		}
		return out
	default:
		return nil
	}
}

func toPolygon(p orb.Polygon) geo.Polygon {
	rings := make([][]geo.Point, 0, len(p))
	for _, r := range p {
		ring := make([]geo.Point, len(r))
		for i, pt := range r {
			ring[i] = geo.Point{Lat: pt.Lat(), Lon: pt.Lon()}
		}
		rings = append(rings, ring)
	}
	return geo.NewPolygon(rings)
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "null"
	}
	return g.GeoJSONType()
}
