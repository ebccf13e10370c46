package geo

import "math"

// EarthRadiusKm：平均地球半径（固定常数，非椭球）
const EarthRadiusKm = 6371.0

// 文档注释：球面距离（Haversine），返回千米
// 约束：输入为度，不做范围校验；越界值按公式传播而不会 panic。纯函数，相同输入逐位可复现。
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180
	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}
