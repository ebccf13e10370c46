package ann

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"str-access/internal/errs"
)

// Observation：一个栅格点对 ANN 的贡献
// Weight 为估计 STR 人数；DistanceKm 为到最近服务点的距离；RegionKey/RegionAreaKm2 为所在区域及面积。
type Observation struct {
	Weight        float64
	DistanceKm    float64
	RegionKey     string
	RegionAreaKm2 float64
	ProviderID    string
}

// Result：加权平均最近邻统计
type Result struct {
	Do      float64 `json:"observed_mean_km"`
	De      float64 `json:"expected_mean_km"`
	ANN     float64 `json:"ann"`
	SE      float64 `json:"standard_error"`
	ZScore  float64 `json:"z_score"`
	PValue  float64 `json:"p_value"`
	N       float64 `json:"n"`
	AreaKm2 float64 `json:"area_km2"`
}

// 随机分布下平均最近邻距离标准误系数
const seCoefficient = 0.26136

// 文档注释：加权 ANN（Clark-Evans 最近邻指数）
// 背景：衡量估计人口与最近服务点之间的距离相对完全随机分布时的离散程度。
// 公式：
// - n = Σw；area = 各不同区域面积之和（同一区域只计一次）；
// - do = Σ(w·d)/Σw；de = 0.5/√(n/area)；ANN = do/de；
// - se = 0.26136/√(n²/area)；z = (do−de)/se；p = 1−Φ(|z|)（单侧）。
// 约束：n 或 area 为 0、权重/距离/面积为负或非有限值、同一区域面积不一致时返回 InvalidInputError。
func Compute(obs []Observation) (Result, error) {
	const op = "ann"
	var n, wd float64
	areas := make(map[string]float64)
	for i, o := range obs {
		if !finiteNonNeg(o.Weight) || !finiteNonNeg(o.DistanceKm) || !finiteNonNeg(o.RegionAreaKm2) {
			return Result{}, errs.Invalid(op, "observation %d has negative or non-finite values", i)
		}
		if a, ok := areas[o.RegionKey]; ok && a != o.RegionAreaKm2 {
			return Result{}, errs.Invalid(op, "region %q has conflicting areas %v and %v", o.RegionKey, a, o.RegionAreaKm2)
		}
		areas[o.RegionKey] = o.RegionAreaKm2
		n += o.Weight
		wd += o.Weight * o.DistanceKm
	}
	// 按区域编码顺序求和，保证重复运行结果逐位一致
	keys := make([]string, 0, len(areas))
	for k := range areas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var area float64
	for _, k := range keys {
		area += areas[k]
	}
	if n == 0 {
		return Result{}, errs.Invalid(op, "total weight is zero")
	}
	if area == 0 {
		return Result{}, errs.Invalid(op, "total area is zero")
	}
	do := wd / n
	de := 0.5 / math.Sqrt(n/area)
	se := seCoefficient / math.Sqrt(n*n/area)
	z := (do - de) / se
	return Result{
		Do:      do,
		De:      de,
		ANN:     do / de,
		SE:      se,
		ZScore:  z,
		PValue:  distuv.UnitNormal.Survival(math.Abs(z)),
		N:       n,
		AreaKm2: area,
	}, nil
}

func finiteNonNeg(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
