package ann

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Summary：距离分布的描述统计（四分位数与 pandas 默认的线性插值一致）
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	IQR    float64 `json:"iqr"`
	Max    float64 `json:"max"`
}

// Shape：偏度与超额峰度；样本少于 4 个时不计算
type Shape struct {
	Skew       float64 `json:"skew"`
	ExKurtosis float64 `json:"excess_kurtosis"`
}

// Correlation：人口权重与距离的 Spearman 秩相关
type Correlation struct {
	Rho    float64 `json:"rho"`
	PValue float64 `json:"p_value"`
}

// Report：一个区域（或全研究区）的距离分析报告
type Report struct {
	Label            string       `json:"label"`
	Distance         Summary      `json:"distance"`
	Shape            *Shape       `json:"shape,omitempty"`
	Spearman         *Correlation `json:"spearman,omitempty"`
	WeightTotal      float64      `json:"weight_total"`
	MatchedProviders int          `json:"matched_providers"`
	Providers        int          `json:"providers"`
	ANN              Result       `json:"ann"`
}

// 文档注释：区域距离描述报告
// 背景：按区域输出距离分布、人口-距离相关性与 ANN，供看板逐区展示。
// 约束：ANN 无法计算时返回其错误；Providers 由调用方填写（区域内服务点数量）。
func Describe(label string, obs []Observation) (Report, error) {
	res, err := Compute(obs)
	if err != nil {
		return Report{}, err
	}
	d := make([]float64, len(obs))
	w := make([]float64, len(obs))
	matched := map[string]struct{}{}
	for i, o := range obs {
		d[i] = o.DistanceKm
		w[i] = o.Weight
		if o.ProviderID != "" {
			matched[o.ProviderID] = struct{}{}
		}
	}
	rep := Report{
		Label:            label,
		Distance:         summarize(d),
		WeightTotal:      res.N,
		MatchedProviders: len(matched),
		ANN:              res,
	}
	if len(d) >= 4 {
		rep.Shape = &Shape{Skew: stat.Skew(d, nil), ExKurtosis: stat.ExKurtosis(d, nil)}
		if math.IsNaN(rep.Shape.Skew) || math.IsNaN(rep.Shape.ExKurtosis) {
			rep.Shape = nil
		}
	}
	if c, ok := spearman(w, d); ok {
		rep.Spearman = &c
	}
	return rep, nil
}

func summarize(x []float64) Summary {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	out := Summary{Count: len(s)}
	if len(s) == 0 {
		return out
	}
	out.Mean = stat.Mean(s, nil)
	if len(s) > 1 {
		out.Std = stat.StdDev(s, nil)
	}
	out.Min = s[0]
	out.Max = s[len(s)-1]
	out.Q1 = quantile(0.25, s)
	out.Median = quantile(0.5, s)
	out.Q3 = quantile(0.75, s)
	out.IQR = out.Q3 - out.Q1
	return out
}

// quantile：pandas 默认的线性插值分位数 x[(n-1)p]
// gonum 的 LinInterp 以 n·p 定位，与 pandas 结果不同。
func quantile(p float64, sorted []float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// spearman：秩（并列取平均秩）的 Pearson 相关；双侧 p 值采用 t 近似
func spearman(x, y []float64) (Correlation, bool) {
	n := len(x)
	if n < 3 {
		return Correlation{}, false
	}
	rho := stat.Correlation(ranks(x), ranks(y), nil)
	if math.IsNaN(rho) {
		// 某一列为常数
		return Correlation{}, false
	}
	if math.Abs(rho) >= 1 {
		return Correlation{Rho: math.Copysign(1, rho), PValue: 0}, true
	}
	df := float64(n - 2)
	t := rho * math.Sqrt(df/(1-rho*rho))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return Correlation{Rho: rho, PValue: 2 * dist.Survival(math.Abs(t))}, true
}

func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	r := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			r[idx[k]] = avg
		}
		i = j + 1
	}
	return r
}
