package ingest

import (
	"sort"
	"strings"

	"str-access/internal/areal"
	"str-access/internal/geo"
	"str-access/internal/logger"
)

// Filter：统计表维度过滤
// Dims 为 列名 → 取值（如 sex=both, age=overall, ethnicity=overall）；Date 比较前 10 个字符（YYYY-MM-DD），为空不过滤。
// Scale 为数值缩放（人口表以千人计时为 1000），0 视为 1。
type Filter struct {
	KeyCol   string
	ValueCol string
	Date     string
	DateCol  string
	Dims     map[string]string
	Scale    float64
}

// CountStats：统计表读取统计
type CountStats struct {
	Rows     int
	Matched  int
	Invalid  int
	Keys     int
	DateSeen []string
}

// 文档注释：读取长表格式的统计数据（DOSM 人口等），过滤维度后按键求和
// 背景：原始表按 date/sex/age/ethnicity 展开，只有一个组合代表总人口；不过滤会重复计数。
// 约束：缺少 KeyCol/ValueCol/DateCol/维度列返回 InvalidInputError；数值无法解析的行计入 Invalid 并跳过。
func ReadCounts(path string, f Filter) (areal.CountTable, CountStats, error) {
	const op = "read_counts"
	out := areal.CountTable{}
	var st CountStats
	dates := map[string]bool{}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	dateCol := f.DateCol
	if dateCol == "" {
		dateCol = "date"
	}
	dimCols := make([]string, 0, len(f.Dims))
	for c := range f.Dims {
		dimCols = append(dimCols, c)
	}
	sort.Strings(dimCols)

	var keyIdx, valIdx, dateIdx int
	var dimIdx []int
	started := false
	err := readCSVFile(path, func(h header, row []string) error {
		if !started {
			idx, err := h.require(op, f.KeyCol, f.ValueCol)
			if err != nil {
				return err
			}
			keyIdx, valIdx = idx[0], idx[1]
			dateIdx = -1
			if f.Date != "" {
				d, err := h.require(op, dateCol)
				if err != nil {
					return err
				}
				dateIdx = d[0]
			}
			if dimIdx, err = h.require(op, dimCols...); err != nil {
				return err
			}
			started = true
		}
		st.Rows++
		for k, c := range dimCols {
			if !strings.EqualFold(cell(row, dimIdx[k]), f.Dims[c]) {
				return nil
			}
		}
		if dateIdx >= 0 {
			d := cell(row, dateIdx)
			if len(d) > 10 {
				d = d[:10]
			}
			dates[d] = true
			if d != f.Date {
				return nil
			}
		}
		v, ok := parseFloat(cell(row, valIdx))
		key := cell(row, keyIdx)
		if !ok || key == "" {
			st.Invalid++
			return nil
		}
		st.Matched++
		out[key] += v * scale
		return nil
	})
	if err != nil {
		return nil, st, err
	}
	st.Keys = len(out)
	for d := range dates {
		st.DateSeen = append(st.DateSeen, d)
	}
	sort.Strings(st.DateSeen)
	logger.L().Info("counts_loaded", "path", path, "rows", st.Rows, "matched", st.Matched, "keys", st.Keys, "invalid", st.Invalid)
	return out, st, nil
}

// 文档注释：把以区域名称为键的计数映射为区域编码
// 背景：DOSM 选区人口以名称（如 "P.001 Padang Besar"）发布，边界图层以编码关联。
// 约束：名称先经 fixes 修正再与图层名称精确匹配；未能匹配的名称按字母序返回。
func RekeyByName(counts areal.CountTable, areas []geo.Area, fixes map[string]string) (areal.CountTable, []string) {
	byName := make(map[string]string, len(areas))
	for _, a := range areas {
		byName[a.Name] = a.Code
	}
	out := make(areal.CountTable, len(counts))
	var missing []string
	for name, v := range counts {
		n := name
		if fixed, ok := fixes[n]; ok {
			n = fixed
		}
		code, ok := byName[n]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[code] += v
	}
	sort.Strings(missing)
	return out, missing
}

// Restrict：只保留 keep 中出现的键
func Restrict(counts areal.CountTable, keep map[string]bool) areal.CountTable {
	out := make(areal.CountTable, len(keep))
	for k, v := range counts {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}
