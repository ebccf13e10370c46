package ingest

import (
	"sort"
	"strconv"
	"strings"

	"str-access/internal/areal"
	"str-access/internal/errs"
	"str-access/internal/logger"
)

// Registration：STR 登记表一行（一户可能因多名受抚养人而出现多行）
type Registration struct {
	ID          string
	Beneficiary Member
	Partner     Member
	Dependent   Member
	Category    string
	State       string
	Parlimen    string
}

// Member：户内成员；ID 为空表示不存在
type Member struct {
	ID  string
	Sex string
	Age int
}

// Person：长表中的个人
type Person struct {
	ID          string
	HouseholdID string
	Role        string
	Sex         string
	Age         int
	Category    string
	State       string
	Parlimen    string
}

var registrationCols = []string{"id", "id_ben", "code_parlimen"}

// 文档注释：读取 STR 登记表（CSV）
// 背景：受益人、配偶、受抚养人以宽表列给出；年龄列可能为小数文本（如 "45.0"）。
// 约束：缺少 id/id_ben/code_parlimen 返回 InvalidInputError；缺少 id_ben 或 code_parlimen 的行跳过。
func ReadRegistrations(path string) ([]Registration, error) {
	var out []Registration
	skipped := 0
	var idx []int
	err := readCSVFile(path, func(h header, row []string) error {
		if idx == nil {
			var err error
			if idx, err = h.require("read_registrations", registrationCols...); err != nil {
				return err
			}
		}
		get := func(col string) string { return cell(row, h.first(col)) }
		r := Registration{
			ID:          cell(row, idx[0]),
			Beneficiary: Member{ID: cell(row, idx[1]), Sex: get("sex_beneficiary"), Age: parseAge(get("ori_ben_age"))},
			Partner:     Member{ID: get("id_partner"), Sex: get("sex_partner"), Age: parseAge(get("age_partner"))},
			Dependent:   Member{ID: get("id_dependent"), Sex: get("sex_dependent"), Age: parseAge(get("age_dependent"))},
			Category:    get("str_category"),
			State:       get("state"),
			Parlimen:    cell(row, idx[2]),
		}
		if r.Beneficiary.ID == "" || r.Parlimen == "" {
			skipped++
			return nil
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.L().Info("registrations_loaded", "path", path, "rows", len(out), "skipped", skipped)
	return out, nil
}

func parseAge(s string) int {
	if s == "" {
		return -1
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return -1
}

// 文档注释：展开为个人长表（受益人 + 配偶 + 受抚养人），按个人编号去重
// 约束：同一个人出现多次时保留首次出现（登记表行序）。
func LongForm(regs []Registration) []Person {
	seen := map[string]bool{}
	var out []Person
	add := func(r Registration, m Member, role string) {
		if m.ID == "" || seen[m.ID] {
			return
		}
		seen[m.ID] = true
		out = append(out, Person{
			ID: m.ID, HouseholdID: r.Beneficiary.ID, Role: role, Sex: m.Sex, Age: m.Age,
			Category: r.Category, State: r.State, Parlimen: r.Parlimen,
		})
	}
	for _, r := range regs {
		add(r, r.Beneficiary, "beneficiary")
	}
	for _, r := range regs {
		add(r, r.Partner, "partner")
	}
	for _, r := range regs {
		add(r, r.Dependent, "dependent")
	}
	return out
}

// OfCategory：筛选 STR 类别（忽略大小写与首尾空白）
func OfCategory(regs []Registration, category string) []Registration {
	want := strings.TrimSpace(category)
	var out []Registration
	for _, r := range regs {
		if strings.EqualFold(strings.TrimSpace(r.Category), want) {
			out = append(out, r)
		}
	}
	return out
}

// CountHouseholds：每个选区的户数（按受益人编号去重）
func CountHouseholds(regs []Registration) areal.CountTable {
	seen := map[string]bool{}
	out := areal.CountTable{}
	for _, r := range regs {
		if seen[r.Beneficiary.ID] {
			continue
		}
		seen[r.Beneficiary.ID] = true
		out[r.Parlimen]++
	}
	return out
}

// CountIndividuals：每个选区的个人数（长表去重后计数）
func CountIndividuals(regs []Registration) areal.CountTable {
	out := areal.CountTable{}
	for _, p := range LongForm(regs) {
		out[p.Parlimen]++
	}
	return out
}

// CountBy：按方法计数；method 为 households 或 individuals
func CountBy(regs []Registration, method string) (areal.CountTable, error) {
	switch method {
	case "households", "":
		return CountHouseholds(regs), nil
	case "individuals", "individual":
		return CountIndividuals(regs), nil
	default:
		return nil, errs.Invalid("count_registrations", "unknown method %q", method)
	}
}

// Share：类别计数与百分比
type Share struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// 文档注释：类别分布（计数 + 占比）
// 约束：按计数降序、同计数按类别名升序输出；空类别记为 "unknown"。
func PivotWithPercentage(values []string) []Share {
	counts := map[string]int{}
	for _, v := range values {
		if v == "" {
			v = "unknown"
		}
		counts[v]++
	}
	out := make([]Share, 0, len(counts))
	for k, c := range counts {
		out = append(out, Share{Category: k, Count: c, Percent: float64(c) / float64(len(values)) * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

var sexNames = map[string]string{"LELAKI": "male", "PEREMPUAN": "female"}

// GenderDistribution：受益人与配偶的性别分布（各自去重，马来语取值转换为英文）
func GenderDistribution(regs []Registration) []Share {
	seen := map[string]bool{}
	var sexes []string
	for _, r := range regs {
		for _, m := range []Member{r.Beneficiary, r.Partner} {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			s := strings.ToUpper(m.Sex)
			if n, ok := sexNames[s]; ok {
				s = n
			} else {
				s = strings.ToLower(s)
			}
			sexes = append(sexes, s)
		}
	}
	return PivotWithPercentage(sexes)
}
