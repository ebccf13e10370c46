// 包 config：集中读取运行配置（.env → 环境变量 → 可选 YAML 文件），构建后只读
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Inputs：分析输入文件路径
type Inputs struct {
	Raster          string `yaml:"raster"`
	DistrictLayer   string `yaml:"district_layer"`
	ParlimenLayer   string `yaml:"parlimen_layer"`
	Providers       string `yaml:"providers"`
	ProvidersSheet  string `yaml:"providers_sheet"`
	PopulationTable string `yaml:"population_table"`
	Registrations   string `yaml:"registrations"`
}

// CountFilter：人口统计表过滤参数
type CountFilter struct {
	KeyCol    string            `yaml:"key_column"`
	ValueCol  string            `yaml:"value_column"`
	KeyIsName bool              `yaml:"key_is_name"`
	Date      string            `yaml:"date"`
	Dims      map[string]string `yaml:"dimensions"`
	Scale     float64           `yaml:"scale"`
}

// fileConfig：YAML 文件结构；未出现的字段保持默认值
type fileConfig struct {
	Inputs        *Inputs           `yaml:"inputs"`
	Districts     []string          `yaml:"study_districts"`
	Parlimen      []string          `yaml:"study_parlimen"`
	Categories    []string          `yaml:"str_categories"`
	NameFixes     map[string]string `yaml:"name_fixes"`
	StateNames    map[string]string `yaml:"state_names"`
	CountFilter   *CountFilter      `yaml:"count_filter"`
	NationalTotal *float64          `yaml:"national_total"`
	GrowthRate    *float64          `yaml:"growth_rate"`
	CountMethod   *string           `yaml:"count_method"`
	JoinPolicy    *string           `yaml:"join_policy"`
	EmptyZone     *string           `yaml:"empty_zone"`
	Strategy      *string           `yaml:"match_strategy"`
	Workers       *int              `yaml:"workers"`
}

// 文档注释：运行配置（只读）
// 背景：命令行工具与 API 服务共享同一份配置来源；切片与映射字段只通过访问器返回副本。
// 约束：Load 之后不再修改；需要不同配置时重新 Load 或使用 With* 派生。
type Config struct {
	Addr          string
	APIBase       string
	Inputs        Inputs
	NationalTotal float64
	GrowthRate    float64
	CountMethod   string
	JoinPolicy    string
	EmptyZone     string
	Strategy      string
	Workers       int
	CacheTTL      time.Duration
	LocalCache    int
	RateLimitOn   bool
	RateLimitQPS  int
	RefreshHour   int

	countFilter CountFilter
	districts   []string
	parlimen    []string
	categories  []string
	nameFixes   map[string]string
	stateNames  map[string]string
}

// Default：内置默认值（研究区为十个城市化行政区及其覆盖的国会选区）
func Default() *Config {
	return &Config{
		Addr:    ":8080",
		APIBase: "/api",
		Inputs: Inputs{
			Raster:          filepath.Join("data", "information", "mys_pd_2020_1km_ASCII_XYZ.csv"),
			DistrictLayer:   filepath.Join("data", "map", "administrative_2_district.geojson"),
			ParlimenLayer:   filepath.Join("data", "map", "electoral_0_parlimen.geojson"),
			Providers:       filepath.Join("data", "information", "gp_list.xlsx"),
			PopulationTable: filepath.Join("data", "information", "population_parlimen.csv"),
			Registrations:   filepath.Join("data", "information", "str.csv"),
		},
		NationalTotal: 32447100,
		GrowthRate:    1.0287,
		CountMethod:   "households",
		JoinPolicy:    "first",
		EmptyZone:     "fail",
		Strategy:      "auto",
		Workers:       runtime.NumCPU(),
		CacheTTL:      10 * time.Minute,
		LocalCache:    256,
		RateLimitQPS:  200,
		RefreshHour:   -1,
		countFilter: CountFilter{
			KeyCol:    "parlimen",
			ValueCol:  "population",
			KeyIsName: true,
			Date:      "2020-01-01",
			Dims:      map[string]string{"sex": "both", "age": "overall", "ethnicity": "overall"},
			Scale:     1000,
		},
		districts: []string{"14_1", "13_1", "12_7", "10_8", "10_1", "10_5", "10_2", "8_3", "7_4", "1_2"},
		parlimen: []string{
			"P.048", "P.049", "P.050", "P.051", "P.052", "P.053", "P.062", "P.063", "P.064", "P.065",
			"P.066", "P.067", "P.069", "P.070", "P.071", "P.072", "P.073", "P.094", "P.095", "P.096",
			"P.097", "P.098", "P.099", "P.100", "P.101", "P.102", "P.103", "P.104", "P.105", "P.106",
			"P.107", "P.108", "P.109", "P.110", "P.111", "P.112", "P.113", "P.114", "P.115", "P.116",
			"P.117", "P.118", "P.119", "P.120", "P.121", "P.122", "P.123", "P.124", "P.155", "P.156",
			"P.157", "P.158", "P.159", "P.160", "P.161", "P.162", "P.163", "P.165",
		},
		nameFixes: map[string]string{
			"Cameron Highland": "Cameron Highlands",
			"Sp Selatan":       "Seberang Perai Selatan",
			"Sp Tengah":        "Seberang Perai Tengah",
			"Sp Utara":         "Seberang Perai Utara",
		},
		stateNames: map[string]string{
			"1": "Johor", "2": "Kedah", "3": "Kelantan", "4": "Melaka", "5": "Negeri Sembilan",
			"6": "Pahang", "7": "Pulau Pinang", "8": "Perak", "9": "Perlis", "10": "Selangor",
			"11": "Terengganu", "12": "Sabah", "13": "Sarawak", "14": "W.P. Kuala Lumpur",
			"15": "W.P. Labuan", "16": "W.P. Putrajaya",
		},
	}
}

// 文档注释：加载配置
// 背景：沿用服务进程的 .env 约定；STR_CONFIG 指向 YAML 文件时覆盖查找表与分析参数；环境变量优先级最高。
// 异常：YAML 读取或解析失败直接返回；数值型环境变量解析失败时忽略并保留默认值。
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	c := Default()
	if p := os.Getenv("STR_CONFIG"); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := c.applyYAML(b); err != nil {
			return nil, fmt.Errorf("config %s: %w", p, err)
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyYAML(b []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return err
	}
	if fc.Inputs != nil {
		mergeInputs(&c.Inputs, *fc.Inputs)
	}
	if fc.Districts != nil {
		c.districts = append([]string(nil), fc.Districts...)
	}
	if fc.Parlimen != nil {
		c.parlimen = append([]string(nil), fc.Parlimen...)
	}
	if fc.Categories != nil {
		c.categories = append([]string(nil), fc.Categories...)
	}
	if fc.NameFixes != nil {
		c.nameFixes = copyMap(fc.NameFixes)
	}
	if fc.StateNames != nil {
		c.stateNames = copyMap(fc.StateNames)
	}
	if fc.CountFilter != nil {
		cf := *fc.CountFilter
		cf.Dims = copyMap(cf.Dims)
		c.countFilter = cf
	}
	setIf(&c.NationalTotal, fc.NationalTotal)
	setIf(&c.GrowthRate, fc.GrowthRate)
	setIf(&c.CountMethod, fc.CountMethod)
	setIf(&c.JoinPolicy, fc.JoinPolicy)
	setIf(&c.EmptyZone, fc.EmptyZone)
	setIf(&c.Strategy, fc.Strategy)
	setIf(&c.Workers, fc.Workers)
	return nil
}

func (c *Config) applyEnv() {
	envStr(&c.Addr, "ADDR")
	envStr(&c.APIBase, "API_BASE")
	envStr(&c.Inputs.Raster, "STR_RASTER")
	envStr(&c.Inputs.DistrictLayer, "STR_DISTRICT_LAYER")
	envStr(&c.Inputs.ParlimenLayer, "STR_PARLIMEN_LAYER")
	envStr(&c.Inputs.Providers, "STR_PROVIDERS")
	envStr(&c.Inputs.ProvidersSheet, "STR_PROVIDERS_SHEET")
	envStr(&c.Inputs.PopulationTable, "STR_POPULATION_TABLE")
	envStr(&c.Inputs.Registrations, "STR_REGISTRATIONS")
	envStr(&c.CountMethod, "STR_COUNT_METHOD")
	envStr(&c.JoinPolicy, "STR_JOIN_POLICY")
	envStr(&c.EmptyZone, "STR_EMPTY_ZONE")
	envStr(&c.Strategy, "STR_MATCH_STRATEGY")
	if s := os.Getenv("STR_WORKERS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			c.Workers = n
		}
	}
	if s := os.Getenv("STR_NATIONAL_TOTAL"); s != "" {
		if f, e := strconv.ParseFloat(s, 64); e == nil && f > 0 {
			c.NationalTotal = f
		}
	}
	if s := os.Getenv("STR_GROWTH_RATE"); s != "" {
		if f, e := strconv.ParseFloat(s, 64); e == nil && f > 0 {
			c.GrowthRate = f
		}
	}
	if s := os.Getenv("STR_STUDY_DISTRICTS"); s != "" {
		c.districts = splitList(s)
	}
	if s := os.Getenv("STR_CATEGORIES"); s != "" {
		c.categories = splitList(s)
	}
	if s := os.Getenv("REPORT_CACHE_TTL_S"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			c.CacheTTL = time.Duration(n) * time.Second
		}
	}
	if s := os.Getenv("REPORT_LRU_SIZE"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n >= 0 {
			c.LocalCache = n
		}
	}
	c.RateLimitOn = os.Getenv("RATE_LIMIT_ENABLED") == "true"
	if s := os.Getenv("RATE_LIMIT_QPS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			c.RateLimitQPS = n
		}
	}
	if s := os.Getenv("STR_REFRESH_HOUR"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n >= 0 && n < 24 {
			c.RefreshHour = n
		}
	}
}

// StudyDistricts：研究区行政区编码（为空表示不限制）
func (c *Config) StudyDistricts() []string { return append([]string(nil), c.districts...) }

// StudyParlimen：研究区国会选区编码
func (c *Config) StudyParlimen() []string { return append([]string(nil), c.parlimen...) }

// EstimateCategories：需要单独插值的 STR 类别（如 B40），每个类别产生 estimated_<类别> 列
func (c *Config) EstimateCategories() []string { return append([]string(nil), c.categories...) }

// NameFixes：区域名称修正表
func (c *Config) NameFixes() map[string]string { return copyMap(c.nameFixes) }

// StateName：州编码 → 州名，未知编码原样返回
func (c *Config) StateName(code string) string {
	if n, ok := c.stateNames[code]; ok {
		return n
	}
	return code
}

// CountFilter：人口统计表过滤参数（副本）
func (c *Config) CountFilter() CountFilter {
	cf := c.countFilter
	cf.Dims = copyMap(cf.Dims)
	return cf
}

// WithStudyDistricts：派生一份仅替换研究区的配置
func (c *Config) WithStudyDistricts(codes []string) *Config {
	d := *c
	d.districts = append([]string(nil), codes...)
	return &d
}

// WithEstimateCategories：派生一份仅替换插值类别的配置
func (c *Config) WithEstimateCategories(cats []string) *Config {
	d := *c
	d.categories = append([]string(nil), cats...)
	return &d
}

func mergeInputs(dst *Inputs, src Inputs) {
	setStr := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	setStr(&dst.Raster, src.Raster)
	setStr(&dst.DistrictLayer, src.DistrictLayer)
	setStr(&dst.ParlimenLayer, src.ParlimenLayer)
	setStr(&dst.Providers, src.Providers)
	setStr(&dst.ProvidersSheet, src.ProvidersSheet)
	setStr(&dst.PopulationTable, src.PopulationTable)
	setStr(&dst.Registrations, src.Registrations)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
