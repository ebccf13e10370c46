package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 32447100.0, c.NationalTotal)
	assert.Equal(t, 1.0287, c.GrowthRate)
	assert.Len(t, c.StudyDistricts(), 10)
	assert.Len(t, c.StudyParlimen(), 58)
	assert.Equal(t, "Seberang Perai Selatan", c.NameFixes()["Sp Selatan"])
	assert.Equal(t, "Selangor", c.StateName("10"))
	assert.Equal(t, "99", c.StateName("99"))
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := Default()
	d := c.StudyDistricts()
	d[0] = "changed"
	assert.Equal(t, "14_1", c.StudyDistricts()[0])

	f := c.NameFixes()
	f["x"] = "y"
	assert.NotContains(t, c.NameFixes(), "x")

	cf := c.CountFilter()
	cf.Dims["sex"] = "male"
	assert.Equal(t, "both", c.CountFilter().Dims["sex"])

	n := c.WithStudyDistricts([]string{"10_1"})
	assert.Equal(t, []string{"10_1"}, n.StudyDistricts())
	assert.Len(t, c.StudyDistricts(), 10)

	e := c.WithEstimateCategories([]string{"B40"})
	assert.Equal(t, []string{"B40"}, e.EstimateCategories())
	assert.Empty(t, c.EstimateCategories())
}

func TestCategoriesFromEnv(t *testing.T) {
	t.Setenv("STR_CONFIG", "")
	t.Setenv("STR_CATEGORIES", " B40, M40 ,,T20")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"B40", "M40", "T20"}, c.EstimateCategories())
}

const sampleYAML = `
inputs:
  raster: /data/xyz.csv
study_districts: ["10_1", "10_5"]
str_categories: [B40, M40]
name_fixes:
  Klang Lama: Klang
count_filter:
  key_column: code_parlimen
  value_column: population
  date: "2022-01-01"
  dimensions: {sex: both}
  scale: 1
growth_rate: 1.05
join_policy: reject
workers: 3
`

func TestLoadYAMLAndEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "str.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML), 0o644))
	t.Setenv("STR_CONFIG", p)
	t.Setenv("STR_WORKERS", "5")
	t.Setenv("REPORT_CACHE_TTL_S", "30")
	t.Setenv("REPORT_LRU_SIZE", "0")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("STR_REFRESH_HOUR", "bad")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/xyz.csv", c.Inputs.Raster)
	assert.Equal(t, Default().Inputs.Providers, c.Inputs.Providers)
	assert.Equal(t, []string{"10_1", "10_5"}, c.StudyDistricts())
	assert.Equal(t, []string{"B40", "M40"}, c.EstimateCategories())
	assert.Equal(t, map[string]string{"Klang Lama": "Klang"}, c.NameFixes())
	assert.Equal(t, "code_parlimen", c.CountFilter().KeyCol)
	assert.False(t, c.CountFilter().KeyIsName)
	assert.Equal(t, 1.05, c.GrowthRate)
	assert.Equal(t, 32447100.0, c.NationalTotal)
	assert.Equal(t, "reject", c.JoinPolicy)
	assert.Equal(t, 5, c.Workers, "env overrides yaml")
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Equal(t, 0, c.LocalCache)
	assert.True(t, c.RateLimitOn)
	assert.Equal(t, -1, c.RefreshHour)
}

func TestLoadBadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("workers: [1, 2"), 0o644))
	t.Setenv("STR_CONFIG", p)
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STR_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}
