package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"str-access/internal/errs"
	"str-access/internal/geo"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestReadXYZ(t *testing.T) {
	in := "X,Y,Z\n101.5,3.1,12.5\n101.6,3.1,-99999\n101.7,abc,1\n101.8,3.2,0\n"
	pts, st, err := ReadXYZ(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, geo.Point{Lat: 3.1, Lon: 101.5}, pts[0].Point)
	assert.Equal(t, 12.5, pts[0].Z)
	assert.NotNil(t, pts[0].Attrs)
	assert.Equal(t, RasterStats{Rows: 4, Kept: 2, Skipped: 2, SumZ: 12.5}, st)
}

func TestReadXYZStripsBOM(t *testing.T) {
	pts, st, err := ReadXYZ(strings.NewReader("\ufeffX,Y,Z\n101.5,3.1,2\n"))
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, geo.Point{Lat: 3.1, Lon: 101.5}, pts[0].Point)
	assert.Equal(t, 1, st.Kept)
}

func TestReadXYZMissingColumn(t *testing.T) {
	_, _, err := ReadXYZ(strings.NewReader("lon,lat,z\n1,2,3\n"))
	assert.True(t, errs.IsInvalidInput(err))
}

const layerJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"code_state_district":"7_4","district":"Sp Selatan","code_state":7},
  "geometry":{"type":"Polygon","coordinates":[[[100,5],[101,5],[101,6],[100,6],[100,5]]]}},
 {"type":"Feature","properties":{"code_state_district":"14_1","district":"W.P. Kuala Lumpur","code_state":14},
  "geometry":{"type":"MultiPolygon","coordinates":[[[[101,3],[102,3],[102,4],[101,4],[101,3]]],[[[103,3],[104,3],[104,4],[103,4],[103,3]]]]}},
 {"type":"Feature","properties":{"code_state_district":"99_9","district":"Point"},
  "geometry":{"type":"Point","coordinates":[1,1]}}
]}`

func TestReadLayer(t *testing.T) {
	spec := LayerSpec{CodeKey: "code_state_district", NameKey: "district", ParentKey: "code_state",
		NameFixes: map[string]string{"Sp Selatan": "Seberang Perai Selatan"}}
	areas, err := ReadLayer([]byte(layerJSON), spec)
	require.NoError(t, err)
	require.Len(t, areas, 2)
	assert.Equal(t, "7_4", areas[0].Code)
	assert.Equal(t, "Seberang Perai Selatan", areas[0].Name)
	assert.Equal(t, "7", areas[0].Parent)
	assert.Len(t, areas[1].Polys, 2)
	assert.True(t, areas[1].Contains(geo.Point{Lat: 3.5, Lon: 103.5}))
	assert.InEpsilon(t, 2*areas[0].AreaKm2, areas[1].AreaKm2, 0.01)
}

func TestReadLayerDuplicateCode(t *testing.T) {
	dup := strings.Replace(layerJSON, `"14_1"`, `"7_4"`, 1)
	_, err := ReadLayer([]byte(dup), LayerSpec{CodeKey: "code_state_district"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestReadProvidersXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"BIL", "clinic_name", "Latitude", "Longitude", "code_state_district"},
		{"1", "Klinik Satu", 3.15, 101.7, "14_1"},
		{"2", "Klinik Dua", "", "", "14_1"},
		{"3", "Klinik Tiga", 5.4, 100.3, "7_4"},
	}
	for i, r := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &r))
	}
	path := filepath.Join(t.TempDir(), "gp_list.xlsx")
	require.NoError(t, f.SaveAs(path))

	ps, st, err := ReadProviders(path, "")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "1", ps[0].ID)
	assert.Equal(t, "Klinik Satu", ps[0].Name)
	assert.Equal(t, "14_1", ps[0].AreaCode)
	assert.Equal(t, geo.Point{Lat: 5.4, Lon: 100.3}, ps[1].Point)
	assert.Equal(t, ProviderStats{Rows: 3, Kept: 2, Skipped: 1}, st)
}

func TestReadProvidersCSV(t *testing.T) {
	path := writeFile(t, "gp.csv", "clinic_name,Latitude,Longitude\nA,3.1,101.6\nB,x,101.7\n")
	ps, st, err := ReadProviders(path, "")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "1", ps[0].ID, "row number used when no id column")
	assert.Equal(t, 1, st.Skipped)

	_, _, err = ReadProviders(writeFile(t, "gp.csv", "name,lat\nA,1\n"), "")
	assert.True(t, errs.IsInvalidInput(err))
	_, _, err = ReadProviders(writeFile(t, "gp.parquet", ""), "")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestReadCounts(t *testing.T) {
	in := `date,parlimen,sex,age,ethnicity,population
2020-01-01,P.001 Padang Besar,both,overall,overall,60.5
2020-01-01,P.001 Padang Besar,male,overall,overall,30
2020-01-01,P.002 Kangar,both,overall,overall,100
2022-01-01,P.002 Kangar,both,overall,overall,110
2020-01-01,P.003 Arau,both,overall,overall,n/a
`
	path := writeFile(t, "population_parlimen.csv", in)
	ct, st, err := ReadCounts(path, Filter{
		KeyCol: "parlimen", ValueCol: "population", Date: "2020-01-01",
		Dims: map[string]string{"sex": "both", "age": "overall", "ethnicity": "overall"}, Scale: 1000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 60500.0, ct["P.001 Padang Besar"], 1e-9)
	assert.InDelta(t, 100000.0, ct["P.002 Kangar"], 1e-9)
	assert.Len(t, ct, 2)
	assert.Equal(t, 5, st.Rows)
	assert.Equal(t, 2, st.Matched)
	assert.Equal(t, 1, st.Invalid)
	assert.Equal(t, []string{"2020-01-01", "2022-01-01"}, st.DateSeen)

	_, _, err = ReadCounts(path, Filter{KeyCol: "code_parlimen", ValueCol: "population"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestRekeyByName(t *testing.T) {
	areas := []geo.Area{{Code: "P.001", Name: "Padang Besar"}, {Code: "P.002", Name: "Kangar"}}
	out, missing := RekeyByName(map[string]float64{"Padang Besar": 5, "P.002 Kangar": 7, "Nowhere": 1}, areas,
		map[string]string{"P.002 Kangar": "Kangar"})
	assert.Equal(t, 5.0, out["P.001"])
	assert.Equal(t, 7.0, out["P.002"])
	assert.Equal(t, []string{"Nowhere"}, missing)

	assert.Len(t, Restrict(out, map[string]bool{"P.002": true}), 1)
}

const registrationsCSV = `id,id_ben,sex_beneficiary,ori_ben_age,str_category,state,code_parlimen,id_partner,sex_partner,age_partner,id_dependent,sex_dependent,age_dependent
1,B1,LELAKI,45.0,B40,Selangor,P.104,W1,PEREMPUAN,40,D1,LELAKI,10
2,B1,LELAKI,45.0,B40,Selangor,P.104,W1,PEREMPUAN,40,D2,PEREMPUAN,8
3,B2,PEREMPUAN,60,Warga Emas,Selangor,P.104,,,,,,
4,B3,LELAKI,30,B40,Johor,P.160,,,,D3,LELAKI,2
5,,LELAKI,30,B40,Johor,P.160,,,,,,
`

func TestRegistrationCounts(t *testing.T) {
	regs, err := ReadRegistrations(writeFile(t, "str.csv", registrationsCSV))
	require.NoError(t, err)
	require.Len(t, regs, 4)
	assert.Equal(t, 45, regs[0].Beneficiary.Age)
	assert.Equal(t, -1, regs[2].Partner.Age)

	assert.Equal(t, map[string]float64{"P.104": 2, "P.160": 1}, map[string]float64(CountHouseholds(regs)))
	// P.104: B1, W1, D1, D2, B2; P.160: B3, D3
	assert.Equal(t, map[string]float64{"P.104": 5, "P.160": 2}, map[string]float64(CountIndividuals(regs)))

	long := LongForm(regs)
	require.Len(t, long, 7)
	assert.Equal(t, "beneficiary", long[0].Role)
	assert.Equal(t, "dependent", long[6].Role)
	assert.Equal(t, "B3", long[6].HouseholdID)

	_, err = CountBy(regs, "villages")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestOfCategory(t *testing.T) {
	regs := []Registration{
		{ID: "1", Category: "B40"}, {ID: "2", Category: " warga emas"}, {ID: "3", Category: "b40 "},
	}
	got := OfCategory(regs, "b40")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Len(t, OfCategory(regs, "Warga Emas"), 1)
	assert.Empty(t, OfCategory(regs, "T20"))
}

func TestPivotWithPercentage(t *testing.T) {
	got := PivotWithPercentage([]string{"B40", "B40", "Warga Emas", ""})
	require.Len(t, got, 3)
	assert.Equal(t, Share{Category: "B40", Count: 2, Percent: 50}, got[0])
	assert.Equal(t, Share{Category: "Warga Emas", Count: 1, Percent: 25}, got[1])
	assert.Equal(t, "unknown", got[2].Category)
}

func TestGenderDistribution(t *testing.T) {
	regs, err := ReadRegistrations(writeFile(t, "str.csv", registrationsCSV))
	require.NoError(t, err)
	got := GenderDistribution(regs)
	// B1 male, W1 female, B2 female, B3 male
	assert.Equal(t, []Share{{Category: "female", Count: 2, Percent: 50}, {Category: "male", Count: 2, Percent: 50}}, got)
}
