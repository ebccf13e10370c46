package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"str-access/internal/errs"
	"str-access/internal/geo"
	"str-access/internal/logger"
	"str-access/internal/nearest"
)

// ProviderStats：名册读取统计
type ProviderStats struct {
	Rows    int
	Kept    int
	Skipped int
}

var (
	providerIDCols   = []string{"id", "BIL", "Bil", "ID"}
	providerNameCols = []string{"clinic_name", "Nama Klinik", "name"}
	providerAreaCols = []string{"code_state_district"}
)

// 文档注释：读取诊所名册（.xlsx 或 .csv）
// 背景：名册由人工整理为表格，包含 Latitude/Longitude 与可选的编号、名称、所在行政区编码。
// 约束：
// - .xlsx 读取 sheet 指定的工作表，为空时读取第一个工作表；
// - 缺少 Latitude/Longitude 列返回 InvalidInputError；坐标为空或非法的行跳过（不做地址地理编码）；
// - 缺少编号列时以行号（从 1 开始）作为编号。
func ReadProviders(path, sheet string) ([]nearest.Provider, ProviderStats, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readSheet(path, sheet)
	case ".csv":
		rows, err = readAllCSV(path)
	default:
		return nil, ProviderStats{}, errs.Invalid("read_providers", "unsupported roster format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, ProviderStats{}, err
	}
	out, st, err := parseProviders(rows)
	if err != nil {
		return nil, st, fmt.Errorf("%s: %w", path, err)
	}
	logger.L().Info("providers_loaded", "path", path, "rows", st.Rows, "kept", st.Kept, "skipped", st.Skipped)
	return out, st, nil
}

func readSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, errs.Invalid("read_providers", "workbook has no sheets")
		}
		sheet = list[0]
	}
	return f.GetRows(sheet)
}

func readAllCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func parseProviders(rows [][]string) ([]nearest.Provider, ProviderStats, error) {
	const op = "read_providers"
	var st ProviderStats
	if len(rows) == 0 {
		return nil, st, errs.Invalid(op, "roster is empty")
	}
	h := newHeader(rows[0])
	idx, err := h.require(op, "Latitude", "Longitude")
	if err != nil {
		return nil, st, err
	}
	idCol := h.first(providerIDCols...)
	nameCol := h.first(providerNameCols...)
	areaCol := h.first(providerAreaCols...)

	var out []nearest.Provider
	for i, row := range rows[1:] {
		st.Rows++
		lat, ok1 := parseFloat(cell(row, idx[0]))
		lon, ok2 := parseFloat(cell(row, idx[1]))
		if !ok1 || !ok2 || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			st.Skipped++
			continue
		}
		id := cell(row, idCol)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		out = append(out, nearest.Provider{
			ID:       id,
			Name:     cell(row, nameCol),
			AreaCode: cell(row, areaCol),
			Point:    geo.Point{Lat: lat, Lon: lon},
		})
	}
	st.Kept = len(out)
	return out, st, nil
}
