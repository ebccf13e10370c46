// 包 ingest：分析输入数据的读取与清洗（栅格 XYZ、GeoJSON 图层、服务点名册、统计表、STR 登记表）
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"str-access/internal/errs"
)

// header：列名 → 序号；列名去除首尾空白与 UTF-8 BOM
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, c := range row {
		c = strings.TrimPrefix(strings.TrimSpace(c), "\ufeff")
		if _, dup := h[c]; !dup {
			h[c] = i
		}
	}
	return h
}

// require：返回所需列的序号，缺失时返回 InvalidInputError
func (h header) require(op string, cols ...string) ([]int, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j, ok := h[c]
		if !ok {
			return nil, errs.Invalid(op, "missing required column %q", c)
		}
		idx[i] = j
	}
	return idx, nil
}

// first：候选列名中第一个存在的列；都不存在返回 -1
func (h header) first(cols ...string) int {
	for _, c := range cols {
		if j, ok := h[c]; ok {
			return j
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

// readCSVFile：逐行回调；首行为表头
func readCSVFile(path string, fn func(h header, row []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return readCSV(f, fn)
}

func readCSV(r io.Reader, fn func(h header, row []string) error) error {
	cr := newCSVReader(r)
	first, err := cr.Read()
	if err == io.EOF {
		return errs.Invalid("read_csv", "empty input")
	}
	if err != nil {
		return err
	}
	h := newHeader(first)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(h, row); err != nil {
			return err
		}
	}
}
