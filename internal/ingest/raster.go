package ingest

import (
	"io"
	"math"
	"os"

	"str-access/internal/areal"
	"str-access/internal/logger"
)

// RasterStats：栅格读取统计
type RasterStats struct {
	Rows    int
	Kept    int
	Skipped int
	SumZ    float64
}

// 文档注释：读取 WorldPop ASCII XYZ 栅格（表头 X,Y,Z；X 为经度，Y 为纬度）
// 背景：1km 分辨率全国约数十万行，逐行解析，无法解析或 Z 为负（无数据标记）的行跳过并计数。
// 约束：缺少 X/Y/Z 列时返回 InvalidInputError；坐标超出合法范围的行同样跳过。
func ReadXYZ(r io.Reader) ([]areal.GridPoint, RasterStats, error) {
	var st RasterStats
	var out []areal.GridPoint
	var idx []int
	err := readCSV(r, func(h header, row []string) error {
		if idx == nil {
			var err error
			if idx, err = h.require("read_xyz", "X", "Y", "Z"); err != nil {
				return err
			}
		}
		st.Rows++
		x, ok1 := parseFloat(cell(row, idx[0]))
		y, ok2 := parseFloat(cell(row, idx[1]))
		z, ok3 := parseFloat(cell(row, idx[2]))
		if !ok1 || !ok2 || !ok3 || z < 0 || math.IsNaN(z) || math.IsInf(z, 0) ||
			math.Abs(y) > 90 || math.Abs(x) > 180 {
			st.Skipped++
			return nil
		}
		out = append(out, areal.NewGridPoint(y, x, z))
		st.SumZ += z
		return nil
	})
	if err != nil {
		return nil, st, err
	}
	st.Kept = len(out)
	return out, st, nil
}

// ReadXYZFile：按路径读取栅格并记录统计
func ReadXYZFile(path string) ([]areal.GridPoint, RasterStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, RasterStats{}, err
	}
	defer f.Close()
	pts, st, err := ReadXYZ(f)
	if err != nil {
		return nil, st, err
	}
	logger.L().Info("raster_loaded", "path", path, "rows", st.Rows, "kept", st.Kept, "skipped", st.Skipped, "sum_z", st.SumZ)
	return pts, st, nil
}
