package pipeline

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"str-access/internal/ann"
	"str-access/internal/logger"
)

var reportHeader = []any{
	"code", "name", "providers", "matched_providers", "weight_total",
	"mean_km", "median_km", "q1_km", "q3_km", "max_km",
	"ann", "observed_mean_km", "expected_mean_km", "z_score", "p_value", "spearman_rho", "note",
}

// 文档注释：把分析结果写成 Excel 工作簿（供研究人员离线查阅）
// 工作表：overview（整体）、district、parlimen（逐区报告）、profile（登记户类别与性别分布）。
func WriteWorkbook(path string, r *Result) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), "overview"); err != nil {
		return err
	}
	rows := [][]any{
		{"run_id", r.RunID},
		{"started_at", r.StartedAt.Format("2006-01-02 15:04:05")},
		{"count_method", r.Method},
		{"points", len(r.Points)},
		{"providers", len(r.Providers)},
		{"estimated_str", r.Estimate.Placed},
	}
	rows = append(rows, reportRow("study_region", "", r.Overall, nil)...)
	for i, w := range r.Warnings {
		rows = append(rows, []any{fmt.Sprintf("warning_%d", i+1), w})
	}
	if err := writeRows(f, "overview", rows); err != nil {
		return err
	}
	for _, s := range []struct {
		name   string
		groups []ann.GroupReport
	}{{"district", r.Districts}, {"parlimen", r.Parlimen}} {
		if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		rows := [][]any{reportHeader}
		for _, g := range s.groups {
			rows = append(rows, reportRow(g.Key, r.Names[g.Key], g.Report, g.Err)[1])
		}
		if err := writeRows(f, s.name, rows); err != nil {
			return err
		}
	}
	if _, err := f.NewSheet("profile"); err != nil {
		return err
	}
	prof := [][]any{{"dimension", "category", "count", "percent"}}
	for _, s := range r.Categories {
		prof = append(prof, []any{"str_category", s.Category, s.Count, s.Percent})
	}
	for _, s := range r.Gender {
		prof = append(prof, []any{"gender", s.Category, s.Count, s.Percent})
	}
	if err := writeRows(f, "profile", prof); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return err
	}
	logger.For("pipeline").Info("workbook_written", "path", path, "districts", len(r.Districts), "parlimen", len(r.Parlimen))
	return nil
}

// reportRow：表头 + 一行报告；Err 非空时数值列留空
func reportRow(code, name string, rep ann.Report, err error) [][]any {
	if err != nil {
		return [][]any{reportHeader, {code, name, rep.Providers, "", "", "", "", "", "", "", "", "", "", "", "", "", err.Error()}}
	}
	var rho any = ""
	if rep.Spearman != nil {
		rho = rep.Spearman.Rho
	}
	d := rep.Distance
	return [][]any{reportHeader, {
		code, name, rep.Providers, rep.MatchedProviders, rep.WeightTotal,
		d.Mean, d.Median, d.Q1, d.Q3, d.Max,
		rep.ANN.ANN, rep.ANN.Do, rep.ANN.De, rep.ANN.ZScore, rep.ANN.PValue, rho, "",
	}}
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
