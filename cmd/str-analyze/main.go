package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"str-access/internal/config"
	"str-access/internal/logger"
	"str-access/internal/migrate"
	"str-access/internal/pipeline"
	"str-access/internal/store"
	"str-access/internal/utils"
)

// 文档注释：执行一次完整分析并保存结果
// 背景：离线批处理入口；输入路径与分析参数来自 .env / STR_CONFIG / 环境变量。
// 约束：STR_PERSIST=false 时不写数据库；STR_EXPORT_XLSX 非空时另外导出工作簿；整体报告以 JSON 写到标准输出。
func main() {
	l := logger.Setup()
	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := pipeline.Load(ctx, cfg)
	if err != nil {
		l.Error("load_error", "err", err)
		os.Exit(1)
	}
	res, err := pipeline.Run(ctx, cfg, d)
	if err != nil {
		l.Error("run_error", "err", err)
		os.Exit(1)
	}
	for _, w := range res.Warnings {
		l.Warn("run_warning", "msg", w)
	}

	if p := os.Getenv("STR_EXPORT_XLSX"); p != "" {
		if err := pipeline.WriteWorkbook(p, res); err != nil {
			l.Error("export_error", "path", p, "err", err)
			os.Exit(1)
		}
	}

	if os.Getenv("STR_PERSIST") != "false" {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
			os.Exit(1)
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		if err := store.AttachDB(db).SaveRun(ctx, res); err != nil {
			l.Error("save_error", "err", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"run_id":    res.RunID,
		"method":    res.Method,
		"points":    len(res.Points),
		"estimate":  res.Estimate,
		"overall":   res.Overall,
		"districts": districtSummary(res),
		"warnings":  res.Warnings,
	})
}

func districtSummary(res *pipeline.Result) []map[string]any {
	out := make([]map[string]any, 0, len(res.Districts))
	for _, g := range res.Districts {
		m := map[string]any{"code": g.Key, "name": res.Names[g.Key], "providers": g.Report.Providers}
		if g.Err != nil {
			m["error"] = g.Err.Error()
		} else {
			m["ann"] = g.Report.ANN.ANN
			m["z_score"] = g.Report.ANN.ZScore
			m["mean_km"] = g.Report.Distance.Mean
		}
		out = append(out, m)
	}
	return out
}
