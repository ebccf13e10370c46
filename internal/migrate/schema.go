package migrate

import (
	"context"
	"database/sql"

	"str-access/internal/logger"
)

// Statements：建表语句（按顺序执行）
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS _str_runs (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL DEFAULT 'running',
        method TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ,
        points INT NOT NULL DEFAULT 0,
        providers INT NOT NULL DEFAULT 0,
        overall JSONB,
        warnings JSONB,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_str_runs_status_finished ON _str_runs(status, finished_at DESC)`,
	`CREATE TABLE IF NOT EXISTS _str_grid_points (
        run_id TEXT NOT NULL REFERENCES _str_runs(id) ON DELETE CASCADE,
        idx INT NOT NULL,
        lat DOUBLE PRECISION NOT NULL,
        lon DOUBLE PRECISION NOT NULL,
        z DOUBLE PRECISION NOT NULL,
        district TEXT NOT NULL,
        parlimen TEXT NOT NULL,
        estimated_str DOUBLE PRECISION NOT NULL,
        str_ascii DOUBLE PRECISION,
        provider_id TEXT NOT NULL,
        distance_km DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (run_id, idx)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_str_grid_points_district ON _str_grid_points(run_id, district)`,
	`CREATE TABLE IF NOT EXISTS _str_providers (
        run_id TEXT NOT NULL REFERENCES _str_runs(id) ON DELETE CASCADE,
        idx INT NOT NULL,
        id TEXT NOT NULL,
        name TEXT NOT NULL,
        area_code TEXT NOT NULL,
        lat DOUBLE PRECISION NOT NULL,
        lon DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (run_id, idx)
    )`,
	`CREATE TABLE IF NOT EXISTS _str_area_reports (
        run_id TEXT NOT NULL REFERENCES _str_runs(id) ON DELETE CASCADE,
        layer TEXT NOT NULL,
        code TEXT NOT NULL,
        name TEXT NOT NULL,
        parent TEXT NOT NULL DEFAULT '',
        report JSONB,
        error TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (run_id, layer, code)
    )`,
}

// 背景：首次运行自动创建所需表与索引，保障后续写入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
