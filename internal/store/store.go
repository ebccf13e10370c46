// 包 store: 提供与 PostgreSQL 的数据访问层，保存分析结果并为 API 提供只读查询
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"str-access/internal/ann"
	"str-access/internal/geo"
	"str-access/internal/logger"
	"str-access/internal/nearest"
	"str-access/internal/pipeline"
)

// 每个事务写入的最大行数
const batchSize = 5000

var ErrNotFound = errors.New("store: not found")

// Store: 数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &Store{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Run: 一次分析运行的摘要
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Method     string     `json:"method"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Points     int        `json:"points"`
	Providers  int        `json:"providers"`
	Overall    ann.Report `json:"overall"`
	Warnings   []string   `json:"warnings"`
}

// GridRow: 栅格点结果行；StrASCII 为空表示未做两段式估计
type GridRow struct {
	Idx        int      `json:"idx"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Z          float64  `json:"z"`
	District   string   `json:"district"`
	Parlimen   string   `json:"parlimen"`
	Estimated  float64  `json:"estimated_str"`
	StrASCII   *float64 `json:"str_ascii,omitempty"`
	ProviderID string   `json:"provider_id"`
	DistanceKm float64  `json:"distance_km"`
}

// AreaReport: 区域报告行；Parent 为选区所属行政区
type AreaReport struct {
	Layer  string      `json:"layer"`
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Parent string      `json:"parent,omitempty"`
	Report *ann.Report `json:"report,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// 报告层级
const (
	LayerStudyRegion = "study_region"
	LayerDistrict    = "district"
	LayerParlimen    = "parlimen"
)

// GridRows: 把分析结果的点集展开为行
func GridRows(r *pipeline.Result) []GridRow {
	out := make([]GridRow, len(r.Points))
	for i := range r.Points {
		p := &r.Points[i]
		row := GridRow{
			Idx: i, Lat: p.Point.Lat, Lon: p.Point.Lon, Z: p.Z,
			District: p.Tags[pipeline.DistrictTag], Parlimen: p.Tags[pipeline.ParlimenTag],
			Estimated: p.Attrs[pipeline.AttrEstimated], ProviderID: p.Tags[pipeline.TagProvider],
			DistanceKm: p.Attrs[pipeline.AttrDistance],
		}
		if v, ok := p.Attrs[pipeline.AttrRatioSTR]; ok {
			row.StrASCII = &v
		}
		out[i] = row
	}
	return out
}

// AreaReports: 整体、行政区、选区三级报告
func AreaReports(r *pipeline.Result) []AreaReport {
	overall := r.Overall
	out := []AreaReport{{Layer: LayerStudyRegion, Code: "all", Name: "study region", Report: &overall}}
	add := func(layer string, gs []ann.GroupReport, parent func(string) string) {
		for _, g := range gs {
			ar := AreaReport{Layer: layer, Code: g.Key, Name: r.Names[g.Key], Parent: parent(g.Key)}
			if g.Err != nil {
				ar.Error = g.Err.Error()
			} else {
				rep := g.Report
				ar.Report = &rep
			}
			out = append(out, ar)
		}
	}
	add(LayerDistrict, r.Districts, func(string) string { return "" })
	add(LayerParlimen, r.Parlimen, func(code string) string { return r.Crosswalk[code] })
	return out
}

// batchWriter: 按 batchSize 分段提交的写入器（每段一个事务，段内预编译语句）
type batchWriter struct {
	db    *sql.DB
	query string
	tx    *sql.Tx
	stmt  *sql.Stmt
	count int
}

func (w *batchWriter) begin(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, w.query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	w.tx, w.stmt = tx, stmt
	return nil
}

func (w *batchWriter) exec(ctx context.Context, args ...any) error {
	if w.tx == nil {
		if err := w.begin(ctx); err != nil {
			return err
		}
	}
	if _, err := w.stmt.ExecContext(ctx, args...); err != nil {
		return err
	}
	w.count++
	if w.count%batchSize == 0 {
		return w.commit()
	}
	return nil
}

func (w *batchWriter) commit() error {
	if w.tx == nil {
		return nil
	}
	_ = w.stmt.Close()
	err := w.tx.Commit()
	w.tx, w.stmt = nil, nil
	return err
}

func (w *batchWriter) rollback() {
	if w.tx != nil {
		_ = w.stmt.Close()
		_ = w.tx.Rollback()
		w.tx, w.stmt = nil, nil
	}
}

// 文档注释：保存一次分析结果
// 背景：栅格点可达数十万行，按 5000 行分段提交，避免长事务；运行记录先以 running 状态写入，全部写完后置为 done。
// 约束：读取侧只看 status=done 的运行，中途失败的运行标记为 failed 并返回原始错误。
func (s *Store) SaveRun(ctx context.Context, r *pipeline.Result) (err error) {
	l := logger.For("store")
	overall, err := json.Marshal(r.Overall)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNil(r.Warnings))
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO _str_runs(id, status, method, started_at, points, providers, overall, warnings)
        VALUES($1, 'running', $2, $3, $4, $5, $6, $7)`,
		r.RunID, r.Method, r.StartedAt, len(r.Points), len(r.Providers), overall, warnings); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = s.db.ExecContext(context.Background(), `UPDATE _str_runs SET status='failed' WHERE id=$1`, r.RunID)
			l.Error("run_save_error", "run", r.RunID, "err", err)
		}
	}()

	pw := &batchWriter{db: s.db, query: `INSERT INTO _str_grid_points(run_id, idx, lat, lon, z, district, parlimen, estimated_str, str_ascii, provider_id, distance_km)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`}
	defer pw.rollback()
	for _, g := range GridRows(r) {
		var ascii sql.NullFloat64
		if g.StrASCII != nil {
			ascii = sql.NullFloat64{Float64: *g.StrASCII, Valid: true}
		}
		if err := pw.exec(ctx, r.RunID, g.Idx, g.Lat, g.Lon, g.Z, g.District, g.Parlimen, g.Estimated, ascii, g.ProviderID, g.DistanceKm); err != nil {
			return fmt.Errorf("insert grid point %d: %w", g.Idx, err)
		}
	}
	if err := pw.commit(); err != nil {
		return err
	}
	l.Debug("grid_points_saved", "run", r.RunID, "rows", pw.count)

	vw := &batchWriter{db: s.db, query: `INSERT INTO _str_providers(run_id, idx, id, name, area_code, lat, lon) VALUES($1,$2,$3,$4,$5,$6,$7)`}
	defer vw.rollback()
	for i, p := range r.Providers {
		if err := vw.exec(ctx, r.RunID, i, p.ID, p.Name, p.AreaCode, p.Point.Lat, p.Point.Lon); err != nil {
			return fmt.Errorf("insert provider %s: %w", p.ID, err)
		}
	}
	if err := vw.commit(); err != nil {
		return err
	}

	aw := &batchWriter{db: s.db, query: `INSERT INTO _str_area_reports(run_id, layer, code, name, parent, report, error) VALUES($1,$2,$3,$4,$5,$6,$7)`}
	defer aw.rollback()
	for _, a := range AreaReports(r) {
		var rep []byte
		if a.Report != nil {
			if rep, err = json.Marshal(a.Report); err != nil {
				return err
			}
		}
		if err := aw.exec(ctx, r.RunID, a.Layer, a.Code, a.Name, a.Parent, rep, a.Error); err != nil {
			return fmt.Errorf("insert report %s/%s: %w", a.Layer, a.Code, err)
		}
	}
	if err := aw.commit(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE _str_runs SET status='done', finished_at=$2 WHERE id=$1`, r.RunID, r.FinishedAt); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	l.Info("run_saved", "run", r.RunID, "points", len(r.Points), "providers", len(r.Providers))
	return nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// LatestRun: 最近一次完成的运行；没有时返回 ErrNotFound
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, status, method, started_at, finished_at, points, providers, overall, warnings
        FROM _str_runs WHERE status='done' ORDER BY finished_at DESC LIMIT 1`)
	var (
		r                 Run
		overall, warnings []byte
	)
	if err := row.Scan(&r.ID, &r.Status, &r.Method, &r.StartedAt, &r.FinishedAt, &r.Points, &r.Providers, &overall, &warnings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(overall, &r.Overall); err != nil {
		return nil, fmt.Errorf("run %s overall: %w", r.ID, err)
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &r.Warnings); err != nil {
			return nil, fmt.Errorf("run %s warnings: %w", r.ID, err)
		}
	}
	logger.L().Debug("db_latest_run", "run", r.ID)
	return &r, nil
}

// Reports: 指定运行的区域报告；layer/code 为空时不过滤
func (s *Store) Reports(ctx context.Context, runID, layer, code string) ([]AreaReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT layer, code, name, parent, report, error FROM _str_area_reports
        WHERE run_id=$1 AND ($2='' OR layer=$2) AND ($3='' OR code=$3)
        ORDER BY layer, code`, runID, layer, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AreaReport
	for rows.Next() {
		var (
			a   AreaReport
			rep []byte
		)
		if err := rows.Scan(&a.Layer, &a.Code, &a.Name, &a.Parent, &rep, &a.Error); err != nil {
			return nil, err
		}
		if len(rep) > 0 {
			a.Report = &ann.Report{}
			if err := json.Unmarshal(rep, a.Report); err != nil {
				return nil, fmt.Errorf("report %s/%s: %w", a.Layer, a.Code, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Providers: 指定运行使用的服务点名册（按原始顺序）
func (s *Store) Providers(ctx context.Context, runID string) ([]nearest.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, area_code, lat, lon FROM _str_providers WHERE run_id=$1 ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []nearest.Provider
	for rows.Next() {
		var (
			p        nearest.Provider
			lat, lon float64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.AreaCode, &lat, &lon); err != nil {
			return nil, err
		}
		p.Point = geo.Point{Lat: lat, Lon: lon}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GridPoints: 指定运行、行政区内的栅格结果；limit<=0 时不限制
func (s *Store) GridPoints(ctx context.Context, runID, district string, limit int) ([]GridRow, error) {
	q := `SELECT idx, lat, lon, z, district, parlimen, estimated_str, str_ascii, provider_id, distance_km
        FROM _str_grid_points WHERE run_id=$1 AND district=$2 ORDER BY idx`
	args := []any{runID, district}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GridRow
	for rows.Next() {
		var (
			g     GridRow
			ascii sql.NullFloat64
		)
		if err := rows.Scan(&g.Idx, &g.Lat, &g.Lon, &g.Z, &g.District, &g.Parlimen, &g.Estimated, &ascii, &g.ProviderID, &g.DistanceKm); err != nil {
			return nil, err
		}
		if ascii.Valid {
			v := ascii.Float64
			g.StrASCII = &v
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
