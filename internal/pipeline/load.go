// 包 pipeline：一次完整分析的编排（加载 → 空间连接 → 人口估计 → 最近服务点 → ANN 报告）
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"str-access/internal/areal"
	"str-access/internal/config"
	"str-access/internal/geo"
	"str-access/internal/ingest"
	"str-access/internal/logger"
	"str-access/internal/metrics"
	"str-access/internal/nearest"
)

// 图层属性键
const (
	DistrictTag = "code_state_district"
	ParlimenTag = "code_parlimen"
)

// Data：一次分析的全部输入（已解析）
// Population 为空表示未提供官方人口表，此时跳过两段式估计。
type Data struct {
	Points        []areal.GridPoint
	Districts     []geo.Area
	Parlimen      []geo.Area
	Providers     []nearest.Provider
	Population    areal.CountTable
	Registrations []ingest.Registration
	Warnings      []string
}

func districtSpec(cfg *config.Config) ingest.LayerSpec {
	return ingest.LayerSpec{CodeKey: DistrictTag, NameKey: "district", ParentKey: "code_state", NameFixes: cfg.NameFixes()}
}

func parlimenSpec() ingest.LayerSpec {
	return ingest.LayerSpec{CodeKey: ParlimenTag, NameKey: "parlimen", ParentKey: "code_state"}
}

// 文档注释：并行加载全部输入文件
// 背景：栅格与图层解析耗时最长，各文件互不依赖，使用 errgroup 并行读取；任一失败即整体失败。
// 约束：人口表按名称为键时在图层加载完成后映射为选区编码；未能映射的名称记入 Warnings。
func Load(ctx context.Context, cfg *config.Config) (*Data, error) {
	start := time.Now()
	l := logger.For("pipeline")
	in := cfg.Inputs
	d := &Data{}
	var rawPop areal.CountTable

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pts, st, err := ingest.ReadXYZFile(in.Raster)
		if err != nil {
			return fmt.Errorf("raster: %w", err)
		}
		if st.Skipped > 0 {
			d.Warnings = append(d.Warnings, fmt.Sprintf("raster: %d rows skipped", st.Skipped))
		}
		d.Points = pts
		return gctx.Err()
	})
	g.Go(func() error {
		areas, err := ingest.ReadLayerFile(in.DistrictLayer, districtSpec(cfg))
		if err != nil {
			return fmt.Errorf("district layer: %w", err)
		}
		d.Districts = areas
		return gctx.Err()
	})
	g.Go(func() error {
		areas, err := ingest.ReadLayerFile(in.ParlimenLayer, parlimenSpec())
		if err != nil {
			return fmt.Errorf("parlimen layer: %w", err)
		}
		d.Parlimen = areas
		return gctx.Err()
	})
	g.Go(func() error {
		ps, st, err := ingest.ReadProviders(in.Providers, in.ProvidersSheet)
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		l.Info("providers_loaded", "path", in.Providers, "kept", st.Kept, "skipped", st.Skipped)
		d.Providers = ps
		return gctx.Err()
	})
	g.Go(func() error {
		regs, err := ingest.ReadRegistrations(in.Registrations)
		if err != nil {
			return fmt.Errorf("registrations: %w", err)
		}
		d.Registrations = regs
		return gctx.Err()
	})
	if in.PopulationTable != "" {
		g.Go(func() error {
			cf := cfg.CountFilter()
			ct, _, err := ingest.ReadCounts(in.PopulationTable, ingest.Filter{
				KeyCol: cf.KeyCol, ValueCol: cf.ValueCol, Date: cf.Date, Dims: cf.Dims, Scale: cf.Scale,
			})
			if err != nil {
				return fmt.Errorf("population table: %w", err)
			}
			rawPop = ct
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if rawPop != nil {
		if cfg.CountFilter().KeyIsName {
			pop, missing := ingest.RekeyByName(rawPop, d.Parlimen, cfg.NameFixes())
			for _, m := range missing {
				d.Warnings = append(d.Warnings, fmt.Sprintf("population: no constituency named %q", m))
			}
			d.Population = pop
		} else {
			d.Population = rawPop
		}
	}
	metrics.ObserveStage("load", start, len(d.Points))
	l.Info("inputs_loaded", "points", len(d.Points), "districts", len(d.Districts), "parlimen", len(d.Parlimen),
		"providers", len(d.Providers), "registrations", len(d.Registrations), "warnings", len(d.Warnings))
	return d, nil
}
