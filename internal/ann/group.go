package ann

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// GroupReport：单个子组的报告；Err 非空表示该组数据不足以计算（如总权重为 0）
type GroupReport struct {
	Key    string
	Report Report
	Err    error
}

// 文档注释：按子组并行生成报告
// 背景：每个行政区独立计算，互不共享可变状态，适合数据并行。
// 约束：输出按 Key 排序，结果与 worker 数无关；单组失败记录在 GroupReport.Err，不影响其它组；
// 仅在 ctx 取消时整体返回错误。
func ByGroup(ctx context.Context, obs []Observation, keyFn func(i int) string, workers int) ([]GroupReport, error) {
	groups := map[string][]Observation{}
	for i, o := range obs {
		k := keyFn(i)
		groups[k] = append(groups[k], o)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]GroupReport, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, k := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep, err := Describe(k, groups[k])
			out[i] = GroupReport{Key: k, Report: rep, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
