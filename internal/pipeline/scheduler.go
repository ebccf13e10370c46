package pipeline

import (
	"context"
	"time"

	"str-access/internal/logger"
)

// nextWeekdayAt：计算下一次指定星期、指定整点的时间点（不含当前已过时的当周）
// 约束：基于 now 所在时区；仅前推至未来时间
func nextWeekdayAt(now time.Time, wd time.Weekday, hour int) time.Time {
	for i := 0; i <= 7; i++ {
		d := now.AddDate(0, 0, i)
		if d.Weekday() == wd {
			t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
			if t.After(now) {
				return t
			}
		}
	}
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
}

// StartWeekly：在马来西亚时间（Asia/Kuala_Lumpur）每周一 hour 点执行 job
// 背景：名册与登记表按周更新，服务进程内定期重跑分析；错误由日志记录，任务继续调度。
// 约束：hour < 0 时不启动；ctx 取消后退出；时区数据缺失时回退 UTC+8。
func StartWeekly(ctx context.Context, hour int, job func(ctx context.Context) error) {
	if hour < 0 {
		return
	}
	l := logger.For("scheduler")
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		loc = time.FixedZone("MYT", 8*3600)
	}
	next := nextWeekdayAt(time.Now().In(loc), time.Monday, hour)
	l.Info("refresh_scheduled", "next", next)
	go func() {
		for {
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			l.Info("refresh_start", "at", next)
			if err := job(ctx); err != nil {
				l.Error("refresh_error", "err", err)
			} else {
				l.Info("refresh_done")
			}
			next = next.AddDate(0, 0, 7)
		}
	}()
}
