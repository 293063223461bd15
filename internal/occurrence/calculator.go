// Package occurrence 判断一条 ScheduledEvent 是否到期，并计算触发后的
// 完整下一状态元组。调度循环只整体提交该元组，从不单独改写其中一部分，
// 避免 run_count 与 next_run 之间出现漂移。
package occurrence

import (
	"errors"
	"time"

	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/rule"
)

// ErrNotScheduled 记录没有待触发时刻，无法推进
var ErrNotScheduled = errors.New("scheduled event has no pending occurrence")

// Update 一次触发后的完整状态变更，由 Advance 原子地产出
type Update struct {
	LastRun  *time.Time
	NextRun  *time.Time // nil 表示排程耗尽
	RunCount int
	Enabled  bool
}

// IsDue 到期判定：启用、存在 next_run 且不晚于 now、未越过 end_at、未达次数上限
func IsDue(ev domain.ScheduledEvent, now time.Time) bool {
	if !ev.Enabled || ev.NextRun == nil {
		return false
	}
	if ev.NextRun.After(now) {
		return false
	}
	if ev.EndAt != nil && ev.NextRun.After(*ev.EndAt) {
		return false
	}
	if ev.MaxRuns != nil && ev.RunCount >= *ev.MaxRuns {
		return false
	}
	return true
}

// Advance 消费当前 next_run 并计算下一状态。
//
// 漏触发策略：调度停机期间错过多个时刻时，仅触发最迟的那一个，之后
// 相对 now 重新计算 next_run，不做积压回放。calendar_monthly 例外：
// 其参考点取当前日历月的边界，停机跨月后当月的时刻仍会补触发一次。
func Advance(ev domain.ScheduledEvent, now time.Time, def *time.Location) (Update, error) {
	if ev.NextRun == nil {
		return Update{}, ErrNotScheduled
	}
	fired := *ev.NextRun
	upd := Update{
		LastRun:  &fired,
		RunCount: ev.RunCount + 1,
		Enabled:  true,
	}

	if ev.MaxRuns != nil && upd.RunCount >= *ev.MaxRuns {
		upd.Enabled = false
		return upd, nil
	}

	ref := fired
	if now.After(ref) {
		ref = now
	}
	if ev.Rule.Kind == rule.KindCalendarMonthly {
		loc, err := ev.Rule.Location(def)
		if err != nil {
			return Update{}, err
		}
		som := startOfMonth(now, loc)
		ref = fired
		if som.After(ref) {
			ref = som
		}
	}

	next, err := ev.Rule.Next(ref, def)
	if err != nil {
		return Update{}, err
	}
	if ev.EndAt != nil && next.After(*ev.EndAt) {
		// 越过窗口即耗尽，不做收敛
		upd.Enabled = false
		return upd, nil
	}
	upd.NextRun = &next
	return upd, nil
}

// Initial 创建或编辑后的首个 next_run，自 max(now, start_at) 起算；
// 落在窗口之外返回 nil，视为排程耗尽
func Initial(ev domain.ScheduledEvent, now time.Time, def *time.Location) (*time.Time, error) {
	after := now
	if ev.StartAt != nil && ev.StartAt.After(now) {
		after = *ev.StartAt
	}
	next, err := ev.Rule.Next(after, def)
	if err != nil {
		return nil, err
	}
	if ev.EndAt != nil && next.After(*ev.EndAt) {
		return nil, nil
	}
	return &next, nil
}

func startOfMonth(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}
