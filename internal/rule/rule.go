// Package rule 定义周期规则（daily/weekly/monthly/calendar_monthly/cron）
// 及其下一次触发时刻的计算。纯值类型，不做任何 I/O。
package rule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind 周期类型
type Kind string

const (
	KindDaily           Kind = "daily"
	KindWeekly          Kind = "weekly"
	KindMonthly         Kind = "monthly"
	KindCalendarMonthly Kind = "calendar_monthly"
	KindCron            Kind = "cron"
)

// ErrInvalidRule 规则定义非法或内部不一致；在创建/更新边界同步校验，
// 派发阶段不再出现
var ErrInvalidRule = errors.New("invalid recurrence rule")

// cronParser 标准五段 cron，外加 @every 等描述符
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Rule 描述一条周期规则。与 Kind 无关的字段即使被填充也会被计算忽略。
type Rule struct {
	Kind       Kind   `json:"kind"`
	TimeOfDay  string `json:"time_of_day,omitempty"`  // HH:MM，按 Timezone 解释，缺省 00:00
	DayOfWeek  *int   `json:"day_of_week,omitempty"`  // 0-6，仅 weekly
	DayOfMonth *int   `json:"day_of_month,omitempty"` // 1-31，仅 monthly/calendar_monthly
	Timezone   string `json:"timezone,omitempty"`     // IANA 时区，缺省使用系统配置时区
	CronExpr   string `json:"cron_expr,omitempty"`    // 仅 cron
}

// Validate 校验规则的完整性：Kind 所需字段齐备、时刻格式与时区合法
func (r Rule) Validate() error {
	switch r.Kind {
	case KindDaily:
	case KindWeekly:
		if r.DayOfWeek == nil {
			return fmt.Errorf("%w: day_of_week is required for weekly", ErrInvalidRule)
		}
		if *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return fmt.Errorf("%w: day_of_week must be 0-6, got %d", ErrInvalidRule, *r.DayOfWeek)
		}
	case KindMonthly, KindCalendarMonthly:
		if r.DayOfMonth == nil {
			return fmt.Errorf("%w: day_of_month is required for %s", ErrInvalidRule, r.Kind)
		}
		if *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month must be 1-31, got %d", ErrInvalidRule, *r.DayOfMonth)
		}
	case KindCron:
		if r.CronExpr == "" {
			return fmt.Errorf("%w: cron_expr is required for cron", ErrInvalidRule)
		}
		if _, err := cronParser.Parse(r.CronExpr); err != nil {
			return fmt.Errorf("%w: bad cron_expr: %v", ErrInvalidRule, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}

	if _, _, err := r.timeOfDay(); err != nil {
		return err
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, r.Timezone)
		}
	}
	return nil
}

// Location 解析规则时区，为空时退回 def
func (r Rule) Location(def *time.Location) (*time.Location, error) {
	if r.Timezone == "" {
		if def == nil {
			return time.UTC, nil
		}
		return def, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, r.Timezone)
	}
	return loc, nil
}

func (r Rule) timeOfDay() (hour, minute int, err error) {
	if r.TimeOfDay == "" {
		return 0, 0, nil
	}
	t, perr := time.Parse("15:04", r.TimeOfDay)
	if perr != nil {
		return 0, 0, fmt.Errorf("%w: time_of_day must be HH:MM, got %q", ErrInvalidRule, r.TimeOfDay)
	}
	return t.Hour(), t.Minute(), nil
}

// Next 返回严格晚于 after 且满足规则的最小时刻。计算在规则时区内按
// 日历单位推进，再转换回绝对时刻，保证夏令时切换时本地挂钟时间不变。
func (r Rule) Next(after time.Time, def *time.Location) (time.Time, error) {
	loc, err := r.Location(def)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := r.timeOfDay()
	if err != nil {
		return time.Time{}, err
	}
	local := after.In(loc)

	switch r.Kind {
	case KindDaily:
		cand := at(local, hour, minute, loc)
		if !cand.After(after) {
			cand = at(local.AddDate(0, 0, 1), hour, minute, loc)
		}
		return cand, nil

	case KindWeekly:
		if r.DayOfWeek == nil {
			return time.Time{}, fmt.Errorf("%w: day_of_week is required for weekly", ErrInvalidRule)
		}
		// after 若恰为目标 weekday 且早于 time_of_day，当天即为答案
		for i := 0; i < 8; i++ {
			day := local.AddDate(0, 0, i)
			if int(day.Weekday()) != *r.DayOfWeek {
				continue
			}
			cand := at(day, hour, minute, loc)
			if cand.After(after) {
				return cand, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: no weekly occurrence found", ErrInvalidRule)

	case KindMonthly, KindCalendarMonthly:
		if r.DayOfMonth == nil {
			return time.Time{}, fmt.Errorf("%w: day_of_month is required for %s", ErrInvalidRule, r.Kind)
		}
		dom := *r.DayOfMonth
		year, month, _ := local.Date()
		// 短月不收敛到月末，直接跳到下一个包含该日的月份
		for i := 0; i < 48; i++ {
			first := time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, i, 0)
			if daysIn(first.Year(), first.Month()) < dom {
				continue
			}
			cand := time.Date(first.Year(), first.Month(), dom, hour, minute, 0, 0, loc)
			if cand.After(after) {
				return cand, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: no monthly occurrence found", ErrInvalidRule)

	case KindCron:
		sched, perr := cronParser.Parse(r.CronExpr)
		if perr != nil {
			return time.Time{}, fmt.Errorf("%w: bad cron_expr: %v", ErrInvalidRule, perr)
		}
		return sched.Next(local), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
}

// at 取 day 的日期部分与给定挂钟时间在 loc 内组合
func at(day time.Time, hour, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}

// daysIn 某年某月的天数
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
