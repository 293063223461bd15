package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}

func TestDailyKolkataAfterTimeOfDay(t *testing.T) {
	// 创建时刻 10:00Z 已过当天 09:00 IST，应落到次日 09:00 IST
	r := Rule{Kind: KindDaily, TimeOfDay: "09:00", Timezone: "Asia/Kolkata"}
	require.NoError(t, r.Validate())

	next, err := r.Next(mustUTC(t, "2024-01-01T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-02T03:30:00Z")))
}

func TestDailyKolkataBeforeTimeOfDay(t *testing.T) {
	// 07:30 IST 尚未到 09:00，当天即触发
	r := Rule{Kind: KindDaily, TimeOfDay: "09:00", Timezone: "Asia/Kolkata"}
	next, err := r.Next(mustUTC(t, "2024-01-01T02:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-01T03:30:00Z")))
}

func TestDailyDefaultsToMidnight(t *testing.T) {
	r := Rule{Kind: KindDaily}
	next, err := r.Next(mustUTC(t, "2024-01-01T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-02T00:00:00Z")))
}

func TestDailyPreservesWallClockAcrossDST(t *testing.T) {
	// 美东 2024-03-10 进入夏令时：跨越后 09:00 本地对应的 UTC 偏移变化
	r := Rule{Kind: KindDaily, TimeOfDay: "09:00", Timezone: "America/New_York"}

	next, err := r.Next(mustUTC(t, "2024-03-09T20:00:00Z"), time.UTC)
	require.NoError(t, err)
	// EST 09:00 是 14:00Z，EDT 09:00 是 13:00Z
	assert.True(t, next.Equal(mustUTC(t, "2024-03-10T13:00:00Z")))
}

func TestWeeklyReturnsRequestedWeekdayStrictlyAfter(t *testing.T) {
	afters := []string{
		"2024-01-01T00:00:00Z", // 周一
		"2024-03-09T15:04:05Z",
		"2024-06-30T23:59:00Z",
		"2024-12-31T12:00:00Z",
	}
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	for dow := 0; dow <= 6; dow++ {
		r := Rule{Kind: KindWeekly, DayOfWeek: intPtr(dow), TimeOfDay: "10:30", Timezone: "Asia/Kolkata"}
		require.NoError(t, r.Validate())
		for _, s := range afters {
			after := mustUTC(t, s)
			next, err := r.Next(after, time.UTC)
			require.NoError(t, err)
			assert.True(t, next.After(after), "dow=%d after=%s", dow, s)
			assert.Equal(t, time.Weekday(dow), next.In(loc).Weekday(), "dow=%d after=%s", dow, s)
			local := next.In(loc)
			assert.Equal(t, 10, local.Hour())
			assert.Equal(t, 30, local.Minute())
		}
	}
}

func TestWeeklySameDayBeforeTimeOfDay(t *testing.T) {
	// 2024-01-03 是周三；当天 08:00Z 早于 12:00，应返回当天
	r := Rule{Kind: KindWeekly, DayOfWeek: intPtr(3), TimeOfDay: "12:00"}
	next, err := r.Next(mustUTC(t, "2024-01-03T08:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-03T12:00:00Z")))
}

func TestMonthlySkipsShortMonths(t *testing.T) {
	// 1 月 31 日已过当天时刻，2 月没有 31 号，跳到 3 月 31 日而不是收敛到月末
	r := Rule{Kind: KindMonthly, DayOfMonth: intPtr(31), TimeOfDay: "09:00"}
	next, err := r.Next(mustUTC(t, "2024-01-31T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-03-31T09:00:00Z")))
}

func TestMonthlyDay31AnchoredInFebruary(t *testing.T) {
	r := Rule{Kind: KindMonthly, DayOfMonth: intPtr(31), TimeOfDay: "09:00"}
	next, err := r.Next(mustUTC(t, "2024-02-01T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	// 不早于下一个含 31 号的月份
	assert.True(t, next.Equal(mustUTC(t, "2024-03-31T09:00:00Z")))
}

func TestMonthlyRegularDay(t *testing.T) {
	r := Rule{Kind: KindMonthly, DayOfMonth: intPtr(15), TimeOfDay: "08:00"}

	next, err := r.Next(mustUTC(t, "2024-01-10T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-15T08:00:00Z")))

	next, err = r.Next(mustUTC(t, "2024-01-15T08:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-02-15T08:00:00Z")), "恰好等于触发时刻时必须严格后移")
}

func TestCalendarMonthlySameOccurrenceMath(t *testing.T) {
	// calendar_monthly 的单次计算与 monthly 相同，区别在推进时的参考点
	m := Rule{Kind: KindMonthly, DayOfMonth: intPtr(31), TimeOfDay: "09:00"}
	cm := Rule{Kind: KindCalendarMonthly, DayOfMonth: intPtr(31), TimeOfDay: "09:00"}
	after := mustUTC(t, "2024-01-01T00:00:00Z")

	a, err := m.Next(after, time.UTC)
	require.NoError(t, err)
	b, err := cm.Next(after, time.UTC)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestCronKind(t *testing.T) {
	r := Rule{Kind: KindCron, CronExpr: "0 9 * * *"}
	require.NoError(t, r.Validate())

	next, err := r.Next(mustUTC(t, "2024-01-01T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-02T09:00:00Z")))
}

func TestIrrelevantFieldsIgnored(t *testing.T) {
	// daily 带上 day_of_week/day_of_month 也不影响计算
	r := Rule{Kind: KindDaily, TimeOfDay: "09:00", DayOfWeek: intPtr(5), DayOfMonth: intPtr(31)}
	next, err := r.Next(mustUTC(t, "2024-01-01T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-02T09:00:00Z")))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"daily ok", Rule{Kind: KindDaily}, false},
		{"daily with tod", Rule{Kind: KindDaily, TimeOfDay: "23:59"}, false},
		{"weekly ok", Rule{Kind: KindWeekly, DayOfWeek: intPtr(0)}, false},
		{"weekly missing dow", Rule{Kind: KindWeekly}, true},
		{"weekly dow out of range", Rule{Kind: KindWeekly, DayOfWeek: intPtr(7)}, true},
		{"monthly ok", Rule{Kind: KindMonthly, DayOfMonth: intPtr(31)}, false},
		{"monthly missing dom", Rule{Kind: KindMonthly}, true},
		{"monthly dom zero", Rule{Kind: KindMonthly, DayOfMonth: intPtr(0)}, true},
		{"calendar_monthly ok", Rule{Kind: KindCalendarMonthly, DayOfMonth: intPtr(1)}, false},
		{"cron ok", Rule{Kind: KindCron, CronExpr: "*/5 * * * *"}, false},
		{"cron missing expr", Rule{Kind: KindCron}, true},
		{"cron bad expr", Rule{Kind: KindCron, CronExpr: "not a cron"}, true},
		{"bad time of day", Rule{Kind: KindDaily, TimeOfDay: "9am"}, true},
		{"bad timezone", Rule{Kind: KindDaily, Timezone: "Mars/Olympus"}, true},
		{"unknown kind", Rule{Kind: "yearly"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
