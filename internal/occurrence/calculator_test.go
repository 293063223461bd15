package occurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/rule"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}

func dailyEvent(next time.Time) domain.ScheduledEvent {
	return domain.ScheduledEvent{
		Rule:    rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		NextRun: timePtr(next),
		Enabled: true,
	}
}

func TestIsDue(t *testing.T) {
	now := mustUTC(t, "2024-01-05T09:00:00Z")
	base := dailyEvent(now)

	cases := []struct {
		name string
		mod  func(*domain.ScheduledEvent)
		want bool
	}{
		{"exactly at next_run", func(*domain.ScheduledEvent) {}, true},
		{"past next_run", func(ev *domain.ScheduledEvent) {
			ev.NextRun = timePtr(now.Add(-time.Hour))
		}, true},
		{"future next_run", func(ev *domain.ScheduledEvent) {
			ev.NextRun = timePtr(now.Add(time.Minute))
		}, false},
		{"disabled", func(ev *domain.ScheduledEvent) { ev.Enabled = false }, false},
		{"no next_run", func(ev *domain.ScheduledEvent) { ev.NextRun = nil }, false},
		{"past end_at", func(ev *domain.ScheduledEvent) {
			ev.EndAt = timePtr(now.Add(-2 * time.Hour))
		}, false},
		{"run count exhausted", func(ev *domain.ScheduledEvent) {
			ev.MaxRuns = intPtr(3)
			ev.RunCount = 3
		}, false},
		{"run count remaining", func(ev *domain.ScheduledEvent) {
			ev.MaxRuns = intPtr(3)
			ev.RunCount = 2
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := base
			tc.mod(&ev)
			assert.Equal(t, tc.want, IsDue(ev, now))
		})
	}
}

func TestAdvanceRegular(t *testing.T) {
	fired := mustUTC(t, "2024-01-05T09:00:00Z")
	ev := dailyEvent(fired)

	upd, err := Advance(ev, fired.Add(5*time.Second), time.UTC)
	require.NoError(t, err)
	assert.True(t, upd.LastRun.Equal(fired))
	assert.Equal(t, 1, upd.RunCount)
	assert.True(t, upd.Enabled)
	require.NotNil(t, upd.NextRun)
	assert.True(t, upd.NextRun.Equal(mustUTC(t, "2024-01-06T09:00:00Z")))
}

func TestAdvanceAfterDowntimeFiresOnce(t *testing.T) {
	// 停机三天，错过的时刻只触发一次，next_run 相对 now 重算
	fired := mustUTC(t, "2024-01-02T09:00:00Z")
	ev := dailyEvent(fired)
	now := mustUTC(t, "2024-01-05T10:00:00Z")

	upd, err := Advance(ev, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, upd.RunCount)
	require.NotNil(t, upd.NextRun)
	assert.True(t, upd.NextRun.After(now))
	assert.True(t, upd.NextRun.Equal(mustUTC(t, "2024-01-06T09:00:00Z")))
}

func TestAdvanceMaxRunsReached(t *testing.T) {
	fired := mustUTC(t, "2024-01-05T09:00:00Z")
	ev := dailyEvent(fired)
	ev.MaxRuns = intPtr(1)

	upd, err := Advance(ev, fired, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, upd.RunCount)
	assert.False(t, upd.Enabled)
	assert.Nil(t, upd.NextRun)
	require.NotNil(t, upd.LastRun)
	assert.True(t, upd.LastRun.Equal(fired))
}

func TestAdvancePastEndAt(t *testing.T) {
	fired := mustUTC(t, "2024-01-05T09:00:00Z")
	ev := dailyEvent(fired)
	ev.EndAt = timePtr(mustUTC(t, "2024-01-05T12:00:00Z"))

	upd, err := Advance(ev, fired, time.UTC)
	require.NoError(t, err)
	assert.False(t, upd.Enabled)
	assert.Nil(t, upd.NextRun)
	assert.Equal(t, 1, upd.RunCount)
}

func TestAdvanceNoPendingOccurrence(t *testing.T) {
	ev := dailyEvent(time.Time{})
	ev.NextRun = nil
	_, err := Advance(ev, mustUTC(t, "2024-01-05T09:00:00Z"), time.UTC)
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestAdvanceCalendarMonthlyBackfillsCurrentMonth(t *testing.T) {
	// 1 月 15 日之后停机到 3 月 20 日：calendar_monthly 以当月月初为参考点，
	// 3 月 15 日这一次仍会补上；monthly 则直接跳到 4 月 15 日
	fired := mustUTC(t, "2024-01-15T09:00:00Z")
	now := mustUTC(t, "2024-03-20T10:00:00Z")

	cm := domain.ScheduledEvent{
		Rule:    rule.Rule{Kind: rule.KindCalendarMonthly, DayOfMonth: intPtr(15), TimeOfDay: "09:00"},
		NextRun: timePtr(fired),
		Enabled: true,
	}
	upd, err := Advance(cm, now, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, upd.NextRun)
	assert.True(t, upd.NextRun.Equal(mustUTC(t, "2024-03-15T09:00:00Z")))

	m := cm
	m.Rule.Kind = rule.KindMonthly
	upd, err = Advance(m, now, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, upd.NextRun)
	assert.True(t, upd.NextRun.Equal(mustUTC(t, "2024-04-15T09:00:00Z")))
}

func TestInitialKolkataDaily(t *testing.T) {
	ev := domain.ScheduledEvent{
		Rule: rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00", Timezone: "Asia/Kolkata"},
	}
	next, err := Initial(ev, mustUTC(t, "2024-01-01T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(mustUTC(t, "2024-01-02T03:30:00Z")))
}

func TestInitialRespectsFutureStartAt(t *testing.T) {
	ev := domain.ScheduledEvent{
		Rule:    rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		StartAt: timePtr(mustUTC(t, "2024-02-01T00:00:00Z")),
	}
	next, err := Initial(ev, mustUTC(t, "2024-01-01T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(mustUTC(t, "2024-02-01T09:00:00Z")))
}

func TestInitialOutsideWindow(t *testing.T) {
	ev := domain.ScheduledEvent{
		Rule:  rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		EndAt: timePtr(mustUTC(t, "2024-01-01T08:00:00Z")),
	}
	next, err := Initial(ev, mustUTC(t, "2024-01-01T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.Nil(t, next)
}
