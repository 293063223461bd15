package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecurringEvents/internal/clock"
	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/rule"
)

type memScheduleStore struct {
	mu  sync.Mutex
	evs map[uuid.UUID]domain.ScheduledEvent
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{evs: map[uuid.UUID]domain.ScheduledEvent{}}
}

func (m *memScheduleStore) Create(ctx context.Context, ev *domain.ScheduledEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evs[ev.ID] = *ev
	return nil
}

func (m *memScheduleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.evs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := ev
	return &cp, nil
}

func (m *memScheduleStore) List(ctx context.Context, orgID uuid.UUID, enabled *bool) ([]domain.ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledEvent
	for _, ev := range m.evs {
		if ev.OrganizationID != orgID {
			continue
		}
		if enabled != nil && ev.Enabled != *enabled {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memScheduleStore) Update(ctx context.Context, ev *domain.ScheduledEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evs[ev.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.evs[ev.ID] = *ev
	return nil
}

func (m *memScheduleStore) ToggleEnabled(ctx context.Context, id uuid.UUID, enabled bool, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.evs[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ev.Enabled = enabled
	ev.UpdatedBy = updatedBy
	m.evs[id] = ev
	return nil
}

func (m *memScheduleStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.evs, id)
	return nil
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}

func newTestService(store *memScheduleStore, now time.Time) *ScheduleService {
	return NewScheduleService(store, clock.NewFake(now), time.UTC)
}

func TestCreateComputesInitialNextRun(t *testing.T) {
	store := newMemScheduleStore()
	now := mustUTC(t, "2024-01-01T10:00:00Z")
	svc := newTestService(store, now)

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		Enabled:        true,
		CreatedBy:      "alice",
	})
	require.NoError(t, err)
	require.NotNil(t, ev.NextRun)
	assert.True(t, ev.NextRun.Equal(mustUTC(t, "2024-01-02T09:00:00Z")))
	assert.True(t, ev.Enabled)

	stored, err := store.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRun.Equal(*ev.NextRun))
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	// 规则在创建边界同步拦下，非法规则不落库
	store := newMemScheduleStore()
	svc := newTestService(store, mustUTC(t, "2024-01-01T10:00:00Z"))

	_, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindWeekly}, // 缺 day_of_week
		Enabled:        true,
	})
	assert.ErrorIs(t, err, rule.ErrInvalidRule)
	assert.Empty(t, store.evs)
}

func TestCreateWindowAlreadyPastIsExhausted(t *testing.T) {
	store := newMemScheduleStore()
	now := mustUTC(t, "2024-06-01T10:00:00Z")
	svc := newTestService(store, now)

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		EndAt:          timePtr(mustUTC(t, "2024-01-01T00:00:00Z")),
		Enabled:        true,
	})
	require.NoError(t, err)
	assert.Nil(t, ev.NextRun)
	assert.False(t, ev.Enabled)
}

func TestUpdateRecomputesFromNow(t *testing.T) {
	store := newMemScheduleStore()
	now := mustUTC(t, "2024-01-10T12:00:00Z")
	svc := newTestService(store, now)

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		Enabled:        true,
	})
	require.NoError(t, err)

	// 改成 monthly 后 next_run 必须从当前时刻重算
	updated, err := svc.Update(context.Background(), ev.ID, UpdateScheduleParams{
		Rule:      &rule.Rule{Kind: rule.KindMonthly, DayOfMonth: intPtr(15), TimeOfDay: "09:00"},
		UpdatedBy: "bob",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRun)
	assert.True(t, updated.NextRun.Equal(mustUTC(t, "2024-01-15T09:00:00Z")))
	assert.Equal(t, "bob", updated.UpdatedBy)
}

func TestUpdateRejectsInvalidRule(t *testing.T) {
	store := newMemScheduleStore()
	svc := newTestService(store, mustUTC(t, "2024-01-10T12:00:00Z"))

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		Enabled:        true,
	})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), ev.ID, UpdateScheduleParams{
		Rule: &rule.Rule{Kind: rule.KindCron, CronExpr: "not a cron"},
	})
	assert.ErrorIs(t, err, rule.ErrInvalidRule)

	// 原规则保持不变
	stored, err := store.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.KindDaily, stored.Rule.Kind)
}

func TestUpdateClearEndAt(t *testing.T) {
	store := newMemScheduleStore()
	now := mustUTC(t, "2024-06-01T10:00:00Z")
	svc := newTestService(store, now)

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		EndAt:          timePtr(mustUTC(t, "2024-01-01T00:00:00Z")),
		Enabled:        true,
	})
	require.NoError(t, err)
	require.Nil(t, ev.NextRun)

	// 显式清掉窗口上限后排程恢复
	updated, err := svc.Update(context.Background(), ev.ID, UpdateScheduleParams{
		ClearEndAt: true,
		Enabled:    func() *bool { b := true; return &b }(),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.EndAt)
	require.NotNil(t, updated.NextRun)
	assert.True(t, updated.NextRun.Equal(mustUTC(t, "2024-06-02T09:00:00Z")))
	assert.True(t, updated.Enabled)
}

func TestToggleDisablePreservesNextRun(t *testing.T) {
	store := newMemScheduleStore()
	now := mustUTC(t, "2024-01-01T10:00:00Z")
	svc := newTestService(store, now)

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		Enabled:        true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Toggle(context.Background(), ev.ID, false, "carol"))

	stored, err := store.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	require.NotNil(t, stored.NextRun)
	assert.True(t, stored.NextRun.Equal(*ev.NextRun))
}

func TestToggleEnableRecomputesNextRun(t *testing.T) {
	store := newMemScheduleStore()
	now := mustUTC(t, "2024-01-01T10:00:00Z")
	clk := clock.NewFake(now)
	svc := NewScheduleService(store, clk, time.UTC)

	ev, err := svc.Create(context.Background(), CreateScheduleParams{
		OrganizationID: uuid.New(),
		TemplateID:     uuid.New(),
		Rule:           rule.Rule{Kind: rule.KindDaily, TimeOfDay: "09:00"},
		Enabled:        true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Toggle(context.Background(), ev.ID, false, "carol"))

	// 停用一周后重新启用，next_run 不应停留在过去
	clk.Advance(7 * 24 * time.Hour)
	require.NoError(t, svc.Toggle(context.Background(), ev.ID, true, "carol"))

	stored, err := store.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	require.NotNil(t, stored.NextRun)
	assert.True(t, stored.NextRun.Equal(mustUTC(t, "2024-01-09T09:00:00Z")))
}

func TestToggleMissingScheduleReturnsNotFound(t *testing.T) {
	store := newMemScheduleStore()
	svc := newTestService(store, mustUTC(t, "2024-01-01T10:00:00Z"))

	err := svc.Toggle(context.Background(), uuid.New(), true, "carol")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}
