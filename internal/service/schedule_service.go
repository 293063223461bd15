package service

import (
	"context"
	"encoding/json"
	"time"

	"RecurringEvents/internal/clock"
	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/occurrence"
	"RecurringEvents/internal/rule"

	"github.com/google/uuid"
)

// scheduleStore 管理面对存储的依赖（repo.ScheduleStore 实现）
type scheduleStore interface {
	Create(ctx context.Context, ev *domain.ScheduledEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledEvent, error)
	List(ctx context.Context, orgID uuid.UUID, enabled *bool) ([]domain.ScheduledEvent, error)
	Update(ctx context.Context, ev *domain.ScheduledEvent) error
	ToggleEnabled(ctx context.Context, id uuid.UUID, enabled bool, updatedBy string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ScheduleService 周期事件的管理面：规则在这里同步校验，
// next_run 永远由 occurrence 计算，从不手写
type ScheduleService struct {
	schedules  scheduleStore
	clk        clock.Clock
	defaultLoc *time.Location
}

func NewScheduleService(schedules scheduleStore, clk clock.Clock, defaultLoc *time.Location) *ScheduleService {
	if clk == nil {
		clk = clock.Real{}
	}
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &ScheduleService{schedules: schedules, clk: clk, defaultLoc: defaultLoc}
}

type CreateScheduleParams struct {
	OrganizationID uuid.UUID
	TemplateID     uuid.UUID
	Payload        json.RawMessage
	Rule           rule.Rule
	StartAt        *time.Time
	EndAt          *time.Time
	MaxRuns        *int
	Enabled        bool
	CreatedBy      string
}

// Create 校验规则并立即计算首个 next_run；首个时刻落在窗口外时
// 记录直接进入耗尽态
func (s *ScheduleService) Create(ctx context.Context, p CreateScheduleParams) (*domain.ScheduledEvent, error) {
	if err := p.Rule.Validate(); err != nil {
		return nil, err
	}
	payload := p.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	ev := domain.ScheduledEvent{
		ID:             uuid.New(),
		OrganizationID: p.OrganizationID,
		TemplateID:     p.TemplateID,
		Payload:        payload,
		Rule:           p.Rule,
		StartAt:        p.StartAt,
		EndAt:          p.EndAt,
		MaxRuns:        p.MaxRuns,
		Enabled:        p.Enabled,
		CreatedBy:      p.CreatedBy,
		UpdatedBy:      p.CreatedBy,
	}
	next, err := occurrence.Initial(ev, s.clk.Now(), s.defaultLoc)
	if err != nil {
		return nil, err
	}
	ev.NextRun = next
	if next == nil {
		ev.Enabled = false
	}
	if err := s.schedules.Create(ctx, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

type UpdateScheduleParams struct {
	Payload   json.RawMessage
	Rule      *rule.Rule
	StartAt   *time.Time
	EndAt     *time.Time
	MaxRuns   *int
	Enabled   *bool
	UpdatedBy string
	// ClearEndAt/ClearMaxRuns 区分“未提供”与“显式清空”
	ClearStartAt bool
	ClearEndAt   bool
	ClearMaxRuns bool
}

// Update 用户编辑规则/窗口/负载，强制从当前时刻重算 next_run
func (s *ScheduleService) Update(ctx context.Context, id uuid.UUID, p UpdateScheduleParams) (*domain.ScheduledEvent, error) {
	ev, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Rule != nil {
		if err := p.Rule.Validate(); err != nil {
			return nil, err
		}
		ev.Rule = *p.Rule
	}
	if len(p.Payload) > 0 {
		ev.Payload = p.Payload
	}
	if p.StartAt != nil {
		ev.StartAt = p.StartAt
	} else if p.ClearStartAt {
		ev.StartAt = nil
	}
	if p.EndAt != nil {
		ev.EndAt = p.EndAt
	} else if p.ClearEndAt {
		ev.EndAt = nil
	}
	if p.MaxRuns != nil {
		ev.MaxRuns = p.MaxRuns
	} else if p.ClearMaxRuns {
		ev.MaxRuns = nil
	}
	if p.Enabled != nil {
		ev.Enabled = *p.Enabled
	}
	ev.UpdatedBy = p.UpdatedBy

	next, err := occurrence.Initial(*ev, s.clk.Now(), s.defaultLoc)
	if err != nil {
		return nil, err
	}
	ev.NextRun = next
	if next == nil {
		ev.Enabled = false
	}
	if err := s.schedules.Update(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *ScheduleService) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledEvent, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *ScheduleService) List(ctx context.Context, orgID uuid.UUID, enabled *bool) ([]domain.ScheduledEvent, error) {
	return s.schedules.List(ctx, orgID, enabled)
}

// Toggle 启停；停用保留 next_run，重新启用时从当前时刻重算
func (s *ScheduleService) Toggle(ctx context.Context, id uuid.UUID, enabled bool, updatedBy string) error {
	if !enabled {
		return s.schedules.ToggleEnabled(ctx, id, false, updatedBy)
	}
	ev, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ev.Enabled = true
	next, err := occurrence.Initial(*ev, s.clk.Now(), s.defaultLoc)
	if err != nil {
		return err
	}
	ev.NextRun = next
	if next == nil {
		ev.Enabled = false
	}
	ev.UpdatedBy = updatedBy
	return s.schedules.Update(ctx, ev)
}

// Delete 硬删除；飞行中的派发在提交时发现记录已不在而自然丢弃
func (s *ScheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Delete(ctx, id)
}
