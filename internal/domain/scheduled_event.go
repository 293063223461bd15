package domain

import (
	"encoding/json"
	"time"

	"RecurringEvents/internal/rule"

	"github.com/google/uuid"
)

// ScheduledEvent 周期性事件的持久化记录：规则 + 生命周期字段 + 调度进度
type ScheduledEvent struct {
	ID             uuid.UUID       `json:"id"`              // 唯一标识
	OrganizationID uuid.UUID       `json:"organization_id"` // 租户
	TemplateID     uuid.UUID       `json:"template_id"`     // 关联的事件模板
	Payload        json.RawMessage `json:"payload"`         // 不透明负载，核心不解析其内容
	Rule           rule.Rule       `json:"rule"`            // 周期规则
	StartAt        *time.Time      `json:"start_at"`        // 窗口下限（含），nil 表示不限
	EndAt          *time.Time      `json:"end_at"`          // 窗口上限（含），nil 表示不限
	NextRun        *time.Time      `json:"next_run"`        // 下次触发时刻，nil 表示未排程或已耗尽
	LastRun        *time.Time      `json:"last_run"`        // 上次触发时刻
	RunCount       int             `json:"run_count"`       // 已触发次数
	MaxRuns        *int            `json:"max_runs"`        // 触发次数上限，nil 表示不限
	Enabled        bool            `json:"enabled"`         // 停用的记录不参与派发，但保留 next_run
	LeaseOwner     *string         `json:"-"`               // 租约持有者，仅调度循环内部使用
	LeaseExpiresAt *time.Time      `json:"-"`               // 租约过期时刻
	CreatedBy      string          `json:"created_by"`
	UpdatedBy      string          `json:"updated_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
