package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventTemplate 事件模板：派发时其默认负载与 ScheduledEvent.Payload 合并
type EventTemplate struct {
	ID             uuid.UUID       `json:"id"`              // 唯一标识
	OrganizationID uuid.UUID       `json:"organization_id"` // 租户
	Name           string          `json:"name"`            // 模板名称
	EventType      string          `json:"event_type"`      // 下游事件类型，例如 journal_entry
	Defaults       json.RawMessage `json:"defaults"`        // 默认负载
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
