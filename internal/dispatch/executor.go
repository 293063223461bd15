// Package dispatch 对一次到期触发执行副作用：解析事件模板、合并负载、
// 把投递消息交给下游。本包只做一次投递尝试，不去重也不重试——
// 去重靠调度循环的租约协议，重试靠下次轮询与投递侧的退避。
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/queue"
	"RecurringEvents/internal/repo"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message 投递给下游的消息体；payload 为模板默认值与排程负载的合并结果
type Message struct {
	FiringID         uuid.UUID       `json:"firing_id"`
	ScheduledEventID uuid.UUID       `json:"scheduled_event_id"`
	TemplateID       uuid.UUID       `json:"template_id"`
	OrganizationID   uuid.UUID       `json:"organization_id"`
	EventType        string          `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Attempt          int             `json:"attempt"`
	MaxAttempts      int             `json:"max_attempts"`
}

// Executor 派发执行器
type Executor struct {
	templates   *repo.TemplateStore
	firings     *repo.FiringStore
	rdb         *redis.Client
	queueName   string
	maxAttempts int
}

func NewExecutor(templates *repo.TemplateStore, firings *repo.FiringStore, rdb *redis.Client, queueName string, maxAttempts int) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{
		templates:   templates,
		firings:     firings,
		rdb:         rdb,
		queueName:   queueName,
		maxAttempts: maxAttempts,
	}
}

// Dispatch 为一次到期触发生成投递记录并入队，恰好一次投递尝试。
// 超时与取消由 ctx 控制，任何错误都视为本次派发失败，由调用方决定重试。
func (e *Executor) Dispatch(ctx context.Context, ev domain.ScheduledEvent, occurredAt time.Time) error {
	tpl, err := e.templates.GetByID(ctx, ev.TemplateID)
	if err != nil {
		return fmt.Errorf("resolve template %s: %w", ev.TemplateID, err)
	}

	firing := domain.EventFiring{
		ID:               uuid.New(),
		ScheduledEventID: ev.ID,
		OccurredAt:       occurredAt,
		Attempt:          1,
		Status:           domain.FiringQueued,
	}
	if err := e.firings.Insert(ctx, &firing); err != nil {
		return fmt.Errorf("insert firing: %w", err)
	}

	msg := BuildMessage(tpl, ev, firing, e.maxAttempts)
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := queue.EnqueueReady(ctx, e.rdb, e.queueName, string(b)); err != nil {
		return fmt.Errorf("enqueue delivery: %w", err)
	}
	return nil
}

// BuildMessage 由模板、排程与投递记录构造下游消息（reaper 重建消息时复用）
func BuildMessage(tpl *domain.EventTemplate, ev domain.ScheduledEvent, firing domain.EventFiring, maxAttempts int) Message {
	return Message{
		FiringID:         firing.ID,
		ScheduledEventID: ev.ID,
		TemplateID:       tpl.ID,
		OrganizationID:   ev.OrganizationID,
		EventType:        tpl.EventType,
		Payload:          MergePayload(tpl.Defaults, ev.Payload),
		OccurredAt:       firing.OccurredAt,
		Attempt:          firing.Attempt,
		MaxAttempts:      maxAttempts,
	}
}

// MergePayload 浅合并：排程负载的顶层键覆盖模板默认值。
// 任一侧不是 JSON 对象时不尝试合并，排程负载原样透传。
func MergePayload(defaults, payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return defaults
	}
	var over map[string]json.RawMessage
	if err := json.Unmarshal(payload, &over); err != nil {
		return payload
	}
	var base map[string]json.RawMessage
	if len(defaults) == 0 || json.Unmarshal(defaults, &base) != nil {
		return payload
	}
	merged := make(map[string]json.RawMessage, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	b, _ := json.Marshal(merged)
	return b
}
