package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// 投递记录的状态流转：queued → delivering → delivered / failed → dead
const (
	FiringQueued     = "queued"
	FiringDelivering = "delivering"
	FiringDelivered  = "delivered"
	FiringFailed     = "failed"
	FiringDead       = "dead"
)

// EventFiring 一次具体触发的投递记录，每次重试一条
type EventFiring struct {
	ID               uuid.UUID       `json:"id"`
	ScheduledEventID uuid.UUID       `json:"scheduled_event_id"`
	OccurredAt       time.Time       `json:"occurred_at"` // 该次触发对应的排程时刻
	Attempt          int             `json:"attempt"`
	Status           string          `json:"status"`
	WorkerID         string          `json:"worker_id"`
	Error            json.RawMessage `json:"error,omitempty"`
	StartedAt        *time.Time      `json:"started_at"`
	DeliveredAt      *time.Time      `json:"delivered_at"`
	CreatedAt        time.Time       `json:"created_at"`
}
