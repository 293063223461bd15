package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/rule"
	"RecurringEvents/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ScheduleHandler struct {
	svc *service.ScheduleService
}

func NewScheduleHandler(svc *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{svc: svc}
}

type createScheduleRequest struct {
	OrganizationID string          `json:"organization_id" binding:"required"`
	TemplateID     string          `json:"template_id" binding:"required"`
	Payload        json.RawMessage `json:"payload"`
	Rule           rule.Rule       `json:"rule" binding:"required"`
	StartAt        *time.Time      `json:"start_at"`
	EndAt          *time.Time      `json:"end_at"`
	MaxRuns        *int            `json:"max_runs"`
	Enabled        *bool           `json:"enabled"` // 可选，默认 true
	CreatedBy      string          `json:"created_by"`
}

// POST /api/v1/schedules
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
		return
	}
	tplID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template_id"})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ev, err := h.svc.Create(c.Request.Context(), service.CreateScheduleParams{
		OrganizationID: orgID,
		TemplateID:     tplID,
		Payload:        req.Payload,
		Rule:           req.Rule,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		MaxRuns:        req.MaxRuns,
		Enabled:        enabled,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		// 规则非法在边界同步拦下，不会进入调度
		if errors.Is(err, rule.ErrInvalidRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, scheduleToDTO(*ev))
}

// GET /api/v1/schedules?organization_id=...&enabled=true/false
func (h *ScheduleHandler) List(c *gin.Context) {
	orgID, err := uuid.Parse(c.Query("organization_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
		return
	}
	var enabledPtr *bool
	if v := c.Query("enabled"); v != "" {
		val := v == "true"
		enabledPtr = &val
	}
	schedules, err := h.svc.List(c.Request.Context(), orgID, enabledPtr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]scheduleDTO, 0, len(schedules))
	for _, ev := range schedules {
		out = append(out, scheduleToDTO(ev))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out, "count": len(out)})
}

// GET /api/v1/schedules/:id
func (h *ScheduleHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ev, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, scheduleToDTO(*ev))
}

type updateScheduleRequest struct {
	Payload      json.RawMessage `json:"payload"`
	Rule         *rule.Rule      `json:"rule"`
	StartAt      *time.Time      `json:"start_at"`
	EndAt        *time.Time      `json:"end_at"`
	MaxRuns      *int            `json:"max_runs"`
	Enabled      *bool           `json:"enabled"`
	UpdatedBy    string          `json:"updated_by"`
	ClearStartAt bool            `json:"clear_start_at"`
	ClearEndAt   bool            `json:"clear_end_at"`
	ClearMaxRuns bool            `json:"clear_max_runs"`
}

// PATCH /api/v1/schedules/:id
func (h *ScheduleHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req updateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.svc.Update(c.Request.Context(), id, service.UpdateScheduleParams{
		Payload:      req.Payload,
		Rule:         req.Rule,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
		MaxRuns:      req.MaxRuns,
		Enabled:      req.Enabled,
		UpdatedBy:    req.UpdatedBy,
		ClearStartAt: req.ClearStartAt,
		ClearEndAt:   req.ClearEndAt,
		ClearMaxRuns: req.ClearMaxRuns,
	})
	if err != nil {
		if errors.Is(err, rule.ErrInvalidRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, scheduleToDTO(*ev))
}

type toggleScheduleRequest struct {
	Enabled   bool   `json:"enabled"`
	UpdatedBy string `json:"updated_by"`
}

// POST /api/v1/schedules/:id/toggle
func (h *ScheduleHandler) Toggle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req toggleScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.Toggle(c.Request.Context(), id, req.Enabled, req.UpdatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "enabled": req.Enabled})
}

// DELETE /api/v1/schedules/:id
func (h *ScheduleHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String(), "deleted": true})
}

// scheduleDTO 对外展示结构；租约字段刻意不导出
type scheduleDTO struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	TemplateID     string          `json:"template_id"`
	Payload        json.RawMessage `json:"payload"`
	Rule           rule.Rule       `json:"rule"`
	StartAt        *string         `json:"start_at,omitempty"`
	EndAt          *string         `json:"end_at,omitempty"`
	NextRun        *string         `json:"next_run,omitempty"`
	LastRun        *string         `json:"last_run,omitempty"`
	RunCount       int             `json:"run_count"`
	MaxRuns        *int            `json:"max_runs,omitempty"`
	Enabled        bool            `json:"enabled"`
	CreatedBy      string          `json:"created_by,omitempty"`
	UpdatedBy      string          `json:"updated_by,omitempty"`
}

func scheduleToDTO(ev domain.ScheduledEvent) scheduleDTO {
	return scheduleDTO{
		ID:             ev.ID.String(),
		OrganizationID: ev.OrganizationID.String(),
		TemplateID:     ev.TemplateID.String(),
		Payload:        ev.Payload,
		Rule:           ev.Rule,
		StartAt:        fmtTime(ev.StartAt),
		EndAt:          fmtTime(ev.EndAt),
		NextRun:        fmtTime(ev.NextRun),
		LastRun:        fmtTime(ev.LastRun),
		RunCount:       ev.RunCount,
		MaxRuns:        ev.MaxRuns,
		Enabled:        ev.Enabled,
		CreatedBy:      ev.CreatedBy,
		UpdatedBy:      ev.UpdatedBy,
	}
}

func fmtTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
