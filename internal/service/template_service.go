package service

import (
	"context"
	"encoding/json"

	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/repo"

	"github.com/google/uuid"
)

// TemplateService 事件模板的管理面
type TemplateService struct {
	templates *repo.TemplateStore
}

func NewTemplateService(templates *repo.TemplateStore) *TemplateService {
	return &TemplateService{templates: templates}
}

type CreateTemplateParams struct {
	OrganizationID uuid.UUID
	Name           string
	EventType      string
	Defaults       json.RawMessage
}

func (s *TemplateService) Create(ctx context.Context, p CreateTemplateParams) (*domain.EventTemplate, error) {
	defaults := p.Defaults
	if len(defaults) == 0 {
		defaults = json.RawMessage(`{}`)
	}
	t := domain.EventTemplate{
		ID:             uuid.New(),
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		EventType:      p.EventType,
		Defaults:       defaults,
	}
	if err := s.templates.Create(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TemplateService) Get(ctx context.Context, id uuid.UUID) (*domain.EventTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *TemplateService) List(ctx context.Context, orgID uuid.UUID) ([]domain.EventTemplate, error) {
	return s.templates.List(ctx, orgID)
}

func (s *TemplateService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.templates.Delete(ctx, id)
}
