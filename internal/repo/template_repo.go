package repo

import (
	"context"

	"RecurringEvents/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TemplateStore event_templates 表的读写
type TemplateStore struct {
	db *pgxpool.Pool
}

func NewTemplateStore(db *pgxpool.Pool) *TemplateStore {
	return &TemplateStore{db: db}
}

// Create 插入一条事件模板
func (s *TemplateStore) Create(ctx context.Context, t *domain.EventTemplate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_templates (id, organization_id, name, event_type, defaults, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, t.ID, t.OrganizationID, t.Name, t.EventType, t.Defaults)
	return err
}

// GetByID 根据 ID 查询模板
func (s *TemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EventTemplate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, organization_id, name, event_type, defaults, created_at, updated_at
		FROM event_templates
		WHERE id = $1
	`, id)
	var t domain.EventTemplate
	if err := row.Scan(
		&t.ID, &t.OrganizationID, &t.Name, &t.EventType, &t.Defaults,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// List 按租户列出模板
func (s *TemplateStore) List(ctx context.Context, orgID uuid.UUID) ([]domain.EventTemplate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, organization_id, name, event_type, defaults, created_at, updated_at
		FROM event_templates
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.EventTemplate
	for rows.Next() {
		var t domain.EventTemplate
		if err := rows.Scan(
			&t.ID, &t.OrganizationID, &t.Name, &t.EventType, &t.Defaults,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// Delete 删除模板
func (s *TemplateStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM event_templates WHERE id = $1`, id)
	return err
}
