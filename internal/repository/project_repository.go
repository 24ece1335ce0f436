package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"product-atlas/internal/model"
)

// ProjectRepository 接口定义了项目数据的持久化操作。
type ProjectRepository interface {
	Create(ctx context.Context, name, description string) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	FindByID(ctx context.Context, id string) (*model.Project, error)
	Update(ctx context.Context, id, name, description string) (*model.Project, error)
	Delete(ctx context.Context, id string) error
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, name, description string) (*model.Project, error) {
	p := &model.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// List 按创建时间倒序返回全部项目。
func (r *projectRepository) List(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

func (r *projectRepository) FindByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) Update(ctx context.Context, id, name, description string) (*model.Project, error) {
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = name
	p.Description = description
	if err := r.db.WithContext(ctx).Model(p).Updates(map[string]any{"name": name, "description": description}).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// Delete 只删除项目本身，其下会话保留原有 project_id。
func (r *projectRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Project{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
