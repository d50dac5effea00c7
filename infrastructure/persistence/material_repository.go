package persistence

import (
	"context"
	"time"

	"social-publisher/domain/repository"

	"gorm.io/gorm"
)

// Material is the generated media row shared with the material service.
type Material struct {
	ID        string `gorm:"primaryKey;size:128"`
	UserID    string `gorm:"size:128;index"`
	IsDraft   bool
	UseCount  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Material) TableName() string { return "materials" }

type MaterialRepository struct{ db *gorm.DB }

func NewMaterialRepository(db *gorm.DB) *MaterialRepository { return &MaterialRepository{db: db} }

var _ repository.IMaterial = (*MaterialRepository)(nil)

func (r *MaterialRepository) DeleteDraft(ctx context.Context, materialID string) error {
	return r.db.WithContext(ctx).Where("id = ? AND is_draft = ?", materialID, true).Delete(&Material{}).Error
}

func (r *MaterialRepository) IncrementUse(ctx context.Context, materialID string) error {
	return r.db.WithContext(ctx).Model(&Material{}).Where("id = ?", materialID).
		UpdateColumn("use_count", gorm.Expr("use_count + ?", 1)).Error
}
