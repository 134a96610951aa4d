package repository

import (
	"gorm.io/gorm"

	"panelsync/internal/models"
)

// PlanRepository handles plan database operations.
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindByID returns a plan by ID.
func (r *PlanRepository) FindByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindActive returns all sellable plans.
func (r *PlanRepository) FindActive() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("active = ?", true).Find(&plans).Error
	return plans, err
}

// Create creates a new plan.
func (r *PlanRepository) Create(plan *models.Plan) error {
	return r.db.Create(plan).Error
}
