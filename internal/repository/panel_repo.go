package repository

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"panelsync/internal/models"
)

// PanelRepository handles panel database operations.
type PanelRepository struct {
	db *gorm.DB
}

func NewPanelRepository(db *gorm.DB) *PanelRepository {
	return &PanelRepository{db: db}
}

// FindByID returns a panel by ID.
func (r *PanelRepository) FindByID(id uint) (*models.Panel, error) {
	var panel models.Panel
	if err := r.db.Where("id = ?", id).First(&panel).Error; err != nil {
		return nil, err
	}
	return &panel, nil
}

// FindByStatus returns panels in the given status. The reconciliation
// engine scans active panels; the probe scans error panels.
func (r *PanelRepository) FindByStatus(status string) ([]models.Panel, error) {
	var panels []models.Panel
	err := r.db.Where("status = ?", status).Find(&panels).Error
	return panels, err
}

// FindActive returns all active panels.
func (r *PanelRepository) FindActive() ([]models.Panel, error) {
	return r.FindByStatus(models.PanelActive)
}

// Create creates a new panel.
func (r *PanelRepository) Create(panel *models.Panel) error {
	return r.db.Create(panel).Error
}

// SetStatus updates a panel's status.
func (r *PanelRepository) SetStatus(id uint, status string) error {
	return r.db.Model(&models.Panel{}).Where("id = ?", id).
		Update("status", status).Error
}

// TouchHealthCheck stamps a successful liveness probe.
func (r *PanelRepository) TouchHealthCheck(id uint) error {
	return r.db.Model(&models.Panel{}).Where("id = ?", id).
		Update("last_health_check_at", sql.NullTime{Time: time.Now(), Valid: true}).Error
}

// Update updates panel fields.
func (r *PanelRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Panel{}).Where("id = ?", id).Updates(updates).Error
}
