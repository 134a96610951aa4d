package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"panelsync/internal/models"
)

// Migrate ensures required tables exist.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Plan{},
		&models.Panel{},
		&models.VpnAccount{},
		&models.WalletTransaction{},
	}
}
