package database

import (
	"fmt"

	"mediasentry/internal/database/models"

	"gorm.io/gorm"
)

// RunMigrations creates or updates the schema for all tracked models.
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.LogSource{},
		&models.FileState{},
		&models.Issue{},
		&models.IssueOccurrence{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}
