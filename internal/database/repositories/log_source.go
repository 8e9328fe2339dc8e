package repositories

import (
	"errors"

	"mediasentry/internal/database/models"

	"gorm.io/gorm"
)

type LogSourceRepository interface {
	Create(source *models.LogSource) error
	CreateIfMissing(source *models.LogSource) (bool, error)
	FindByName(name string) (*models.LogSource, error)
	FindAll() ([]*models.LogSource, error)
	FindEnabled() ([]*models.LogSource, error)
	Update(source *models.LogSource) error
}

type logSourceRepo struct {
	db *gorm.DB
}

func NewLogSourceRepository(db *gorm.DB) LogSourceRepository {
	return &logSourceRepo{db: db}
}

func (r *logSourceRepo) Create(source *models.LogSource) error {
	return r.db.Create(source).Error
}

// CreateIfMissing inserts a detector-seeded source unless one with the same
// name already exists. Existing rows win so user edits survive restarts.
func (r *logSourceRepo) CreateIfMissing(source *models.LogSource) (bool, error) {
	var existing models.LogSource
	err := r.db.Where("name = ?", source.Name).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := r.db.Create(source).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *logSourceRepo) FindByName(name string) (*models.LogSource, error) {
	var source models.LogSource
	err := r.db.Where("name = ?", name).First(&source).Error
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *logSourceRepo) FindAll() ([]*models.LogSource, error) {
	var sources []*models.LogSource
	err := r.db.Find(&sources).Error
	return sources, err
}

func (r *logSourceRepo) FindEnabled() ([]*models.LogSource, error) {
	var sources []*models.LogSource
	err := r.db.Where("enabled = ?", true).Find(&sources).Error
	return sources, err
}

func (r *logSourceRepo) Update(source *models.LogSource) error {
	return r.db.Save(source).Error
}
