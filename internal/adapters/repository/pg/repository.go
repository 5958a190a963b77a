package pg

import (
	"context"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crewfleet.hub/internal/core/domain"
)

// Repository persists the lifecycle action audit trail.
type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return NewRepositoryFromDB(db)
}

// NewRepositoryFromDB migrates the audit table on an existing connection.
func NewRepositoryFromDB(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&domain.ActionAudit{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) RecordAction(ctx context.Context, entry *domain.ActionAudit) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListActions returns the newest entries for agentID first.
func (r *Repository) ListActions(ctx context.Context, agentID string, limit int) ([]*domain.ActionAudit, error) {
	var entries []*domain.ActionAudit
	if err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at desc").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// DB returns the underlying gorm DB instance
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
