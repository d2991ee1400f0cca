package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB, logger *zap.Logger) repository.PlanRepository {
	return &planRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a plan with its feature limits, nil when not found
func (r *planRepository) GetByID(ctx context.Context, planID int64) (*model.Plan, error) {
	var plan model.Plan

	err := r.db.WithContext(ctx).
		Preload("FeatureLimits").
		Where("id = ?", planID).
		First(&plan).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get plan",
			zap.Int64("plan_id", planID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return &plan, nil
}

// ListByApp returns the active plans of an application
func (r *planRepository) ListByApp(ctx context.Context, appID int64) ([]*model.Plan, error) {
	var plans []*model.Plan

	err := r.db.WithContext(ctx).
		Preload("FeatureLimits").
		Where("app_id = ? AND is_active = ?", appID, true).
		Order("unit_price ASC").
		Find(&plans).Error

	if err != nil {
		r.logger.Error("Failed to list plans",
			zap.Int64("app_id", appID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	return plans, nil
}
