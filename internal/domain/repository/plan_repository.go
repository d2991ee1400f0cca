package repository

import (
	"context"

	"github.com/billforge/billing/internal/domain/model"
)

type PlanRepository interface {
	GetByID(ctx context.Context, planID int64) (*model.Plan, error)
	ListByApp(ctx context.Context, appID int64) ([]*model.Plan, error)
}
