package handler

import (
	"context"
	"time"

	"github.com/portfolio/internal/db"
	"github.com/portfolio/internal/service"
)

type analyticsProvider interface {
	RecordView(ctx context.Context, req service.ViewRequest) (*db.PortfolioView, error)
	GetEngagementStats(ctx context.Context, username string, rangeType service.RangeType, customStart, customEnd *time.Time) (*service.EngagementStats, error)
}

type authenticator interface {
	Authenticate(ctx context.Context, username, password string) (service.Owner, error)
	FindUserByID(ctx context.Context, id uint) (service.Owner, error)
}
