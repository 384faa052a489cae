package handler

import (
	"github.com/portfolio/internal/service"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	analytics analyticsProvider
	users     authenticator
}

// NewAPI constructs a handler set with shared services.
func NewAPI(analytics *service.AnalyticsService, users *service.UserService) *API {
	registerValidators()

	return &API{
		analytics: analytics,
		users:     users,
	}
}
