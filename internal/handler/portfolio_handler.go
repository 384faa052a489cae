package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/portfolio/internal/service"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

type recordViewRequest struct {
	Fingerprint *string `json:"fingerprint"`
	Referer     *string `json:"referer"`
	IsOwner     *bool   `json:"isOwner"`
}

type engagementQuery struct {
	Range     string `form:"range" binding:"omitempty,rangetype"`
	StartDate string `form:"startDate" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"endDate" binding:"omitempty,datetime=2006-01-02"`
}

// RecordPortfolioView records a page load of a public portfolio. The body is optional.
func (a *API) RecordPortfolioView(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))

	var req recordViewRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, "invalid view payload") {
			return
		}
	}

	// 会话用户访问自己的作品集时，无论客户端如何声明都按拥有者访问处理。
	isOwner := req.IsOwner != nil && *req.IsOwner
	if current := sessionUsername(c); current != "" && current == username {
		isOwner = true
	}

	view, err := a.analytics.RecordView(c.Request.Context(), service.ViewRequest{
		OwnerUsername: username,
		Fingerprint:   req.Fingerprint,
		Referer:       req.Referer,
		IsOwner:       isOwner,
		Request:       requestContext(c),
	})
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			respondError(c, http.StatusNotFound, "portfolio not found")
			return
		}
		c.Error(err)
		logrus.WithError(err).WithField("username", username).Error("failed to record portfolio view")
		respondError(c, http.StatusInternalServerError, "failed to record view")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": view != nil})
}

// GetEngagementStats returns visitor statistics of a portfolio for a named or custom range.
func (a *API) GetEngagementStats(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))
	if owner, ok := c.Get(ownerContextKey); ok && owner.(service.Owner).Username != username {
		respondError(c, http.StatusForbidden, "statistics are only visible to the portfolio owner")
		return
	}

	var query engagementQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, http.StatusBadRequest, "invalid range parameters")
		return
	}

	rangeType, err := service.ParseRangeType(query.Range)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid range type")
		return
	}

	customStart := parseDate(query.StartDate)
	customEnd := parseDate(query.EndDate)

	stats, err := a.analytics.GetEngagementStats(c.Request.Context(), username, rangeType, customStart, customEnd)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusNotFound, "portfolio not found")
		case errors.Is(err, service.ErrCustomRangeIncomplete):
			respondError(c, http.StatusBadRequest, "startDate and endDate are required for a custom range")
		case errors.Is(err, service.ErrInvalidRange), errors.Is(err, service.ErrInvalidRangeType):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			c.Error(err)
			respondError(c, http.StatusGatewayTimeout, "statistics query timed out")
		default:
			c.Error(err)
			logrus.WithError(err).WithField("username", username).Error("failed to compute engagement stats")
			respondError(c, http.StatusInternalServerError, "failed to load statistics")
		}
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return nil
	}
	return &t
}
