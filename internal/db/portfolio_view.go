package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PortfolioView 记录一次作品集页面访问。记录只追加，不更新也不删除。
type PortfolioView struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerUserID uint      `gorm:"not null;index:idx_portfolio_views_owner_window,priority:1" json:"ownerUserId"`
	IPAddress   *string   `gorm:"size:45" json:"ipAddress,omitempty"`
	Fingerprint *string   `gorm:"size:255" json:"fingerprint,omitempty"`
	UserAgent   *string   `gorm:"type:text" json:"userAgent,omitempty"`
	Referer     *string   `gorm:"type:text" json:"referer,omitempty"`
	IsOwner     bool      `gorm:"not null;default:false;index:idx_portfolio_views_owner_window,priority:2" json:"isOwner"`
	Country     *string   `gorm:"size:100" json:"country,omitempty"`
	City        *string   `gorm:"size:100" json:"city,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index:idx_portfolio_views_owner_window,priority:3" json:"createdAt"`
}

// TableName 指定自定义表名。
func (PortfolioView) TableName() string {
	return "portfolio_views"
}

// BeforeCreate assigns a random id when the caller left it empty.
func (v *PortfolioView) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}
