package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/portfolio/internal/db"
	"gorm.io/gorm"
)

const dayLayout = "2006-01-02"

// EngagementStats 是一个区间内的访客统计，不包含拥有者自己的访问（OwnerViews 除外）。
type EngagementStats struct {
	TotalViews     int64         `json:"totalViews"`
	UniqueVisitors int64         `json:"uniqueVisitors"`
	OwnerViews     int64         `json:"ownerViews"`
	DailyStats     []DailyStat   `json:"dailyStats"`
	TopCountries   []CountryStat `json:"topCountries"`
	TopReferers    []RefererStat `json:"topReferers"`
}

// DailyStat 描述单日的浏览量与独立访客数。
type DailyStat struct {
	Date           string `json:"date"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

type CountryStat struct {
	Country string `json:"country" gorm:"column:country"`
	Count   int64  `json:"count" gorm:"column:total"`
}

type RefererStat struct {
	Referer string `json:"referer" gorm:"column:referer"`
	Count   int64  `json:"count" gorm:"column:total"`
}

type identityRow struct {
	IP          string `gorm:"column:ip"`
	Fingerprint string `gorm:"column:fp"`
}

type datedIdentityRow struct {
	CreatedAt   time.Time `gorm:"column:created_at"`
	IP          string    `gorm:"column:ip"`
	Fingerprint string    `gorm:"column:fp"`
}

// GetEngagementStats 查找拥有者、换算区间，再计算统计。拥有者不存在时不会发出任何统计查询。
func (s *AnalyticsService) GetEngagementStats(ctx context.Context, username string, rangeType RangeType, customStart, customEnd *time.Time) (*EngagementStats, error) {
	owner, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	r, err := ResolveRange(s.now().In(s.location), rangeType, s.calendarDate(customStart), s.calendarDate(customEnd))
	if err != nil {
		return nil, err
	}

	return s.ComputeStats(ctx, owner.ID, r)
}

// ComputeStats 在同一个区间、同一组过滤条件下执行全部统计查询；任一查询失败则整体失败。
func (s *AnalyticsService) ComputeStats(ctx context.Context, ownerID uint, r DateRange) (*EngagementStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start, end := r.Start.UTC(), r.End.UTC()
	visitorViews := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&db.PortfolioView{}).
			Where("owner_user_id = ? AND is_owner = ? AND created_at >= ? AND created_at <= ?", ownerID, false, start, end)
	}

	stats := &EngagementStats{}

	if err := visitorViews().Count(&stats.TotalViews).Error; err != nil {
		return nil, fmt.Errorf("count views: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&db.PortfolioView{}).
		Where("owner_user_id = ? AND is_owner = ? AND created_at >= ? AND created_at <= ?", ownerID, true, start, end).
		Count(&stats.OwnerViews).Error; err != nil {
		return nil, fmt.Errorf("count owner views: %w", err)
	}

	var identities []identityRow
	if err := visitorViews().
		Select("DISTINCT COALESCE(ip_address, '') AS ip, COALESCE(fingerprint, '') AS fp").
		Scan(&identities).Error; err != nil {
		return nil, fmt.Errorf("load visitor identities: %w", err)
	}
	unique := make(map[string]struct{}, len(identities))
	for _, row := range identities {
		unique[identityKey(row.IP, row.Fingerprint)] = struct{}{}
	}
	stats.UniqueVisitors = int64(len(unique))

	daily, err := s.dailyStats(visitorViews)
	if err != nil {
		return nil, err
	}
	stats.DailyStats = daily

	stats.TopCountries = make([]CountryStat, 0, s.topN)
	if err := visitorViews().
		Select("country, COUNT(*) AS total").
		Where("country IS NOT NULL AND country <> ''").
		Group("country").
		Order("total DESC, country ASC").
		Limit(s.topN).
		Scan(&stats.TopCountries).Error; err != nil {
		return nil, fmt.Errorf("top countries: %w", err)
	}

	stats.TopReferers = make([]RefererStat, 0, s.topN)
	if err := visitorViews().
		Select("referer, COUNT(*) AS total").
		Where("referer IS NOT NULL AND referer <> ''").
		Group("referer").
		Order("total DESC, referer ASC").
		Limit(s.topN).
		Scan(&stats.TopReferers).Error; err != nil {
		return nil, fmt.Errorf("top referers: %w", err)
	}

	if stats.TopCountries == nil {
		stats.TopCountries = []CountryStat{}
	}
	if stats.TopReferers == nil {
		stats.TopReferers = []RefererStat{}
	}
	return stats, nil
}

// dailyStats 分两次扫描：一次按天计浏览量，一次按天收集访客身份集合，最后按日期合并。
func (s *AnalyticsService) dailyStats(visitorViews func() *gorm.DB) ([]DailyStat, error) {
	var createdAts []time.Time
	if err := visitorViews().Pluck("created_at", &createdAts).Error; err != nil {
		return nil, fmt.Errorf("load daily views: %w", err)
	}
	views := make(map[string]int64)
	for _, t := range createdAts {
		views[t.In(s.location).Format(dayLayout)]++
	}

	var rows []datedIdentityRow
	if err := visitorViews().
		Select("created_at, COALESCE(ip_address, '') AS ip, COALESCE(fingerprint, '') AS fp").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load daily identities: %w", err)
	}
	visitors := make(map[string]map[string]struct{})
	for _, row := range rows {
		day := row.CreatedAt.In(s.location).Format(dayLayout)
		if visitors[day] == nil {
			visitors[day] = make(map[string]struct{})
		}
		visitors[day][identityKey(row.IP, row.Fingerprint)] = struct{}{}
	}

	days := make([]string, 0, len(views))
	for day := range views {
		days = append(days, day)
	}
	sort.Strings(days)

	result := make([]DailyStat, 0, len(days))
	for _, day := range days {
		result = append(result, DailyStat{
			Date:           day,
			Views:          views[day],
			UniqueVisitors: int64(len(visitors[day])),
		})
	}
	return result, nil
}

// calendarDate 保留日期部分并放到统计时区，避免 UTC 午夜被换算到前一天。
func (s *AnalyticsService) calendarDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.location)
	return &d
}
