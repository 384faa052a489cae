package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/portfolio/internal/db"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultViewDedupWindow = 30 * time.Minute
	defaultTopN            = 10
	defaultQueryTimeout    = 10 * time.Second

	// 超长的来源地址按字符截断后保存
	maxRefererLength = 2048
)

// OwnerDirectory 是统计引擎依赖的用户目录。
type OwnerDirectory interface {
	FindUserByUsername(ctx context.Context, username string) (Owner, error)
}

// AnalyticsService 负责作品集浏览的记录、去重与统计。
type AnalyticsService struct {
	db           *gorm.DB
	users        OwnerDirectory
	locker       ViewLocker
	now          func() time.Time
	location     *time.Location
	dedupWindow  time.Duration
	queryTimeout time.Duration
	topN         int
}

// NewAnalyticsService 创建 AnalyticsService，默认去重窗口为 30 分钟，不加去重锁。
func NewAnalyticsService(gdb *gorm.DB, users OwnerDirectory) *AnalyticsService {
	return &AnalyticsService{
		db:           gdb,
		users:        users,
		locker:       noopViewLocker{},
		now:          time.Now,
		location:     time.Local,
		dedupWindow:  defaultViewDedupWindow,
		queryTimeout: defaultQueryTimeout,
		topN:         defaultTopN,
	}
}

// WithDedupWindow 允许在测试或特定场景下调整去重窗口。
func (s *AnalyticsService) WithDedupWindow(d time.Duration) *AnalyticsService {
	if d <= 0 {
		return s
	}
	s.dedupWindow = d
	return s
}

// WithLocker 设置去重检查与写入之间使用的锁。
func (s *AnalyticsService) WithLocker(l ViewLocker) *AnalyticsService {
	if l != nil {
		s.locker = l
	}
	return s
}

// WithClock replaces the time source, mainly for tests.
func (s *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithLocation 设置区间换算与按天分组所用的时区。
func (s *AnalyticsService) WithLocation(loc *time.Location) *AnalyticsService {
	if loc != nil {
		s.location = loc
	}
	return s
}

func (s *AnalyticsService) WithTopN(n int) *AnalyticsService {
	if n > 0 {
		s.topN = n
	}
	return s
}

func (s *AnalyticsService) WithQueryTimeout(d time.Duration) *AnalyticsService {
	if d > 0 {
		s.queryTimeout = d
	}
	return s
}

// RequestContext carries the read-only request signals used to describe a visitor.
type RequestContext struct {
	ForwardedFor []string
	RemoteAddr   string
	UserAgent    string
	Referer      string
}

// ViewRequest 描述一次作品集页面访问。
type ViewRequest struct {
	OwnerUsername string
	Fingerprint   *string
	Referer       *string
	IsOwner       bool
	Request       RequestContext
}

// RecordView 记录一次访问。拥有者自己的访问总是写入；访客在去重窗口内的重复访问被忽略，
// 此时返回 nil, nil。只有拥有者不存在或存储失败才会返回错误。
func (s *AnalyticsService) RecordView(ctx context.Context, req ViewRequest) (*db.PortfolioView, error) {
	owner, err := s.users.FindUserByUsername(ctx, req.OwnerUsername)
	if err != nil {
		return nil, err
	}

	identity := NewIdentity(ResolveClientIP(req.Request.ForwardedFor, req.Request.RemoteAddr), req.Fingerprint)

	referer := normalizeOptional(req.Referer)
	if referer == nil {
		referer = normalizeOptional(&req.Request.Referer)
	}
	referer = truncateOptional(referer, maxRefererLength)

	view := db.PortfolioView{
		OwnerUserID: owner.ID,
		IPAddress:   identity.IP,
		Fingerprint: identity.Fingerprint,
		UserAgent:   verbatimOptional(req.Request.UserAgent),
		Referer:     referer,
		IsOwner:     req.IsOwner,
	}

	if req.IsOwner {
		return s.insert(ctx, &view)
	}

	if !identity.Deduplicable() {
		// 无法识别访客时照常写入，宁可多计也不丢统计。
		return s.insert(ctx, &view)
	}

	release, err := s.locker.Lock(ctx, owner.ID, identity)
	if err != nil {
		logrus.WithError(err).WithField("owner_id", owner.ID).Warn("view lock unavailable, recording without it")
		release = func() {}
	}
	defer release()

	boundary := s.now().UTC().Add(-s.dedupWindow)
	recent, err := s.hasRecentVisit(ctx, owner.ID, identity, boundary)
	if err != nil {
		return nil, err
	}
	if recent {
		logrus.WithFields(logrus.Fields{
			"owner_id": owner.ID,
			"identity": identity.Hash()[:12],
		}).Debug("duplicate portfolio view suppressed")
		return nil, nil
	}

	return s.insert(ctx, &view)
}

func (s *AnalyticsService) insert(ctx context.Context, view *db.PortfolioView) (*db.PortfolioView, error) {
	view.CreatedAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Create(view).Error; err != nil {
		return nil, err
	}
	return view, nil
}

// hasRecentVisit 查找窗口内与任一已知身份部分匹配的访客记录。
func (s *AnalyticsService) hasRecentVisit(ctx context.Context, ownerID uint, identity Identity, boundary time.Time) (bool, error) {
	conds := make([]string, 0, 2)
	args := make([]interface{}, 0, 2)
	if identity.IP != nil {
		conds = append(conds, "ip_address = ?")
		args = append(args, *identity.IP)
	}
	if identity.Fingerprint != nil {
		conds = append(conds, "fingerprint = ?")
		args = append(args, *identity.Fingerprint)
	}

	var existing db.PortfolioView
	err := s.db.WithContext(ctx).
		Select("id").
		Where("owner_user_id = ? AND is_owner = ? AND created_at >= ?", ownerID, false, boundary).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Take(&existing).Error

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

func verbatimOptional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func truncateOptional(value *string, limit int) *string {
	if value == nil || len(*value) <= limit {
		return value
	}
	runes := []rune(*value)
	if len(runes) <= limit {
		return value
	}
	truncated := string(runes[:limit])
	return &truncated
}
