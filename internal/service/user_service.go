package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/portfolio/internal/db"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const (
	ownerCacheKeyPrefix = "portfolio:owner:"
	defaultOwnerTTL     = 10 * time.Minute
)

// Owner 是统计引擎需要的最小用户信息。
type Owner struct {
	ID       uint
	Username string
}

// UserService 提供按用户名/ID 查找作品集拥有者的能力。
type UserService struct {
	db       *gorm.DB
	cache    *cache.Cache
	cacheTTL time.Duration
}

// NewUserService returns a UserService that always reads through to the database.
func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb, cacheTTL: defaultOwnerTTL}
}

// NewOwnerCache 创建用户名查找缓存：始终带进程内 TinyLFU，rdb 非空时再叠加 Redis。
func NewOwnerCache(rdb *redis.Client) *cache.Cache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(1000, time.Minute),
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	return cache.New(opts)
}

// WithCache 为用户名查找启用缓存，未找到的结果不会被缓存。
func (s *UserService) WithCache(c *cache.Cache, ttl time.Duration) *UserService {
	s.cache = c
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

// FindUserByUsername 按用户名查找拥有者。
func (s *UserService) FindUserByUsername(ctx context.Context, username string) (Owner, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return Owner{}, ErrUserNotFound
	}

	if s.cache == nil {
		return s.loadByUsername(ctx, name)
	}

	var owner Owner
	err := s.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   ownerCacheKeyPrefix + name,
		Value: &owner,
		TTL:   s.cacheTTL,
		Do: func(*cache.Item) (interface{}, error) {
			return s.loadByUsername(ctx, name)
		},
	})
	if err != nil {
		return Owner{}, err
	}
	return owner, nil
}

// FindUserByID 按 ID 查找拥有者。
func (s *UserService) FindUserByID(ctx context.Context, id uint) (Owner, error) {
	if id == 0 {
		return Owner{}, ErrUserNotFound
	}

	var user db.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Owner{}, ErrUserNotFound
		}
		return Owner{}, err
	}
	return Owner{ID: user.ID, Username: user.Username}, nil
}

// Authenticate 校验用户名和 bcrypt 密码。
func (s *UserService) Authenticate(ctx context.Context, username, password string) (Owner, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Owner{}, ErrInvalidCredentials
		}
		return Owner{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return Owner{}, ErrInvalidCredentials
	}

	return Owner{ID: user.ID, Username: user.Username}, nil
}

func (s *UserService) loadByUsername(ctx context.Context, username string) (Owner, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Owner{}, ErrUserNotFound
		}
		return Owner{}, err
	}
	return Owner{ID: user.ID, Username: user.Username}, nil
}
