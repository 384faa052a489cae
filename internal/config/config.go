package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "configs/config.yaml"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Log       LogConfig       `yaml:"log"`

	SuperRootUserName string `yaml:"super_root_user_name"`
	SuperRootPassword string `yaml:"super_root_password"`
}

type ServerConfig struct {
	ListenAddr    string   `yaml:"listen_addr"`
	Port          string   `yaml:"port"`
	GinMode       string   `yaml:"gin_mode"`
	SessionSecret string   `yaml:"session_secret"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// DatabaseConfig 选择驱动；sqlite 使用 Path，其余驱动使用 DSN。
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig 为空 Addr 时不启用 Redis，锁与缓存退化为进程内实现。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type AnalyticsConfig struct {
	DedupWindow  time.Duration `yaml:"dedup_window"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	TopN         int           `yaml:"top_n"`
	Timezone     string        `yaml:"timezone"`
}

// Location 返回统计按天分组所用的时区，无法解析时回退到本地时区。
func (c AnalyticsConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load 先读取可选的 YAML 配置文件，再用环境变量覆盖，最后为缺失项提供默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case explicit || !os.IsNotExist(err):
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.overrideFromEnv()
	cfg.setDefaults()
	return cfg, nil
}

func (c *AppConfig) overrideFromEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
	setString(&c.Server.GinMode, "GIN_MODE")
	setString(&c.Server.SessionSecret, "SESSION_SECRET")
	if val := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); val != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(val, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		c.Server.CORSOrigins = origins
	}

	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.Path, "DATABASE_PATH")
	setString(&c.Database.DSN, "DATABASE_DSN")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if val := strings.TrimSpace(os.Getenv("REDIS_DB")); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Redis.DB = n
		}
	}

	setDuration(&c.Analytics.DedupWindow, "ANALYTICS_DEDUP_WINDOW")
	setDuration(&c.Analytics.QueryTimeout, "ANALYTICS_QUERY_TIMEOUT")
	setDuration(&c.Analytics.LockTTL, "ANALYTICS_LOCK_TTL")
	setString(&c.Analytics.Timezone, "ANALYTICS_TIMEZONE")
	if val := strings.TrimSpace(os.Getenv("ANALYTICS_TOP_N")); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Analytics.TopN = n
		}
	}

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")

	setString(&c.SuperRootUserName, "SUPER_ROOT_USER_NAME")
	setString(&c.SuperRootPassword, "SUPER_ROOT_PASSWORD")
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = fmt.Sprintf(":%s", c.Server.Port)
	}
	if c.Server.GinMode == "" {
		c.Server.GinMode = "release"
	}
	if c.Server.SessionSecret == "" {
		c.Server.SessionSecret = "portfolio-dev-secret"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "portfolio.db"
	}

	if c.Analytics.DedupWindow <= 0 {
		c.Analytics.DedupWindow = 30 * time.Minute
	}
	if c.Analytics.QueryTimeout <= 0 {
		c.Analytics.QueryTimeout = 10 * time.Second
	}
	if c.Analytics.LockTTL <= 0 {
		c.Analytics.LockTTL = 5 * time.Second
	}
	if c.Analytics.TopN <= 0 {
		c.Analytics.TopN = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 30
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setDuration(dst *time.Duration, key string) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*dst = d
	}
}
