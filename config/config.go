package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks for the config file when no path is given.
var DefaultPath = filepath.Join("config", "config.json")

// AppConfig holds file and environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	GinMode            string
	GinPath            string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// JWT
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	// Database: driver is "mysql" or "sqlite"
	DBDriver       string
	DatabaseURI    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	SQLitePath     string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBLogLevel     string
	// Redis for cache, task queue and token blacklist
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// First superuser, created at boot when all three are set
	AdminEmail    string
	AdminUsername string
	AdminPassword string
	// Scraper
	ScrapeMode             string
	ChromeBin              string
	BrowserRemoteURL       string
	ScrapeSettleTimeoutSec int
	ScrapeUserAgent        string
	// Scheduler and worker
	SchedulerEnabled     bool
	SchedulerTimezone    string
	ScrapeCron           string
	CacheRefreshCron     string
	WorkerConcurrency    int
	TaskMaxRetries       int
	TaskTimeLimitSec     int
	TaskSoftTimeLimitSec int
	RetryBackoffBaseMs   int
	RetryBackoffMaxSec   int
	// Analytics
	PoolOpenHour             int
	PoolCloseHour            int
	AnalyticsCacheTTLSeconds int
}

// Load builds the application configuration. Precedence: .env -> config file -> defaults -> environment variable overrides.
// An empty path means DefaultPath; a missing file is not an error.
func Load(path string) (AppConfig, error) {
	cfg := AppConfig{SchedulerEnabled: true}

	// .env is optional; variables already exported win.
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		path = v
	}
	if err := loadConfigFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}

	if cfg.JWTSecret == "" {
		return cfg, errors.New("JWT_SECRET must be set in the config file or environment")
	}
	if cfg.PoolOpenHour < 0 || cfg.PoolCloseHour > 23 || cfg.PoolOpenHour > cfg.PoolCloseHour {
		return cfg, fmt.Errorf("invalid pool hours [%d, %d]", cfg.PoolOpenHour, cfg.PoolCloseHour)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadConfigFile reads a JSON or YAML file into cfg if present. Returns error only for invalid content.
func loadConfigFile(path string, out *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil // silently ignore missing file
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	applyRaw(raw, out)
	return nil
}

// Helpers to read string/int/bool safely from decoded JSON or YAML.
func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case json.Number:
			i, _ := t.Int64()
			return int(i)
		}
	}
	return 0
}

func getBool(m map[string]any, key string) (bool, bool) {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

func getStringSlice(m map[string]any, key string) []string {
	if v, ok := m[key]; ok {
		if arr, ok := v.([]any); ok {
			res := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := it.(string); ok {
					res = append(res, s)
				}
			}
			return res
		}
	}
	return nil
}

func section(raw map[string]any, name string) map[string]any {
	if m, ok := raw[name].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// applyRaw maps grouped sections onto cfg; flat top-level keys are accepted for the app section.
func applyRaw(raw map[string]any, out *AppConfig) {
	app := section(raw, "app")
	if len(app) == 0 {
		app = raw
	}
	out.AppPort = getString(app, "AppPort")
	out.GinMode = getString(app, "GinMode")
	out.GinPath = getString(app, "GinPath")
	out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
	out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")

	jwtSec := section(raw, "jwt")
	out.JWTSecret = getString(jwtSec, "Secret")
	if out.JWTSecret == "" {
		out.JWTSecret = getString(app, "JWTSecret")
	}
	out.AccessTokenTTLMinutes = getInt(jwtSec, "AccessTokenTTLMinutes")
	out.RefreshTokenTTLDays = getInt(jwtSec, "RefreshTokenTTLDays")

	db := section(raw, "database")
	out.DBDriver = getString(db, "Driver")
	out.DatabaseURI = getString(db, "DatabaseURI")
	out.DBHost = getString(db, "Host")
	out.DBPort = getString(db, "Port")
	out.DBUser = getString(db, "User")
	out.DBPassword = getString(db, "Password")
	out.DBName = getString(db, "Name")
	out.SQLitePath = getString(db, "SQLitePath")
	out.DBMaxOpenConns = getInt(db, "MaxOpenConns")
	out.DBMaxIdleConns = getInt(db, "MaxIdleConns")
	out.DBLogLevel = getString(db, "LogLevel")

	rds := section(raw, "redis")
	out.RedisHost = getString(rds, "Host")
	out.RedisPort = getInt(rds, "Port")
	out.RedisDB = getInt(rds, "DB")
	out.RedisPassword = getString(rds, "Password")

	lg := section(raw, "log")
	out.LogLevel = getString(lg, "Level")
	out.LogPath = getString(lg, "Path")
	out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
	out.LogMaxBackups = getInt(lg, "MaxBackups")
	out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
	out.LogCompress, _ = getBool(lg, "Compress")

	adm := section(raw, "admin")
	out.AdminEmail = getString(adm, "Email")
	out.AdminUsername = getString(adm, "Username")
	out.AdminPassword = getString(adm, "Password")

	sc := section(raw, "scraper")
	out.ScrapeMode = getString(sc, "Mode")
	out.ChromeBin = getString(sc, "ChromeBin")
	out.BrowserRemoteURL = getString(sc, "RemoteURL")
	out.ScrapeSettleTimeoutSec = getInt(sc, "SettleTimeoutSec")
	out.ScrapeUserAgent = getString(sc, "UserAgent")

	sch := section(raw, "scheduler")
	if v, ok := getBool(sch, "Enabled"); ok {
		out.SchedulerEnabled = v
	}
	out.SchedulerTimezone = getString(sch, "Timezone")
	out.ScrapeCron = getString(sch, "ScrapeCron")
	out.CacheRefreshCron = getString(sch, "CacheRefreshCron")
	out.WorkerConcurrency = getInt(sch, "WorkerConcurrency")
	out.TaskMaxRetries = getInt(sch, "MaxRetries")
	out.TaskTimeLimitSec = getInt(sch, "TimeLimitSec")
	out.TaskSoftTimeLimitSec = getInt(sch, "SoftTimeLimitSec")
	out.RetryBackoffBaseMs = getInt(sch, "BackoffBaseMs")
	out.RetryBackoffMaxSec = getInt(sch, "BackoffMaxSec")

	an := section(raw, "analytics")
	out.PoolOpenHour = getInt(an, "PoolOpenHour")
	out.PoolCloseHour = getInt(an, "PoolCloseHour")
	out.AnalyticsCacheTTLSeconds = getInt(an, "CacheTTLSeconds")
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8000"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.AccessTokenTTLMinutes == 0 {
		c.AccessTokenTTLMinutes = 30
	}
	if c.RefreshTokenTTLDays == 0 {
		c.RefreshTokenTTLDays = 7
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "poolchecker"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "poolchecker.db"
	}
	if c.DBMaxOpenConns == 0 {
		c.DBMaxOpenConns = 20
	}
	if c.DBMaxIdleConns == 0 {
		c.DBMaxIdleConns = 5
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DBLogLevel == "" {
		c.DBLogLevel = c.LogLevel
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.ScrapeMode == "" {
		c.ScrapeMode = "browser"
	}
	if c.ScrapeSettleTimeoutSec == 0 {
		c.ScrapeSettleTimeoutSec = 10
	}
	if c.SchedulerTimezone == "" {
		c.SchedulerTimezone = "CET"
	}
	if c.ScrapeCron == "" {
		c.ScrapeCron = "*/10 * * * *"
	}
	if c.CacheRefreshCron == "" {
		c.CacheRefreshCron = "0 3 * * *"
	}
	if c.WorkerConcurrency == 0 {
		c.WorkerConcurrency = 2
	}
	if c.TaskMaxRetries == 0 {
		c.TaskMaxRetries = 3
	}
	if c.TaskTimeLimitSec == 0 {
		c.TaskTimeLimitSec = 300
	}
	if c.TaskSoftTimeLimitSec == 0 {
		c.TaskSoftTimeLimitSec = 240
	}
	if c.RetryBackoffBaseMs == 0 {
		c.RetryBackoffBaseMs = 1000
	}
	if c.RetryBackoffMaxSec == 0 {
		c.RetryBackoffMaxSec = 600
	}
	if c.PoolOpenHour == 0 && c.PoolCloseHour == 0 {
		c.PoolOpenHour = 6
		c.PoolCloseHour = 22
	}
	if c.AnalyticsCacheTTLSeconds == 0 {
		c.AnalyticsCacheTTLSeconds = 600
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) error {
	var firstErr error
	setInt := func(key string, dst *int) {
		v := getEnv(key, "")
		if v == "" {
			return
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid integer value %s for %s: %w", v, key, err)
			}
			return
		}
		*dst = i
	}
	setString := func(key string, dst *string) {
		if v := getEnv(key, ""); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := getEnv(key, ""); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	setString("APP_PORT", &c.AppPort)
	setString("GIN_MODE", &c.GinMode)
	setString("GIN_PATH", &c.GinPath)
	setInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}

	setString("JWT_SECRET", &c.JWTSecret)
	setInt("ACCESS_TOKEN_EXPIRE_MINUTES", &c.AccessTokenTTLMinutes)
	setInt("REFRESH_TOKEN_EXPIRE_DAYS", &c.RefreshTokenTTLDays)

	setString("DB_DRIVER", &c.DBDriver)
	setString("DATABASE_URL", &c.DatabaseURI)
	setString("DB_HOST", &c.DBHost)
	setString("DB_PORT", &c.DBPort)
	setString("DB_USER", &c.DBUser)
	setString("DB_PASSWORD", &c.DBPassword)
	setString("DB_NAME", &c.DBName)
	setString("SQLITE_PATH", &c.SQLitePath)
	setString("DB_LOG_LEVEL", &c.DBLogLevel)

	setString("REDIS_HOST", &c.RedisHost)
	setInt("REDIS_PORT", &c.RedisPort)
	setInt("REDIS_DB", &c.RedisDB)
	setString("REDIS_PASSWORD", &c.RedisPassword)

	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_PATH", &c.LogPath)
	setInt("LOG_MAX_SIZE_MB", &c.LogMaxSizeMB)
	setInt("LOG_MAX_BACKUPS", &c.LogMaxBackups)
	setInt("LOG_MAX_AGE_DAYS", &c.LogMaxAgeDays)
	setBool("LOG_COMPRESS", &c.LogCompress)

	setString("FIRST_SUPERUSER_EMAIL", &c.AdminEmail)
	setString("FIRST_SUPERUSER_USERNAME", &c.AdminUsername)
	setString("FIRST_SUPERUSER_PASSWORD", &c.AdminPassword)

	setString("SCRAPE_MODE", &c.ScrapeMode)
	setString("CHROME_BIN", &c.ChromeBin)
	setString("BROWSER_REMOTE_URL", &c.BrowserRemoteURL)
	setInt("SCRAPE_SETTLE_TIMEOUT_SEC", &c.ScrapeSettleTimeoutSec)
	setString("SCRAPE_USER_AGENT", &c.ScrapeUserAgent)

	setBool("SCHEDULER_ENABLED", &c.SchedulerEnabled)
	setString("SCHEDULER_TIMEZONE", &c.SchedulerTimezone)
	setString("SCRAPE_CRON", &c.ScrapeCron)
	setString("CACHE_REFRESH_CRON", &c.CacheRefreshCron)
	setInt("WORKER_CONCURRENCY", &c.WorkerConcurrency)
	setInt("TASK_MAX_RETRIES", &c.TaskMaxRetries)
	setInt("TASK_TIME_LIMIT_SEC", &c.TaskTimeLimitSec)
	setInt("TASK_SOFT_TIME_LIMIT_SEC", &c.TaskSoftTimeLimitSec)
	setInt("RETRY_BACKOFF_BASE_MS", &c.RetryBackoffBaseMs)
	setInt("RETRY_BACKOFF_MAX_SEC", &c.RetryBackoffMaxSec)

	setInt("POOL_OPEN_HOUR", &c.PoolOpenHour)
	setInt("POOL_CLOSE_HOUR", &c.PoolCloseHour)
	setInt("ANALYTICS_CACHE_TTL_SECONDS", &c.AnalyticsCacheTTLSeconds)

	return firstErr
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
