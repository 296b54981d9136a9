package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the console process.
// All values come from env, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Backend   BackendConfig
	Auth      AuthConfig
	Worktime  WorktimeConfig
	Redis     RedisConfig
	DB        DBConfig
	Holidays  HolidaysConfig
	Telephony TelephonyConfig
	Console   ConsoleConfig
	Log       LogConfig
}

type AppConfig struct {
	Env  string
	Port int
	// Timezone is the IANA zone of the agents' business calendar.
	Timezone string
	Location *time.Location
}

type BackendConfig struct {
	URL   string
	Token string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

const (
	WorktimeStoreBolt   = "bolt"
	WorktimeStoreRedis  = "redis"
	WorktimeStoreMemory = "memory"
)

type WorktimeConfig struct {
	Store            string
	DBPath           string
	AutosaveInterval time.Duration
}

// RedisConfig is optional unless the redis worktime store is selected.
// When set, it also backs the single-console lease.
type RedisConfig struct {
	Host string
	Port int
}

// DBConfig is optional. When DB_HOST is set, holidays are read from the
// holidays table and audit events go to console_events.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type HolidaysConfig struct {
	File string
}

type TelephonyConfig struct {
	// SignalingURL enables the peer-audio transport.
	SignalingURL string
	STUNURLs     []string
	// StatusToken authenticates provider status callbacks of bridge calls.
	StatusToken string
}

type ConsoleConfig struct {
	AutoAdvanceDelay     time.Duration
	CallbackPollInterval time.Duration
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// LoadEnvFile seeds the environment from path. A missing file is not an error;
// variables already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = collect(parseErrs)(mustInt("APP_PORT"))
	c.App.Timezone = strings.TrimSpace(os.Getenv("TIMEZONE"))

	c.Backend.URL = strings.TrimSpace(os.Getenv("BACKEND_URL"))
	c.Backend.Token = os.Getenv("BACKEND_TOKEN")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = collectDuration(parseErrs)(optDuration("JWT_ACCESS_TTL"))
	c.Auth.RefreshTokenTTL, parseErrs = collectDuration(parseErrs)(optDuration("JWT_REFRESH_TTL"))

	c.Worktime.Store = strings.TrimSpace(os.Getenv("WORKTIME_STORE"))
	c.Worktime.DBPath = strings.TrimSpace(os.Getenv("WORKTIME_DB_PATH"))
	c.Worktime.AutosaveInterval, parseErrs = collectDuration(parseErrs)(optDuration("WORKTIME_AUTOSAVE_INTERVAL"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = collect(parseErrs)(optInt("REDIS_PORT", 6379))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = collect(parseErrs)(optInt("DB_PORT", 5432))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Holidays.File = strings.TrimSpace(os.Getenv("HOLIDAYS_FILE"))

	c.Telephony.SignalingURL = strings.TrimSpace(os.Getenv("SIGNALING_URL"))
	c.Telephony.STUNURLs = splitList(os.Getenv("STUN_URLS"))
	c.Telephony.StatusToken = os.Getenv("CONSOLE_STATUS_TOKEN")

	c.Console.AutoAdvanceDelay, parseErrs = collectDuration(parseErrs)(optDuration("AUTO_ADVANCE_DELAY"))
	c.Console.CallbackPollInterval, parseErrs = collectDuration(parseErrs)(optDuration("CALLBACK_POLL_INTERVAL"))

	c.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
	c.Log.MaxSizeMB, parseErrs = collect(parseErrs)(optInt("LOG_MAX_SIZE_MB", 0))
	c.Log.MaxBackups, parseErrs = collect(parseErrs)(optInt("LOG_MAX_BACKUPS", 0))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Local"
	}
	if loc, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE must be an IANA zone, got %q", c.App.Timezone))
	} else {
		c.App.Location = loc
	}

	if c.Backend.URL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	} else if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an http(s) URL, got %q", c.Backend.URL))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Telephony.StatusToken == "" {
			errs = append(errs, errors.New("CONSOLE_STATUS_TOKEN is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Worktime.Store == "" {
		c.Worktime.Store = WorktimeStoreBolt
	}
	switch c.Worktime.Store {
	case WorktimeStoreBolt:
		if c.Worktime.DBPath == "" {
			c.Worktime.DBPath = "worktime.db"
		}
	case WorktimeStoreRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when WORKTIME_STORE=redis"))
		}
	case WorktimeStoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("WORKTIME_STORE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("WORKTIME_STORE must be one of bolt, redis, memory, got %q", c.Worktime.Store))
	}
	if c.Worktime.AutosaveInterval <= 0 {
		c.Worktime.AutosaveInterval = 30 * time.Second
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.DB.Host != "" {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if len(c.Telephony.STUNURLs) == 0 {
		c.Telephony.STUNURLs = []string{"stun:stun.l.google.com:19302"}
	}
	for _, u := range c.Telephony.STUNURLs {
		if !strings.HasPrefix(u, "stun:") {
			errs = append(errs, fmt.Errorf("STUN_URLS accepts stun: URLs only, got %q", u))
		}
	}

	if c.Console.AutoAdvanceDelay <= 0 {
		c.Console.AutoAdvanceDelay = 3 * time.Second
	}
	if c.Console.CallbackPollInterval <= 0 {
		c.Console.CallbackPollInterval = 60 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// HasPostgres reports whether the optional database is configured.
func (c Config) HasPostgres() bool { return c.DB.Host != "" }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) HasRedis() bool { return c.Redis.Host != "" }

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

// optDuration returns 0 when key is unset; defaults are applied in Validate.
func optDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 3s or 1m, got %q", key, v)
	}
	return d, nil
}

func collect(errs []error) func(int, error) (int, []error) {
	return func(n int, err error) (int, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func collectDuration(errs []error) func(time.Duration, error) (time.Duration, []error) {
	return func(d time.Duration, err error) (time.Duration, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return d, errs
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
