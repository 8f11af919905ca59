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

// Config holds all configuration required by the API process.
// Values come from the environment. When ENV_FILE is set, that file is
// loaded first; variables already present in the environment win.
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Store      StoreConfig
	Engagement EngagementConfig
	Refresh    RefreshConfig
	Webhooks   WebhooksConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// CallbackSecret authenticates the OAuth completion webhook.
	CallbackSecret string
}

// StoreConfig bounds calls to the table store.
type StoreConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Migrate creates missing tables on startup.
	Migrate bool
}

// EngagementConfig carries the lead classification constants. Phase ids are
// opaque ids from the external pipeline.
type EngagementConfig struct {
	EnrolledPhaseID     string
	DroppedPhaseID      string
	OverdueAfter        time.Duration
	MaxScheduleAhead    time.Duration
	ReadyToBookPhaseIDs []string
}

type RefreshConfig struct {
	Interval       time.Duration
	SessionIdleTTL time.Duration
	PageSize       int
	StatsCacheTTL  time.Duration
	// ReconcileInterval defaults to Interval.
	ReconcileInterval time.Duration
}

type WebhooksConfig struct {
	SummaryURL string
	Timeout    time.Duration
}

func Load() (Config, error) {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("ENV_FILE %q: %w", path, err)
		}
	}

	c := Config{}
	var parseErrs []error
	intVar := func(dst *int, key string, required bool) {
		n, err := parseInt(key, required)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = n
	}
	durVar := func(dst *time.Duration, key string) {
		d, err := parseDuration(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = d
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	intVar(&c.App.Port, "APP_PORT", true)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	intVar(&c.DB.Port, "DB_PORT", true)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	intVar(&c.Redis.Port, "REDIS_PORT", true)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	durVar(&c.Auth.AccessTokenTTL, "JWT_ACCESS_TTL")
	durVar(&c.Auth.RefreshTokenTTL, "JWT_REFRESH_TTL")
	c.Auth.CallbackSecret = os.Getenv("AUTH_CALLBACK_SECRET")

	durVar(&c.Store.ReadTimeout, "STORE_READ_TIMEOUT")
	durVar(&c.Store.WriteTimeout, "STORE_WRITE_TIMEOUT")
	c.Store.Migrate = strings.EqualFold(strings.TrimSpace(os.Getenv("STORE_MIGRATE")), "true")

	c.Engagement.EnrolledPhaseID = strings.TrimSpace(os.Getenv("ENROLLED_PHASE_ID"))
	c.Engagement.DroppedPhaseID = strings.TrimSpace(os.Getenv("DROPPED_PHASE_ID"))
	durVar(&c.Engagement.OverdueAfter, "OVERDUE_AFTER")
	durVar(&c.Engagement.MaxScheduleAhead, "MAX_SCHEDULE_AHEAD")
	c.Engagement.ReadyToBookPhaseIDs = splitList(os.Getenv("READY_TO_BOOK_PHASE_IDS"))

	durVar(&c.Refresh.Interval, "REFRESH_INTERVAL")
	durVar(&c.Refresh.SessionIdleTTL, "SESSION_IDLE_TTL")
	intVar(&c.Refresh.PageSize, "REFRESH_PAGE_SIZE", false)
	durVar(&c.Refresh.StatsCacheTTL, "STATS_CACHE_TTL")
	durVar(&c.Refresh.ReconcileInterval, "RECONCILE_INTERVAL")

	c.Webhooks.SummaryURL = strings.TrimSpace(os.Getenv("SUMMARY_WEBHOOK_URL"))
	durVar(&c.Webhooks.Timeout, "WEBHOOK_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills defaults in place.
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

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
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
		if c.Auth.CallbackSecret == "" {
			errs = append(errs, errors.New("AUTH_CALLBACK_SECRET is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Store.ReadTimeout <= 0 {
		c.Store.ReadTimeout = 5 * time.Second
	}
	if c.Store.WriteTimeout <= 0 {
		c.Store.WriteTimeout = 5 * time.Second
	}

	if c.Engagement.EnrolledPhaseID == "" {
		errs = append(errs, errors.New("ENROLLED_PHASE_ID is required"))
	}
	if c.Engagement.DroppedPhaseID == "" {
		errs = append(errs, errors.New("DROPPED_PHASE_ID is required"))
	}
	if c.Engagement.EnrolledPhaseID != "" && c.Engagement.EnrolledPhaseID == c.Engagement.DroppedPhaseID {
		errs = append(errs, errors.New("ENROLLED_PHASE_ID and DROPPED_PHASE_ID must differ"))
	}
	if c.Engagement.OverdueAfter <= 0 {
		c.Engagement.OverdueAfter = 48 * time.Hour
	}
	if c.Engagement.MaxScheduleAhead <= 0 {
		c.Engagement.MaxScheduleAhead = 30 * 24 * time.Hour
	}

	if c.Refresh.Interval <= 0 {
		c.Refresh.Interval = 180 * time.Second
	}
	if c.Refresh.Interval < time.Second {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be at least 1s, got %s", c.Refresh.Interval))
	}
	if c.Refresh.SessionIdleTTL <= 0 {
		c.Refresh.SessionIdleTTL = 30 * time.Minute
	}
	if c.Refresh.SessionIdleTTL < c.Refresh.Interval {
		errs = append(errs, errors.New("SESSION_IDLE_TTL must not be shorter than REFRESH_INTERVAL"))
	}
	if c.Refresh.PageSize <= 0 {
		c.Refresh.PageSize = 50
	}
	if c.Refresh.PageSize > 200 {
		errs = append(errs, fmt.Errorf("REFRESH_PAGE_SIZE must be at most 200, got %d", c.Refresh.PageSize))
	}
	if c.Refresh.ReconcileInterval <= 0 {
		c.Refresh.ReconcileInterval = c.Refresh.Interval
	}
	if c.Refresh.StatsCacheTTL <= 0 {
		c.Refresh.StatsCacheTTL = 30 * time.Second
	}

	if c.Webhooks.Timeout <= 0 {
		c.Webhooks.Timeout = 10 * time.Second
	}
	if c.Webhooks.SummaryURL != "" && !strings.HasPrefix(c.Webhooks.SummaryURL, "http://") && !strings.HasPrefix(c.Webhooks.SummaryURL, "https://") {
		errs = append(errs, fmt.Errorf("SUMMARY_WEBHOOK_URL must be an http(s) URL, got %q", c.Webhooks.SummaryURL))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func parseInt(key string, required bool) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			return 0, fmt.Errorf("%s is required", key)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// parseDuration returns 0 for an unset variable so Validate can apply the default.
func parseDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 90s or 48h, got %q", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	out := make([]string, 0)
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
