package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Telegram TelegramConfig
	Storage  StorageConfig
	NATS     NATSConfig
	Catalog  CatalogConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr keeps dialogue
// sessions in process memory.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	SessionTTLHours int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin API authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	AdminPasswordHash     string
	BcryptCost            int
}

// MinJWTSecretLength is the shortest AUTH_JWT_SECRET accepted while the
// admin API is enabled.
const MinJWTSecretLength = 32

// insecureJWTSecrets are well-known placeholder values refused as signing keys.
var insecureJWTSecrets = map[string]struct{}{
	"dev-secret": {},
	"secret":     {},
	"changeme":   {},
}

// APIEnabled reports whether the admin HTTP API accepts logins. Without a
// password hash no token can be issued, so the protected routes stay off.
func (a AuthConfig) APIEnabled() bool {
	return a.AdminPasswordHash != ""
}

// Validate refuses a signing secret that is missing, short or a known
// placeholder while the admin API is enabled.
func (a AuthConfig) Validate() error {
	if !a.APIEnabled() {
		return nil
	}
	if a.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required when AUTH_ADMIN_PASSWORD_HASH is set")
	}
	if _, weak := insecureJWTSecrets[strings.ToLower(a.JWTSecret)]; weak {
		return errors.New("AUTH_JWT_SECRET must not be a placeholder value")
	}
	if len(a.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	return nil
}

// TelegramConfig holds the bot token and the notification surfaces.
type TelegramConfig struct {
	Token              string
	PollTimeoutSeconds int
	SendTimeoutSeconds int
	AdminIDs           []int64
	GroupChatID        int64
}

// StorageConfig locates the file-backed stores used without Postgres.
type StorageConfig struct {
	DataDir         string
	TicketsFile     string
	UsersFile       string
	SubmissionsFile string
}

// NATSConfig enables forwarding of ticket events when URL is set.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// CatalogConfig points at the YAML module/category catalog.
type CatalogConfig struct {
	Path string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	adminIDs, err := ParseAdminIDs(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	groupChatID, err := strconv.ParseInt(getEnv("GROUP_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GROUP_CHAT_ID: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "crm-intake-bot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:            os.Getenv("REDIS_ADDR"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              redisDB,
			SessionTTLHours: getEnvAsInt("REDIS_SESSION_TTL_HOURS", 24),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             os.Getenv("AUTH_JWT_SECRET"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			AdminPasswordHash:     os.Getenv("AUTH_ADMIN_PASSWORD_HASH"),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Telegram: TelegramConfig{
			Token:              os.Getenv("TELEGRAM_BOT_TOKEN"),
			PollTimeoutSeconds: getEnvAsInt("TELEGRAM_POLL_TIMEOUT_SECONDS", 10),
			SendTimeoutSeconds: getEnvAsInt("TELEGRAM_SEND_TIMEOUT_SECONDS", 15),
			AdminIDs:           adminIDs,
			GroupChatID:        groupChatID,
		},
		Storage: StorageConfig{
			DataDir:         dataDir,
			TicketsFile:     getEnv("TICKETS_FILE", filepath.Join(dataDir, "tickets.json")),
			UsersFile:       getEnv("USERS_FILE", filepath.Join(dataDir, "users.json")),
			SubmissionsFile: getEnv("SUBMISSIONS_FILE", filepath.Join(dataDir, "submissions.xlsx")),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "intake.tickets"),
		},
		Catalog: CatalogConfig{
			Path: os.Getenv("CATALOG_FILE"),
		},
	}

	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SessionTTL returns how long an idle dialogue session is kept.
func (r RedisConfig) SessionTTL() time.Duration {
	if r.SessionTTLHours <= 0 {
		return 0
	}
	return time.Duration(r.SessionTTLHours) * time.Hour
}

// PollTimeout is the long polling wait of the update loop.
func (t TelegramConfig) PollTimeout() time.Duration {
	if t.PollTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.PollTimeoutSeconds) * time.Second
}

// SendTimeout bounds a single outbound call to the chat API.
func (t TelegramConfig) SendTimeout() time.Duration {
	if t.SendTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.SendTimeoutSeconds) * time.Second
}

// IsAdmin reports whether id belongs to the configured administrator set.
func (t TelegramConfig) IsAdmin(id int64) bool {
	for _, admin := range t.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// ParseAdminIDs parses a comma separated list of chat identities.
// Duplicates are dropped while keeping the first occurrence order.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
