package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storybook-server/internal/logger"
)

// Config конфигурация сервера историй.
type Config struct {
	AppEnv       string `env:"APP_ENV" env-default:"development"`
	Port         string `env:"SERVER_PORT" env-default:"8080"`
	StoreBackend string `env:"STORE_BACKEND" env-default:"postgres"` // postgres | firestore

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`

	Logger       logger.Config
	Story        StoryConfig
	Narrative    NarrativeConfig
	Requirements RequirementsConfig
	Illustration IllustrationConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Firestore    FirestoreConfig
	RabbitMQ     RabbitMQConfig
	Auth         AuthConfig
}

// StoryConfig параметры конвейера генерации.
type StoryConfig struct {
	MaxPages      int      `env:"STORY_MAX_PAGES" env-default:"5"`
	MinPageLength int      `env:"STORY_MIN_PAGE_LENGTH" env-default:"30"`
	DefaultThemes []string `env:"STORY_DEFAULT_THEMES" env-separator:";" env-default:"a friendly animal discovering something magical;a brave little robot looking for a lost friend;a sleepy dragon who is afraid of the dark;two best friends building a boat to reach a secret island"`

	MaxActiveTasks int           `env:"GENERATION_MAX_ACTIVE_TASKS" env-default:"10"`
	TaskRetention  time.Duration `env:"GENERATION_TASK_RETENTION" env-default:"1h"`
}

// NarrativeConfig настройки сервиса генерации текста.
type NarrativeConfig struct {
	ClientType     string        `env:"NARRATIVE_CLIENT_TYPE" env-default:"openai"` // openai | ollama
	BaseURL        string        `env:"NARRATIVE_API_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string        `env:"NARRATIVE_MODEL" env-default:"gpt-4o-mini"`
	Timeout        time.Duration `env:"NARRATIVE_TIMEOUT" env-default:"90s"`
	MaxAttempts    int           `env:"NARRATIVE_MAX_ATTEMPTS" env-default:"3"`
	BaseRetryDelay time.Duration `env:"NARRATIVE_RETRY_DELAY" env-default:"1s"`
	APIKey         string        `env:"NARRATIVE_API_KEY"` // перекрывается секретом ai_api_key
}

// RequirementsConfig извлечение пожеланий из промпта. Провайдер и ключ берутся из NarrativeConfig.
type RequirementsConfig struct {
	Enabled bool          `env:"REQUIREMENTS_EXTRACTION_ENABLED" env-default:"false"`
	Model   string        `env:"REQUIREMENTS_MODEL"` // пусто = NARRATIVE_MODEL
	Timeout time.Duration `env:"REQUIREMENTS_TIMEOUT" env-default:"30s"`
}

// IllustrationConfig настройки сервиса иллюстраций.
type IllustrationConfig struct {
	ClientType string        `env:"ILLUSTRATION_CLIENT_TYPE" env-default:"openai"` // openai | http | none
	BaseURL    string        `env:"ILLUSTRATION_API_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model      string        `env:"ILLUSTRATION_MODEL" env-default:"dall-e-3"`
	Size       string        `env:"ILLUSTRATION_SIZE" env-default:"1024x1024"`
	Ratio      string        `env:"ILLUSTRATION_RATIO" env-default:"4:3"`
	Timeout    time.Duration `env:"ILLUSTRATION_TIMEOUT" env-default:"120s"`
	APIKey     string        `env:"ILLUSTRATION_API_KEY"` // перекрывается секретом image_api_key
}

// DatabaseConfig подключение к PostgreSQL.
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" env-default:"localhost"`
	Port            string        `env:"DB_PORT" env-default:"5432"`
	User            string        `env:"DB_USER" env-default:"postgres"`
	Password        string        `env:"DB_PASSWORD"` // перекрывается секретом db_password
	Name            string        `env:"DB_NAME" env-default:"storybook"`
	SSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns        int32         `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" env-default:"5m"`
	PingTimeout     time.Duration `env:"DB_PING_TIMEOUT" env-default:"5s"`
	RunMigrations   bool          `env:"DB_RUN_MIGRATIONS" env-default:"true"`
}

// DSN строка подключения для pgxpool.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig подключение к Redis для ленты изменений.
type RedisConfig struct {
	Addr          string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB" env-default:"0"`
	ChannelPrefix string `env:"REDIS_STORY_CHANNEL_PREFIX" env-default:"stories:changed:"`
}

// FirestoreConfig параметры хранилища Firestore.
type FirestoreConfig struct {
	ProjectID       string `env:"FIRESTORE_PROJECT_ID"`
	AppID           string `env:"FIRESTORE_APP_ID" env-default:"default-app-id"`
	CredentialsFile string `env:"FIRESTORE_CREDENTIALS_FILE"`
}

// RabbitMQConfig очередь уведомлений о прогрессе. Пустой URL отключает публикацию.
type RabbitMQConfig struct {
	URL           string `env:"RABBITMQ_URL"`
	ProgressQueue string `env:"RABBITMQ_PROGRESS_QUEUE" env-default:"story_generation_progress"`
}

// AuthConfig параметры проверки токенов.
type AuthConfig struct {
	JWTSecret     string        `env:"JWT_SECRET"` // перекрывается секретом jwt_secret
	GuestTokenTTL time.Duration `env:"GUEST_TOKEN_TTL" env-default:"24h"`
}

// Load читает .env, переменные окружения и секреты.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	cfg.Database.Password = SecretOr("db_password", cfg.Database.Password)
	cfg.Auth.JWTSecret = SecretOr("jwt_secret", cfg.Auth.JWTSecret)
	cfg.Narrative.APIKey = SecretOr("ai_api_key", cfg.Narrative.APIKey)
	cfg.Illustration.APIKey = SecretOr("image_api_key", cfg.Illustration.APIKey)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is not configured (secret jwt_secret or JWT_SECRET)")
	}
	switch strings.ToLower(c.StoreBackend) {
	case "postgres":
	case "firestore":
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for firestore backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Story.MaxPages < 0 || c.Story.MinPageLength < 0 {
		return fmt.Errorf("story page limits must not be negative")
	}
	if c.Narrative.MaxAttempts < 1 {
		c.Narrative.MaxAttempts = 1
	}
	return nil
}

// ReaderConfig настройки терминальной читалки.
type ReaderConfig struct {
	Logger     logger.Config
	TTSCommand string        `env:"READER_TTS_COMMAND" env-default:"espeak"`
	APIBaseURL string        `env:"READER_API_BASE_URL" env-default:"http://localhost:8080"`
	Timeout    time.Duration `env:"READER_HTTP_TIMEOUT" env-default:"15s"`
}

// LoadReader читает конфигурацию читалки.
func LoadReader() (*ReaderConfig, error) {
	_ = godotenv.Load()

	var cfg ReaderConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading reader configuration: %w", err)
	}
	return &cfg, nil
}
