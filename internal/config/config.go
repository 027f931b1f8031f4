package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string
	// Timezone — часовой пояс расписаний (IANA), по умолчанию America/Sao_Paulo.
	Timezone string

	CORSOrigins []string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Kafka struct {
		Brokers     []string
		TopicTicket string
	}

	// BridgeURL: websocket-адрес адаптера WhatsApp. Пусто: мост не запускается.
	BridgeURL     string
	BridgeSendRPS float64

	OpenAI struct {
		APIKey string
		Model  string
	}

	DebounceWindow    time.Duration
	PostSendDelay     time.Duration
	AutoCloseCron     string
	WorkerConcurrency int
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppHost:           v.GetString("APP_HOST"),
		HTTPPort:          firstString(v, "APP_PORT", "HTTP_PORT"),
		AppEnv:            v.GetString("APP_ENV"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		Timezone:          v.GetString("TIMEZONE"),
		CORSOrigins:       splitList(v.GetString("CORS_ORIGINS")),
		BridgeURL:         v.GetString("BRIDGE_URL"),
		BridgeSendRPS:     v.GetFloat64("BRIDGE_SEND_RPS"),
		DebounceWindow:    v.GetDuration("DEBOUNCE_WINDOW"),
		PostSendDelay:     v.GetDuration("POST_SEND_DELAY"),
		AutoCloseCron:     v.GetString("AUTO_CLOSE_CRON"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),
	}
	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Database = v.GetString("DB_DATABASE")
	cfg.DB.SSLMode = v.GetString("DB_SSLMODE")
	cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.TopicTicket = v.GetString("KAFKA_TOPIC_TICKET")
	cfg.OpenAI.APIKey = v.GetString("OPENAI_API_KEY")
	cfg.OpenAI.Model = v.GetString("OPENAI_MODEL")
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", "8097")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_DATABASE", "chat_ticket_service")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_TOPIC_TICKET", "chat.ticket.events")
	v.SetDefault("BRIDGE_SEND_RPS", 5)
	v.SetDefault("OPENAI_MODEL", "gpt-3.5-turbo")
	v.SetDefault("DEBOUNCE_WINDOW", "3s")
	v.SetDefault("POST_SEND_DELAY", "1s")
	v.SetDefault("AUTO_CLOSE_CRON", "* * * * *")
	v.SetDefault("WORKER_CONCURRENCY", 10)
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("config: REDIS_ADDR is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: TIMEZONE: %w", err)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func firstString(v *viper.Viper, keys ...string) string {
	for _, k := range keys {
		if s := v.GetString(k); s != "" {
			return s
		}
	}
	return v.GetString(keys[len(keys)-1])
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
