package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"teledoom/internal/utils"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит всю конфигурацию сервиса TeleDoom.
type Config struct {
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Server  ServerConfig
	Twitch  TwitchConfig
	ARI     ARIConfig
	Engine  EngineConfig
	Simwood SimwoodConfig
	Overlay OverlayConfig
	DB      DBConfig
	Redis   RedisConfig
	Rabbit  RabbitConfig
}

// ServerConfig содержит настройки служебного HTTP сервера (health/status/metrics).
type ServerConfig struct {
	Port string `envconfig:"HTTP_PORT" default:"8080"`
}

// TwitchConfig содержит настройки исходящего RTMP потока.
type TwitchConfig struct {
	URL string `envconfig:"TWITCH_URL"`
	CBR string `envconfig:"TWITCH_CBR" default:"100k"`
	FPS int    `envconfig:"DOOM_FPS" default:"35"`
}

// ARIConfig содержит настройки подключения к Asterisk REST Interface.
type ARIConfig struct {
	URL      string `envconfig:"ARI_URL" default:"http://localhost:8088"`
	Username string `envconfig:"ARI_USERNAME" default:"asterisk"`
	Password string `envconfig:"ARI_PASSWORD" default:"asterisk"`
	App      string `envconfig:"ARI_APP" default:"teledoom"`
}

// EngineConfig содержит настройки подключения к процессу игрового движка.
type EngineConfig struct {
	URL string `envconfig:"ENGINE_URL" default:"ws://localhost:8700/session"`
}

// SimwoodConfig содержит настройки SMS интеграции. Если хотя бы одно из
// четырех полей не задано, SMS отключается (как в исходной системе).
type SimwoodConfig struct {
	APIUser string `envconfig:"SIMWOOD_API_USER"`
	// Пароль: сначала /run/secrets/simwood_api_password, потом env
	APIPassword    string `envconfig:"SIMWOOD_API_PASSWORD"`
	Account        string `envconfig:"SIMWOOD_ACCOUNT"`
	Number         string `envconfig:"SIMWOOD_NUMBER"`
	WelcomeMessage string `envconfig:"SMS_WELCOME_MESSAGE" default:"Welcome to TeleDoom!  Please go to https://twitch.tv/teledoom to view the action."`
}

// OverlayConfig содержит настройки отрисовки плашки звонящего.
type OverlayConfig struct {
	FontPath      string `envconfig:"OVERLAY_FONT_PATH" default:"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"`
	WatermarkPath string `envconfig:"OVERLAY_WATERMARK_PATH" default:"/overlay.png"`
}

// DBConfig содержит настройки PostgreSQL для журнала звонков (CDR).
// Если DB_HOST пуст, журнал звонков отключен.
type DBConfig struct {
	Host        string        `envconfig:"DB_HOST"`
	Port        string        `envconfig:"DB_PORT" default:"5432"`
	User        string        `envconfig:"DB_USER" default:"teledoom"`
	Name        string        `envconfig:"DB_NAME" default:"teledoom"`
	SSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"5"`
	IdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	Password string
}

// RedisConfig содержит настройки Redis для кулдауна повторных звонков.
// Если REDIS_ADDR пуст, кулдаун отключен.
type RedisConfig struct {
	Addr        string        `envconfig:"REDIS_ADDR"`
	Password    string        `envconfig:"REDIS_PASSWORD"`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	CooldownTTL time.Duration `envconfig:"CALLER_COOLDOWN_TTL" default:"10m"`
}

// RabbitConfig содержит настройки публикации событий звонков.
// Если RABBITMQ_URL пуст, публикация отключена.
type RabbitConfig struct {
	URL string `envconfig:"RABBITMQ_URL"`
}

// Enabled сообщает, заданы ли все четыре обязательных поля Simwood.
func (c *SimwoodConfig) Enabled() bool {
	return c.APIUser != "" && c.APIPassword != "" && c.Account != "" && c.Number != ""
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL.
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации teledoom: %w", err)
	}

	// TWITCH_URL обязателен: без него сервису некуда стримить
	if cfg.Twitch.URL == "" {
		log.Println("TWITCH_URL environment variable must be set with form rtmp://{location}.twitch.tv/app/{stream_key}")
		log.Println("See https://stream.twitch.tv/ingests/ for locations")
		log.Println("See https://www.twitch.tv/broadcast/dashboard/streamkey for your stream key")
		return nil, errors.New("TWITCH_URL is not set")
	}

	if cfg.Twitch.FPS <= 0 {
		return nil, fmt.Errorf("DOOM_FPS must be positive, got %d", cfg.Twitch.FPS)
	}

	// Секреты из файлов имеют приоритет над переменными окружения
	cfg.Simwood.APIPassword = utils.ReadOptionalSecret("simwood_api_password", cfg.Simwood.APIPassword)
	if cfg.DB.Host != "" {
		cfg.DB.Password, err = utils.ReadSecret("db_password")
		if err != nil {
			return nil, err
		}
	}

	log.Printf("Конфигурация TeleDoom загружена:")
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  HTTP Port: %s", cfg.Server.Port)
	log.Printf("  Doom FPS: %d", cfg.Twitch.FPS)
	log.Printf("  Twitch CBR: %s", cfg.Twitch.CBR)
	log.Printf("  ARI URL: %s (app=%s)", cfg.ARI.URL, cfg.ARI.App)
	log.Printf("  Engine URL: %s", cfg.Engine.URL)
	log.Printf("  SMS integration: %v", cfg.Simwood.Enabled())
	log.Printf("  Call log (PostgreSQL): %v", cfg.DB.Host != "")
	log.Printf("  Caller cooldown (Redis): %v", cfg.Redis.Addr != "")
	log.Printf("  Call events (RabbitMQ): %v", cfg.Rabbit.URL != "")

	return &cfg, nil
}
