package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
	Sequencer     SequencerConfig     `mapstructure:"sequencer"`
	Grid          GridConfig          `mapstructure:"grid"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Project       ProjectConfig       `mapstructure:"project"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EngineConfig struct {
	Address          string        `mapstructure:"address"`
	AuthKeyEnv       string        `mapstructure:"auth_key_env"`
	AutoConnect      bool          `mapstructure:"auto_connect"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
}

type SubscriptionsConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	ThrottleWindow  time.Duration `mapstructure:"throttle_window"`
}

type SequencerConfig struct {
	TimeUnit time.Duration `mapstructure:"time_unit"`
	History  int           `mapstructure:"history"`
}

type GridConfig struct {
	Size float64 `mapstructure:"size"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Path           string `mapstructure:"path"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	EditorPasswordHash    string        `mapstructure:"editor_password_hash"`
	PresenterPasswordHash string        `mapstructure:"presenter_password_hash"`
	JWTSecretEnv          string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
}

type ProjectConfig struct {
	// Default is loaded from the store on startup when set.
	Default string `mapstructure:"default"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("OPC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults only; cannot fail.
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("engine.address", "ws://localhost:4682/websocket")
	v.SetDefault("engine.auth_key_env", "OPC_ENGINE_KEY")
	v.SetDefault("engine.auto_connect", true)
	v.SetDefault("engine.handshake_timeout", "5s")
	v.SetDefault("engine.call_timeout", "10s")
	v.SetDefault("engine.ping_period", "30s")
	v.SetDefault("engine.reconnect_initial", "1s")
	v.SetDefault("engine.reconnect_max", "30s")

	v.SetDefault("subscriptions.default_interval", "1s")
	v.SetDefault("subscriptions.throttle_window", "1s")

	v.SetDefault("sequencer.time_unit", "1s")
	v.SetDefault("sequencer.history", 100)

	v.SetDefault("grid.size", 25)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "openpanel.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "12h")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// AuthKey reads the engine authorization key from its environment variable.
func (e *EngineConfig) AuthKey() string {
	if e.AuthKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.AuthKeyEnv)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
