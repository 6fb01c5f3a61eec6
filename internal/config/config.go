package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/view"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Firestore FirestoreConfig
	Widget    WidgetConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Backend            string
	MessagesCollection string `mapstructure:"messages_collection"`
	StatusCollection   string `mapstructure:"status_collection"`
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string `mapstructure:"key_prefix"`
}

type FirestoreConfig struct {
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	RetryMin        time.Duration `mapstructure:"retry_min"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
}

type WidgetConfig struct {
	Title          string
	InsertPolicy   string        `mapstructure:"insert_policy"`
	TimeLayout     string        `mapstructure:"time_layout"`
	WelcomeMessage string        `mapstructure:"welcome_message"`
	WelcomeDelay   time.Duration `mapstructure:"welcome_delay"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// Store backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Load reads config/<name>.yaml from configPath (optional) and the
// environment, on top of the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("store.backend", "STORE_BACKEND")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("firestore.project_id", "FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT")
	v.BindEnv("firestore.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.messages_collection", "messages")
	v.SetDefault("store.status_collection", "status")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "firechat")
	v.SetDefault("firestore.project_id", "")
	v.SetDefault("firestore.credentials_file", "")
	v.SetDefault("firestore.retry_min", "1s")
	v.SetDefault("firestore.retry_max", "30s")
	v.SetDefault("widget.title", "Chat")
	v.SetDefault("widget.insert_policy", "append")
	v.SetDefault("widget.time_layout", "15:04")
	v.SetDefault("widget.welcome_message", "Welcome to the chat! Start sending messages.")
	v.SetDefault("widget.welcome_delay", "500ms")
	v.SetDefault("widget.send_buffer", 64)
	v.SetDefault("widget.ping_interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore backend requires firestore.project_id")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if _, err := view.ParsePolicy(c.Widget.InsertPolicy); err != nil {
		return err
	}
	if c.Widget.SendBuffer <= 0 {
		return fmt.Errorf("widget.send_buffer must be positive")
	}
	return nil
}
