package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Engine      EngineConfig
	Logger      LoggerConfig
	Security    SecurityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// EngineConfig holds the TaskRuntime defaults applied when a
// descriptor leaves a field unset.
type EngineConfig struct {
	ConnectTimeout       time.Duration
	DefaultReadTimeout   time.Duration
	RealtimeTickInterval time.Duration
	ReservoirCapacity    int
	StopGracePeriod      time.Duration
	DatasetDir           string
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string
	OutputPath string
}

// SecurityConfig holds encryption-at-rest configuration. An empty key
// disables descriptor encryption.
type SecurityConfig struct {
	EncryptionKey string
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetDefault("environment", "development")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "promptloom")
	viper.SetDefault("database.password", "promptloom")
	viper.SetDefault("database.dbname", "promptloom")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_conns", 25)
	viper.SetDefault("database.max_idle", 5)

	viper.SetDefault("engine.connect_timeout", "10s")
	viper.SetDefault("engine.default_read_timeout", "600s")
	viper.SetDefault("engine.realtime_tick_interval", "2s")
	viper.SetDefault("engine.reservoir_capacity", 100000)
	viper.SetDefault("engine.stop_grace_period", "5s")
	viper.SetDefault("engine.dataset_dir", "./datasets")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")

	viper.SetDefault("security.encryption_key", "")

	// Auto-load environment variables
	viper.AutomaticEnv()

	// Try to load config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.ReadInConfig() // Ignore error if config file not found

	readTimeout, _ := time.ParseDuration(viper.GetString("server.read_timeout"))
	writeTimeout, _ := time.ParseDuration(viper.GetString("server.write_timeout"))
	connectTimeout, _ := time.ParseDuration(viper.GetString("engine.connect_timeout"))
	defaultReadTimeout, _ := time.ParseDuration(viper.GetString("engine.default_read_timeout"))
	tickInterval, _ := time.ParseDuration(viper.GetString("engine.realtime_tick_interval"))
	stopGrace, _ := time.ParseDuration(viper.GetString("engine.stop_grace_period"))

	cfg := &Config{
		Environment: viper.GetString("environment"),
		Server: ServerConfig{
			Port:         viper.GetInt("server.port"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
			MaxConns: viper.GetInt("database.max_conns"),
			MaxIdle:  viper.GetInt("database.max_idle"),
		},
		Engine: EngineConfig{
			ConnectTimeout:       connectTimeout,
			DefaultReadTimeout:   defaultReadTimeout,
			RealtimeTickInterval: tickInterval,
			ReservoirCapacity:    viper.GetInt("engine.reservoir_capacity"),
			StopGracePeriod:      stopGrace,
			DatasetDir:           viper.GetString("engine.dataset_dir"),
		},
		Logger: LoggerConfig{
			Level:      viper.GetString("logger.level"),
			OutputPath: viper.GetString("logger.output_path"),
		},
		Security: SecurityConfig{
			EncryptionKey: viper.GetString("security.encryption_key"),
		},
	}

	return cfg, nil
}
