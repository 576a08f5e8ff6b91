package config

import (
	"errors"
	"fmt"
	"os"

	"roomsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Rooms      []models.Room    `yaml:"rooms"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type CalendarConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Impersonate     string `yaml:"impersonate"`
	Marker          string `yaml:"marker"`
}

type RefreshConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type WorkerConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	InitialDelay int `yaml:"initial_delay_seconds"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Calendar.CredentialsFile == "" {
		return errors.New("calendar credentials file is required")
	}
	if c.Refresh.IntervalSeconds < 0 {
		return errors.New("refresh interval must not be negative")
	}
	return ValidateRooms(c.Rooms)
}

// ValidateRooms rejects room lists the grid cannot address unambiguously.
func ValidateRooms(rooms []models.Room) error {
	if len(rooms) == 0 {
		return errors.New("at least one room is required")
	}
	ids := make(map[string]bool)
	names := make(map[string]bool)
	for _, room := range rooms {
		if room.ID == "" {
			return fmt.Errorf("room '%s' has empty id", room.Name)
		}
		if ids[room.ID] {
			return fmt.Errorf("duplicate room id found: %s", room.ID)
		}
		ids[room.ID] = true
		if room.Name == "" {
			return fmt.Errorf("room '%s' has empty name", room.ID)
		}
		if names[room.Name] {
			return fmt.Errorf("duplicate room name found: %s", room.Name)
		}
		names[room.Name] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Calendar.Marker == "" {
		c.Calendar.Marker = models.DefaultMarker
	}
	if c.Refresh.IntervalSeconds == 0 {
		c.Refresh.IntervalSeconds = models.DefaultRefreshInterval
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 5
	}
}
