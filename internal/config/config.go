package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment variables that override secrets from the config file
const (
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvDatabasePassword = "RELAY_DATABASE_PASSWORD"
	EnvRabbitMQPassword = "RELAY_RABBITMQ_PASSWORD"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retention RetentionConfig `yaml:"retention"`
	Queue     QueueConfig     `yaml:"queue"`
	Speech    SpeechConfig    `yaml:"speech"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// StorageConfig holds the file store location
type StorageConfig struct {
	Root string `yaml:"root"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// RetentionConfig holds the lifetimes of inputs, status records and outputs
type RetentionConfig struct {
	Input        time.Duration `yaml:"input"`
	Status       time.Duration `yaml:"status"`
	OutputGrace  time.Duration `yaml:"output_grace"`
	OutputMaxAge time.Duration `yaml:"output_max_age"`
}

// QueueConfig selects and configures the job queue backend
type QueueConfig struct {
	Backend  string         `yaml:"backend"`
	Capacity int            `yaml:"capacity"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      RabbitQueue      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueue holds RabbitMQ queue configuration
type RabbitQueue struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings. A zero prefetch follows the pool size.
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// SpeechConfig selects the speech engine
type SpeechConfig struct {
	Provider     string        `yaml:"provider"`
	Warmup       bool          `yaml:"warmup"`
	WarmupPhrase string        `yaml:"warmup_phrase"`
	OpenAI       OpenAIConfig  `yaml:"openai"`
	Command      CommandConfig `yaml:"command"`
}

// OpenAIConfig holds the hosted speech API settings
type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	Language           string `yaml:"language"`
	SpeechModel        string `yaml:"speech_model"`
	Voice              string `yaml:"voice"`
	ResponseFormat     string `yaml:"response_format"`
}

// CommandConfig holds the local whisper.cpp and piper settings
type CommandConfig struct {
	WhisperPath  string `yaml:"whisper_path"`
	WhisperModel string `yaml:"whisper_model"`
	Language     string `yaml:"language"`
	PiperPath    string `yaml:"piper_path"`
	PiperModel   string `yaml:"piper_model"`
}

// HistoryConfig enables the session archive
type HistoryConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file, then fills in defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.setDefaults()
	return &config
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 25 << 20
	}

	if c.Storage.Root == "" {
		c.Storage.Root = "data"
	}

	if c.Worker.PoolSize == 0 {
		c.Worker.PoolSize = 2
	}
	if c.Worker.StageTimeout == 0 {
		c.Worker.StageTimeout = 2 * time.Minute
	}

	// Retention.Input keeps its zero value: inputs are deleted as soon as a job ends
	if c.Retention.Status == 0 {
		c.Retention.Status = 5 * time.Minute
	}
	if c.Retention.OutputGrace == 0 {
		c.Retention.OutputGrace = 10 * time.Second
	}
	if c.Retention.OutputMaxAge == 0 {
		c.Retention.OutputMaxAge = time.Hour
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 100
	}

	if c.Speech.Provider == "" {
		c.Speech.Provider = "openai"
	}
	if c.Speech.WarmupPhrase == "" {
		c.Speech.WarmupPhrase = "System initialization complete."
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.App.Name == "" {
		c.App.Name = "speech-relay"
	}
}

// ApplyEnv overrides secrets with values from the environment when they are set
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		c.Speech.OpenAI.APIKey = v
	}
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		c.History.Database.Password = v
	}
	if v := os.Getenv(EnvRabbitMQPassword); v != "" {
		c.Queue.RabbitMQ.Password = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server max_upload_bytes must be greater than 0")
	}

	if c.Storage.Root == "" {
		return errors.New("storage root is required")
	}

	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("worker pool_size must be at least 1, got %d", c.Worker.PoolSize)
	}

	if c.Worker.StageTimeout <= 0 {
		return errors.New("worker stage_timeout must be greater than 0")
	}

	if err := c.validateRetention(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if err := c.validateSpeech(); err != nil {
		return err
	}

	if c.History.Enabled {
		if err := c.History.Database.validate(); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.Input < 0 {
		return errors.New("retention input must not be negative")
	}
	if c.Retention.Status <= 0 {
		return errors.New("retention status must be greater than 0")
	}
	if c.Retention.OutputGrace <= 0 {
		return errors.New("retention output_grace must be greater than 0")
	}
	if c.Retention.OutputMaxAge < c.Retention.OutputGrace {
		return fmt.Errorf("retention output_max_age (%s) must not be shorter than output_grace (%s)",
			c.Retention.OutputMaxAge, c.Retention.OutputGrace)
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Capacity < 1 {
			return fmt.Errorf("queue capacity must be at least 1, got %d", c.Queue.Capacity)
		}
	case "rabbitmq":
		r := c.Queue.RabbitMQ
		if r.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if r.Port < MinPort || r.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", r.Port, MinPort, MaxPort)
		}
		if r.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
		if r.Queue.Name == "" {
			return errors.New("rabbitmq queue name is required")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	return nil
}

func (c *Config) validateSpeech() error {
	switch c.Speech.Provider {
	case "openai":
		if c.Speech.OpenAI.APIKey == "" {
			return fmt.Errorf("speech openai api_key is required (or set %s)", EnvOpenAIAPIKey)
		}
	case "command":
		if c.Speech.Command.WhisperModel == "" {
			return errors.New("speech command whisper_model is required")
		}
		if c.Speech.Command.PiperModel == "" {
			return errors.New("speech command piper_model is required")
		}
	default:
		return fmt.Errorf("unknown speech provider %q", c.Speech.Provider)
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	if d.Host == "" {
		return errors.New("database host is required")
	}
	if d.Port < MinPort || d.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", d.Port, MinPort, MaxPort)
	}
	if d.Database == "" {
		return errors.New("database name is required")
	}
	return nil
}
