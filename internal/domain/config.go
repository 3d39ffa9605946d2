package domain

import "fmt"

// Config holds the complete rulecore configuration, per spec.md §9: a
// single immutable value validated once at startup, never a collection of
// module-level globals.
type Config struct {
	// Server settings (transport layer; out of scope per spec.md §1, kept
	// ambient because the teacher always carries it).
	Server ServerConfig `json:"server"`

	// Environment selects the deployment profile.
	Environment Environment `json:"environment"`

	// RulesConfigPath/ConditionsConfigPath are used by the file backend.
	RulesConfigPath      string `json:"rulesConfigPath"`
	ConditionsConfigPath string `json:"conditionsConfigPath"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Registry hot-reload behavior
	Registry RegistryConfig `json:"registry"`

	// Batch executor defaults
	Batch BatchConfig `json:"batch"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// Environment is the deployment profile named in spec.md §9.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// RegistryConfig controls the hot-reload background monitor.
type RegistryConfig struct {
	MonitorInterval  int `json:"monitorIntervalSeconds"`
	StalenessBudget  int `json:"stalenessBudgetSeconds"`
	SubscriberBuffer int `json:"subscriberBufferSize"`
}

// BatchConfig holds defaults for the Batch Executor.
type BatchConfig struct {
	MaxWorkers int `json:"maxWorkers"` // 0 = derive from CPU count and input size
}

// StorageBackend selects the Repository implementation.
type StorageBackend string

const (
	BackendFile         StorageBackend = "file"
	BackendObjectStore  StorageBackend = "object-store"
	BackendDatabase     StorageBackend = "database"
)

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	Backend StorageBackend `json:"backend"`

	// File backend (rule-set JSON file format, spec.md §6)
	FilePath string `json:"filePath"`

	// Object-store backend
	ObjectStoreBucket string `json:"objectStoreBucket"`
	ObjectStoreKey    string `json:"objectStoreKey"`
	ObjectStoreRegion string `json:"objectStoreRegion"`

	// Database backend: "sqlite" or "postgres"
	Driver     string `json:"driver"`
	SQLitePath string `json:"sqlitePath"`

	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"postgresPassword"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	MaxOpenConns int `json:"maxOpenConns"`
	MaxIdleConns int `json:"maxIdleConns"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	Type         string `json:"type"` // "memory" or "redis"
	LocalMaxSize int    `json:"localMaxSize"`
	LocalTTL     int    `json:"localTtlSeconds"`

	RedisAddr      string `json:"redisAddr"`
	RedisPassword  string `json:"redisPassword"`
	RedisDB        int    `json:"redisDb"`
	EnableTwoPhase bool   `json:"enableTwoPhase"`
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	Type              string `json:"type"` // "channel" or "nats"
	ChannelBufferSize int    `json:"channelBufferSize"`

	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWaitSeconds"`
}

// DefaultConfig returns a development configuration: in-memory file-backed
// storage, local LRU cache, in-process channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Environment:          EnvDev,
		RulesConfigPath:      "./rules.json",
		ConditionsConfigPath: "./conditions.json",
		Repository: RepositoryConfig{
			Backend:  BackendFile,
			FilePath: "./rules.json",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Registry: RegistryConfig{
			MonitorInterval:  30,
			StalenessBudget:  120,
			SubscriberBuffer: 256,
		},
		Batch: BatchConfig{
			MaxWorkers: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "rulecore",
		},
	}
}

// ProductionConfig returns a configuration for a prod-grade deployment:
// PostgreSQL + NATS + Redis, mirroring the teacher's ProConfig shape.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvProd
	cfg.Repository = RepositoryConfig{
		Backend:      BackendDatabase,
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "rulecore",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks the fixed option set recognized at ingest (spec.md §9).
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("invalid environment: %q", c.Environment)
	}

	switch c.Repository.Backend {
	case BackendFile:
		if c.Repository.FilePath == "" {
			return fmt.Errorf("repository.filePath is required for the file backend")
		}
	case BackendObjectStore:
		if c.Repository.ObjectStoreBucket == "" {
			return fmt.Errorf("repository.objectStoreBucket is required for the object-store backend")
		}
	case BackendDatabase:
		if c.Repository.Driver != "sqlite" && c.Repository.Driver != "postgres" {
			return fmt.Errorf("invalid repository.driver: %q", c.Repository.Driver)
		}
	default:
		return fmt.Errorf("invalid repository.backend: %q", c.Repository.Backend)
	}

	if c.Registry.MonitorInterval < 0 {
		return fmt.Errorf("registry.monitorIntervalSeconds must be >= 0")
	}

	return nil
}
