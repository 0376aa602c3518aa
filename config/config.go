package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"eav-engine"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"eav"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Cache levels. Driver names: memory, redis, file, none.
	CacheL2Driver  string        `env:"CACHE_L2_DRIVER" env-default:"memory"`
	CacheL2TTL     time.Duration `env:"CACHE_L2_TTL" env-default:"15m"`
	CacheL3Driver  string        `env:"CACHE_L3_DRIVER" env-default:"file"`
	CacheL3TTL     time.Duration `env:"CACHE_L3_TTL" env-default:"1h"`
	CacheL3Dir     string        `env:"CACHE_L3_DIR" env-default:"/tmp/eav-cache"`
	CacheL4Enabled bool          `env:"CACHE_L4_ENABLED" env-default:"true"`
	CacheL4TTL     time.Duration `env:"CACHE_L4_TTL" env-default:"5m"`

	// Redis (used when a cache level selects the redis driver)
	RedisAddr      string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB        int    `env:"REDIS_DB" env-default:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"eav:cache:"`

	// Cache invalidation
	AutoInvalidate      bool `env:"CACHE_AUTO_INVALIDATE" env-default:"true"`
	InvalidationLogging bool `env:"CACHE_INVALIDATION_LOGGING" env-default:"true"`
	InvalidationLogSize int  `env:"CACHE_INVALIDATION_LOG_SIZE" env-default:"1000"`
	BroadcastEnabled    bool `env:"CACHE_BROADCAST_ENABLED" env-default:"false"`

	// Kafka (invalidation broadcast)
	KafkaBrokers       []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaTopic         string   `env:"KAFKA_INVALIDATION_TOPIC" env-default:"cache-invalidation"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" env-default:"eav-invalidation"`

	// Tracing
	TracingEnabled    bool    `env:"TRACING_ENABLED" env-default:"false"`
	OTLPEndpoint      string  `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPTransport     string  `env:"OTLP_TRANSPORT" env-default:"grpc"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" env-default:"1.0"`
}

// Load reads configuration from the environment, after loading a local .env
// file when one exists. Defaults apply to anything the environment leaves
// unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		AppName:                     "eav-engine",
		LogLevel:                    "info",
		StartupMaxAttempts:          5,
		DatabaseDriver:              "postgres",
		DatabasePort:                "5432",
		DatabaseName:                "eav",
		DatabaseSSLMode:             "disable",
		DatabaseMaxOpenConns:        25,
		DatabaseMaxIdleConns:        10,
		DatabaseConnMaxLifetime:     10 * time.Second,
		DatabaseMigrationFolderPath: "db/pg",
		CacheL2Driver:               "memory",
		CacheL2TTL:                  15 * time.Minute,
		CacheL3Driver:               "file",
		CacheL3TTL:                  time.Hour,
		CacheL3Dir:                  "/tmp/eav-cache",
		CacheL4Enabled:              true,
		CacheL4TTL:                  5 * time.Minute,
		RedisAddr:                   "localhost:6379",
		RedisKeyPrefix:              "eav:cache:",
		AutoInvalidate:              true,
		InvalidationLogging:         true,
		InvalidationLogSize:         1000,
		KafkaBrokers:                []string{"localhost:9092"},
		KafkaTopic:                  "cache-invalidation",
		KafkaConsumerGroup:          "eav-invalidation",
		OTLPEndpoint:                "localhost:4317",
		OTLPTransport:               "grpc",
		TracingSampleRate:           1.0,
	}
}
