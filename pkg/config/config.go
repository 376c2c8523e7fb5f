package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/safakadir/digital-banking/pkg/utils"
)

type Config struct {
	Env         string  `yaml:"env" env:"ENV" env-default:"local"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME" env-default:"digital-banking"`
	LogLevel    string  `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP        HTTP    `yaml:"http"`
	GRPC        GRPC    `yaml:"grpc"`
	Metrics     Metrics `yaml:"metrics"`
	Postgres    PG      `yaml:"postgres"`
	Redis       Redis   `yaml:"redis"`
	Kafka       Kafka   `yaml:"kafka"`
	Outbox      Outbox  `yaml:"outbox"`
	Inbox       Inbox   `yaml:"inbox"`
	Auth        Auth    `yaml:"auth"`
	Limiter     Limiter `yaml:"limiter"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type GRPC struct {
	Port string `yaml:"port" env:"GRPC_PORT" env-default:":50051"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

type PG struct {
	URL             string        `yaml:"url" env:"DB_URL"`
	MaxConns        int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env-default:"1h"`
}

type Redis struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	BalanceTTL time.Duration `yaml:"balance_ttl" env:"REDIS_BALANCE_TTL" env-default:"30s"`
}

type Kafka struct {
	Brokers    []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	GroupID    string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	Topics     []string      `yaml:"topics" env:"KAFKA_TOPICS" env-separator:","`
	DLQSuffix  string        `yaml:"dlq_suffix" env-default:".dlq"`
	MaxRetries uint          `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"200ms"`
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env-default:"50"`
	Interval    time.Duration `yaml:"interval" env-default:"500ms"`
	MaxAttempts int           `yaml:"max_attempts" env-default:"10"`
}

type Inbox struct {
	TTL           time.Duration `yaml:"ttl" env:"INBOX_TTL" env-default:"168h"`
	PurgeInterval time.Duration `yaml:"purge_interval" env-default:"1h"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"ACCESS_SECRET"`
}

type Limiter struct {
	RPC   int           `yaml:"rpc" env-default:"10"`
	Burst int           `yaml:"burst" env-default:"20"`
	TTL   time.Duration `yaml:"ttl" env-default:"1m"`
}

// Load reads the YAML file at path with environment overrides. A missing
// file falls back to the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load(utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml"))
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return cfg
}

func (c *Config) Logger() LoggerConfig {
	return LoggerConfig{Level: c.LogLevel, Env: c.Env}
}
