package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "KYC_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Queue    QueueConfig    `koanf:"queue"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Worker   WorkerConfig   `koanf:"worker"`
	Stages   StagesConfig   `koanf:"stages"`
	Auth     AuthConfig     `koanf:"auth"`
	Uploads  UploadsConfig  `koanf:"uploads"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MaxConnections int    `koanf:"max_connections"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

// QueueConfig selects the Work Queue backend: redis, kafka or memory.
type QueueConfig struct {
	Backend           string        `koanf:"backend"`
	Name              string        `koanf:"name"`
	VisibilityTimeout time.Duration `koanf:"visibility_timeout"`
	MaxAttempts       int           `koanf:"max_attempts"`
	ReaperInterval    time.Duration `koanf:"reaper_interval"`
	// RetryBackoff delays the first redelivery after a nack and doubles
	// for each attempt after that.
	RetryBackoff      time.Duration `koanf:"retry_backoff"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Group   string   `koanf:"group"`
}

type WorkerConfig struct {
	Count    int           `koanf:"count"`
	Embedded bool          `koanf:"embedded"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
}

type StagesConfig struct {
	OCRURL         string        `koanf:"ocr_url"`
	MatchURL       string        `koanf:"match_url"`
	IssuanceURL    string        `koanf:"issuance_url"`
	Timeout        time.Duration `koanf:"timeout"`
	OCRThreshold   float64       `koanf:"ocr_threshold"`
	MatchThreshold float64       `koanf:"match_threshold"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type UploadsConfig struct {
	Dir          string `koanf:"dir"`
	MaxFileBytes int64  `koanf:"max_file_bytes"`
}

type RealtimeConfig struct {
	Channel string   `koanf:"channel"`
	// Origins lists extra host patterns allowed to open /ws cross-origin.
	Origins []string `koanf:"origins"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads defaults, then the TOML file (if any), then KYC_* env vars.
// KYC_STAGES_OCR_URL maps to stages.ocr_url: the first underscore after the
// prefix separates the section from the key.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	loadDefaults(k)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKey(key), envValue(key, value)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

func envValue(key, value string) interface{} {
	if envKey(key) == "kafka.brokers" {
		return strings.Split(value, ",")
	}
	return value
}
