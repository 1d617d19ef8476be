package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "psws/backend/libs/config"
)

const (
	DefaultRoot       = "/psws/home"
	defaultHTTPPort   = ""
	defaultJobsList   = "psws:plot-jobs"
	defaultKafkaTopic = "psws.plot-jobs"
)

// Config is the immutable ingest-watcher configuration.
type Config struct {
	Watch    WatchConfig    `yaml:"watch"`
	Database DatabaseConfig `yaml:"database"`
	Metadata MetadataConfig `yaml:"metadata"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// WatchConfig describes which directories are polled and how often.
type WatchConfig struct {
	Root              string        `yaml:"root" env:"PSWS_ROOT"`
	NestedDir         string        `yaml:"nestedDir" env:"PSWS_NESTED_DIR"`
	StationPrefixes   []string      `yaml:"stationPrefixes" env:"PSWS_STATION_PREFIXES"`
	Ignore            []string      `yaml:"ignore" env:"PSWS_IGNORE"`
	TestMarker        string        `yaml:"testMarker" env:"PSWS_TEST_MARKER"`
	PollInterval      time.Duration `yaml:"pollInterval" env:"PSWS_POLL_INTERVAL"`
	DiscoveryInterval time.Duration `yaml:"discoveryInterval" env:"PSWS_DISCOVERY_INTERVAL"`
	RetryBase         time.Duration `yaml:"retryBase" env:"PSWS_RETRY_BASE"`
	RetryMax          time.Duration `yaml:"retryMax" env:"PSWS_RETRY_MAX"`
}

type DatabaseConfig struct {
	Driver  string `yaml:"driver" env:"PSWS_DB_DRIVER"`
	DSN     string `yaml:"dsn" env:"PSWS_DB_DSN"`
	Migrate bool   `yaml:"migrate" env:"PSWS_DB_MIGRATE"`
}

// MetadataConfig points at the sensor-archive helper executable.
type MetadataConfig struct {
	Helper  string        `yaml:"helper" env:"PSWS_DRF_HELPER"`
	Channel string        `yaml:"channel" env:"PSWS_DRF_CHANNEL"`
	Timeout time.Duration `yaml:"timeout" env:"PSWS_DRF_TIMEOUT"`
}

type JobsConfig struct {
	Backend string        `yaml:"backend" env:"PSWS_JOBS_BACKEND"`
	Timeout time.Duration `yaml:"timeout" env:"PSWS_JOBS_TIMEOUT"`
	Redis   struct {
		Addr     string `yaml:"addr" env:"PSWS_JOBS_REDIS_ADDR"`
		Password string `yaml:"password" env:"PSWS_JOBS_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"PSWS_JOBS_REDIS_DB"`
		List     string `yaml:"list" env:"PSWS_JOBS_REDIS_LIST"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers" env:"PSWS_JOBS_KAFKA_BROKERS"`
		Topic   string   `yaml:"topic" env:"PSWS_JOBS_KAFKA_TOPIC"`
	} `yaml:"kafka"`
	HTTP struct {
		URL      string        `yaml:"url" env:"PSWS_JOBS_HTTP_URL"`
		Secret   string        `yaml:"secret" env:"PSWS_JOBS_HTTP_SECRET"`
		TokenTTL time.Duration `yaml:"tokenTTL" env:"PSWS_JOBS_HTTP_TOKEN_TTL"`
	} `yaml:"http"`
}

type LogConfig struct {
	Path     string `yaml:"path" env:"LOG_PATH"`
	Level    string `yaml:"level" env:"LOG_LEVEL"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING"`
}

// HTTPConfig enables the status surface when Port is set.
type HTTPConfig struct {
	Port         string `yaml:"port" env:"PSWS_HTTP_PORT"`
	OperatorUser string `yaml:"operatorUser" env:"PSWS_OPERATOR_USER"`
	OperatorHash string `yaml:"operatorHash" env:"PSWS_OPERATOR_HASH"`
}

// Defaults returns the built-in configuration before any source is applied.
func Defaults() Config {
	cfg := Config{
		Watch: WatchConfig{
			Root:              DefaultRoot,
			NestedDir:         "stations",
			StationPrefixes:   []string{"S", "N", "T"},
			Ignore:            []string{"OBS*", "magData", "csvData", ".*"},
			TestMarker:        "m_Test",
			PollInterval:      10 * time.Second,
			DiscoveryInterval: time.Minute,
			RetryBase:         30 * time.Second,
			RetryMax:          30 * time.Minute,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Metadata: MetadataConfig{
			Helper:  "psws-drf",
			Channel: "ch0",
			Timeout: 2 * time.Minute,
		},
		Jobs: JobsConfig{
			Backend: "log",
			Timeout: 10 * time.Second,
		},
		Log:  LogConfig{Level: "info", Encoding: "console"},
		HTTP: HTTPConfig{Port: defaultHTTPPort},
	}
	cfg.Jobs.Redis.List = defaultJobsList
	cfg.Jobs.Kafka.Topic = defaultKafkaTopic
	cfg.Jobs.HTTP.TokenTTL = 5 * time.Minute
	return cfg
}

// Load builds the configuration from defaults, the shared loader and the
// optional positional root argument, then validates it.
func Load(args []string) (*Config, error) {
	cfg := Defaults()

	if err := libconfig.LoadConfig(&cfg); err != nil {
		return nil, err
	}

	if len(args) > 1 {
		return nil, fmt.Errorf("config: expected at most one argument (watch root), got %d", len(args))
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		cfg.Watch.Root = strings.TrimSpace(args[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Watch.Root) == "" {
		return errors.New("config: watch root is required")
	}
	if len(c.Watch.StationPrefixes) == 0 {
		return errors.New("config: at least one station prefix is required")
	}
	if c.Watch.PollInterval <= 0 {
		return errors.New("config: poll interval must be positive")
	}
	if c.Watch.DiscoveryInterval <= 0 {
		c.Watch.DiscoveryInterval = c.Watch.PollInterval
	}
	if c.Watch.RetryBase <= 0 || c.Watch.RetryMax < c.Watch.RetryBase {
		return errors.New("config: retry window must satisfy 0 < retryBase <= retryMax")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database DSN is required")
	}

	if strings.TrimSpace(c.Metadata.Helper) == "" {
		return errors.New("config: metadata helper is required")
	}
	if strings.TrimSpace(c.Metadata.Channel) == "" {
		c.Metadata.Channel = "ch0"
	}

	switch strings.ToLower(c.Jobs.Backend) {
	case "log":
	case "redis":
		if strings.TrimSpace(c.Jobs.Redis.Addr) == "" {
			return errors.New("config: jobs.redis.addr is required for redis backend")
		}
	case "kafka":
		if len(c.Jobs.Kafka.Brokers) == 0 || strings.TrimSpace(c.Jobs.Kafka.Topic) == "" {
			return errors.New("config: jobs.kafka brokers and topic are required for kafka backend")
		}
	case "http":
		if strings.TrimSpace(c.Jobs.HTTP.URL) == "" {
			return errors.New("config: jobs.http.url is required for http backend")
		}
		if c.Jobs.HTTP.Secret == "" {
			return errors.New("config: jobs.http.secret is required for http backend")
		}
	default:
		return fmt.Errorf("config: unsupported jobs backend %q", c.Jobs.Backend)
	}

	if c.HTTP.OperatorHash != "" && c.HTTP.OperatorUser == "" {
		return errors.New("config: operator user is required when an operator hash is set")
	}
	return nil
}

// HTTPEnabled reports whether the status surface should be served.
func (c *Config) HTTPEnabled() bool {
	return strings.TrimSpace(c.HTTP.Port) != ""
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
