package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// DefaultInitialCash is credited to every newly opened account.
const DefaultInitialCash = 10_000_000

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Database struct {
		Driver        string `yaml:"driver"` // sqlite | postgres | mysql
		DSN           string `yaml:"dsn"`
		LockTimeoutMS int    `yaml:"lock_timeout_ms"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Trading struct {
		Symbols             []string `yaml:"symbols"`
		AllowShort          *bool    `yaml:"allow_short"`
		MarketIOC           *bool    `yaml:"market_ioc"`
		MatchRetryBackoffMS int      `yaml:"match_retry_backoff_ms"`
		InitialCash         string   `yaml:"initial_cash"` // decimal string, e.g. "10000000"
	} `yaml:"trading"`

	Server struct {
		Addr           string  `yaml:"addr"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst float64 `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	MarketData struct {
		URL             string `yaml:"url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		TimeoutSec      int    `yaml:"timeout_sec"`
	} `yaml:"marketdata"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | text
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.LockTimeoutMS == 0 {
		c.Database.LockTimeoutMS = 2000
	}
	if c.Trading.AllowShort == nil {
		allow := true
		c.Trading.AllowShort = &allow
	}
	if c.Trading.MarketIOC == nil {
		ioc := true
		c.Trading.MarketIOC = &ioc
	}
	if c.Trading.MatchRetryBackoffMS == 0 {
		c.Trading.MatchRetryBackoffMS = 50
	}
	if c.Trading.InitialCash == "" {
		c.Trading.InitialCash = fmt.Sprint(DefaultInitialCash)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 50
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 100
	}
	if c.MarketData.PollIntervalSec == 0 {
		c.MarketData.PollIntervalSec = 60
	}
	if c.MarketData.TimeoutSec == 0 {
		c.MarketData.TimeoutSec = 10
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "hts.trades"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for %s (set HTS_DB_DSN)", c.Database.Driver)
	}
	if c.Database.LockTimeoutMS < 0 {
		return fmt.Errorf("lock timeout must not be negative")
	}

	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}
	for i, s := range c.Trading.Symbols {
		norm := domain.NormalizeSymbol(s)
		if norm == "" {
			return fmt.Errorf("trading symbol #%d is empty", i)
		}
		c.Trading.Symbols[i] = norm
	}
	if _, err := c.InitialCash(); err != nil {
		return err
	}

	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.MarketData.URL != "" && !hasPrefix(c.MarketData.URL, "http://") && !hasPrefix(c.MarketData.URL, "https://") {
		return fmt.Errorf("invalid market data URL: %s", c.MarketData.URL)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled but no brokers are configured")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}
	return nil
}

// InitialCash parses the configured opening balance.
func (c *Config) InitialCash() (quant.PriceMicros, error) {
	v, err := quant.ParsePriceMicros(c.Trading.InitialCash)
	if err != nil {
		return 0, fmt.Errorf("invalid initial cash %q: %w", c.Trading.InitialCash, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("initial cash must not be negative")
	}
	return v, nil
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Database.LockTimeoutMS) * time.Millisecond
}

func (c *Config) MatchRetryBackoff() time.Duration {
	return time.Duration(c.Trading.MatchRetryBackoffMS) * time.Millisecond
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
// 환경 변수는 설정 파일보다 우선합니다.
func overrideWithEnv(cfg *Config) {
	if dsn := os.Getenv("HTS_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if driver := os.Getenv("HTS_DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if brokers := os.Getenv("HTS_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
		cfg.Kafka.Enabled = true
	}
}
