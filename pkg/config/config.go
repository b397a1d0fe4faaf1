package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ModeConfig holds the per-analysis-mode source, destination and threshold.
type ModeConfig struct {
	SourceRange string  `yaml:"source_range"`
	Destination string  `yaml:"destination"`
	Threshold   float64 `yaml:"threshold"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port               int           `yaml:"port" default:"8080"`
		ReadTimeout        time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout       time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" default:"15s"`
		StatusPushInterval time.Duration `yaml:"status_push_interval" default:"3s"`
		CORS               bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Analysis struct {
		Timezone         string  `yaml:"timezone" default:"America/New_York"`
		BatchSize        int     `yaml:"batch_size" default:"500"`
		EndDate          string  `yaml:"end_date"`
		LookbackDays     int     `yaml:"lookback_days" default:"365"`
		LogLimit         int     `yaml:"log_limit" default:"200"`
		QuietOpenPercent float64 `yaml:"quiet_open_percent" default:"0.5"`
		GapTolerance     float64 `yaml:"gap_tolerance" default:"0.001"`
		OptionsCheck     bool    `yaml:"options_check"`
		NextDayRecovery  bool    `yaml:"next_day_recovery"`
		Intraday         struct {
			FineInterval   string `yaml:"fine_interval" default:"5m"`
			FineDays       int    `yaml:"fine_days" default:"59"`
			CoarseInterval string `yaml:"coarse_interval" default:"1h"`
		} `yaml:"intraday"`
		Modes struct {
			Pre          ModeConfig `yaml:"pre"`
			Post         ModeConfig `yaml:"post"`
			OpeningPrice ModeConfig `yaml:"opening_price"`
		} `yaml:"modes"`
	} `yaml:"analysis"`
	Provider struct {
		ChartURL     string        `yaml:"chart_url" default:"https://query1.finance.yahoo.com/v8/finance/chart"`
		OptionsURL   string        `yaml:"options_url" default:"https://query2.finance.yahoo.com/v7/finance/options"`
		UserAgent    string        `yaml:"user_agent" default:"Mozilla/5.0 (compatible; SessionScan/1.0)"`
		Timeout      time.Duration `yaml:"timeout" default:"30s"`
		MaxRetries   int           `yaml:"max_retries" default:"2"`
		RetryInitial time.Duration `yaml:"retry_initial" default:"500ms"`
		RateLimit    struct {
			Capacity     float64 `yaml:"capacity" default:"5"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"2"`
		} `yaml:"rate_limit"`
	} `yaml:"provider"`
	Cache struct {
		Backend    string        `yaml:"backend" default:"memory"`
		MaxSize    int           `yaml:"max_size" default:"2000"`
		SeriesTTL  time.Duration `yaml:"series_ttl" default:"4h"`
		OptionsTTL time.Duration `yaml:"options_ttl" default:"12h"`
		Cleanup    time.Duration `yaml:"cleanup_interval" default:"5m"`
	} `yaml:"cache"`
	Store struct {
		Backend     string `yaml:"backend" default:"sqlite"`
		SQLitePath  string `yaml:"sqlite_path" default:"data/sessionscan.db"`
		RedisPrefix string `yaml:"redis_prefix" default:"sessionscan"`
	} `yaml:"store"`
	Scheduler struct {
		Backend    string        `yaml:"backend" default:"local"`
		ChainDelay time.Duration `yaml:"chain_delay" default:"1s"`
		LeaseTTL   time.Duration `yaml:"lease_ttl" default:"10m"`
		Watchdog   string        `yaml:"watchdog" default:"@every 1m"`
		Workers    int           `yaml:"workers" default:"1"`
	} `yaml:"scheduler"`
	Source struct {
		Type string `yaml:"type" default:"sheets"`
		File string `yaml:"file" default:"config/symbols.yaml"`
	} `yaml:"source"`
	Sink struct {
		Type       string        `yaml:"type" default:"sheets"`
		WriteDelay time.Duration `yaml:"write_delay" default:"500ms"`
		Table      string        `yaml:"table" default:"session_rows"`
	} `yaml:"sink"`
	Sheets struct {
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		CredentialsFile string `yaml:"credentials_file"`
		CredentialsJSON string `yaml:"credentials_json"`
	} `yaml:"sheets"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"sessionscan"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"4"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"2"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"true"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"sessionscan.events"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		HashByKey    bool     `yaml:"hash_by_key" default:"true"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
	} `yaml:"redis"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present) and the YAML file, then overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SPREADSHEET_ID"); v != "" {
		c.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("SHEETS_CREDENTIALS_FILE"); v != "" {
		c.Sheets.CredentialsFile = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("END_DATE"); v != "" {
		c.Analysis.EndDate = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	if c.Analysis.Modes.Pre.Threshold == 0 {
		c.Analysis.Modes.Pre.Threshold = 2.0
	}
	if c.Analysis.Modes.Post.Threshold == 0 {
		c.Analysis.Modes.Post.Threshold = 2.0
	}
	if c.Analysis.Modes.OpeningPrice.Threshold == 0 {
		c.Analysis.Modes.OpeningPrice.Threshold = 1.2
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if _, err := time.LoadLocation(c.Analysis.Timezone); err != nil {
		return fmt.Errorf("analysis.timezone: %w", err)
	}
	if c.Analysis.BatchSize <= 0 {
		return fmt.Errorf("analysis.batch_size must be positive")
	}
	if c.Analysis.LookbackDays <= 0 {
		return fmt.Errorf("analysis.lookback_days must be positive")
	}
	if c.Analysis.EndDate != "" {
		if _, err := time.Parse("2006-01-02", c.Analysis.EndDate); err != nil {
			return fmt.Errorf("analysis.end_date must be YYYY-MM-DD, got '%s'", c.Analysis.EndDate)
		}
	}
	if err := oneOf("cache.backend", c.Cache.Backend, "memory", "redis", "layered"); err != nil {
		return err
	}
	if err := oneOf("store.backend", c.Store.Backend, "sqlite", "redis", "memory"); err != nil {
		return err
	}
	if err := oneOf("scheduler.backend", c.Scheduler.Backend, "local", "redis"); err != nil {
		return err
	}
	if err := oneOf("source.type", c.Source.Type, "sheets", "file"); err != nil {
		return err
	}
	if err := oneOf("sink.type", c.Sink.Type, "sheets", "clickhouse"); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// Location returns the exchange timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Analysis.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Mode returns the settings for an analysis mode name.
func (c *Config) Mode(name string) ModeConfig {
	switch name {
	case "pre":
		return c.Analysis.Modes.Pre
	case "post":
		return c.Analysis.Modes.Post
	case "opening_price":
		return c.Analysis.Modes.OpeningPrice
	}
	return ModeConfig{}
}

// UsesSheets reports whether any collaborator talks to Google Sheets.
func (c *Config) UsesSheets() bool {
	return c.Source.Type == "sheets" || c.Sink.Type == "sheets"
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of '%s', got '%s'", field, strings.Join(allowed, "', '"), value)
}
