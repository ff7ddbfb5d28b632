package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"tradecore/internal/broker"
	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/feed"
	"tradecore/internal/indicator"
	"tradecore/internal/ledger"
	"tradecore/internal/pattern"
	"tradecore/internal/signal"
	"tradecore/internal/structure"
	"tradecore/internal/util"
)

// DefaultPath is used when neither a flag nor TRADECORE_CONFIG names a file.
const DefaultPath = "config/tradecore.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradecore.
type Config struct {
	Storage    Storage                `yaml:"storage"`
	Server     Server                 `yaml:"server"`
	Alpaca     Alpaca                 `yaml:"alpaca"`
	Logging    Logging                `yaml:"logging"`
	Feed       Feed                   `yaml:"feed"`
	Markets    []Market               `yaml:"markets"`
	Indicators []indicator.Params     `yaml:"indicators"`
	Patterns   pattern.Config         `yaml:"patterns"`
	Structure  structure.Config       `yaml:"structure"`
	Signal     signal.Config          `yaml:"signal"`
	Risk       engine.RiskConfig      `yaml:"risk"`
	Execution  Execution              `yaml:"execution"`
	Portfolio  ledger.Config          `yaml:"portfolio"`
	Simulator  broker.SimulatorConfig `yaml:"simulator"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	// JournalBuffer is the recorder's queue size.
	JournalBuffer int `yaml:"journal_buffer"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
	// StatusHistory is how many recent items the status board keeps per list.
	StatusHistory int `yaml:"status_history"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Feed selects and tunes the market data source.
type Feed struct {
	// Mode is "alpaca" for live polling or "replay" for the Parquet archive.
	Mode              string        `yaml:"mode"`
	Source            string        `yaml:"source"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Warmup            int           `yaml:"warmup"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	ReplayStart       string        `yaml:"replay_start"`
	ReplayEnd         string        `yaml:"replay_end"`
	ReplayPace        time.Duration `yaml:"replay_pace"`
	// Calendar is "us_equity" (regular hours, holidays loaded from Alpaca
	// when credentials are set) or "continuous".
	Calendar string `yaml:"calendar"`
}

// Market is one (symbol, timeframe) subscription.
type Market struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

// Execution holds order handling and venue selection.
type Execution struct {
	engine.ExecutionConfig `yaml:",inline"`
	// Broker is "simulator" or "alpaca".
	Broker           string        `yaml:"broker"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`
	MaxMissing       int           `yaml:"max_missing"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used for every field a file omits.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:       "data",
			SQLitePath:    "data/tradecore.db",
			JournalBuffer: 4096,
		},
		Server:  Server{Host: "127.0.0.1", Port: 8080, GRPCPort: 50051, StatusHistory: 100},
		Alpaca:  Alpaca{BaseURL: "https://paper-api.alpaca.markets"},
		Logging: Logging{Level: "info", Format: "json"},
		Feed: Feed{
			Mode:              "alpaca",
			Source:            "iex",
			PollInterval:      10 * time.Second,
			Warmup:            200,
			RequestsPerMinute: 180,
			Calendar:          "us_equity",
		},
		Indicators: engine.DefaultIndicators(),
		Patterns:   pattern.DefaultConfig(),
		Structure:  structure.DefaultConfig(),
		Signal:     signal.DefaultConfig(),
		Risk:       engine.DefaultRiskConfig(),
		Execution: Execution{
			ExecutionConfig:  engine.DefaultExecutionConfig(),
			Broker:           "simulator",
			PollInterval:     2 * time.Second,
			SweepInterval:    time.Minute,
			ResubscribeDelay: 5 * time.Second,
		},
		Portfolio: ledger.DefaultConfig(),
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path resolves the configuration file: the flag value when set, then
// TRADECORE_CONFIG, then DefaultPath.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("TRADECORE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, applies .env and environment variable overrides, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that adjust the
// configuration before validating it themselves.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// A missing .env file is normal outside development.
	_ = godotenv.Load()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides lists the environment variables that override the file.
// Later fields in applyEnvOverrides win over earlier ones.
type envOverrides struct {
	DataDir       string `envconfig:"DATA_DIR"`
	TCDataDir     string `envconfig:"TRADECORE_DATA_DIR"`
	SQLitePath    string `envconfig:"SQLITE_PATH"`
	TCSQLitePath  string `envconfig:"TRADECORE_SQLITE_PATH"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	TCLogLevel    string `envconfig:"TRADECORE_LOG_LEVEL"`
	AlpacaKey     string `envconfig:"ALPACA_API_KEY"`
	AlpacaSecret  string `envconfig:"ALPACA_API_SECRET"`
	AlpacaBaseURL string `envconfig:"ALPACA_BASE_URL"`
	AlpacaDataURL string `envconfig:"ALPACA_DATA_URL"`
	APCAKeyID     string `envconfig:"APCA_API_KEY_ID"`
	APCASecretKey string `envconfig:"APCA_API_SECRET_KEY"`
	Broker        string `envconfig:"TRADECORE_BROKER"`
	FeedMode      string `envconfig:"TRADECORE_FEED"`
}

// applyEnvOverrides reads well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	set := func(dst *string, vals ...string) {
		for _, v := range vals {
			if v != "" {
				*dst = v
			}
		}
	}
	set(&cfg.Storage.DataDir, env.DataDir, env.TCDataDir)
	set(&cfg.Storage.SQLitePath, env.SQLitePath, env.TCSQLitePath)
	set(&cfg.Logging.Level, env.LogLevel, env.TCLogLevel)
	set(&cfg.Alpaca.BaseURL, env.AlpacaBaseURL)
	set(&cfg.Alpaca.DataURL, env.AlpacaDataURL)
	set(&cfg.Execution.Broker, env.Broker)
	set(&cfg.Feed.Mode, env.FeedMode)

	// Standard Alpaca env vars have the highest priority; they are the
	// canonical names used by the SDK.
	set(&cfg.Alpaca.APIKey, env.AlpacaKey, env.APCAKeyID)
	set(&cfg.Alpaca.APISecret, env.AlpacaSecret, env.APCASecretKey)
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Markets) == 0 {
		bad("markets: at least one market is required")
	}
	seen := map[string]bool{}
	for i, m := range c.Markets {
		if strings.TrimSpace(m.Symbol) == "" {
			bad("markets[%d]: symbol is required", i)
		}
		if _, err := domain.Timeframe(m.Timeframe).Duration(); err != nil {
			bad("markets[%d]: %v", i, err)
		}
		k := strings.ToUpper(m.Symbol) + "/" + m.Timeframe
		if seen[k] {
			bad("markets[%d]: duplicate market %s", i, k)
		}
		seen[k] = true
	}

	if len(c.Indicators) == 0 {
		bad("indicators: at least one indicator is required")
	}
	reg := indicator.DefaultRegistry()
	for i, p := range c.Indicators {
		if _, err := reg.Build(p); err != nil {
			bad("indicators[%d]: %v", i, err)
		}
	}

	if c.Signal.Confluence < 1 {
		bad("signal.confluence must be at least 1")
	}
	if c.Signal.RewardRisk <= 0 {
		bad("signal.reward_risk must be positive")
	}
	if _, err := util.NewSessionCalendar(c.Signal.KillZones); err != nil {
		bad("signal.kill_zones: %v", err)
	}

	switch c.Risk.Method {
	case "", engine.SizingFixedFractional, engine.SizingPercentEquity, engine.SizingVolatility, engine.SizingKelly:
	default:
		bad("risk.sizing_method: unknown method %q", c.Risk.Method)
	}
	if c.Risk.RiskPerTrade < 0 || c.Risk.RiskPerTrade > 1 {
		bad("risk.risk_per_trade must be within [0, 1]")
	}
	if c.Risk.LotSize < 0 {
		bad("risk.lot_size must not be negative")
	}

	switch c.Execution.Broker {
	case "simulator":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			bad("execution.broker alpaca requires alpaca credentials")
		}
	default:
		bad("execution.broker: unknown broker %q", c.Execution.Broker)
	}
	switch c.Execution.OrderType {
	case domain.OrderTypeMarket, domain.OrderTypeLimit:
	default:
		bad("execution.order_type: unknown type %q", c.Execution.OrderType)
	}

	switch c.Feed.Mode {
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			bad("feed.mode alpaca requires alpaca credentials")
		}
	case "replay":
		if _, _, err := c.ReplayWindow(); err != nil {
			bad("feed: %v", err)
		}
	default:
		bad("feed.mode: unknown mode %q", c.Feed.Mode)
	}
	switch c.Feed.Calendar {
	case "", "us_equity", "continuous":
	default:
		bad("feed.calendar: unknown calendar %q", c.Feed.Calendar)
	}
	if c.Execution.MaxMissing < 0 {
		bad("execution.max_missing must not be negative")
	}

	if c.Portfolio.InitialCash <= 0 {
		bad("portfolio.initial_cash must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		bad("logging.format: unknown format %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Derived settings
// ---------------------------------------------------------------------------

// Keys returns the configured markets as domain keys.
func (c *Config) Keys() []domain.Key {
	out := make([]domain.Key, len(c.Markets))
	for i, m := range c.Markets {
		out[i] = domain.Key{Symbol: strings.ToUpper(m.Symbol), Timeframe: domain.Timeframe(m.Timeframe)}
	}
	return out
}

// TradingCalendar returns the calendar named by feed.calendar, before any
// sessions are loaded into it.
func (c *Config) TradingCalendar() *util.TradingCalendar {
	if c.Feed.Calendar == "continuous" {
		return util.ContinuousCalendar()
	}
	return util.NewTradingCalendar()
}

// Engine assembles the engine configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Markets: c.Keys(),
		Pipeline: engine.PipelineConfig{
			Indicators: c.Indicators,
			Patterns:   c.Patterns,
			Structure:  c.Structure,
			MaxMissing: c.Execution.MaxMissing,
			Calendar:   c.TradingCalendar(),
		},
		Signal:           c.Signal,
		Risk:             c.Risk,
		Execution:        c.Execution.ExecutionConfig,
		SweepInterval:    c.Execution.SweepInterval,
		ResubscribeDelay: c.Execution.ResubscribeDelay,
		StopOnFeedEnd:    c.Feed.Mode == "replay",
	}
}

// AlpacaFeed returns the live feed settings.
func (c *Config) AlpacaFeed() feed.AlpacaConfig {
	return feed.AlpacaConfig{
		APIKey:            c.Alpaca.APIKey,
		APISecret:         c.Alpaca.APISecret,
		DataURL:           c.Alpaca.DataURL,
		Source:            c.Feed.Source,
		PollInterval:      c.Feed.PollInterval,
		Warmup:            c.Feed.Warmup,
		RequestsPerMinute: c.Feed.RequestsPerMinute,
	}
}

// AlpacaBroker returns the trading API settings.
func (c *Config) AlpacaBroker() broker.AlpacaConfig {
	return broker.AlpacaConfig{
		APIKey:            c.Alpaca.APIKey,
		APISecret:         c.Alpaca.APISecret,
		BaseURL:           c.Alpaca.BaseURL,
		PollInterval:      c.Execution.PollInterval,
		RequestsPerMinute: c.Feed.RequestsPerMinute,
	}
}

// ReplayWindow parses the replay start and end dates. An empty end means
// now.
func (c *Config) ReplayWindow() (start, end time.Time, err error) {
	if c.Feed.ReplayStart == "" {
		return start, end, errors.New("replay_start is required in replay mode")
	}
	start, err = time.Parse("2006-01-02", c.Feed.ReplayStart)
	if err != nil {
		return start, end, fmt.Errorf("replay_start: %w", err)
	}
	end = time.Now().UTC()
	if c.Feed.ReplayEnd != "" {
		end, err = time.Parse("2006-01-02", c.Feed.ReplayEnd)
		if err != nil {
			return start, end, fmt.Errorf("replay_end: %w", err)
		}
		end = end.Add(24*time.Hour - time.Millisecond)
	}
	if !end.After(start) {
		return start, end, errors.New("replay_end must be after replay_start")
	}
	return start, end, nil
}

// HTTPAddr is the HTTP listener address.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GRPCAddr is the gRPC listener address.
func (c *Config) GRPCAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.GRPCPort))
}
