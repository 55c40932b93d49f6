// Package config loads the monitor configuration from YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/ebbo_monitor/internal/apis"
	"github.com/Aidin1998/ebbo_monitor/internal/chain"
	"github.com/Aidin1998/ebbo_monitor/internal/checks"
	"github.com/Aidin1998/ebbo_monitor/internal/daemon"
	"github.com/Aidin1998/ebbo_monitor/internal/monitoring"
	"github.com/Aidin1998/ebbo_monitor/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. EBBO_CHAIN_NODE_URL.
const EnvPrefix = "EBBO"

const redacted = "***"

type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Encoding string `mapstructure:"encoding" yaml:"encoding" validate:"oneof=json console"`
}

type DaemonConfig struct {
	SleepInterval time.Duration `mapstructure:"sleep_interval" yaml:"sleep_interval" validate:"gt=0"`
	ParallelTests bool          `mapstructure:"parallel_tests" yaml:"parallel_tests"`
	MaxWorkers    int           `mapstructure:"max_workers" yaml:"max_workers" validate:"gte=0"`
	RunTimeout    time.Duration `mapstructure:"run_timeout" yaml:"run_timeout" validate:"gte=0"`
	StartBlock    uint64        `mapstructure:"start_block" yaml:"start_block"`
}

type ChainConfig struct {
	NodeURL            string        `mapstructure:"node_url" yaml:"node_url" validate:"required_without=InfuraKey"`
	InfuraKey          string        `mapstructure:"infura_key" yaml:"infura_key"`
	SettlementContract string        `mapstructure:"settlement_contract" yaml:"settlement_contract" validate:"required,eth_addr"`
	TradeTopic         string        `mapstructure:"trade_topic" yaml:"trade_topic" validate:"required,startswith=0x,len=66"`
	CoWAMMHelper       string        `mapstructure:"cowamm_helper" yaml:"cowamm_helper" validate:"required,eth_addr"`
	TenderlyNodeURL    string        `mapstructure:"tenderly_node_url" yaml:"tenderly_node_url" validate:"omitempty,url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
}

// URL returns the node endpoint, building an Infura URL when only the key is set.
func (c ChainConfig) URL() string {
	if c.NodeURL != "" {
		return c.NodeURL
	}
	return "https://mainnet.infura.io/v3/" + c.InfuraKey
}

type HTTPConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes" yaml:"max_response_bytes" validate:"gt=0"`
}

type UpstreamConfig struct {
	ProdURL string `mapstructure:"prod_url" yaml:"prod_url" validate:"required,url"`
	BarnURL string `mapstructure:"barn_url" yaml:"barn_url" validate:"omitempty,url"`
}

type SolverConfig struct {
	URL       string `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	TimeLimit int    `mapstructure:"time_limit" yaml:"time_limit" validate:"gt=0"`
}

type CoingeckoConfig struct {
	URL           string  `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
}

type EthplorerConfig struct {
	URL    string `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Address        string        `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"`
	Password       string        `mapstructure:"password" yaml:"password"`
	DB             int           `mapstructure:"db" yaml:"db"`
	TTL            time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
	CompressionMin int           `mapstructure:"compression_min" yaml:"compression_min" validate:"gte=0"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url" validate:"omitempty,url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic" validate:"required_if=Enabled true"`
}

type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Kafka   KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"required_if=Enabled true,gte=0,lte=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type TelemetryConfig struct {
	Tracing        bool          `mapstructure:"tracing" yaml:"tracing"`
	Metrics        bool          `mapstructure:"metrics" yaml:"metrics"`
	MetricInterval time.Duration `mapstructure:"metric_interval" yaml:"metric_interval"`
}

// ThresholdsConfig mirrors checks.Thresholds with plain numbers.
type ThresholdsConfig struct {
	SurplusAbsoluteETH float64 `mapstructure:"surplus_absolute_eth" yaml:"surplus_absolute_eth" validate:"gte=0"`
	SurplusRelative    float64 `mapstructure:"surplus_relative" yaml:"surplus_relative" validate:"gte=0"`
	SurplusCombine     string  `mapstructure:"surplus_combine" yaml:"surplus_combine" validate:"required"`

	CostCoverageAbsoluteETH float64 `mapstructure:"cost_coverage_absolute_eth" yaml:"cost_coverage_absolute_eth" validate:"gte=0"`
	CostCoverageRelative    float64 `mapstructure:"cost_coverage_relative" yaml:"cost_coverage_relative" validate:"gte=0"`
	CostCoverageCombine     string  `mapstructure:"cost_coverage_combine" yaml:"cost_coverage_combine" validate:"required"`

	FeeRelative float64 `mapstructure:"fee_relative" yaml:"fee_relative" validate:"gte=0"`

	CombinatorialAbsoluteETH  float64 `mapstructure:"combinatorial_absolute_eth" yaml:"combinatorial_absolute_eth" validate:"gte=0"`
	CombinatorialFeeCostRatio float64 `mapstructure:"combinatorial_fee_cost_ratio" yaml:"combinatorial_fee_cost_ratio" validate:"gte=0"`
	ReferenceSolverName       string  `mapstructure:"reference_solver_name" yaml:"reference_solver_name" validate:"required"`

	UDPSensitivity         float64 `mapstructure:"udp_sensitivity" yaml:"udp_sensitivity" validate:"gte=0"`
	UCPVsNativeSensitivity float64 `mapstructure:"ucp_vs_native_sensitivity" yaml:"ucp_vs_native_sensitivity" validate:"gte=0"`

	HighScoreETH float64 `mapstructure:"high_score_eth" yaml:"high_score_eth" validate:"gte=0"`

	KickbacksETH                 float64  `mapstructure:"kickbacks_eth" yaml:"kickbacks_eth" validate:"gte=0"`
	MEVBlockerKickbacksAddresses []string `mapstructure:"mev_blocker_kickbacks_addresses" yaml:"mev_blocker_kickbacks_addresses" validate:"dive,eth_addr"`

	BufferInterval           int     `mapstructure:"buffer_interval" yaml:"buffer_interval" validate:"gte=0"`
	BuffersUSD               float64 `mapstructure:"buffers_usd" yaml:"buffers_usd" validate:"gte=0"`
	BufferTokenCrossCheckUSD float64 `mapstructure:"buffer_token_cross_check_usd" yaml:"buffer_token_cross_check_usd" validate:"gte=0"`

	CostCoverageCapETH float64 `mapstructure:"cost_coverage_cap_eth" yaml:"cost_coverage_cap_eth" validate:"gte=0"`
	DayBlockInterval   uint64  `mapstructure:"day_block_interval" yaml:"day_block_interval" validate:"gt=0"`

	TokenImbalanceETH float64 `mapstructure:"token_imbalance_eth" yaml:"token_imbalance_eth" validate:"gte=0"`
}

type TestsConfig struct {
	Enabled []string `mapstructure:"enabled" yaml:"enabled" validate:"min=1,dive,required"`
}

// Config is the full monitor configuration.
type Config struct {
	Log             LogConfig        `mapstructure:"log" yaml:"log"`
	Daemon          DaemonConfig     `mapstructure:"daemon" yaml:"daemon"`
	Chain           ChainConfig      `mapstructure:"chain" yaml:"chain"`
	HTTP            HTTPConfig       `mapstructure:"http" yaml:"http"`
	Orderbook       UpstreamConfig   `mapstructure:"orderbook" yaml:"orderbook"`
	AuctionInstance UpstreamConfig   `mapstructure:"auction_instance" yaml:"auction_instance"`
	Solver          SolverConfig     `mapstructure:"solver" yaml:"solver"`
	Coingecko       CoingeckoConfig  `mapstructure:"coingecko" yaml:"coingecko"`
	Ethplorer       EthplorerConfig  `mapstructure:"ethplorer" yaml:"ethplorer"`
	TokenLists      []string         `mapstructure:"token_lists" yaml:"token_lists" validate:"dive,url"`
	Redis           RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Alerts          AlertsConfig     `mapstructure:"alerts" yaml:"alerts"`
	Server          ServerConfig     `mapstructure:"server" yaml:"server"`
	Telemetry       TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	Thresholds      ThresholdsConfig `mapstructure:"thresholds" yaml:"thresholds"`
	Tests           TestsConfig      `mapstructure:"tests" yaml:"tests"`
}

// Manager loads the configuration and watches the file for log level changes.
type Manager struct {
	configPath string
	logger     *zap.Logger
	viper      *viper.Viper
	validate   *validator.Validate

	mutex  sync.RWMutex
	config *Config
}

// NewManager creates a manager. An empty configPath searches config.yaml in the working
// directory, ./configs and /etc/ebbo-monitor.
func NewManager(configPath string, logger *zap.Logger) *Manager {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Manager{
		configPath: configPath,
		logger:     logger.Named("config"),
		viper:      v,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration file, applies environment overrides and validates the
// result. A missing file is not an error.
func (m *Manager) Load() (*Config, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	} else {
		m.viper.SetConfigName("config")
		m.viper.SetConfigType("yaml")
		m.viper.AddConfigPath(".")
		m.viper.AddConfigPath("./configs")
		m.viper.AddConfigPath("/etc/ebbo-monitor")
	}

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		m.logger.Info("No configuration file found, using defaults and environment")
	} else {
		m.logger.Info("Configuration loaded", zap.String("file", m.viper.ConfigFileUsed()))
	}

	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := m.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Alerts.Kafka.Enabled && len(cfg.Alerts.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("invalid config: alerts.kafka.brokers is required when the kafka channel is enabled")
	}
	if err := validateTests(cfg.Tests.Enabled); err != nil {
		return nil, err
	}
	if _, err := cfg.Thresholds.Thresholds(); err != nil {
		return nil, err
	}

	m.config = cfg
	return cfg, nil
}

// Config returns the last loaded configuration.
func (m *Manager) Config() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.config
}

// WatchLogLevel applies log.level changes in the configuration file to level. Other
// keys need a restart.
func (m *Manager) WatchLogLevel(level zap.AtomicLevel) {
	if m.viper.ConfigFileUsed() == "" {
		return
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.applyLogLevel(level, e.Name)
	})
	m.viper.WatchConfig()
}

func (m *Manager) applyLogLevel(level zap.AtomicLevel, file string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	next := m.viper.GetString("log.level")
	parsed := logger.ParseLevel(next)
	if parsed == level.Level() {
		return
	}
	level.SetLevel(parsed)
	if m.config != nil {
		m.config.Log.Level = next
	}
	m.logger.Info("Log level changed", zap.String("file", file), zap.String("level", parsed.String()))
}

func validateTests(names []string) error {
	known := make(map[string]struct{}, len(checks.AllNames()))
	for _, name := range checks.AllNames() {
		known[name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("invalid config: unknown test %q", name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	d := daemon.DefaultConfig()
	v.SetDefault("daemon.sleep_interval", d.SleepInterval)
	v.SetDefault("daemon.parallel_tests", d.ParallelTests)
	v.SetDefault("daemon.max_workers", d.MaxWorkers)
	v.SetDefault("daemon.run_timeout", d.RunTimeout)
	v.SetDefault("daemon.start_block", 0)

	// Registered so AutomaticEnv picks the secrets up during Unmarshal.
	v.SetDefault("chain.node_url", "")
	v.SetDefault("chain.infura_key", "")
	v.SetDefault("chain.settlement_contract", chain.SettlementContract)
	v.SetDefault("chain.trade_topic", chain.TradeTopic)
	v.SetDefault("chain.cowamm_helper", chain.CoWAMMHelper)
	v.SetDefault("chain.tenderly_node_url", "")
	v.SetDefault("chain.request_timeout", d.RequestTimeout)

	h := apis.DefaultClientConfig()
	v.SetDefault("http.request_timeout", h.Timeout)
	v.SetDefault("http.max_retries", h.MaxRetries)
	v.SetDefault("http.retry_interval", h.RetryInterval)
	v.SetDefault("http.user_agent", h.UserAgent)
	v.SetDefault("http.max_response_bytes", h.MaxResponseBytes)

	v.SetDefault("orderbook.prod_url", apis.OrderbookProdURL)
	v.SetDefault("orderbook.barn_url", apis.OrderbookBarnURL)
	v.SetDefault("auction_instance.prod_url", apis.AuctionInstanceProdURL)
	v.SetDefault("auction_instance.barn_url", apis.AuctionInstanceBarnURL)

	v.SetDefault("solver.url", "")
	v.SetDefault("solver.time_limit", 20)
	v.SetDefault("coingecko.url", apis.CoingeckoURL)
	v.SetDefault("coingecko.rate_per_second", 0.5)
	v.SetDefault("ethplorer.url", apis.EthplorerURL)
	v.SetDefault("ethplorer.api_key", "freekey")
	v.SetDefault("token_lists", apis.DefaultTokenLists)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("redis.compression_min", 1024)

	v.SetDefault("alerts.slack.webhook_url", "")
	v.SetDefault("alerts.slack.channel", "")
	v.SetDefault("alerts.webhook.url", "")
	v.SetDefault("alerts.webhook.timeout", 30*time.Second)
	v.SetDefault("alerts.kafka.enabled", false)
	v.SetDefault("alerts.kafka.brokers", []string{})
	v.SetDefault("alerts.kafka.topic", "ebbo-alerts")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.metric_interval", time.Minute)

	v.SetDefault("thresholds.surplus_absolute_eth", 0.002)
	v.SetDefault("thresholds.surplus_relative", 0.001)
	v.SetDefault("thresholds.surplus_combine", string(monitoring.CombineAnd))
	v.SetDefault("thresholds.cost_coverage_absolute_eth", 0.005)
	v.SetDefault("thresholds.cost_coverage_relative", 0.5)
	v.SetDefault("thresholds.cost_coverage_combine", string(monitoring.CombineOr))
	v.SetDefault("thresholds.fee_relative", 0.5)
	v.SetDefault("thresholds.combinatorial_absolute_eth", 0.01)
	v.SetDefault("thresholds.combinatorial_fee_cost_ratio", 0.9)
	v.SetDefault("thresholds.reference_solver_name", "baseline")
	v.SetDefault("thresholds.udp_sensitivity", 0.005)
	v.SetDefault("thresholds.ucp_vs_native_sensitivity", 0.5)
	v.SetDefault("thresholds.high_score_eth", 10)
	v.SetDefault("thresholds.kickbacks_eth", 0.03)
	v.SetDefault("thresholds.mev_blocker_kickbacks_addresses", []string{})
	v.SetDefault("thresholds.buffer_interval", 150)
	v.SetDefault("thresholds.buffers_usd", 200000)
	v.SetDefault("thresholds.buffer_token_cross_check_usd", 10000)
	v.SetDefault("thresholds.cost_coverage_cap_eth", 0.01)
	v.SetDefault("thresholds.day_block_interval", 7200)
	v.SetDefault("thresholds.token_imbalance_eth", 0.01)

	v.SetDefault("tests.enabled", checks.AllNames())
}

// Thresholds converts the configured numbers into exact tolerances.
func (t ThresholdsConfig) Thresholds() (checks.Thresholds, error) {
	surplusCombine, err := monitoring.ParseCombine(t.SurplusCombine)
	if err != nil {
		return checks.Thresholds{}, fmt.Errorf("invalid config: thresholds.surplus_combine: %w", err)
	}
	costCombine, err := monitoring.ParseCombine(t.CostCoverageCombine)
	if err != nil {
		return checks.Thresholds{}, fmt.Errorf("invalid config: thresholds.cost_coverage_combine: %w", err)
	}
	rat := monitoring.RatFromFloat
	return checks.Thresholds{
		SurplusAbsoluteETH: rat(t.SurplusAbsoluteETH),
		SurplusRelative:    rat(t.SurplusRelative),
		SurplusCombine:     surplusCombine,

		CostCoverageAbsoluteETH: rat(t.CostCoverageAbsoluteETH),
		CostCoverageRelative:    rat(t.CostCoverageRelative),
		CostCoverageCombine:     costCombine,

		FeeRelative: rat(t.FeeRelative),

		CombinatorialAbsoluteETH:  rat(t.CombinatorialAbsoluteETH),
		CombinatorialFeeCostRatio: rat(t.CombinatorialFeeCostRatio),
		ReferenceSolverName:       t.ReferenceSolverName,

		UDPSensitivity:         rat(t.UDPSensitivity),
		UCPVsNativeSensitivity: rat(t.UCPVsNativeSensitivity),

		HighScoreETH: rat(t.HighScoreETH),

		KickbacksETH:      rat(t.KickbacksETH),
		KickbackAddresses: append([]string(nil), t.MEVBlockerKickbacksAddresses...),

		BufferInterval:           t.BufferInterval,
		BuffersUSD:               decimal.NewFromFloat(t.BuffersUSD),
		BufferTokenCrossCheckUSD: decimal.NewFromFloat(t.BufferTokenCrossCheckUSD),

		CostCoverageCapETH: rat(t.CostCoverageCapETH),
		DayBlockInterval:   t.DayBlockInterval,

		TokenImbalanceETH: rat(t.TokenImbalanceETH),
	}, nil
}

// DaemonConfig converts the daemon section.
func (c *Config) DaemonConfig() daemon.Config {
	return daemon.Config{
		SleepInterval:  c.Daemon.SleepInterval,
		ParallelTests:  c.Daemon.ParallelTests,
		MaxWorkers:     c.Daemon.MaxWorkers,
		RunTimeout:     c.Daemon.RunTimeout,
		RequestTimeout: c.Chain.RequestTimeout,
		StartBlock:     c.Daemon.StartBlock,
	}
}

// ChainClientConfig converts the contract addresses for chain.Client.
func (c *Config) ChainClientConfig() chain.Config {
	return chain.Config{
		SettlementContract: c.Chain.SettlementContract,
		TradeTopic:         c.Chain.TradeTopic,
	}
}

// ClientConfig returns the HTTP client settings for one upstream service.
func (c *Config) ClientConfig(ratePerSecond float64) apis.ClientConfig {
	return apis.ClientConfig{
		Timeout:          c.HTTP.RequestTimeout,
		MaxRetries:       c.HTTP.MaxRetries,
		RetryInterval:    c.HTTP.RetryInterval,
		UserAgent:        c.HTTP.UserAgent,
		RatePerSecond:    ratePerSecond,
		MaxResponseBytes: c.HTTP.MaxResponseBytes,
	}
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Chain.NodeURL)
	mask(&out.Chain.InfuraKey)
	mask(&out.Chain.TenderlyNodeURL)
	mask(&out.Ethplorer.APIKey)
	mask(&out.Redis.Password)
	mask(&out.Alerts.Slack.WebhookURL)
	mask(&out.Alerts.Webhook.URL)
	if len(c.Alerts.Webhook.Headers) > 0 {
		out.Alerts.Webhook.Headers = make(map[string]string, len(c.Alerts.Webhook.Headers))
		for k := range c.Alerts.Webhook.Headers {
			out.Alerts.Webhook.Headers[k] = redacted
		}
	}
	return out
}
