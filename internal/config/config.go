package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Exchange  ExchangeConfig
	Monitor   MonitorConfig
	Arbitrage ArbitrageConfig
	Risk      RiskConfig
	Executor  ExecutorConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Server    ServerConfig
	Ledger    LedgerConfig
}

// LedgerConfig seeds the in-memory balance ledger. In paper mode these are
// the simulated holdings; in live mode they mirror the exchange account.
type LedgerConfig struct {
	InitialBalances map[string]float64 `mapstructure:"initial_balances"`
}

// ExchangeConfig selects and parameterizes the order-placement capability
// and the quote feeds.
type ExchangeConfig struct {
	RestURL      string        `mapstructure:"rest_url"`
	WsURL        string        `mapstructure:"ws_url"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	Paper        bool          `mapstructure:"paper"`
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
}

// MonitorConfig defines the price monitor's polling and retention settings.
type MonitorConfig struct {
	PollIntervalUSDT time.Duration `mapstructure:"poll_interval_usdt"`
	PollIntervalUSDC time.Duration `mapstructure:"poll_interval_usdc"`
	HistorySize      int           `mapstructure:"history_size"`
	HistoryMaxAge    time.Duration `mapstructure:"history_max_age"`
}

// ArbitrageConfig defines the engine loop settings.
type ArbitrageConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	TradeAmount    float64       `mapstructure:"trade_amount"`
	FreshnessBound time.Duration `mapstructure:"freshness_bound"`
}

// RiskConfig defines the limits the risk controller enforces.
type RiskConfig struct {
	MinSpreadPct      float64       `mapstructure:"min_spread_pct"`
	DailyVolumeLimit  float64       `mapstructure:"daily_volume_limit"`
	SafetyMargin      float64       `mapstructure:"safety_margin"`
	VolatilityCeiling float64       `mapstructure:"volatility_ceiling"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MaxTradeAmount    float64       `mapstructure:"max_trade_amount"`
}

// ExecutorConfig defines the buy-leg retry policy.
type ExecutorConfig struct {
	BuyRetries    int           `mapstructure:"buy_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	SlippageLimit float64       `mapstructure:"slippage_limit"`
}

// DatabaseConfig defines the postgres connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig defines the dashboard feed publisher settings. An empty Addr
// disables publishing.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	DB       int           `mapstructure:"db"`
	Password string        `mapstructure:"password"`
	Channel  string        `mapstructure:"channel"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig defines the prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ServerConfig defines the HTTP read/control API listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("exchange.rest_url", "https://api.mexc.com")
	viper.SetDefault("exchange.ws_url", "wss://wbs.mexc.com/ws")
	viper.SetDefault("exchange.paper", true)
	viper.SetDefault("exchange.order_timeout", "10s")
	viper.SetDefault("exchange.quote_timeout", "5s")

	viper.SetDefault("monitor.poll_interval_usdt", "2s")
	viper.SetDefault("monitor.poll_interval_usdc", "2s")
	viper.SetDefault("monitor.history_size", 500)
	viper.SetDefault("monitor.history_max_age", "30m")

	viper.SetDefault("arbitrage.tick_interval", "5s")
	viper.SetDefault("arbitrage.trade_amount", 100.0)
	viper.SetDefault("arbitrage.freshness_bound", "30s")

	viper.SetDefault("risk.min_spread_pct", 0.3)
	viper.SetDefault("risk.daily_volume_limit", 5000.0)
	viper.SetDefault("risk.safety_margin", 0.1)
	viper.SetDefault("risk.volatility_ceiling", 0.02)
	viper.SetDefault("risk.cooldown", "30s")
	viper.SetDefault("risk.max_trade_amount", 500.0)

	viper.SetDefault("executor.buy_retries", 2)
	viper.SetDefault("executor.retry_backoff", "2s")
	viper.SetDefault("executor.slippage_limit", 0.001)

	viper.SetDefault("redis.channel", "xrparb:spread")
	viper.SetDefault("redis.ttl", "30s")

	viper.SetDefault("metrics.addr", ":9101")
	viper.SetDefault("server.addr", ":8080")

	viper.SetDefault("ledger.initial_balances", map[string]float64{
		"XRP":  10000,
		"USDT": 5000,
		"USDC": 5000,
	})
}
