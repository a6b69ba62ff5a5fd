// Package cfg provides configuration management for perpengine. It supports
// loading configuration from both a YAML file and environment variables,
// with environment variables taking precedence, and builds one immutable
// CoreConfig at startup — no process-wide mutable config object is read by
// any other package (Design Note: "global singletons" flattened).
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RiskConfig is the §4.4 Risk Control configuration, fields enumerated
// exactly as spec'd.
type RiskConfig struct {
	RiskPerTrade         float64 // fraction of equity risked at stop distance, e.g. 0.01
	MaxPositionRatio     float64 // fraction of equity a single position's notional may occupy
	MaxStopLossPercent   float64 // hard cap on (entry-stop)/entry
	MaxConsecutiveLosses int
	MaxDrawdownPercent   float64
	Leverage             int
	MarginBuffer         float64 // >= 1, safety multiplier on required margin
}

// ExecutionConfig drives internal/execution's TradingEngine behavior.
type ExecutionConfig struct {
	EntryRepriceEnabled      bool
	OrderExecutionTimeout    time.Duration
	OrderStatusCheckInterval time.Duration
	MaxOrderRetries          int
	ReconciliationInterval   time.Duration
}

// BacktestConfig configures the deterministic fill simulator.
type BacktestConfig struct {
	InitialCapital    float64
	MakerFee          float64
	TakerFee          float64
	Slippage          float64
	Spread            float64
	LimitOrderMaxBars int
}

// NotifyConfig configures the webhook alert notifiers.
type NotifyConfig struct {
	ExchangeNetworkEnabled        bool
	ExchangeNetworkWebhookURL     string
	ExchangeNetworkCooldownSec    int
	TradeFillEnabled              bool
	TradeFillWebhookURL           string
}

// HealthConfig drives the Strategy Health Supervisor.
type HealthConfig struct {
	WindowSize           int
	MinSampleSize        int
	MinEVNegativeTrades  int
	MinEV                float64
	MaxConsecutiveLosses int
	AutoEnable           bool
	StatePath            string
}

// MarketDataConfig drives the MarketDataManager's ring buffer.
type MarketDataConfig struct {
	BufferSize int // default 500 candles per (symbol, interval)
}

// ExchangeConfig holds adapter credentials and endpoints.
type ExchangeConfig struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	WsURL       string
	Symbols     []string
	RESTTimeout time.Duration
}

// SystemConfig holds ambient process settings.
type SystemConfig struct {
	DataPath    string
	MetricsPort int
	LogLevel    string
	LogFormat   string // "console" or "json"
}

// CoreConfig is the single immutable configuration object built once at
// startup and passed by value/pointer into every component's constructor.
type CoreConfig struct {
	Exchange   ExchangeConfig
	Risk       RiskConfig
	Execution  ExecutionConfig
	Backtest   BacktestConfig
	Notify     NotifyConfig
	Health     HealthConfig
	MarketData MarketDataConfig
	System     SystemConfig
	DryRun     bool
}

// configFile is the YAML on-disk shape; Load converts it (with env
// overrides) into the flat CoreConfig.
type configFile struct {
	Exchange struct {
		APIKey      string `yaml:"apiKey"`
		APISecret   string `yaml:"apiSecret"`
		BaseURL     string `yaml:"baseURL"`
		WsURL       string `yaml:"wsURL"`
		Symbols     []string `yaml:"symbols"`
		RESTTimeout string `yaml:"restTimeout"`
	} `yaml:"exchange"`

	Risk struct {
		RiskPerTrade         float64 `yaml:"riskPerTrade"`
		MaxPositionRatio     float64 `yaml:"maxPositionRatio"`
		MaxStopLossPercent   float64 `yaml:"maxStopLossPercent"`
		MaxConsecutiveLosses int     `yaml:"maxConsecutiveLosses"`
		MaxDrawdownPercent   float64 `yaml:"maxDrawdownPercent"`
		Leverage             int     `yaml:"leverage"`
		MarginBuffer         float64 `yaml:"marginBuffer"`
	} `yaml:"risk"`

	Live struct {
		Entry struct {
			Reprice struct {
				Enabled bool `yaml:"enabled"`
			} `yaml:"reprice"`
		} `yaml:"entry"`
	} `yaml:"live"`

	Execution struct {
		OrderExecutionTimeout    string `yaml:"orderExecutionTimeout"`
		OrderStatusCheckInterval string `yaml:"orderStatusCheckInterval"`
		MaxOrderRetries          int    `yaml:"maxOrderRetries"`
		ReconciliationInterval   string `yaml:"reconciliationInterval"`
	} `yaml:"execution"`

	Backtest struct {
		InitialCapital    float64 `yaml:"initialCapital"`
		MakerFee          float64 `yaml:"makerFee"`
		TakerFee          float64 `yaml:"takerFee"`
		Slippage          float64 `yaml:"slippage"`
		Spread            float64 `yaml:"spread"`
		LimitOrderMaxBars int     `yaml:"limitOrderMaxBars"`
	} `yaml:"backtest"`

	Notify struct {
		Exchange struct {
			Network struct {
				Enabled        bool   `yaml:"enabled"`
				WebhookURL     string `yaml:"webhookUrl"`
				CooldownSec    int    `yaml:"cooldownSeconds"`
			} `yaml:"network"`
		} `yaml:"exchange"`
		Trade struct {
			Fill struct {
				Enabled    bool   `yaml:"enabled"`
				WebhookURL string `yaml:"webhookUrl"`
			} `yaml:"fill"`
		} `yaml:"trade"`
	} `yaml:"notify"`

	Health struct {
		WindowSize           int     `yaml:"windowSize"`
		MinSampleSize        int     `yaml:"minSampleSize"`
		MinEVNegativeTrades  int     `yaml:"minEVNegativeTrades"`
		MinEV                float64 `yaml:"minEV"`
		MaxConsecutiveLosses int     `yaml:"maxConsecutiveLosses"`
		AutoEnable           bool    `yaml:"autoEnable"`
		StatePath            string  `yaml:"statePath"`
	} `yaml:"health"`

	MarketData struct {
		BufferSize int `yaml:"bufferSize"`
	} `yaml:"marketData"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
		LogLevel    string `yaml:"logLevel"`
		LogFormat   string `yaml:"logFormat"`
	} `yaml:"system"`

	DryRun bool `yaml:"dryRun"`
}

// Load loads configuration from either a YAML file (when CONFIG_FILE is set)
// or environment variables.
func Load() (CoreConfig, error) {
	_ = godotenv.Load()

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (CoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return CoreConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	key := getEnvOrDefault(EnvAPIKey, f.Exchange.APIKey)
	secret := getEnvOrDefault(EnvAPISecret, f.Exchange.APISecret)
	if key == "" || secret == "" {
		return CoreConfig{}, fmt.Errorf(errMsgAPIKeyRequired)
	}

	cfg := CoreConfig{
		Exchange: ExchangeConfig{
			APIKey:      key,
			APISecret:   secret,
			BaseURL:     getEnvOrDefault(EnvBaseURL, f.Exchange.BaseURL),
			WsURL:       getEnvOrDefault(EnvWsURL, f.Exchange.WsURL),
			Symbols:     getSymbolsFromEnvOrConfig(f.Exchange.Symbols),
			RESTTimeout: parseDurationOrDefault(f.Exchange.RESTTimeout, 5*time.Second),
		},
		Risk: RiskConfig{
			RiskPerTrade:         floatOrDefault(f.Risk.RiskPerTrade, DefaultRiskPerTrade),
			MaxPositionRatio:     floatOrDefault(f.Risk.MaxPositionRatio, DefaultMaxPositionRatio),
			MaxStopLossPercent:   floatOrDefault(f.Risk.MaxStopLossPercent, DefaultMaxStopLossPercent),
			MaxConsecutiveLosses: intOrDefault(f.Risk.MaxConsecutiveLosses, DefaultMaxConsecutiveLosses),
			MaxDrawdownPercent:   floatOrDefault(f.Risk.MaxDrawdownPercent, DefaultMaxDrawdownPercent),
			Leverage:             intOrDefault(f.Risk.Leverage, DefaultLeverage),
			MarginBuffer:         floatOrDefault(f.Risk.MarginBuffer, DefaultMarginBuffer),
		},
		Execution: ExecutionConfig{
			EntryRepriceEnabled:      getBoolOrDefault(EnvEntryRepriceEnabled, f.Live.Entry.Reprice.Enabled),
			OrderExecutionTimeout:    parseDurationOrDefault(f.Execution.OrderExecutionTimeout, 30*time.Second),
			OrderStatusCheckInterval: parseDurationOrDefault(f.Execution.OrderStatusCheckInterval, 5*time.Second),
			MaxOrderRetries:          intOrDefault(f.Execution.MaxOrderRetries, 3),
			ReconciliationInterval:   parseDurationOrDefault(f.Execution.ReconciliationInterval, 30*time.Second),
		},
		Backtest: BacktestConfig{
			InitialCapital:    floatOrDefault(f.Backtest.InitialCapital, 10000),
			MakerFee:          floatOrDefault(f.Backtest.MakerFee, 0.0002),
			TakerFee:          floatOrDefault(f.Backtest.TakerFee, 0.0004),
			Slippage:          floatOrDefault(f.Backtest.Slippage, 0.0005),
			Spread:            f.Backtest.Spread,
			LimitOrderMaxBars: intOrDefault(f.Backtest.LimitOrderMaxBars, 3),
		},
		Notify: NotifyConfig{
			ExchangeNetworkEnabled:     f.Notify.Exchange.Network.Enabled,
			ExchangeNetworkWebhookURL:  f.Notify.Exchange.Network.WebhookURL,
			ExchangeNetworkCooldownSec: intOrDefault(f.Notify.Exchange.Network.CooldownSec, 60),
			TradeFillEnabled:           f.Notify.Trade.Fill.Enabled,
			TradeFillWebhookURL:        f.Notify.Trade.Fill.WebhookURL,
		},
		Health: HealthConfig{
			WindowSize:           intOrDefault(f.Health.WindowSize, 50),
			MinSampleSize:        intOrDefault(f.Health.MinSampleSize, 5),
			MinEVNegativeTrades:  intOrDefault(f.Health.MinEVNegativeTrades, 5),
			MinEV:                f.Health.MinEV,
			MaxConsecutiveLosses: intOrDefault(f.Health.MaxConsecutiveLosses, 3),
			AutoEnable:           f.Health.AutoEnable,
			StatePath:            getEnvOrDefault(EnvHealthStatePath, firstNonEmpty(f.Health.StatePath, "data/monitor/health-state.json")),
		},
		MarketData: MarketDataConfig{
			BufferSize: intOrDefault(f.MarketData.BufferSize, 500),
		},
		System: SystemConfig{
			DataPath:    getEnvOrDefault(EnvDataPath, firstNonEmpty(f.System.DataPath, "data")),
			MetricsPort: intOrDefault(f.System.MetricsPort, DefaultMetricsPort),
			LogLevel:    getEnvOrDefault(EnvLogLevel, firstNonEmpty(f.System.LogLevel, "info")),
			LogFormat:   getEnvOrDefault(EnvLogFormat, firstNonEmpty(f.System.LogFormat, "console")),
		},
		DryRun: getBoolOrDefault(EnvDryRun, f.DryRun),
	}

	if err := validate(&cfg); err != nil {
		return CoreConfig{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromEnv() (CoreConfig, error) {
	key, err := getEnvRequired(EnvAPIKey)
	if err != nil {
		return CoreConfig{}, err
	}
	secret, err := getEnvRequired(EnvAPISecret)
	if err != nil {
		return CoreConfig{}, err
	}

	cfg := CoreConfig{
		Exchange: ExchangeConfig{
			APIKey:      key,
			APISecret:   secret,
			BaseURL:     getEnvOrDefault(EnvBaseURL, DefaultBaseURL),
			WsURL:       getEnvOrDefault(EnvWsURL, DefaultWsURL),
			Symbols:     splitOrDefault(os.Getenv(EnvSymbols), []string{"BTC-USDT"}),
			RESTTimeout: getDurationOrDefault(EnvRESTTimeout, 5*time.Second),
		},
		Risk: RiskConfig{
			RiskPerTrade:         getFloatOrDefault(EnvRiskPerTrade, DefaultRiskPerTrade),
			MaxPositionRatio:     getFloatOrDefault(EnvMaxPositionRatio, DefaultMaxPositionRatio),
			MaxStopLossPercent:  getFloatOrDefault(EnvMaxStopLossPercent, DefaultMaxStopLossPercent),
			MaxConsecutiveLosses: getIntOrDefault(EnvMaxConsecutiveLosses, DefaultMaxConsecutiveLosses),
			MaxDrawdownPercent:   getFloatOrDefault(EnvMaxDrawdownPercent, DefaultMaxDrawdownPercent),
			Leverage:             getIntOrDefault(EnvLeverage, DefaultLeverage),
			MarginBuffer:         getFloatOrDefault(EnvMarginBuffer, DefaultMarginBuffer),
		},
		Execution: ExecutionConfig{
			EntryRepriceEnabled:      getBoolOrDefault(EnvEntryRepriceEnabled, false),
			OrderExecutionTimeout:    getDurationOrDefault(EnvOrderExecutionTimeout, 30*time.Second),
			OrderStatusCheckInterval: getDurationOrDefault(EnvOrderStatusCheckInterval, 5*time.Second),
			MaxOrderRetries:          getIntOrDefault(EnvMaxOrderRetries, 3),
			ReconciliationInterval:   getDurationOrDefault(EnvReconciliationInterval, 30*time.Second),
		},
		Backtest: BacktestConfig{
			InitialCapital:    getFloatOrDefault(EnvBacktestInitialCapital, 10000),
			MakerFee:          getFloatOrDefault(EnvBacktestMakerFee, 0.0002),
			TakerFee:          getFloatOrDefault(EnvBacktestTakerFee, 0.0004),
			Slippage:          getFloatOrDefault(EnvBacktestSlippage, 0.0005),
			Spread:            getFloatOrDefault(EnvBacktestSpread, 0),
			LimitOrderMaxBars: getIntOrDefault(EnvLimitOrderMaxBars, 3),
		},
		Notify: NotifyConfig{
			ExchangeNetworkEnabled:     getBoolOrDefault(EnvNotifyNetworkEnabled, false),
			ExchangeNetworkWebhookURL:  os.Getenv(EnvNotifyNetworkWebhookURL),
			ExchangeNetworkCooldownSec: getIntOrDefault(EnvNotifyNetworkCooldownSec, 60),
			TradeFillEnabled:           getBoolOrDefault(EnvNotifyFillEnabled, false),
			TradeFillWebhookURL:        os.Getenv(EnvNotifyFillWebhookURL),
		},
		Health: HealthConfig{
			WindowSize:           getIntOrDefault(EnvHealthWindowSize, 50),
			MinSampleSize:        getIntOrDefault(EnvHealthMinSampleSize, 5),
			MinEVNegativeTrades:  getIntOrDefault(EnvHealthMinEVNegativeTrades, 5),
			MinEV:                getFloatOrDefault(EnvHealthMinEV, 0),
			MaxConsecutiveLosses: getIntOrDefault(EnvHealthMaxConsecutiveLosses, 3),
			AutoEnable:           getBoolOrDefault(EnvHealthAutoEnable, false),
			StatePath:            getEnvOrDefault(EnvHealthStatePath, "data/monitor/health-state.json"),
		},
		MarketData: MarketDataConfig{
			BufferSize: getIntOrDefault(EnvMarketDataBufferSize, 500),
		},
		System: SystemConfig{
			DataPath:    getEnvOrDefault(EnvDataPath, "data"),
			MetricsPort: getIntOrDefault(EnvMetricsPort, DefaultMetricsPort),
			LogLevel:    getEnvOrDefault(EnvLogLevel, "info"),
			LogFormat:   getEnvOrDefault(EnvLogFormat, "console"),
		},
		DryRun: getBoolOrDefault(EnvDryRun, false),
	}

	if err := validate(&cfg); err != nil {
		return CoreConfig{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseDurationOrDefault(raw string, defaultValue time.Duration) time.Duration {
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func intOrDefault(v, defaultValue int) int {
	if v != 0 {
		return v
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func floatOrDefault(v, defaultValue float64) float64 {
	if v != 0 {
		return v
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

func getSymbolsFromEnvOrConfig(configSymbols []string) []string {
	if env := os.Getenv(EnvSymbols); env != "" {
		return strings.Split(env, ",")
	}
	if len(configSymbols) > 0 {
		return configSymbols
	}
	return []string{"BTC-USDT"}
}
