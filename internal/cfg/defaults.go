package cfg

// Environment variable keys and default values used by Load.
const (
	EnvAPIKey    = "EXCHANGE_API_KEY"
	EnvAPISecret = "EXCHANGE_API_SECRET"
	EnvBaseURL   = "EXCHANGE_BASE_URL"
	EnvWsURL     = "EXCHANGE_WS_URL"
	EnvSymbols   = "SYMBOLS"
	EnvRESTTimeout = "REST_TIMEOUT"

	EnvRiskPerTrade         = "RISK_PER_TRADE"
	EnvMaxPositionRatio     = "MAX_POSITION_RATIO"
	EnvMaxStopLossPercent   = "MAX_STOP_LOSS_PERCENT"
	EnvMaxConsecutiveLosses = "MAX_CONSECUTIVE_LOSSES"
	EnvMaxDrawdownPercent   = "MAX_DRAWDOWN_PERCENT"
	EnvLeverage             = "LEVERAGE"
	EnvMarginBuffer         = "MARGIN_BUFFER"

	EnvEntryRepriceEnabled    = "LIVE_ENTRY_REPRICE_ENABLED"
	EnvOrderExecutionTimeout  = "ORDER_EXECUTION_TIMEOUT"
	EnvOrderStatusCheckInterval = "ORDER_STATUS_CHECK_INTERVAL"
	EnvMaxOrderRetries        = "MAX_ORDER_RETRIES"
	EnvReconciliationInterval = "RECONCILIATION_INTERVAL"

	EnvBacktestInitialCapital = "BACKTEST_INITIAL_CAPITAL"
	EnvBacktestMakerFee       = "BACKTEST_MAKER_FEE"
	EnvBacktestTakerFee       = "BACKTEST_TAKER_FEE"
	EnvBacktestSlippage       = "BACKTEST_SLIPPAGE"
	EnvBacktestSpread         = "BACKTEST_SPREAD"
	EnvLimitOrderMaxBars      = "BACKTEST_LIMIT_ORDER_MAX_BARS"

	EnvNotifyNetworkEnabled     = "NOTIFY_EXCHANGE_NETWORK_ENABLED"
	EnvNotifyNetworkWebhookURL  = "NOTIFY_EXCHANGE_NETWORK_WEBHOOK_URL"
	EnvNotifyNetworkCooldownSec = "NOTIFY_EXCHANGE_NETWORK_COOLDOWN_SECONDS"
	EnvNotifyFillEnabled        = "NOTIFY_TRADE_FILL_ENABLED"
	EnvNotifyFillWebhookURL     = "NOTIFY_TRADE_FILL_WEBHOOK_URL"

	EnvHealthWindowSize           = "HEALTH_WINDOW_SIZE"
	EnvHealthMinSampleSize        = "HEALTH_MIN_SAMPLE_SIZE"
	EnvHealthMinEVNegativeTrades  = "HEALTH_MIN_EV_NEGATIVE_TRADES"
	EnvHealthMinEV                = "HEALTH_MIN_EV"
	EnvHealthMaxConsecutiveLosses = "HEALTH_MAX_CONSECUTIVE_LOSSES"
	EnvHealthAutoEnable           = "HEALTH_AUTO_ENABLE"
	EnvHealthStatePath            = "HEALTH_STATE_PATH"

	EnvMarketDataBufferSize = "MARKET_DATA_BUFFER_SIZE"

	EnvDataPath    = "DATA_PATH"
	EnvMetricsPort = "METRICS_PORT"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
	EnvDryRun      = "DRY_RUN"

	EnvForceLiveTrading = "FORCE_LIVE_TRADING"

	DefaultBaseURL   = "https://api.exchange.example.com"
	DefaultWsURL     = "wss://stream.exchange.example.com"
	DefaultMetricsPort = 9090
	DefaultLeverage     = 10

	DefaultRiskPerTrade       = 0.01
	DefaultMaxPositionRatio   = 0.2
	DefaultMaxStopLossPercent = 0.05
	DefaultMaxConsecutiveLosses = 3
	DefaultMaxDrawdownPercent = 0.15
	DefaultMarginBuffer       = 1.1

	errMsgAPIKeyRequired = "API key and secret are required"
)

const (
	minMetricsPort = 1024
	maxMetricsPort = 65535
)
