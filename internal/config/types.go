package config

// Config is the top-level configuration for guardian.
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Market   MarketConfig   `toml:"market"`
	Advisor  AdvisorConfig  `toml:"advisor"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Reverse  ReverseConfig  `toml:"reverse"`
	Cooldown CooldownConfig `toml:"cooldown"`
	Manage   ManageConfig   `toml:"manage"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig describes access to the Binance USDⓈ-M futures API.
type ExchangeConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	Testnet        bool   `toml:"testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ProxyURL       string `toml:"proxy_url"`
}

// MarketConfig points at the technical analyzer serving risk snapshots.
type MarketConfig struct {
	AnalyzerURL    string `toml:"analyzer_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AdvisorConfig points at the AI advisor consulted for distressed positions.
type AdvisorConfig struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	AuthToken      string `toml:"auth_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TradingConfig controls entry defaults.
type TradingConfig struct {
	DefaultSizePct  float64 `toml:"default_size_pct"` // fraction of free balance, 0~1
	DefaultLeverage float64 `toml:"default_leverage"`
	MinNotionalUSD  float64 `toml:"min_notional_usd"`
	EntryOrderType  string  `toml:"entry_order_type"` // "market" | "limit"
}

// RiskConfig tunes the per-position exit rule engine.
type RiskConfig struct {
	DefaultStopPct        float64 `toml:"default_stop_pct"`        // initial SL distance when no ATR
	StopATRMultiplier     float64 `toml:"stop_atr_multiplier"`     // initial SL = entry -/+ atr*mult
	BreakEvenR            float64 `toml:"break_even_r"`            // profit in R before BE lock
	FeeBufferPct          float64 `toml:"fee_buffer_pct"`          // BE target offset past entry
	PartialTPR            float64 `toml:"partial_tp_r"`            // profit in R before partial TP
	PartialTPFraction     float64 `toml:"partial_tp_fraction"`     // fraction of qty closed at TP
	TimeStopMinutes       int     `toml:"time_stop_minutes"`
	TimeStopMinProfitR    float64 `toml:"time_stop_min_profit_r"`  // below this R the time stop may fire
	TimeStopATRDecay      float64 `toml:"time_stop_atr_decay"`     // current ATR% / initial ATR% under this = stalled
	TrailATRMultiplier    float64 `toml:"trail_atr_multiplier"`
	TrailFallbackPct      float64 `toml:"trail_fallback_pct"`      // trailing distance when ATR missing
	StructureATROffset    float64 `toml:"structure_atr_offset"`    // EMA/structure stop offset in ATRs
	VolumeSpikeRatio      float64 `toml:"volume_spike_ratio"`      // volume ratio counting as a BE-lock spike
	ProtectedR            float64 `toml:"protected_r"`             // momentum exit allowed past this R
	EntryGapTolerancePct  float64 `toml:"entry_gap_tolerance_pct"` // anchor rebuild when entry drifts past this
	ProfilePath           string  `toml:"profile_path"`            // optional per-asset overrides (YAML)
}

// ReverseConfig tunes the losing-position escalation ladder.
// Thresholds are leveraged ROI fractions, all negative, ordered
// hard_stop < reverse < ai_review < warning < 0.
type ReverseConfig struct {
	WarningThreshold  float64 `toml:"warning_threshold"`
	AIReviewThreshold float64 `toml:"ai_review_threshold"`
	ReverseThreshold  float64 `toml:"reverse_threshold"`
	HardStopThreshold float64 `toml:"hard_stop_threshold"`
	CooldownMinutes   int     `toml:"cooldown_minutes"` // per-symbol gap between reverse attempts
	Leverage          float64 `toml:"leverage"`         // leverage used for the recovery position
	MinConfidence     float64 `toml:"min_confidence"`   // advisor confidence bar for REVERSE
	ContextVotes      int     `toml:"context_votes"`    // market context votes required (of 3)
	RecoveryMinPct    float64 `toml:"recovery_min_pct"`
	RecoveryMaxPct    float64 `toml:"recovery_max_pct"`
}

// CooldownConfig controls the re-entry gate after closes.
type CooldownConfig struct {
	Minutes         int     `toml:"minutes"`
	LossMinutes     int     `toml:"loss_minutes"`      // additional window after losing closes
	PnLThresholdPct float64 `toml:"pnl_threshold_pct"` // |leveraged PnL%| below this records no cooldown
}

// ManageConfig controls the tick loop.
type ManageConfig struct {
	IntervalSeconds int  `toml:"interval_seconds"`
	MaxConcurrency  int  `toml:"max_concurrency"` // symbols processed in parallel per tick
	RunImmediately  bool `toml:"run_immediately"`
}

type StoreConfig struct {
	CooldownPath     string `toml:"cooldown_path"`
	DecisionLogPath  string `toml:"decision_log_path"`
	EquityMaxSamples int    `toml:"equity_max_samples"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
