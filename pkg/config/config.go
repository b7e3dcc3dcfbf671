package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"OptionPilot/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Log         struct {
		Level      string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string        `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string        `yaml:"output" default:"stdout"`
		TimeFormat string        `yaml:"time_format"`
		Collect    bool          `yaml:"collect"`
		Interval   time.Duration `yaml:"collect_interval" default:"30s"`
		Threshold  int           `yaml:"collect_threshold" default:"100"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"metrics"`
	Feed struct {
		Source         string        `yaml:"source" default:"websocket" validate:"oneof=websocket kafka"`
		URL            string        `yaml:"url" default:"wss://ws.kite.trade"`
		APIKey         string        `yaml:"api_key"`
		AccessToken    string        `yaml:"access_token"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s"`
		MaxReconnects  int           `yaml:"max_reconnects" default:"5" validate:"gte=1"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
		ReadTimeout    time.Duration `yaml:"read_timeout" default:"30s"`
		BufferSize     int           `yaml:"buffer_size" default:"4096"`
		QueueSize      int           `yaml:"queue_size" default:"4096"`
		MaxTickRate    int           `yaml:"max_ticks_per_second" default:"50" validate:"gte=0"`
		ReconnectPause time.Duration `yaml:"reconnect_pause" default:"30s"`
	} `yaml:"feed"`
	Broker struct {
		Mode           string        `yaml:"mode" default:"paper" validate:"oneof=paper live"`
		BaseURL        string        `yaml:"base_url" default:"https://api.kite.trade"`
		APIKey         string        `yaml:"api_key"`
		AccessToken    string        `yaml:"access_token"`
		Product        string        `yaml:"product" default:"MIS" validate:"oneof=MIS NRML"`
		RateLimit      float64       `yaml:"rate_limit" default:"10" validate:"gt=0"`
		QuoteRateLimit float64       `yaml:"quote_rate_limit" default:"1" validate:"gt=0"`
		Timeout        time.Duration `yaml:"timeout" default:"5s"`
		Paper          struct {
			Capital     float64 `yaml:"capital" default:"50000" validate:"gt=0"`
			SpreadTicks int     `yaml:"spread_ticks" default:"1" validate:"gte=0"`
		} `yaml:"paper"`
	} `yaml:"broker"`
	Instrument struct {
		IndexID        string        `yaml:"index_id" default:"256265" validate:"required"`
		Underlying     string        `yaml:"underlying" default:"NIFTY" validate:"required"`
		Exchange       string        `yaml:"exchange" default:"NFO" validate:"required"`
		StrikeStep     float64       `yaml:"strike_step" default:"50" validate:"gt=0"`
		ChainWidth     int           `yaml:"chain_width" default:"2" validate:"gte=0,lte=20"`
		InstrumentsTTL time.Duration `yaml:"instruments_ttl" default:"6h"`
	} `yaml:"instrument"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"optionpilot"`
			StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
			MaxWait     time.Duration `yaml:"max_wait" default:"250ms"`
		} `yaml:"consumer"`
		Topics struct {
			Ticks  string `yaml:"ticks" default:"optionpilot.ticks"`
			Trades string `yaml:"trades" default:"optionpilot.trades"`
			Events string `yaml:"events" default:"optionpilot.events"`
			Status string `yaml:"status" default:"optionpilot.status"`
			Logs   string `yaml:"logs" default:"optionpilot.logs"`
		} `yaml:"topics"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"optionpilot"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"true"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		TradesTable      string        `yaml:"trades_table" default:"trades" validate:"required,alphanum"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"optionpilot"`
	} `yaml:"redis"`
	Engine EngineConfig `yaml:"engine"`
}

type EngineConfig struct {
	Timezone  string `yaml:"timezone" default:"Asia/Kolkata"`
	Indicator struct {
		Window            int           `yaml:"window" default:"700" validate:"gte=50"`
		SMAPeriod         int           `yaml:"sma_period" default:"9" validate:"gte=1"`
		WMAPeriod         int           `yaml:"wma_period" default:"9" validate:"gte=1"`
		RSIPeriod         int           `yaml:"rsi_period" default:"9" validate:"gte=1"`
		RSISignalPeriod   int           `yaml:"rsi_signal_period" default:"3" validate:"gte=1"`
		ATRPeriod         int           `yaml:"atr_period" default:"14" validate:"gte=1"`
		BandPeriod        int           `yaml:"band_period" default:"5" validate:"gte=1"`
		BandMultiplier    float64       `yaml:"band_multiplier" default:"0.7" validate:"gt=0"`
		SqueezePeriod     int           `yaml:"squeeze_period" default:"20" validate:"gte=1"`
		SqueezeMultiplier float64       `yaml:"squeeze_multiplier" default:"1.5" validate:"gt=0"`
		BootstrapLookback time.Duration `yaml:"bootstrap_lookback" default:"12h"`
	} `yaml:"indicator"`
	Risk struct {
		Capital      float64 `yaml:"capital" default:"50000" validate:"gt=0"`
		RiskPercent  float64 `yaml:"risk_percent" default:"1" validate:"gt=0,lte=100"`
		StopPoints   float64 `yaml:"stop_points" default:"5" validate:"gte=0"`
		StopPercent  float64 `yaml:"stop_pct" default:"0.10" validate:"gte=0,lt=1"`
		TrailPoints  float64 `yaml:"trail_points" default:"5" validate:"gte=0"`
		TrailPercent float64 `yaml:"trail_pct" default:"0.10" validate:"gte=0,lt=1"`
		MinPrice     float64 `yaml:"min_price" default:"1" validate:"gte=0"`
	} `yaml:"risk"`
	Charges struct {
		BrokeragePerOrder float64 `yaml:"brokerage_per_order" default:"20"`
		STTSellRate       float64 `yaml:"stt_sell_rate" default:"0.001"`
		ExchangeRate      float64 `yaml:"exchange_rate" default:"0.0003503"`
		SEBIPerCrore      float64 `yaml:"sebi_per_crore" default:"10"`
		StampBuyRate      float64 `yaml:"stamp_buy_rate" default:"0.00003"`
		GSTRate           float64 `yaml:"gst_rate" default:"0.18"`
	} `yaml:"charges"`
	Execution struct {
		FreezeLimit        int           `yaml:"freeze_limit" default:"900" validate:"gte=1"`
		ChaseRetries       int           `yaml:"chase_retries" default:"3" validate:"gte=0"`
		BaseTimeout        time.Duration `yaml:"base_timeout" default:"100ms"`
		MinTimeout         time.Duration `yaml:"min_timeout" default:"80ms"`
		MaxTimeout         time.Duration `yaml:"max_timeout" default:"300ms"`
		StatusPollInterval time.Duration `yaml:"status_poll_interval" default:"50ms"`
		QuoteRetries       int           `yaml:"quote_retries" default:"2" validate:"gte=0"`
		QuoteRetryDelay    time.Duration `yaml:"quote_retry_delay" default:"50ms"`
		MarketPolls        int           `yaml:"market_polls" default:"10" validate:"gte=1"`
		MarketPollInterval time.Duration `yaml:"market_poll_interval" default:"200ms"`
		SliceGap           time.Duration `yaml:"slice_gap" default:"100ms"`
		VerifyDelay        time.Duration `yaml:"verify_delay" default:"1s"`
		TickSize           float64       `yaml:"tick_size" default:"0.05" validate:"gt=0"`
	} `yaml:"execution"`
	Signal struct {
		MinCandles  int           `yaml:"min_candles" default:"20" validate:"gte=1"`
		MinATR      float64       `yaml:"min_atr" default:"4" validate:"gte=0"`
		LogThrottle time.Duration `yaml:"log_throttle" default:"10s"`
		BandFlipTTL time.Duration `yaml:"band_flip_ttl" default:"2m"`
		MinTrendAge int           `yaml:"min_trend_age" default:"5" validate:"gte=1"`
		DojiTol     float64       `yaml:"doji_tolerance" default:"0.05" validate:"gte=0,lt=1"`
		Gauntlet    struct {
			RSLookback        int     `yaml:"rs_lookback" default:"10" validate:"gte=2"`
			RSStrictPct       float64 `yaml:"rs_strict_pct" default:"2"`
			RSLoosePct        float64 `yaml:"rs_loose_pct" default:"0.5"`
			MaxChasePct       float64 `yaml:"max_chase_pct" default:"15" validate:"gt=0"`
			MomentumWindow    int     `yaml:"momentum_window" default:"10" validate:"gte=4"`
			MinRisingFraction float64 `yaml:"min_rising_fraction" default:"0.6" validate:"gte=0,lte=1"`
		} `yaml:"gauntlet"`
	} `yaml:"signal"`
	Lifecycle struct {
		TradingEnabled        bool          `yaml:"trading_enabled" default:"true"`
		ProfitTarget          float64       `yaml:"profit_target" validate:"gte=0"`
		BreakevenTriggerPct   float64       `yaml:"breakeven_trigger_pct" default:"5" validate:"gte=0"`
		PartialProfitPct      float64       `yaml:"partial_profit_pct" default:"20" validate:"gte=0"`
		PartialExitPct        float64       `yaml:"partial_exit_pct" default:"50" validate:"gte=0,lte=100"`
		InvalidateOnPattern   bool          `yaml:"invalidate_on_pattern" default:"true"`
		InvalidateOnRedCandle bool          `yaml:"invalidate_on_red_candle" default:"true"`
		Cooldown              time.Duration `yaml:"cooldown" default:"60s"`
		MaxTradesPerMinute    int           `yaml:"max_trades_per_minute" default:"2" validate:"gte=1"`
		DailyStopLoss         float64       `yaml:"daily_stop_loss" validate:"gte=0"`
		DailyProfitTarget     float64       `yaml:"daily_profit_target" validate:"gte=0"`
		MaxExitAttempts       int           `yaml:"max_exit_attempts" default:"3" validate:"gte=1"`
		EODCutoff             string        `yaml:"eod_cutoff" default:"15:15"`
		FailsafeWindow        time.Duration `yaml:"failsafe_window" default:"30s"`
		StaleTickWindow       time.Duration `yaml:"stale_tick_window" default:"60s"`
		SuperviseInterval     time.Duration `yaml:"supervise_interval" default:"1s"`
		ExitLogThrottle       time.Duration `yaml:"exit_log_throttle" default:"5s"`
		ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" default:"20s"`
		StatusInterval        time.Duration `yaml:"status_interval" default:"1s"`
	} `yaml:"lifecycle"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets and endpoints
// with OPTIONPILOT_* environment variables. A .env file next to the
// process is read first when present.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv("OPTIONPILOT_" + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		*dst = util.ParseIntDefault(getenv("OPTIONPILOT_"+key), *dst)
	}

	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.Log.Level)
	num("SERVER_PORT", &c.Server.Port)
	str("BROKER_MODE", &c.Broker.Mode)
	str("BROKER_API_KEY", &c.Broker.APIKey)
	str("BROKER_ACCESS_TOKEN", &c.Broker.AccessToken)
	str("FEED_SOURCE", &c.Feed.Source)
	str("FEED_URL", &c.Feed.URL)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("REDIS_HOST", &c.Redis.Host)
	num("REDIS_PORT", &c.Redis.Port)
	str("REDIS_PASSWORD", &c.Redis.Password)
	if v := getenv("OPTIONPILOT_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	// The ticker authenticates with the broker session unless told otherwise.
	if c.Feed.APIKey == "" {
		c.Feed.APIKey = c.Broker.APIKey
	}
	if c.Feed.AccessToken == "" {
		c.Feed.AccessToken = c.Broker.AccessToken
	}
}

// Validate checks tags first, then rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Broker.Mode == "live" && (c.Broker.APIKey == "" || c.Broker.AccessToken == "") {
		return fmt.Errorf("broker.api_key and broker.access_token are required in live mode")
	}
	if c.Feed.Source == "websocket" && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required for the websocket source")
	}
	if c.Feed.Source == "kafka" && (!c.Kafka.Enabled || len(c.Kafka.Brokers) == 0) {
		return fmt.Errorf("feed.source=kafka requires kafka.enabled and kafka.brokers")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if _, err := util.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	if _, err := util.ParseClock(c.Engine.Lifecycle.EODCutoff); err != nil {
		return fmt.Errorf("engine.lifecycle.eod_cutoff: %w", err)
	}
	ex := c.Engine.Execution
	if ex.MinTimeout > ex.MaxTimeout {
		return fmt.Errorf("engine.execution.min_timeout must not exceed max_timeout")
	}
	return nil
}
