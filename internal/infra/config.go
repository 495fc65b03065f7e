package infra

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// GetUserAgent returns a browser-like User-Agent for outbound requests.
func GetUserAgent() string {
	chromeVer := "120.0.0.0"

	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if runtime.GOARCH == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	default:
		return "Mozilla/5.0 (compatible; TitanBot/1.0)"
	}
}

// Config holds the full application configuration, loaded from YAML and
// then overridden by environment variables for sensitive values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode                 string  `yaml:"mode"` // SIM | MASS | LIVE
		DefaultQty           float64 `yaml:"default_qty"`
		SizeUSDSim           float64 `yaml:"size_usd_sim"`
		SizeUSDLive          float64 `yaml:"size_usd_live"`
		FeePerSide           float64 `yaml:"fee_per_side"`
		OpportunityThreshold float64 `yaml:"opportunity_threshold_percent"`
		MaxActionsPerCycle   int     `yaml:"max_actions_per_cycle"`
		InitialBalanceUSD    float64 `yaml:"initial_balance_usd"`
	} `yaml:"trading"`

	Binance struct {
		RestURL         string  `yaml:"rest_url"`
		WSURL           string  `yaml:"ws_url"`
		APIKey          string  `yaml:"api_key"`
		SecretKey       string  `yaml:"secret_key"`
		WeightPerMinute float64 `yaml:"weight_per_minute"`
		SnapshotLimit   int     `yaml:"snapshot_limit"`
		StreamSpeed     string  `yaml:"stream_speed"` // 100ms | 1000ms
		MaxDepthSymbols int     `yaml:"max_depth_symbols"`
	} `yaml:"binance"`

	Engine struct {
		LoopIntervalMS int      `yaml:"loop_interval_ms"`
		TopN           int      `yaml:"top_n"`
		QuoteAsset     string   `yaml:"quote_asset"`
		MinScore       float64  `yaml:"min_score"`
		Symbols        []string `yaml:"symbols"` // static universe; empty discovers by quote asset
	} `yaml:"engine"`

	Sim struct {
		Alpha             float64 `yaml:"alpha"`
		Beta              float64 `yaml:"beta"`
		Gamma             float64 `yaml:"gamma"`
		BaseLatencyMS     float64 `yaml:"base_latency_ms"`
		OverloadThreshold int     `yaml:"overload_threshold"`
		Seed              int64   `yaml:"seed"`
	} `yaml:"sim"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"logging"`
}

// envOverrides mirrors the env vars that may replace file values.
// Secrets belong here, not in the YAML.
type envOverrides struct {
	APIKey      string `env:"TITAN_BINANCE_KEY"`
	SecretKey   string `env:"TITAN_BINANCE_SECRET"`
	Mode        string `env:"TITAN_MODE"`
	LogLevel    string `env:"TITAN_LOG_LEVEL"`
	MetricsAddr string `env:"TITAN_METRICS_ADDR"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Binance.SecretKey != "" {
		fmt.Println("⚠️  SECURITY WARNING: API secret found in config file.")
		fmt.Println("   Recommendation: use configs/secrets.yaml or environment variables:")
		fmt.Println("   - TITAN_BINANCE_KEY, TITAN_BINANCE_SECRET")
	}

	cfg.applyDefaults()

	if err := applySecretsFile(&cfg, path); err != nil {
		return nil, err
	}
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a fully-defaulted configuration, used by tests
// and the mass-test runner where no file is present.
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "titan-bot"
	}
	if c.App.Version == "" {
		c.App.Version = "dev"
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "SIM"
	}
	if c.Trading.DefaultQty <= 0 {
		c.Trading.DefaultQty = 1.0
	}
	if c.Trading.SizeUSDSim <= 0 {
		c.Trading.SizeUSDSim = 500.0
	}
	if c.Trading.SizeUSDLive <= 0 {
		c.Trading.SizeUSDLive = 50.0
	}
	if c.Trading.FeePerSide <= 0 {
		c.Trading.FeePerSide = 0.001
	}
	if c.Trading.OpportunityThreshold <= 0 {
		c.Trading.OpportunityThreshold = 0.2
	}
	if c.Trading.MaxActionsPerCycle <= 0 {
		c.Trading.MaxActionsPerCycle = 5
	}
	if c.Trading.InitialBalanceUSD <= 0 {
		c.Trading.InitialBalanceUSD = 10000.0
	}
	if c.Binance.RestURL == "" {
		c.Binance.RestURL = "https://api.binance.com"
	}
	if c.Binance.WSURL == "" {
		c.Binance.WSURL = "wss://stream.binance.com:9443"
	}
	if c.Binance.WeightPerMinute <= 0 {
		c.Binance.WeightPerMinute = 6000
	}
	if c.Binance.SnapshotLimit <= 0 {
		c.Binance.SnapshotLimit = 1000
	}
	if c.Binance.StreamSpeed == "" {
		c.Binance.StreamSpeed = "100ms"
	}
	if c.Binance.MaxDepthSymbols <= 0 {
		c.Binance.MaxDepthSymbols = 40
	}
	if c.Engine.LoopIntervalMS <= 0 {
		c.Engine.LoopIntervalMS = 1000
	}
	if c.Engine.TopN <= 0 {
		c.Engine.TopN = 20
	}
	if c.Engine.QuoteAsset == "" {
		c.Engine.QuoteAsset = "USDT"
	}
	if c.Engine.MinScore <= 0 {
		c.Engine.MinScore = 70
	}
	if c.Sim.Alpha <= 0 {
		c.Sim.Alpha = 0.6
	}
	if c.Sim.Beta <= 0 {
		c.Sim.Beta = 0.9
	}
	if c.Sim.Gamma <= 0 {
		c.Sim.Gamma = 1.0
	}
	if c.Sim.BaseLatencyMS <= 0 {
		c.Sim.BaseLatencyMS = 250.0
	}
	if c.Sim.OverloadThreshold <= 0 {
		c.Sim.OverloadThreshold = 5
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:9109"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Trading.Mode) {
	case "SIM", "MASS", "LIVE":
	default:
		return fmt.Errorf("unknown trading mode: %s", c.Trading.Mode)
	}

	if !strings.HasPrefix(c.Binance.WSURL, "ws://") && !strings.HasPrefix(c.Binance.WSURL, "wss://") {
		return fmt.Errorf("invalid Binance WS URL: %s", c.Binance.WSURL)
	}
	if !strings.HasPrefix(c.Binance.RestURL, "http://") && !strings.HasPrefix(c.Binance.RestURL, "https://") {
		return fmt.Errorf("invalid Binance REST URL: %s", c.Binance.RestURL)
	}

	switch c.Binance.StreamSpeed {
	case "100ms", "1000ms":
	default:
		return fmt.Errorf("stream speed must be 100ms or 1000ms, got %s", c.Binance.StreamSpeed)
	}

	if strings.ToUpper(c.Trading.Mode) == "LIVE" && (c.Binance.APIKey == "" || c.Binance.SecretKey == "") {
		return fmt.Errorf("LIVE mode requires TITAN_BINANCE_KEY and TITAN_BINANCE_SECRET")
	}

	return nil
}

// LoopInterval returns the engine cycle interval as a Duration.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Engine.LoopIntervalMS) * time.Millisecond
}

// overrideWithEnv applies environment variables on top of file values.
// Environment always wins for secrets.
func overrideWithEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}

	if ov.APIKey != "" {
		cfg.Binance.APIKey = ov.APIKey
	}
	if ov.SecretKey != "" {
		cfg.Binance.SecretKey = ov.SecretKey
	}
	if ov.Mode != "" {
		cfg.Trading.Mode = ov.Mode
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	if ov.MetricsAddr != "" {
		cfg.Metrics.ListenAddr = ov.MetricsAddr
	}

	return nil
}
