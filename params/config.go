package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Risk holds the hard limits enforced by the execution engine.
type Risk struct {
	MaxAbsPositionPerSymbol float64
	MaxDailyLoss            float64
}

// Sim holds the ledger/simulation parameters.
type Sim struct {
	// StateDir is where the Pebble state store lives.
	StateDir string
	// LegacyStateFile is a plain-JSON state file from older deployments.
	// If the Pebble store is empty on startup and this file exists, it is
	// imported once and immediately re-saved into the store.
	LegacyStateFile string
	StartingCash    float64
	ActivityLogCap  int
	HideTestData    bool
}

// Feeds holds market-data client settings.
type Feeds struct {
	AlpacaBaseURL     string
	AlpacaKeyID       string
	AlpacaSecret      string
	GammaBaseURL      string
	PriceTimeout      time.Duration
	MarketsTimeout    time.Duration
	RefreshInterval   time.Duration // minimum gap between mark-to-market refreshes
	RefreshCronSpec   string        // cron schedule driving background refresh
	MaxTrackedSymbols int           // cap on symbols fetched per refresh pass
	MarketsLimit      int           // prediction markets requested per refresh
}

type Config struct {
	Risk        Risk
	Sim         Sim
	Feeds       Feeds
	MetricsAddr string
	LogFile     string
	LogLevel    string
}

func Default() Config {
	return Config{
		Risk: Risk{
			MaxAbsPositionPerSymbol: 100.0,
			MaxDailyLoss:            5000.0,
		},
		Sim: Sim{
			StateDir:        "./data/papersim",
			LegacyStateFile: "./data/runtime_state.json",
			StartingCash:    2000.0,
			ActivityLogCap:  5000,
			HideTestData:    false,
		},
		Feeds: Feeds{
			AlpacaBaseURL:     "https://data.alpaca.markets",
			GammaBaseURL:      "https://gamma-api.polymarket.com",
			PriceTimeout:      2500 * time.Millisecond,
			MarketsTimeout:    4 * time.Second,
			RefreshInterval:   5 * time.Minute,
			RefreshCronSpec:   "0 */5 * * * *",
			MaxTrackedSymbols: 60,
			MarketsLimit:      50,
		},
		MetricsAddr: ":9190",
		LogFile:     "./data/simd.log",
		LogLevel:    "info",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Sim.StateDir = getEnv("SIM_STATE_DIR", cfg.Sim.StateDir)
	cfg.Sim.LegacyStateFile = getEnv("SIM_LEGACY_STATE_FILE", cfg.Sim.LegacyStateFile)
	cfg.Sim.StartingCash = getEnvFloat("SIM_STARTING_CASH", cfg.Sim.StartingCash)
	cfg.Sim.HideTestData = getEnvBool("SIM_HIDE_TEST_DATA", cfg.Sim.HideTestData)

	cfg.Risk.MaxAbsPositionPerSymbol = getEnvFloat("SIM_MAX_ABS_POSITION", cfg.Risk.MaxAbsPositionPerSymbol)
	cfg.Risk.MaxDailyLoss = getEnvFloat("SIM_MAX_DAILY_LOSS", cfg.Risk.MaxDailyLoss)

	cfg.Feeds.AlpacaBaseURL = getEnv("MARKET_DATA_BASE_URL", cfg.Feeds.AlpacaBaseURL)
	cfg.Feeds.AlpacaKeyID = getEnv("MARKET_DATA_KEY_ID", cfg.Feeds.AlpacaKeyID)
	cfg.Feeds.AlpacaSecret = getEnv("MARKET_DATA_SECRET", cfg.Feeds.AlpacaSecret)
	cfg.Feeds.GammaBaseURL = getEnv("POLY_GAMMA_BASE_URL", cfg.Feeds.GammaBaseURL)
	cfg.Feeds.PriceTimeout = getEnvMillis("MARKET_DATA_TIMEOUT_MS", cfg.Feeds.PriceTimeout)
	cfg.Feeds.MarketsTimeout = getEnvMillis("POLY_GAMMA_TIMEOUT_MS", cfg.Feeds.MarketsTimeout)
	cfg.Feeds.RefreshInterval = getEnvMillis("MARK_TO_MARKET_INTERVAL_MS", cfg.Feeds.RefreshInterval)
	cfg.Feeds.RefreshCronSpec = getEnv("MARK_TO_MARKET_CRON", cfg.Feeds.RefreshCronSpec)
	cfg.Feeds.MaxTrackedSymbols = getEnvInt("MARK_TO_MARKET_MAX_SYMBOLS", cfg.Feeds.MaxTrackedSymbols)
	cfg.Feeds.MarketsLimit = getEnvInt("POLY_MARKETS_LIMIT", cfg.Feeds.MarketsLimit)

	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogFile = getEnv("SIM_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("SIM_LOG_LEVEL", cfg.LogLevel)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		return raw == "1" || raw == "true" || raw == "yes" || raw == "on"
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
