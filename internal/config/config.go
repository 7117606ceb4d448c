package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Cache    CacheConfig    `yaml:"cache"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Risk     RiskConfig     `yaml:"risk"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// LogConfig настройки логирования
type LogConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"`
}

// ServerConfig настройки сервера инструментов
type ServerConfig struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	MaxInFlight   int    `yaml:"max_in_flight"`
	MaxLineBytes  int    `yaml:"max_line_bytes"`
	ErrorsAsFlags bool   `yaml:"errors_as_flags"`
}

// ExchangeConfig содержит настройки подключения к Bybit
type ExchangeConfig struct {
	BaseURL        string        `yaml:"base_url"`
	StreamURL      string        `yaml:"stream_url"`
	RecvWindow     int           `yaml:"recv_window"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// CacheConfig настройки кэша балансов
type CacheConfig struct {
	BalanceTTL time.Duration `yaml:"balance_ttl"`
	KlineTTL   time.Duration `yaml:"kline_ttl"`
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	CandleLimit  int                `yaml:"candle_limit"`
	Technical    TechnicalConfig    `yaml:"technical"`
	Structure    StructureConfig    `yaml:"structure"`
	Levels       LevelsConfig       `yaml:"levels"`
	OrderBook    OrderBookConfig    `yaml:"orderbook"`
	Funding      FundingConfig      `yaml:"funding"`
	OpenInterest OpenInterestConfig `yaml:"open_interest"`
	VolumeDelta  VolumeDeltaConfig  `yaml:"volume_delta"`
}

// TechnicalConfig настройки технического анализа
type TechnicalConfig struct {
	RSIPeriod    int     `yaml:"rsi_period"`
	BBPeriod     int     `yaml:"bb_period"`
	BBDeviation  float64 `yaml:"bb_deviation"`
	MACDFast     int     `yaml:"macd_fast"`
	MACDSlow     int     `yaml:"macd_slow"`
	MACDSignal   int     `yaml:"macd_signal"`
	ATRPeriod    int     `yaml:"atr_period"`
	VolumePeriod int     `yaml:"volume_period"`
}

// StructureConfig настройки анализа структуры рынка
type StructureConfig struct {
	Window  int `yaml:"window"`
	MinBars int `yaml:"min_bars"`
}

// LevelsConfig настройки поиска уровней
type LevelsConfig struct {
	ClusterPct float64 `yaml:"cluster_pct"`
	NearPct    float64 `yaml:"near_pct"`
}

// OrderBookConfig настройки анализа стакана
type OrderBookConfig struct {
	Depth              int     `yaml:"depth"`
	ImbalanceThreshold float64 `yaml:"imbalance_threshold"`
}

// FundingConfig настройки анализа ставок финансирования
type FundingConfig struct {
	Periods          int     `yaml:"periods"`
	ExtremeThreshold float64 `yaml:"extreme_threshold"`
}

// OpenInterestConfig настройки анализа открытого интереса
type OpenInterestConfig struct {
	Lookback        int     `yaml:"lookback"`
	ChangeThreshold float64 `yaml:"change_threshold"`
}

// VolumeDeltaConfig настройки анализа дельты объемов
type VolumeDeltaConfig struct {
	Lookback              int     `yaml:"lookback"`
	SignificanceThreshold float64 `yaml:"significance_threshold"`
}

// RiskConfig настройки расчета размера позиции
type RiskConfig struct {
	DepositUSD   float64 `yaml:"deposit_usd"`
	RiskFraction float64 `yaml:"risk_fraction"`
}

// ScannerConfig настройки сканера рынка
type ScannerConfig struct {
	MinVolume24h  float64  `yaml:"min_volume_24h"`
	MaxCandidates int      `yaml:"max_candidates"`
	Concurrency   int      `yaml:"concurrency"`
	Timeframes    []string `yaml:"timeframes"`
	ATRStopMult   float64  `yaml:"atr_stop_mult"`
	RewardRatio   float64  `yaml:"reward_ratio"`
}

// MonitorConfig настройки мониторинга позиций по умолчанию
type MonitorConfig struct {
	TrailingPct       float64       `yaml:"trailing_pct"`
	EventBuffer       int           `yaml:"event_buffer"`
	ReversalTimeframe string        `yaml:"reversal_timeframe"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Log: LogConfig{
			File:  "logs/bybit-mcp.log",
			Level: "info",
		},
		Server: ServerConfig{
			Name:          "bybit-mcp",
			Version:       "1.0.0",
			MaxInFlight:   16,
			MaxLineBytes:  4 << 20,
			ErrorsAsFlags: true,
		},
		Exchange: ExchangeConfig{
			RecvWindow:     5000,
			Timeout:        10 * time.Second,
			RequestsPerSec: 10,
			PingInterval:   20 * time.Second,
		},
		Cache: CacheConfig{
			BalanceTTL: 30 * time.Second,
			KlineTTL:   15 * time.Second,
		},
		Analysis: AnalysisConfig{
			CandleLimit: 200,
			Technical: TechnicalConfig{
				RSIPeriod:    14,
				BBPeriod:     20,
				BBDeviation:  2.0,
				MACDFast:     12,
				MACDSlow:     26,
				MACDSignal:   9,
				ATRPeriod:    14,
				VolumePeriod: 20,
			},
			Structure: StructureConfig{Window: 5, MinBars: 10},
			Levels:    LevelsConfig{ClusterPct: 0.5, NearPct: 2.0},
			OrderBook: OrderBookConfig{Depth: 50, ImbalanceThreshold: 10},
			Funding:   FundingConfig{Periods: 10, ExtremeThreshold: 0.0005},
			OpenInterest: OpenInterestConfig{
				Lookback:        24,
				ChangeThreshold: 2.0,
			},
			VolumeDelta: VolumeDeltaConfig{
				Lookback:              20,
				SignificanceThreshold: 2.0,
			},
		},
		Risk: RiskConfig{
			DepositUSD:   30,
			RiskFraction: 0.02,
		},
		Scanner: ScannerConfig{
			MinVolume24h:  1_000_000,
			MaxCandidates: 30,
			Concurrency:   5,
			Timeframes:    []string{"15m", "1h", "4h", "1d"},
			ATRStopMult:   1.5,
			RewardRatio:   2.0,
		},
		Monitor: MonitorConfig{
			TrailingPct:       2.0,
			EventBuffer:       200,
			ReversalTimeframe: "15m",
			PollInterval:      5 * time.Minute,
		},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию.
// Отсутствующий файл не является ошибкой.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("Файл конфигурации не найден, используются значения по умолчанию", zap.String("path", path))
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", cfg))
	return cfg, nil
}

// Validate проверяет значения, от которых зависят инварианты расчетов
func (c *Config) Validate() error {
	if c.Cache.BalanceTTL <= 0 {
		return fmt.Errorf("cache.balance_ttl должен быть положительным: %s", c.Cache.BalanceTTL)
	}
	if c.Risk.DepositUSD < 0 {
		return fmt.Errorf("risk.deposit_usd не может быть отрицательным: %v", c.Risk.DepositUSD)
	}
	if c.Risk.RiskFraction < 0 || c.Risk.RiskFraction > 1 {
		return fmt.Errorf("risk.risk_fraction должен быть в диапазоне [0, 1]: %v", c.Risk.RiskFraction)
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout должен быть положительным: %s", c.Exchange.Timeout)
	}
	if c.Server.MaxInFlight <= 0 {
		c.Server.MaxInFlight = 1
	}
	return nil
}
