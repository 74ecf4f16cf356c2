package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ChurnReasonWeight is one bucket of the estimated churn-reason distribution.
type ChurnReasonWeight struct {
	Reason  string  `mapstructure:"reason" json:"reason"`
	Percent float64 `mapstructure:"percent" json:"percent"`
}

// AnalyticsConfig carries the tunable constants of the analytics engine.
// Several of them are heuristics standing in for signals that are not wired to
// real data yet (activation, resurrection, revenue movement, churn reasons).
type AnalyticsConfig struct {
	DefaultCohortMonths int `mapstructure:"defaultCohortMonths"`
	MaxWeeks            int `mapstructure:"maxWeeks"`

	LTVHorizonMonths      int     `mapstructure:"ltvHorizonMonths"`
	LTVDecay              float64 `mapstructure:"ltvDecay"`
	AverageMonthlyRevenue float64 `mapstructure:"averageMonthlyRevenue"`

	ChurnWindowDays    int     `mapstructure:"churnWindowDays"`
	RiskPerInactiveDay int     `mapstructure:"riskPerInactiveDay"`
	AtRiskLimit        int     `mapstructure:"atRiskLimit"`
	ChurnTrendFactor   float64 `mapstructure:"churnTrendFactor"`

	ActivationRate      float64 `mapstructure:"activationRate"`
	ResurrectionRate    float64 `mapstructure:"resurrectionRate"`
	ExpansionRatio      float64 `mapstructure:"expansionRatio"`
	ContractionRatio    float64 `mapstructure:"contractionRatio"`
	ChurnedRevenueRatio float64 `mapstructure:"churnedRevenueRatio"`

	PlanPrices   map[string]float64  `mapstructure:"planPrices"`
	ChurnReasons []ChurnReasonWeight `mapstructure:"churnReasons"`

	QueryConcurrency int `mapstructure:"queryConcurrency"`
}

func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		DefaultCohortMonths:   6,
		MaxWeeks:              12,
		LTVHorizonMonths:      24,
		LTVDecay:              0.95,
		AverageMonthlyRevenue: 49,
		ChurnWindowDays:       30,
		RiskPerInactiveDay:    2,
		AtRiskLimit:           20,
		ChurnTrendFactor:      1.1,
		ActivationRate:        0.7,
		ResurrectionRate:      0.1,
		ExpansionRatio:        0.05,
		ContractionRatio:      0.02,
		ChurnedRevenueRatio:   0.04,
		PlanPrices: map[string]float64{
			"starter":      29,
			"professional": 99,
			"agency":       249,
			"enterprise":   499,
		},
		ChurnReasons: []ChurnReasonWeight{
			{Reason: "No recent activity", Percent: 35},
			{Reason: "Pricing", Percent: 25},
			{Reason: "Missing features", Percent: 15},
			{Reason: "Switched to competitor", Percent: 15},
			{Reason: "Other", Percent: 10},
		},
		QueryConcurrency: 8,
	}
}

// PlanPrice returns the monthly price of plan and whether the plan is known.
func (c AnalyticsConfig) PlanPrice(plan string) (float64, bool) {
	price, ok := c.PlanPrices[strings.ToLower(strings.TrimSpace(plan))]
	return price, ok
}

type AnalyticsConfigHolder struct {
	current atomic.Value // holds AnalyticsConfig
}

// NewStaticAnalyticsConfigHolder wraps a fixed configuration.
func NewStaticAnalyticsConfigHolder(cfg AnalyticsConfig) *AnalyticsConfigHolder {
	holder := &AnalyticsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAnalyticsConfigHolder(appCfg Config, log *zap.Logger) (*AnalyticsConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.analytics")

	v := viper.New()

	v.SetConfigName("analytics")
	v.SetConfigType("yml")
	if dir := strings.TrimSpace(appCfg.AnalyticsConfigDir); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("/etc/agencyops")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGENCYOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerAnalyticsDefaults(v, DefaultAnalyticsConfig())

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fromFile = false
	}

	cfg, err := decodeAnalyticsConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticAnalyticsConfigHolder(cfg)
	if !fromFile {
		log.Info("analytics config file not found, using defaults")
		return holder, nil
	}
	log.Info("analytics config loaded", zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeAnalyticsConfig(v)
		if err != nil {
			log.Warn("analytics config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("analytics config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *AnalyticsConfigHolder) Get() AnalyticsConfig {
	if h == nil {
		return DefaultAnalyticsConfig()
	}
	cfg, ok := h.current.Load().(AnalyticsConfig)
	if !ok {
		return DefaultAnalyticsConfig()
	}
	return cfg
}

// registerAnalyticsDefaults makes every scalar key known to viper, so
// AGENCYOPS_ANALYTICS_<KEY> overrides apply even when the file omits the key.
// Plan prices and churn reasons are collections and only come from the file.
func registerAnalyticsDefaults(v *viper.Viper, cfg AnalyticsConfig) {
	v.SetDefault("analytics.defaultCohortMonths", cfg.DefaultCohortMonths)
	v.SetDefault("analytics.maxWeeks", cfg.MaxWeeks)
	v.SetDefault("analytics.ltvHorizonMonths", cfg.LTVHorizonMonths)
	v.SetDefault("analytics.ltvDecay", cfg.LTVDecay)
	v.SetDefault("analytics.averageMonthlyRevenue", cfg.AverageMonthlyRevenue)
	v.SetDefault("analytics.churnWindowDays", cfg.ChurnWindowDays)
	v.SetDefault("analytics.riskPerInactiveDay", cfg.RiskPerInactiveDay)
	v.SetDefault("analytics.atRiskLimit", cfg.AtRiskLimit)
	v.SetDefault("analytics.churnTrendFactor", cfg.ChurnTrendFactor)
	v.SetDefault("analytics.activationRate", cfg.ActivationRate)
	v.SetDefault("analytics.resurrectionRate", cfg.ResurrectionRate)
	v.SetDefault("analytics.expansionRatio", cfg.ExpansionRatio)
	v.SetDefault("analytics.contractionRatio", cfg.ContractionRatio)
	v.SetDefault("analytics.churnedRevenueRatio", cfg.ChurnedRevenueRatio)
	v.SetDefault("analytics.queryConcurrency", cfg.QueryConcurrency)
}

func decodeAnalyticsConfig(v *viper.Viper) (AnalyticsConfig, error) {
	settings := struct {
		Analytics AnalyticsConfig `mapstructure:"analytics"`
	}{Analytics: DefaultAnalyticsConfig()}

	// collections from the file replace the defaults instead of merging into them
	if v.IsSet("analytics.planPrices") {
		settings.Analytics.PlanPrices = nil
	}
	if v.IsSet("analytics.churnReasons") {
		settings.Analytics.ChurnReasons = nil
	}
	// Unmarshal resolves each leaf key, which is what lets env overrides win.
	if err := v.Unmarshal(&settings); err != nil {
		return AnalyticsConfig{}, fmt.Errorf("decode analytics config: %w", err)
	}
	cfg := settings.Analytics
	cfg.PlanPrices = normalizePlanPrices(cfg.PlanPrices)
	if err := ValidateAnalyticsConfig(cfg); err != nil {
		return AnalyticsConfig{}, err
	}
	return cfg, nil
}

func normalizePlanPrices(prices map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(prices))
	for plan, price := range prices {
		out[strings.ToLower(strings.TrimSpace(plan))] = price
	}
	return out
}

func ValidateAnalyticsConfig(cfg AnalyticsConfig) error {
	var errs error
	if cfg.DefaultCohortMonths <= 0 {
		errs = errors.Join(errs, errors.New("analytics.defaultCohortMonths must be positive"))
	}
	if cfg.MaxWeeks <= 0 {
		errs = errors.Join(errs, errors.New("analytics.maxWeeks must be positive"))
	}
	if cfg.LTVHorizonMonths <= 0 {
		errs = errors.Join(errs, errors.New("analytics.ltvHorizonMonths must be positive"))
	}
	if cfg.LTVDecay <= 0 || cfg.LTVDecay > 1 {
		errs = errors.Join(errs, errors.New("analytics.ltvDecay must be within (0, 1]"))
	}
	if cfg.AverageMonthlyRevenue < 0 {
		errs = errors.Join(errs, errors.New("analytics.averageMonthlyRevenue cannot be negative"))
	}
	if cfg.ChurnWindowDays <= 0 {
		errs = errors.Join(errs, errors.New("analytics.churnWindowDays must be positive"))
	}
	if cfg.RiskPerInactiveDay <= 0 {
		errs = errors.Join(errs, errors.New("analytics.riskPerInactiveDay must be positive"))
	}
	if cfg.AtRiskLimit < 0 {
		errs = errors.Join(errs, errors.New("analytics.atRiskLimit cannot be negative"))
	}
	if cfg.ChurnTrendFactor < 0 {
		errs = errors.Join(errs, errors.New("analytics.churnTrendFactor cannot be negative"))
	}
	rates := map[string]float64{
		"activationRate":      cfg.ActivationRate,
		"resurrectionRate":    cfg.ResurrectionRate,
		"expansionRatio":      cfg.ExpansionRatio,
		"contractionRatio":    cfg.ContractionRatio,
		"churnedRevenueRatio": cfg.ChurnedRevenueRatio,
	}
	for key, rate := range rates {
		if rate < 0 || rate > 1 {
			errs = errors.Join(errs, fmt.Errorf("analytics.%s must be within [0, 1]", key))
		}
	}
	for plan, price := range cfg.PlanPrices {
		if price < 0 {
			errs = errors.Join(errs, fmt.Errorf("analytics.planPrices.%s cannot be negative", plan))
		}
	}
	if len(cfg.ChurnReasons) == 0 {
		errs = errors.Join(errs, errors.New("analytics.churnReasons cannot be empty"))
	} else {
		var total float64
		for _, reason := range cfg.ChurnReasons {
			if strings.TrimSpace(reason.Reason) == "" {
				errs = errors.Join(errs, errors.New("analytics.churnReasons entries need a reason"))
			}
			if reason.Percent < 0 {
				errs = errors.Join(errs, fmt.Errorf("analytics.churnReasons %q has a negative percent", reason.Reason))
			}
			total += reason.Percent
		}
		if math.Abs(total-100) > 0.5 {
			errs = errors.Join(errs, fmt.Errorf("analytics.churnReasons must sum to 100, got %.2f", total))
		}
	}
	if cfg.QueryConcurrency <= 0 {
		errs = errors.Join(errs, errors.New("analytics.queryConcurrency must be positive"))
	}
	return errs
}
