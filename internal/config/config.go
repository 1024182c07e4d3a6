package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Project   string          `yaml:"project" mapstructure:"project"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Generator GeneratorConfig `yaml:"generator" mapstructure:"generator"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Trainer   TrainerConfig   `yaml:"trainer" mapstructure:"trainer"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// WarehouseConfig configures the destination warehouse.
type WarehouseConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Dataset     string `yaml:"dataset" mapstructure:"dataset"`
}

// GeneratorConfig configures the synthetic data generator.
type GeneratorConfig struct {
	TotalCustomers int              `yaml:"total_customers" mapstructure:"total_customers"`
	BatchSize      int              `yaml:"batch_size" mapstructure:"batch_size"`
	OrphanLogs     int              `yaml:"orphan_logs" mapstructure:"orphan_logs"`
	Seed           uint64           `yaml:"seed" mapstructure:"seed"`
	HistoryDays    int              `yaml:"history_days" mapstructure:"history_days"`
	MinTenureDays  int              `yaml:"min_tenure_days" mapstructure:"min_tenure_days"`
	Corruption     CorruptionConfig `yaml:"corruption" mapstructure:"corruption"`
	Churn          ChurnConfig      `yaml:"churn" mapstructure:"churn"`
}

// CorruptionConfig holds the fractions of each data-quality defect injected per batch.
type CorruptionConfig struct {
	PlanNull     float64 `yaml:"plan_null" mapstructure:"plan_null"`
	PlanTypo     float64 `yaml:"plan_typo" mapstructure:"plan_typo"`
	MRRCurrency  float64 `yaml:"mrr_currency" mapstructure:"mrr_currency"`
	MRRInvalid   float64 `yaml:"mrr_invalid" mapstructure:"mrr_invalid"`
	PriorityNull float64 `yaml:"priority_null" mapstructure:"priority_null"`
	TicketTypo   float64 `yaml:"ticket_typo" mapstructure:"ticket_typo"`
	TicketDupe   float64 `yaml:"ticket_duplicate" mapstructure:"ticket_duplicate"`
}

// ChurnConfig holds the additive terms of the churn probability.
type ChurnConfig struct {
	Base             float64 `yaml:"base" mapstructure:"base"`
	BasicPlan        float64 `yaml:"basic_plan" mapstructure:"basic_plan"`
	LowRevenue       float64 `yaml:"low_revenue" mapstructure:"low_revenue"`
	LowEngagement    float64 `yaml:"low_engagement" mapstructure:"low_engagement"`
	RevenueThreshold float64 `yaml:"revenue_threshold" mapstructure:"revenue_threshold"`
	EngagementCutoff float64 `yaml:"engagement_cutoff" mapstructure:"engagement_cutoff"`
}

// RetryConfig configures retries of warehouse batch writes.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// TrainerConfig configures model training.
type TrainerConfig struct {
	KPITable     string  `yaml:"kpi_table" mapstructure:"kpi_table"`
	Algorithm    string  `yaml:"algorithm" mapstructure:"algorithm"`
	TestFraction float64 `yaml:"test_fraction" mapstructure:"test_fraction"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
	Estimators   int     `yaml:"estimators" mapstructure:"estimators"`
	MaxDepth     int     `yaml:"max_depth" mapstructure:"max_depth"`
	MinLeaf      int     `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	LearningRate float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	ModelPath    string  `yaml:"model_path" mapstructure:"model_path"`
}

// DashboardConfig configures the prediction dashboard.
type DashboardConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	ModelPath      string   `yaml:"model_path" mapstructure:"model_path"`
	RatePerSecond  float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Algorithms accepted by trainer.algorithm.
const (
	AlgorithmRandomForest     = "random_forest"
	AlgorithmGradientBoosting = "gradient_boosting"
)

// Warehouse drivers accepted by warehouse.driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CHURNOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project", "cs-ops-analytics-pipeline")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("warehouse.driver", DriverSQLite)
	v.SetDefault("warehouse.database_url", "file:churnops.db")
	v.SetDefault("warehouse.dataset", "cs_ops")

	v.SetDefault("generator.total_customers", 10000)
	v.SetDefault("generator.batch_size", 500)
	v.SetDefault("generator.orphan_logs", 200)
	v.SetDefault("generator.seed", 0)
	v.SetDefault("generator.history_days", 365)
	v.SetDefault("generator.min_tenure_days", 60)
	v.SetDefault("generator.corruption.plan_null", 0.05)
	v.SetDefault("generator.corruption.plan_typo", 0.10)
	v.SetDefault("generator.corruption.mrr_currency", 0.30)
	v.SetDefault("generator.corruption.mrr_invalid", 0.02)
	v.SetDefault("generator.corruption.priority_null", 0.10)
	v.SetDefault("generator.corruption.ticket_typo", 0.10)
	v.SetDefault("generator.corruption.ticket_duplicate", 0.01)
	v.SetDefault("generator.churn.base", 0.05)
	v.SetDefault("generator.churn.basic_plan", 0.10)
	v.SetDefault("generator.churn.low_revenue", 0.15)
	v.SetDefault("generator.churn.low_engagement", 0.30)
	v.SetDefault("generator.churn.revenue_threshold", 200)
	v.SetDefault("generator.churn.engagement_cutoff", 0.5)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	v.SetDefault("trainer.kpi_table", "fct_customer_kpis")
	v.SetDefault("trainer.algorithm", AlgorithmRandomForest)
	v.SetDefault("trainer.test_fraction", 0.2)
	v.SetDefault("trainer.seed", 42)
	v.SetDefault("trainer.estimators", 100)
	v.SetDefault("trainer.max_depth", 0)
	v.SetDefault("trainer.min_samples_leaf", 1)
	v.SetDefault("trainer.learning_rate", 0.1)
	v.SetDefault("trainer.model_path", "analysis/churn_model.msgpack")

	v.SetDefault("dashboard.port", 8501)
	v.SetDefault("dashboard.model_path", "analysis/churn_model.msgpack")
	v.SetDefault("dashboard.rate_per_second", 20.0)
	v.SetDefault("dashboard.rate_burst", 40)
	v.SetDefault("dashboard.allowed_origins", []string{"*"})
}

// Validate checks the configuration for the given mode once at startup.
// Mode is one of "generate", "train", "predict", "serve" or "warehouse".
func (c *Config) Validate(mode string) error {
	var errs []string

	if strings.TrimSpace(c.Project) == "" {
		errs = append(errs, "project is required")
	}

	switch mode {
	case "generate":
		errs = append(errs, c.validateWarehouse()...)
		errs = append(errs, c.validateGenerator()...)
	case "train":
		errs = append(errs, c.validateTrainer()...)
	case "warehouse":
		errs = append(errs, c.validateWarehouse()...)
	case "predict":
		if c.Dashboard.ModelPath == "" {
			errs = append(errs, "dashboard.model_path is required")
		}
	case "serve":
		errs = append(errs, c.validateDashboard()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateWarehouse() []string {
	var errs []string
	switch c.Warehouse.Driver {
	case DriverPostgres, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("unknown warehouse.driver %q (valid: postgres, sqlite, mysql)", c.Warehouse.Driver))
	}
	if c.Warehouse.DatabaseURL == "" {
		errs = append(errs, "warehouse.database_url is required")
	}
	if c.Warehouse.Dataset != "" && !identRe.MatchString(c.Warehouse.Dataset) {
		errs = append(errs, fmt.Sprintf("invalid warehouse.dataset %q", c.Warehouse.Dataset))
	}
	return errs
}

func (c *Config) validateGenerator() []string {
	var errs []string
	g := c.Generator
	if g.TotalCustomers <= 0 {
		errs = append(errs, "generator.total_customers must be > 0")
	}
	if g.BatchSize <= 0 {
		errs = append(errs, "generator.batch_size must be > 0")
	}
	if g.OrphanLogs < 0 {
		errs = append(errs, "generator.orphan_logs must be >= 0")
	}
	if g.MinTenureDays <= 0 || g.HistoryDays <= g.MinTenureDays {
		errs = append(errs, "generator.history_days must exceed generator.min_tenure_days (> 0)")
	}

	fractions := []struct {
		name  string
		value float64
	}{
		{"plan_null", g.Corruption.PlanNull},
		{"plan_typo", g.Corruption.PlanTypo},
		{"mrr_currency", g.Corruption.MRRCurrency},
		{"mrr_invalid", g.Corruption.MRRInvalid},
		{"priority_null", g.Corruption.PriorityNull},
		{"ticket_typo", g.Corruption.TicketTypo},
		{"ticket_duplicate", g.Corruption.TicketDupe},
	}
	for _, f := range fractions {
		if f.value < 0 || f.value > 1 {
			errs = append(errs, fmt.Sprintf("generator.corruption.%s must be between 0 and 1", f.name))
		}
	}

	ch := g.Churn
	if ch.Base < 0 || ch.BasicPlan < 0 || ch.LowRevenue < 0 || ch.LowEngagement < 0 {
		errs = append(errs, "generator.churn terms must be >= 0")
	}
	return errs
}

func (c *Config) validateTrainer() []string {
	var errs []string
	t := c.Trainer
	switch t.Algorithm {
	case AlgorithmRandomForest, AlgorithmGradientBoosting:
	default:
		errs = append(errs, fmt.Sprintf("unknown trainer.algorithm %q (valid: random_forest, gradient_boosting)", t.Algorithm))
	}
	if !identRe.MatchString(t.KPITable) {
		errs = append(errs, fmt.Sprintf("invalid trainer.kpi_table %q", t.KPITable))
	}
	if t.TestFraction <= 0 || t.TestFraction >= 1 {
		errs = append(errs, "trainer.test_fraction must be between 0 and 1 (exclusive)")
	}
	if t.Estimators <= 0 {
		errs = append(errs, "trainer.estimators must be > 0")
	}
	if t.MaxDepth < 0 {
		errs = append(errs, "trainer.max_depth must be >= 0")
	}
	if t.MinLeaf < 1 {
		errs = append(errs, "trainer.min_samples_leaf must be >= 1")
	}
	if t.LearningRate <= 0 || t.LearningRate > 1 {
		errs = append(errs, "trainer.learning_rate must be in (0, 1]")
	}
	if t.ModelPath == "" {
		errs = append(errs, "trainer.model_path is required")
	}
	return errs
}

func (c *Config) validateDashboard() []string {
	var errs []string
	d := c.Dashboard
	if d.Port <= 0 || d.Port > 65535 {
		errs = append(errs, "dashboard.port must be > 0 and <= 65535")
	}
	if d.ModelPath == "" {
		errs = append(errs, "dashboard.model_path is required")
	}
	if d.RatePerSecond <= 0 || d.RateBurst <= 0 {
		errs = append(errs, "dashboard.rate_per_second and dashboard.rate_burst must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
