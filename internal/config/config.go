package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/theblitlabs/misuse-detection/internal/execution/cleaning"
	"github.com/theblitlabs/misuse-detection/internal/execution/evaluation"
	"github.com/theblitlabs/misuse-detection/internal/execution/selection"
	"github.com/theblitlabs/misuse-detection/internal/execution/training"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
	"github.com/theblitlabs/misuse-detection/pkg/logger"
)

const (
	DefaultConfigPath = "config/config.yaml"
	EnvPrefix         = "MISUSE"
)

type Config struct {
	Data          DataConfig          `mapstructure:"data"`
	Cleaning      CleaningConfig      `mapstructure:"cleaning"`
	Preprocessing PreprocessingConfig `mapstructure:"preprocessing"`
	Engineering   EngineeringConfig   `mapstructure:"engineering"`
	Selection     SelectionConfig     `mapstructure:"selection"`
	Split         SplitConfig         `mapstructure:"split"`
	Model         ModelConfig         `mapstructure:"model"`
	Evaluation    EvaluationConfig    `mapstructure:"evaluation"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	FeatureStore  FeatureStoreConfig  `mapstructure:"featurestore"`
}

type DataConfig struct {
	Source   string `mapstructure:"source"`
	CacheDir string `mapstructure:"cache_dir"`
	IPFSAPI  string `mapstructure:"ipfs_api"`
}

type CleaningConfig struct {
	Method    string `mapstructure:"method"`
	FillValue string `mapstructure:"fill_value"`
}

// ColumnCap is a fixed upper threshold for one column.
type ColumnCap struct {
	Column string  `mapstructure:"column"`
	Max    float64 `mapstructure:"max"`
}

type PreprocessingConfig struct {
	CapColumns           []string    `mapstructure:"cap_columns"`
	CapValues            []ColumnCap `mapstructure:"cap_values"`
	RemoveOutlierColumns []string    `mapstructure:"remove_outlier_columns"`
}

type EngineeringConfig struct {
	FrequencyColumns []string `mapstructure:"frequency_columns"`
	TargetColumns    []string `mapstructure:"target_columns"`
	Target           string   `mapstructure:"target"`
	Smoothing        float64  `mapstructure:"smoothing"`
	TimestampColumns []string `mapstructure:"timestamp_columns"`
	TimestampFormat  string   `mapstructure:"timestamp_format"`
}

// ClassCount is a resampling target for one class label.
type ClassCount struct {
	Label string `mapstructure:"label"`
	Count int    `mapstructure:"count"`
}

type SelectionConfig struct {
	Scaling       string       `mapstructure:"scaling"`
	PCAComponents int          `mapstructure:"pca_components"`
	KNeighbors    int          `mapstructure:"k_neighbors"`
	Seed          int64        `mapstructure:"seed"`
	Undersampling []ClassCount `mapstructure:"undersampling"`
	Oversampling  []ClassCount `mapstructure:"oversampling"`
}

type SplitConfig struct {
	TestFraction float64 `mapstructure:"test_fraction"`
	Seed         int64   `mapstructure:"seed"`
}

type ModelConfig struct {
	Name         string `mapstructure:"name"`
	ArtifactPath string `mapstructure:"artifact_path"`
}

type EvaluationConfig struct {
	Metric string `mapstructure:"metric"`
}

type PolicyConfig struct {
	FailFast bool `mapstructure:"fail_fast"`
}

type LoggingConfig struct {
	Mode       string `mapstructure:"mode"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      string `mapstructure:"port"`
	ModelPath string `mapstructure:"model_path"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type TelemetryConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	ServiceName   string              `mapstructure:"service_name"`
	OTELCollector OTELCollectorConfig `mapstructure:"otel_collector"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type OTELCollectorConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FeatureStoreConfig struct {
	OfflinePath  string        `mapstructure:"offline_path"`
	EntityColumn string        `mapstructure:"entity_column"`
	Redis        RedisConfig   `mapstructure:"redis"`
	TTL          time.Duration `mapstructure:"ttl"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data.cache_dir", "data/cache")
	v.SetDefault("data.ipfs_api", "localhost:5001")
	v.SetDefault("cleaning.method", string(cleaning.MethodDrop))
	v.SetDefault("engineering.smoothing", 1.0)
	v.SetDefault("engineering.timestamp_format", "ISO8601")
	v.SetDefault("selection.scaling", string(selection.ScalingLog))
	v.SetDefault("selection.pca_components", 9)
	v.SetDefault("selection.k_neighbors", 5)
	v.SetDefault("selection.seed", 42)
	v.SetDefault("split.test_fraction", 0.2)
	v.SetDefault("split.seed", 42)
	v.SetDefault("model.name", string(training.KindKNN))
	v.SetDefault("model.artifact_path", "models/model.json")
	v.SetDefault("evaluation.metric", string(evaluation.MetricAccuracy))
	v.SetDefault("policy.fail_fast", false)
	v.SetDefault("logging.mode", string(logger.LogModePretty))
	v.SetDefault("logging.file", "logs/ml_workflow.log")
	v.SetDefault("logging.max_size_mb", 2)
	v.SetDefault("logging.max_age_days", 10)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.model_path", "models/model.json")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("telemetry.service_name", "misuse-detection")
	v.SetDefault("telemetry.otel_collector.host", "localhost")
	v.SetDefault("telemetry.otel_collector.port", 4317)
	v.SetDefault("telemetry.metrics.interval", 15*time.Second)
	v.SetDefault("featurestore.offline_path", "data/predictors.parquet")
	v.SetDefault("featurestore.entity_column", "feature_id")
	v.SetDefault("featurestore.redis.addr", "localhost:6379")
	v.SetDefault("featurestore.ttl", 24*time.Hour)
}

// LoadConfig reads the YAML file at path, applies MISUSE_* environment
// overrides and validates the result. An empty path falls back to defaults
// and the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects unknown strategy names and out of range numbers before a
// run starts.
func (c *Config) Validate() error {
	if _, err := cleaning.ParseMethod(c.Cleaning.Method); err != nil {
		return err
	}
	if _, err := selection.ParseScaling(c.Selection.Scaling); err != nil {
		return err
	}
	if _, err := training.ParseKind(c.Model.Name); err != nil {
		return err
	}
	if _, err := evaluation.ParseMetric(c.Evaluation.Metric); err != nil {
		return err
	}
	if c.Selection.PCAComponents < 1 {
		return errorutil.Wrapf(errorutil.ErrInvalidConfig, "selection.pca_components must be positive, got %d", c.Selection.PCAComponents)
	}
	if c.Selection.KNeighbors < 1 {
		return errorutil.Wrapf(errorutil.ErrInvalidConfig, "selection.k_neighbors must be positive, got %d", c.Selection.KNeighbors)
	}
	if c.Split.TestFraction <= 0 || c.Split.TestFraction >= 1 {
		return errorutil.Wrapf(errorutil.ErrInvalidFraction, "split.test_fraction must be in (0,1), got %v", c.Split.TestFraction)
	}
	switch logger.LogMode(c.Logging.Mode) {
	case logger.LogModeDebug, logger.LogModePretty, logger.LogModeInfo, logger.LogModeProd, logger.LogModeTest:
	default:
		return errorutil.Wrapf(errorutil.ErrInvalidConfig, "unknown logging.mode %q", c.Logging.Mode)
	}
	for _, cc := range append(append([]ClassCount(nil), c.Selection.Undersampling...), c.Selection.Oversampling...) {
		if cc.Label == "" || cc.Count < 0 {
			return errorutil.Wrapf(errorutil.ErrInvalidConfig, "invalid sampling entry %+v", cc)
		}
	}
	return nil
}

// Addr returns the listen address of the prediction server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}
