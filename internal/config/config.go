// Package config loads and validates the labeler configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/logger"
)

// Config represents the application configuration.
type Config struct {
	Labeler LabelerConfig `yaml:"labeler"`
	Log     logger.Config `yaml:"log,omitempty"`
}

// LabelerConfig groups the detection-engine settings.
type LabelerConfig struct {
	Inference InferenceConfig          `yaml:"inference"`
	Pool      PoolConfig               `yaml:"pool"`
	Detect    DetectConfig             `yaml:"detect"`
	Discovery DiscoveryConfig          `yaml:"discovery"`
	Dedup     geometry.MatchThresholds `yaml:"dedup"`
	Scoring   ScoringConfig            `yaml:"scoring"`
	OutputDir string                   `yaml:"output_dir"`
}

// InferenceConfig contains inference-service client configuration.
type InferenceConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxImageDim int           `yaml:"max_image_dim"`
}

// PoolConfig contains dispatcher configuration.
type PoolConfig struct {
	DetectConcurrency    int           `yaml:"detect_concurrency"`
	DescribeConcurrency  int           `yaml:"describe_concurrency"`
	MaxAttempts          int           `yaml:"max_attempts"`
	RetryBase            time.Duration `yaml:"retry_base"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	CostPerMInputTokens  float64       `yaml:"cost_per_m_input_tokens"`
	CostPerMOutputTokens float64       `yaml:"cost_per_m_output_tokens"`
}

// DetectConfig contains region-detection and tiling configuration.
type DetectConfig struct {
	MaxVerifyRounds   int     `yaml:"max_verify_rounds"`
	CountThreshold    int     `yaml:"count_threshold"`
	MaxDepth          int     `yaml:"max_depth"`
	MinTilePx         int     `yaml:"min_tile_px"`
	TileOverlap       float64 `yaml:"tile_overlap"`
	RepresentativeCap int     `yaml:"representative_cap"`
	AreaMassMax       int     `yaml:"area_mass_max"`
	EdgeThreshold     int     `yaml:"edge_threshold"`
}

// DiscoveryConfig contains kind-discovery configuration.
type DiscoveryConfig struct {
	MultiScale    bool    `yaml:"multi_scale"`
	MaxKinds      int     `yaml:"max_kinds"`
	QuadrantScale float64 `yaml:"quadrant_scale"`
}

// ScoringConfig holds the importance-score weights. They are hand-tuned
// constants preserved as configuration, not derived values.
type ScoringConfig struct {
	Area             float64 `yaml:"area"`
	Centrality       float64 `yaml:"centrality"`
	VerticalPosition float64 `yaml:"vertical_position"`
	LabelRarity      float64 `yaml:"label_rarity"`
	CategoryRarity   float64 `yaml:"category_rarity"`
}

// Load reads and parses the configuration file. An empty path yields the
// built-in defaults.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}
	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults sets default values for configuration.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	inf := &c.Labeler.Inference
	if inf.Endpoint == "" {
		inf.Endpoint = "https://generativelanguage.googleapis.com"
	}
	if inf.Model == "" {
		inf.Model = "gemini-2.0-flash"
	}
	if inf.APIKeyEnv == "" {
		inf.APIKeyEnv = "DEEP_LABEL_API_KEY"
	}
	if inf.Timeout == 0 {
		inf.Timeout = 120 * time.Second
	}
	if inf.MaxImageDim == 0 {
		inf.MaxImageDim = 1536
	}

	pool := &c.Labeler.Pool
	if pool.DetectConcurrency == 0 {
		pool.DetectConcurrency = 4
	}
	if pool.DescribeConcurrency == 0 {
		pool.DescribeConcurrency = 1
	}
	if pool.MaxAttempts == 0 {
		pool.MaxAttempts = 4
	}
	if pool.RetryBase == 0 {
		pool.RetryBase = 2 * time.Second
	}
	if pool.BackoffBase == 0 {
		pool.BackoffBase = time.Second
	}
	if pool.BackoffMax == 0 {
		pool.BackoffMax = 60 * time.Second
	}

	det := &c.Labeler.Detect
	if det.MaxVerifyRounds == 0 {
		det.MaxVerifyRounds = 3
	}
	if det.CountThreshold == 0 {
		det.CountThreshold = 12
	}
	if det.MaxDepth == 0 {
		det.MaxDepth = 3
	}
	if det.MinTilePx == 0 {
		det.MinTilePx = 512
	}
	if det.TileOverlap == 0 {
		det.TileOverlap = 0.12
	}
	if det.RepresentativeCap == 0 {
		det.RepresentativeCap = 8
	}
	if det.AreaMassMax == 0 {
		det.AreaMassMax = 5
	}
	if det.EdgeThreshold == 0 {
		det.EdgeThreshold = 15
	}

	disc := &c.Labeler.Discovery
	if disc.MaxKinds == 0 {
		disc.MaxKinds = 12
	}
	if disc.QuadrantScale == 0 {
		disc.QuadrantScale = 0.55
	}

	if c.Labeler.Dedup == (geometry.MatchThresholds{}) {
		c.Labeler.Dedup = geometry.DefaultMatchThresholds()
	}

	sc := &c.Labeler.Scoring
	if *sc == (ScoringConfig{}) {
		*sc = ScoringConfig{
			Area:             0.30,
			Centrality:       0.25,
			VerticalPosition: 0.15,
			LabelRarity:      0.20,
			CategoryRarity:   0.10,
		}
	}

	if c.Labeler.OutputDir == "" {
		c.Labeler.OutputDir = "./output"
	}
}

// APIKey resolves the inference API key from the configured environment
// variable. The key itself is never stored in the config file.
func (c *Config) APIKey() string {
	return os.Getenv(c.Labeler.Inference.APIKeyEnv)
}
