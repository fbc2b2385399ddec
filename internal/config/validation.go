package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for invalid values. All violations are
// collected so the operator sees every problem at once.
func (c *Config) Validate() error {
	var errs []string

	inf := c.Labeler.Inference
	if inf.Endpoint == "" {
		errs = append(errs, "labeler.inference.endpoint must not be empty")
	}
	if inf.Model == "" {
		errs = append(errs, "labeler.inference.model must not be empty")
	}
	if inf.Timeout <= 0 {
		errs = append(errs, "labeler.inference.timeout must be positive")
	}
	if inf.MaxImageDim < 256 {
		errs = append(errs, "labeler.inference.max_image_dim must be at least 256")
	}

	pool := c.Labeler.Pool
	if pool.DetectConcurrency < 1 {
		errs = append(errs, "labeler.pool.detect_concurrency must be at least 1")
	}
	if pool.DescribeConcurrency < 1 {
		errs = append(errs, "labeler.pool.describe_concurrency must be at least 1")
	}
	if pool.MaxAttempts < 1 {
		errs = append(errs, "labeler.pool.max_attempts must be at least 1")
	}
	if pool.BackoffMax < pool.BackoffBase {
		errs = append(errs, "labeler.pool.backoff_max must not be below backoff_base")
	}
	if pool.CostPerMInputTokens < 0 || pool.CostPerMOutputTokens < 0 {
		errs = append(errs, "labeler.pool token costs must not be negative")
	}

	det := c.Labeler.Detect
	if det.MaxVerifyRounds < 0 {
		errs = append(errs, "labeler.detect.max_verify_rounds must not be negative")
	}
	if det.CountThreshold < 1 {
		errs = append(errs, "labeler.detect.count_threshold must be at least 1")
	}
	if det.MaxDepth < 0 {
		errs = append(errs, "labeler.detect.max_depth must not be negative")
	}
	if det.MinTilePx < 64 {
		errs = append(errs, "labeler.detect.min_tile_px must be at least 64")
	}
	if det.TileOverlap < 0 || det.TileOverlap >= 0.5 {
		errs = append(errs, "labeler.detect.tile_overlap must be in [0, 0.5)")
	}
	if det.RepresentativeCap < 1 {
		errs = append(errs, "labeler.detect.representative_cap must be at least 1")
	}
	if det.AreaMassMax < 1 {
		errs = append(errs, "labeler.detect.area_mass_max must be at least 1")
	}
	if det.EdgeThreshold < 0 {
		errs = append(errs, "labeler.detect.edge_threshold must not be negative")
	}

	disc := c.Labeler.Discovery
	if disc.MaxKinds < 1 {
		errs = append(errs, "labeler.discovery.max_kinds must be at least 1")
	}
	if disc.QuadrantScale <= 0 || disc.QuadrantScale > 1 {
		errs = append(errs, "labeler.discovery.quadrant_scale must be in (0, 1]")
	}

	dd := c.Labeler.Dedup
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"labeler.dedup.same_iou", dd.SameIoU},
		{"labeler.dedup.same_area_ratio", dd.SameAreaRatio},
		{"labeler.dedup.cover_min", dd.CoverMin},
		{"labeler.dedup.cover_area_ratio", dd.CoverAreaRatio},
		{"labeler.dedup.cross_iou", dd.CrossIoU},
		{"labeler.dedup.cross_area_ratio", dd.CrossAreaRatio},
	} {
		if v.val <= 0 || v.val > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0, 1]", v.name))
		}
	}

	sc := c.Labeler.Scoring
	total := sc.Area + sc.Centrality + sc.VerticalPosition + sc.LabelRarity + sc.CategoryRarity
	if total < 0.99 || total > 1.01 {
		errs = append(errs, fmt.Sprintf("labeler.scoring weights must sum to 1.0, got %.3f", total))
	}
	for _, w := range []float64{sc.Area, sc.Centrality, sc.VerticalPosition, sc.LabelRarity, sc.CategoryRarity} {
		if w < 0 {
			errs = append(errs, "labeler.scoring weights must not be negative")
			break
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
