// Package detect turns one (region, kind) pair into a stable set of labeled
// boxes. A detector issues the initial detection call, then drives numbered
// overlay verification rounds until the set stops changing, the model
// declares completeness, or the round budget runs out. The tiler above it
// decides when a region is too dense for a single call and must be
// subdivided first.
package detect

import (
	"context"
	"sync/atomic"

	"github.com/derekphilipau/deep-label/internal/dispatch"
	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/imageops"
	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/label"
	"github.com/derekphilipau/deep-label/internal/logger"
)

// Config contains detection and tiling configuration.
type Config struct {
	// MaxVerifyRounds bounds the verification loop per (region, kind).
	MaxVerifyRounds int
	// CountThreshold is the live count estimate above which a region is
	// subdivided instead of detected directly.
	CountThreshold int
	// MaxDepth bounds subdivision recursion; the root region is depth 0.
	MaxDepth int
	// MinTilePx stops subdivision once a child tile side would fall below it.
	MinTilePx int
	// TileOverlap is the mutual overlap fraction between sibling quadrants.
	TileOverlap float64
	// RepresentativeCap bounds the accepted set for representative kinds.
	RepresentativeCap int
	// AreaMassMax bounds the accepted set for area-mass kinds.
	AreaMassMax int
	// EdgeThreshold is the normalized distance within which a box touching an
	// internal tile edge counts as boundary-clipped.
	EdgeThreshold int
	// MaxImageDim bounds the wire image size.
	MaxImageDim int
	// Dedup holds the duplicate-matching cutoffs.
	Dedup geometry.MatchThresholds
}

func (c *Config) setDefaults() {
	if c.MaxVerifyRounds == 0 {
		c.MaxVerifyRounds = 3
	}
	if c.CountThreshold <= 0 {
		c.CountThreshold = 12
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 3
	}
	if c.MinTilePx <= 0 {
		c.MinTilePx = 512
	}
	if c.TileOverlap <= 0 {
		c.TileOverlap = 0.12
	}
	if c.RepresentativeCap <= 0 {
		c.RepresentativeCap = 8
	}
	if c.AreaMassMax <= 0 {
		c.AreaMassMax = 5
	}
	if c.EdgeThreshold <= 0 {
		c.EdgeThreshold = 15
	}
	if c.MaxImageDim <= 0 {
		c.MaxImageDim = 1536
	}
	if c.Dedup == (geometry.MatchThresholds{}) {
		c.Dedup = geometry.DefaultMatchThresholds()
	}
}

// Detector converges one (region, kind) pair to a stable instance set.
type Detector struct {
	cfg    Config
	pool   *dispatch.Pool
	caller inference.Caller
	src    *imageops.SourceImage
	logger *logger.Logger

	skippedTiles atomic.Int64
}

// NewDetector creates a detector over the given source image.
func NewDetector(cfg Config, pool *dispatch.Pool, caller inference.Caller, src *imageops.SourceImage, log *logger.Logger) *Detector {
	cfg.setDefaults()
	return &Detector{cfg: cfg, pool: pool, caller: caller, src: src, logger: log}
}

// DetectRegion runs the detect-verify loop for one region and kind and
// returns instances in the full image's normalized coordinate space, with
// boundary-clipped boxes already discarded. A failed call yields an empty
// result; region failures never abort the run.
func (d *Detector) DetectRegion(ctx context.Context, region geometry.Region, kind label.Kind) []label.Instance {
	instances, err := d.detect(ctx, region, kind)
	if err != nil {
		d.skippedTiles.Add(1)
		d.logger.Warn("Detection call failed, region contributes nothing",
			"region", region.Label, "kind", kind.Label, "error", err)
		return nil
	}
	if len(instances) == 0 {
		// Nothing to overlay, nothing to verify.
		return nil
	}

	switch kind.Segmentation {
	case label.SegmentationAreaMass:
		// Broad region boxes straight from one call, no per-instance audit.
		if len(instances) > d.cfg.AreaMassMax {
			instances = instances[:d.cfg.AreaMassMax]
		}
	case label.SegmentationRepresentative:
		instances = selectRepresentative(instances, d.cfg.RepresentativeCap)
		instances = d.verifyLoop(ctx, region, kind, instances)
		instances = selectRepresentative(instances, d.cfg.RepresentativeCap)
	default:
		instances = d.verifyLoop(ctx, region, kind, instances)
	}

	return d.finalize(instances, region)
}

// SkippedTiles reports how many regions contributed nothing because their
// detection call failed after retries. Advisory only.
func (d *Detector) SkippedTiles() int64 {
	return d.skippedTiles.Load()
}

// detect issues the single-kind detection call. Boxes come back in the
// region's own normalized space.
func (d *Detector) detect(ctx context.Context, region geometry.Region, kind label.Kind) ([]label.Instance, error) {
	jpeg, err := d.src.RegionJPEG(region, d.cfg.MaxImageDim)
	if err != nil {
		return nil, err
	}
	resp, err := d.pool.Do(ctx, func(ctx context.Context) (*inference.Response, error) {
		return d.caller.Generate(ctx, inference.Request{
			Prompt:    detectPrompt(kind, d.cfg.AreaMassMax),
			ImageJPEG: jpeg,
			Schema:    detectSchema(),
		})
	})
	if err != nil {
		return nil, err
	}
	var result inference.DetectionResult
	if err := inference.Decode(resp.Text, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	instances := make([]label.Instance, 0, len(result.Instances))
	for _, raw := range result.Instances {
		instances = append(instances, label.Instance{
			Label: raw.Label,
			Type:  kind.Category,
			Box:   geometry.NormalizeRaw(raw.Box),
		})
	}
	return label.Dedupe(instances, d.cfg.Dedup), nil
}

// verifyLoop runs numbered-overlay verification rounds until the set is
// stable, the model declares completeness, or MaxVerifyRounds is reached.
// Rounds are strictly sequential: each depends on the previous round's
// corrected set.
func (d *Detector) verifyLoop(ctx context.Context, region geometry.Region, kind label.Kind, instances []label.Instance) []label.Instance {
	crop := d.src.Crop(region)
	for round := 1; round <= d.cfg.MaxVerifyRounds; round++ {
		if len(instances) == 0 {
			return instances
		}

		boxes := make([]geometry.Box, len(instances))
		for i, in := range instances {
			boxes[i] = in.Box
		}
		overlay, err := imageops.RenderNumberedOverlay(crop, boxes, imageops.OverlayStyle{
			LineWidth: 3,
			MaxDim:    d.cfg.MaxImageDim,
		})
		if err != nil {
			d.logger.Warn("Overlay render failed, keeping unverified set",
				"region", region.Label, "kind", kind.Label, "error", err)
			return instances
		}

		result, err := d.verify(ctx, overlay, kind, len(instances))
		if err != nil {
			d.logger.Warn("Verification call failed, keeping current set",
				"region", region.Label, "kind", kind.Label, "round", round, "error", err)
			return instances
		}

		next, changed := applyVerification(instances, result, kind)
		if changed {
			// Corrections and additions can create near-duplicates.
			next = label.Dedupe(next, d.cfg.Dedup)
		}
		instances = next

		switch {
		case !changed:
			d.logger.Debug("Verification stable", "region", region.Label, "kind", kind.Label, "round", round)
			return instances
		case result.Complete:
			d.logger.Debug("Verification complete", "region", region.Label, "kind", kind.Label, "round", round)
			return instances
		}
	}
	d.logger.Debug("Verification round budget exhausted", "region", region.Label, "kind", kind.Label)
	return instances
}

func (d *Detector) verify(ctx context.Context, overlay []byte, kind label.Kind, shown int) (*inference.VerificationResult, error) {
	resp, err := d.pool.Do(ctx, func(ctx context.Context) (*inference.Response, error) {
		return d.caller.Generate(ctx, inference.Request{
			Prompt:    verifyPrompt(kind, shown),
			ImageJPEG: overlay,
			Schema:    verifySchema(),
		})
	})
	if err != nil {
		return nil, err
	}
	var result inference.VerificationResult
	if err := inference.Decode(resp.Text, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(shown); err != nil {
		return nil, err
	}
	return &result, nil
}

// applyVerification folds one verification round into the instance set.
// Removals apply first; correction indices are the badge numbers of the
// overlay just shown, so each is shifted down by the removals below it;
// missing instances append last. Reports whether anything changed.
func applyVerification(instances []label.Instance, result *inference.VerificationResult, kind label.Kind) ([]label.Instance, bool) {
	removed := make(map[int]bool, len(result.Wrong))
	for _, idx := range result.Wrong {
		removed[idx] = true
	}

	kept := make([]label.Instance, 0, len(instances))
	for i, in := range instances {
		if !removed[i] {
			kept = append(kept, in)
		}
	}

	for _, c := range result.Corrections {
		if removed[c.Index] {
			continue
		}
		adj := c.Index
		for r := range removed {
			if r < c.Index {
				adj--
			}
		}
		kept[adj].Box = geometry.NormalizeRaw(c.Box)
	}

	for _, m := range result.Missing {
		kept = append(kept, label.Instance{
			Label: m.Label,
			Type:  kind.Category,
			Box:   geometry.NormalizeRaw(m.Box),
		})
	}

	changed := len(removed) > 0 || len(result.Corrections) > 0 || len(result.Missing) > 0
	return kept, changed
}

// finalize discards boundary-clipped boxes and maps the survivors from the
// region's normalized space into the full image's.
func (d *Detector) finalize(instances []label.Instance, region geometry.Region) []label.Instance {
	out := make([]label.Instance, 0, len(instances))
	for _, in := range instances {
		if geometry.ClippedAtBoundary(in.Box, region, d.src.Width, d.src.Height, d.cfg.EdgeThreshold) {
			d.logger.Debug("Discarding boundary-clipped box", "region", region.Label, "label", in.Label)
			continue
		}
		in.Box = geometry.MapRegionBoxToGlobal(in.Box, region, d.src.Width, d.src.Height)
		out = append(out, in)
	}
	return out
}
