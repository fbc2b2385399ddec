package detect

import (
	"context"
	"strings"
	"sync"

	"github.com/derekphilipau/deep-label/internal/dispatch"
	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/imageops"
	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/label"
	"github.com/derekphilipau/deep-label/internal/logger"
)

// Tiler decides per (region, kind) whether to detect directly or subdivide
// into overlapping quadrants first, recursing until the region is sparse
// enough for a single call. Child results are collected into per-child
// immutable lists and merged strictly on the way back up; sibling quadrants
// run concurrently with no shared accumulation.
type Tiler struct {
	cfg      Config
	detector *Detector
	pool     *dispatch.Pool
	caller   inference.Caller
	src      *imageops.SourceImage
	logger   *logger.Logger
}

// NewTiler creates a tiler that drives the given detector.
func NewTiler(cfg Config, det *Detector, pool *dispatch.Pool, caller inference.Caller, src *imageops.SourceImage, log *logger.Logger) *Tiler {
	cfg.setDefaults()
	return &Tiler{cfg: cfg, detector: det, pool: pool, caller: caller, src: src, logger: log}
}

// Run detects every instance of the kind in the whole image. Subregion-scoped
// kinds only search the quadrants discovery assigned them.
func (t *Tiler) Run(ctx context.Context, kind label.Kind) []label.Instance {
	root := t.src.Root()
	if kind.Scope == label.ScopeSubregion && len(kind.Regions) > 0 {
		return t.runSubregions(ctx, root, kind)
	}
	return t.processRegion(ctx, root, kind)
}

// runSubregions processes only the root quadrants discovery named for the
// kind, then merges across them.
func (t *Tiler) runSubregions(ctx context.Context, root geometry.Region, kind label.Kind) []label.Instance {
	wanted := make(map[string]bool, len(kind.Regions))
	for _, q := range kind.Regions {
		wanted[q] = true
	}
	var regions []geometry.Region
	for _, q := range root.Quadrants(t.cfg.TileOverlap) {
		if wanted[quadrantSuffix(q.Label)] {
			regions = append(regions, q)
		}
	}
	if len(regions) == 0 {
		// Discovery named quadrants we cannot map; fall back to the full image.
		return t.processRegion(ctx, root, kind)
	}
	return t.mergeChildren(t.processConcurrently(ctx, regions, kind))
}

// processRegion is the recursion driver: subdivide when the kind or a live
// count estimate says the region is too dense, otherwise hand the region to
// the detector.
func (t *Tiler) processRegion(ctx context.Context, region geometry.Region, kind label.Kind) []label.Instance {
	if t.shouldSubdivide(ctx, region, kind) {
		children := region.Quadrants(t.cfg.TileOverlap)
		t.logger.Debug("Subdividing region", "region", region.Label, "kind", kind.Label, "depth", region.Depth())
		return t.mergeChildren(t.processConcurrently(ctx, children, kind))
	}
	return t.detector.DetectRegion(ctx, region, kind)
}

// shouldSubdivide applies the density policy. Area-mass kinds never
// subdivide: their boxes are broad regions, not countable instances.
func (t *Tiler) shouldSubdivide(ctx context.Context, region geometry.Region, kind label.Kind) bool {
	if kind.Segmentation == label.SegmentationAreaMass {
		return false
	}
	if !t.canSubdivide(region) {
		return false
	}

	// A full-region estimate is unreliable for tiny objects; subdivide
	// without asking.
	if kind.EstimatedSize == label.SizeTiny {
		return true
	}

	dense := kind.EstimatedSize == label.SizeSmall ||
		kind.EstimatedCount == label.CountMany ||
		kind.EstimatedCount == label.CountVeryMany
	if !dense {
		return false
	}

	count, err := t.countEstimate(ctx, region, kind)
	if err != nil {
		// No estimate: assume dense and subdivide rather than risk an
		// unresolvable single call.
		t.logger.Warn("Count estimate failed, assuming dense",
			"region", region.Label, "kind", kind.Label, "error", err)
		return true
	}
	t.logger.Debug("Count estimate", "region", region.Label, "kind", kind.Label, "count", count)
	return count > t.cfg.CountThreshold
}

// canSubdivide checks the recursion bounds: maximum depth and minimum child
// tile size.
func (t *Tiler) canSubdivide(region geometry.Region) bool {
	if region.Depth() >= t.cfg.MaxDepth {
		return false
	}
	return region.Width/2 >= t.cfg.MinTilePx && region.Height/2 >= t.cfg.MinTilePx
}

// countEstimate issues the cheap how-many call for the region.
func (t *Tiler) countEstimate(ctx context.Context, region geometry.Region, kind label.Kind) (int, error) {
	jpeg, err := t.src.RegionJPEG(region, t.cfg.MaxImageDim)
	if err != nil {
		return 0, err
	}
	resp, err := t.pool.Do(ctx, func(ctx context.Context) (*inference.Response, error) {
		return t.caller.Generate(ctx, inference.Request{
			Prompt:    countPrompt(kind),
			ImageJPEG: jpeg,
			Schema:    countSchema(),
		})
	})
	if err != nil {
		return 0, err
	}
	var result inference.CountEstimateResult
	if err := inference.Decode(resp.Text, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// processConcurrently runs processRegion per child region in parallel and
// returns one immutable result list per child. Call-level concurrency stays
// bounded by the pool regardless of how many goroutines recurse here.
func (t *Tiler) processConcurrently(ctx context.Context, regions []geometry.Region, kind label.Kind) [][]label.Instance {
	results := make([][]label.Instance, len(regions))
	var wg sync.WaitGroup
	for i, r := range regions {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = t.processRegion(ctx, r, kind)
		}()
	}
	wg.Wait()
	return results
}

// mergeChildren unions the per-child results and collapses cross-tile
// duplicates: the overlap band makes adjacent tiles both see objects near
// their shared seam.
func (t *Tiler) mergeChildren(results [][]label.Instance) []label.Instance {
	var union []label.Instance
	for _, r := range results {
		union = append(union, r...)
	}
	return label.Dedupe(union, t.cfg.Dedup)
}

// quadrantSuffix extracts the trailing path element of a region label.
func quadrantSuffix(regionLabel string) string {
	if i := strings.LastIndex(regionLabel, "."); i >= 0 {
		return regionLabel[i+1:]
	}
	return regionLabel
}
