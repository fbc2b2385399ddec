// Package discovery determines which object kinds are present in the image
// before any detection work starts. In single-scale mode one full-image call
// produces the kind list; multi-scale mode adds four overlapping corner
// quadrants and a reconciliation call that rules out per-tile artifacts.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/derekphilipau/deep-label/internal/dispatch"
	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/imageops"
	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/label"
	"github.com/derekphilipau/deep-label/internal/logger"
)

// Config contains kind-discovery configuration.
type Config struct {
	// MultiScale adds per-quadrant discovery plus a reconciliation call.
	MultiScale bool
	// MaxKinds caps the output, preferring primary and secondary kinds.
	MaxKinds int
	// QuadrantScale sizes the corner quadrants; above 0.5 gives the mutual
	// overlap around the image center that multi-scale relies on.
	QuadrantScale float64
	// MaxImageDim bounds the wire image size.
	MaxImageDim int
}

// Discoverer runs kind discovery over one source image.
type Discoverer struct {
	cfg    Config
	pool   *dispatch.Pool
	caller inference.Caller
	src    *imageops.SourceImage
	logger *logger.Logger
}

// New creates a discoverer.
func New(cfg Config, pool *dispatch.Pool, caller inference.Caller, src *imageops.SourceImage, log *logger.Logger) *Discoverer {
	if cfg.MaxKinds <= 0 {
		cfg.MaxKinds = 12
	}
	if cfg.QuadrantScale <= 0 {
		cfg.QuadrantScale = 0.55
	}
	if cfg.MaxImageDim <= 0 {
		cfg.MaxImageDim = 1536
	}
	return &Discoverer{cfg: cfg, pool: pool, caller: caller, src: src, logger: log}
}

// Discover returns the reconciled, capped kind list. Discovery failure is the
// one run-level fatal condition in the pipeline: with no kinds there is
// nothing to detect.
func (d *Discoverer) Discover(ctx context.Context) ([]label.Kind, error) {
	full, err := d.discoverRegion(ctx, d.src.Root(), discoveryPrompt)
	if err != nil {
		return nil, fmt.Errorf("full-image discovery failed: %w", err)
	}
	d.logger.Info("Full-image discovery complete", "kinds", len(full))

	if !d.cfg.MultiScale {
		kinds := make([]label.Kind, 0, len(full))
		for _, f := range mergeFindings(full) {
			kinds = append(kinds, kindFromFinding(f, label.ScopeFull, nil))
		}
		return d.cap(kinds), nil
	}

	perQuadrant := d.discoverQuadrants(ctx)
	verdicts, err := d.reconcile(ctx, full, perQuadrant)
	if err != nil {
		// Reconciliation is an enhancement over the full-image pass; fall
		// back to the full-image findings rather than failing the run.
		d.logger.Warn("Reconciliation failed, using full-image findings", "error", err)
		kinds := make([]label.Kind, 0, len(full))
		for _, f := range mergeFindings(full) {
			kinds = append(kinds, kindFromFinding(f, label.ScopeFull, nil))
		}
		return d.cap(kinds), nil
	}

	return d.cap(d.applyVerdicts(full, perQuadrant, verdicts)), nil
}

// discoverRegion runs one discovery call over the given region.
func (d *Discoverer) discoverRegion(ctx context.Context, r geometry.Region, prompt string) ([]inference.KindFinding, error) {
	jpeg, err := d.src.RegionJPEG(r, d.cfg.MaxImageDim)
	if err != nil {
		return nil, err
	}
	resp, err := d.pool.Do(ctx, func(ctx context.Context) (*inference.Response, error) {
		return d.caller.Generate(ctx, inference.Request{
			Prompt:    prompt,
			ImageJPEG: jpeg,
			Schema:    discoverySchema(),
		})
	})
	if err != nil {
		return nil, err
	}
	var result inference.DiscoveryResult
	if err := inference.Decode(resp.Text, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result.Kinds, nil
}

// discoverQuadrants runs discovery on the four corner quadrants concurrently.
// A failed quadrant is logged and skipped; the remaining scales still feed
// reconciliation.
func (d *Discoverer) discoverQuadrants(ctx context.Context) map[string][]inference.KindFinding {
	quadrants := d.src.Root().CornerQuadrants(d.cfg.QuadrantScale)

	var mu sync.Mutex
	var wg sync.WaitGroup
	perQuadrant := make(map[string][]inference.KindFinding, len(quadrants))
	for _, q := range quadrants {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			suffix := quadrantSuffix(q.Label)
			prompt := fmt.Sprintf(quadrantDiscoveryPrompt, quadrantNames[suffix])
			findings, err := d.discoverRegion(ctx, q, prompt)
			if err != nil {
				d.logger.Warn("Quadrant discovery failed", "quadrant", suffix, "error", err)
				return
			}
			mu.Lock()
			perQuadrant[suffix] = findings
			mu.Unlock()
		}()
	}
	wg.Wait()
	return perQuadrant
}

// reconcile shows the model the full image plus every per-scale finding and
// collects a real/artifact verdict per candidate label.
func (d *Discoverer) reconcile(ctx context.Context, full []inference.KindFinding, perQuadrant map[string][]inference.KindFinding) ([]inference.ReconciledKind, error) {
	jpeg, err := d.src.RegionJPEG(d.src.Root(), d.cfg.MaxImageDim)
	if err != nil {
		return nil, err
	}
	resp, err := d.pool.Do(ctx, func(ctx context.Context) (*inference.Response, error) {
		return d.caller.Generate(ctx, inference.Request{
			Prompt:    buildReconcilePrompt(full, perQuadrant),
			ImageJPEG: jpeg,
			Schema:    reconcileSchema(),
		})
	})
	if err != nil {
		return nil, err
	}
	var result inference.ReconciliationResult
	if err := inference.Decode(resp.Text, &result); err != nil {
		return nil, err
	}
	return result.Kinds, nil
}

// applyVerdicts builds the final kind list from the reconciliation verdicts.
// Full-image attributes win over quadrant attributes for the same label.
func (d *Discoverer) applyVerdicts(full []inference.KindFinding, perQuadrant map[string][]inference.KindFinding, verdicts []inference.ReconciledKind) []label.Kind {
	byLabel := make(map[string]inference.KindFinding)
	for _, q := range []string{"q11", "q10", "q01", "q00"} {
		for _, f := range perQuadrant[q] {
			byLabel[strings.ToLower(f.Label)] = f
		}
	}
	for _, f := range full {
		byLabel[strings.ToLower(f.Label)] = f
	}

	kinds := make([]label.Kind, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.Real {
			d.logger.Debug("Kind rejected as artifact", "label", v.Label)
			continue
		}
		finding, ok := byLabel[strings.ToLower(v.Label)]
		if !ok {
			// Verdict for a label nobody reported: the model is editorializing.
			d.logger.Debug("Verdict for unknown label ignored", "label", v.Label)
			continue
		}
		scope := label.ScopeFull
		if v.Scope == string(label.ScopeSubregion) {
			scope = label.ScopeSubregion
		}
		kinds = append(kinds, kindFromFinding(finding, scope, v.Quadrants))
	}
	return kinds
}

// cap truncates the list to MaxKinds, keeping primary over secondary over
// background. Sort is stable so same-importance kinds keep discovery order.
func (d *Discoverer) cap(kinds []label.Kind) []label.Kind {
	sort.SliceStable(kinds, func(i, j int) bool {
		return importanceOrder(kinds[i].Importance) < importanceOrder(kinds[j].Importance)
	})
	if len(kinds) > d.cfg.MaxKinds {
		d.logger.Info("Kind list capped", "discovered", len(kinds), "kept", d.cfg.MaxKinds)
		kinds = kinds[:d.cfg.MaxKinds]
	}
	return kinds
}

func importanceOrder(im label.Importance) int {
	switch im {
	case label.ImportancePrimary:
		return 0
	case label.ImportanceSecondary:
		return 1
	default:
		return 2
	}
}

// mergeFindings collapses duplicate labels, first occurrence wins.
func mergeFindings(findings []inference.KindFinding) []inference.KindFinding {
	seen := make(map[string]bool, len(findings))
	out := make([]inference.KindFinding, 0, len(findings))
	for _, f := range findings {
		key := strings.ToLower(f.Label)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// kindFromFinding maps a wire finding onto the domain Kind, coercing any
// out-of-enum strings the model slipped past the schema to safe defaults.
func kindFromFinding(f inference.KindFinding, scope label.Scope, regions []string) label.Kind {
	return label.Kind{
		Label:          f.Label,
		Category:       f.Category,
		EstimatedCount: coerceCount(f.EstimatedCount),
		EstimatedSize:  coerceSize(f.EstimatedSize),
		Segmentation:   coerceSegmentation(f.Segmentation),
		Importance:     coerceImportance(f.Importance),
		Scope:          scope,
		Regions:        regions,
	}
}

func coerceCount(s string) label.CountClass {
	switch c := label.CountClass(s); c {
	case label.CountFew, label.CountModerate, label.CountMany, label.CountVeryMany:
		return c
	}
	return label.CountModerate
}

func coerceSize(s string) label.SizeClass {
	switch c := label.SizeClass(s); c {
	case label.SizeTiny, label.SizeSmall, label.SizeMedium, label.SizeLarge, label.SizeGiant:
		return c
	}
	return label.SizeMedium
}

func coerceSegmentation(s string) label.Segmentation {
	switch c := label.Segmentation(s); c {
	case label.SegmentationExhaustive, label.SegmentationRepresentative, label.SegmentationAreaMass:
		return c
	}
	return label.SegmentationExhaustive
}

func coerceImportance(s string) label.Importance {
	switch c := label.Importance(s); c {
	case label.ImportancePrimary, label.ImportanceSecondary, label.ImportanceBackground:
		return c
	}
	return label.ImportanceSecondary
}

// quadrantSuffix extracts the trailing path element of a region label.
func quadrantSuffix(regionLabel string) string {
	if i := strings.LastIndex(regionLabel, "."); i >= 0 {
		return regionLabel[i+1:]
	}
	return regionLabel
}
