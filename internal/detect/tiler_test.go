package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derekphilipau/deep-label/internal/dispatch"
	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/imageops"
	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/label"
	"github.com/derekphilipau/deep-label/internal/logger"
)

func newTiler(cfg Config, caller inference.Caller, src *imageops.SourceImage) *Tiler {
	log := logger.NewNopLogger()
	pool := dispatch.New(dispatch.Config{Limit: 8}, log)
	det := NewDetector(cfg, pool, caller, src, log)
	return NewTiler(cfg, det, pool, caller, src, log)
}

// tilerConfig keeps recursion viable on small test images.
func tilerConfig() Config {
	return Config{MaxDepth: 1, MinTilePx: 64, CountThreshold: 12}
}

func TestTilerTinyKindSubdividesWithoutEstimate(t *testing.T) {
	caller := &fakeCaller{handler: func(req inference.Request) (string, error) {
		require.False(t, isCount(req), "tiny kinds skip the count estimate")
		return `{"instances":[]}`, nil
	}}
	kind := exhaustiveKind()
	kind.EstimatedSize = label.SizeTiny

	out := newTiler(tilerConfig(), caller, testSource(400, 300)).Run(context.Background(), kind)
	assert.Empty(t, out)
	// Four quadrant detect calls, no root call.
	assert.Len(t, caller.calls, 4)
}

func TestTilerSubdividesAboveCountThreshold(t *testing.T) {
	caller := &fakeCaller{handler: func(req inference.Request) (string, error) {
		if isCount(req) {
			return `{"count":30}`, nil
		}
		return `{"instances":[]}`, nil
	}}
	kind := exhaustiveKind()
	kind.EstimatedCount = label.CountMany

	out := newTiler(tilerConfig(), caller, testSource(400, 300)).Run(context.Background(), kind)
	assert.Empty(t, out)
	// One estimate at the root, then four children detected directly: the
	// children sit at MaxDepth so no second estimate happens.
	assert.Equal(t, 1, caller.countCalls("Estimate how many"))
	assert.Len(t, caller.calls, 5)
}

func TestTilerDetectsDirectlyBelowThreshold(t *testing.T) {
	caller := &fakeCaller{handler: func(req inference.Request) (string, error) {
		if isCount(req) {
			return `{"count":5}`, nil
		}
		if isVerify(req) {
			return `{"complete":false}`, nil
		}
		return `{"instances":[{"label":"hound","box_2d":[100,100,300,300]}]}`, nil
	}}
	kind := exhaustiveKind()
	kind.EstimatedCount = label.CountMany

	out := newTiler(tilerConfig(), caller, testSource(400, 300)).Run(context.Background(), kind)
	require.Len(t, out, 1)
	// Estimate, detect, one stable verify round.
	assert.Len(t, caller.calls, 3)
}

func TestTilerFailedEstimateAssumesDense(t *testing.T) {
	caller := &fakeCaller{handler: func(req inference.Request) (string, error) {
		if isCount(req) {
			return "not json", nil
		}
		return `{"instances":[]}`, nil
	}}
	kind := exhaustiveKind()
	kind.EstimatedSize = label.SizeSmall

	newTiler(tilerConfig(), caller, testSource(400, 300)).Run(context.Background(), kind)
	// Failed estimate at the root, then four child detects.
	assert.Len(t, caller.calls, 5)
}

func TestTilerModerateKindNeverEstimates(t *testing.T) {
	caller := &fakeCaller{handler: func(req inference.Request) (string, error) {
		require.False(t, isCount(req))
		if isVerify(req) {
			return `{"complete":false}`, nil
		}
		return `{"instances":[{"label":"hound","box_2d":[100,100,300,300]}]}`, nil
	}}

	out := newTiler(tilerConfig(), caller, testSource(400, 300)).Run(context.Background(), exhaustiveKind())
	assert.Len(t, out, 1)
}

func TestTilerSubregionScopeOnlySearchesAssignedQuadrants(t *testing.T) {
	caller := &fakeCaller{handler: func(req inference.Request) (string, error) {
		if isVerify(req) {
			return `{"complete":false}`, nil
		}
		return `{"instances":[{"label":"boat","box_2d":[400,400,600,600]}]}`, nil
	}}
	kind := exhaustiveKind()
	kind.Label = "boat"
	kind.Category = "vehicle"
	kind.Scope = label.ScopeSubregion
	kind.Regions = []string{"q01"}

	cfg := tilerConfig()
	out := newTiler(cfg, caller, testSource(400, 300)).Run(context.Background(), kind)
	require.Len(t, out, 1)
	// One detect plus one verify: a single quadrant was searched.
	assert.Len(t, caller.calls, 2)
}

func TestMergeChildrenCollapsesCrossTileDuplicates(t *testing.T) {
	// Four quadrants each saw the same physical object; one pass named it
	// differently. Boxes overlap far above the same-category bar.
	base := geometry.NormalizeBox(300, 300, 700, 700)
	shifted := geometry.NormalizeBox(308, 308, 708, 708) // iou ~0.91, areaRatio ~1.0
	results := [][]label.Instance{
		{{Label: "hound", Type: "animal", Box: base}},
		{{Label: "hound", Type: "animal", Box: shifted}},
		{{Label: "dog", Type: "animal", Box: base}},
		{{Label: "hound", Type: "animal", Box: shifted}},
	}

	tiler := newTiler(tilerConfig(), &fakeCaller{}, testSource(400, 300))
	merged := tiler.mergeChildren(results)
	require.Len(t, merged, 1)
	assert.Equal(t, "hound", merged[0].Label)
	assert.Equal(t, []string{"dog"}, merged[0].Aliases)
}

func TestMergeChildrenKeepsDistinctObjects(t *testing.T) {
	results := [][]label.Instance{
		{{Label: "hound", Type: "animal", Box: geometry.NormalizeBox(0, 0, 200, 200)}},
		{{Label: "hound", Type: "animal", Box: geometry.NormalizeBox(700, 700, 900, 900)}},
	}
	tiler := newTiler(tilerConfig(), &fakeCaller{}, testSource(400, 300))
	assert.Len(t, tiler.mergeChildren(results), 2)
}
