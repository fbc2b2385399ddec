// Package run wires the whole pipeline together: kind discovery, per-kind
// adaptive tiling with bounded call concurrency, the global post-process
// pass, and the output payload. A Runner owns its pools, so concurrent runs
// in one process never share backoff state unless they share a Runner.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/derekphilipau/deep-label/internal/config"
	"github.com/derekphilipau/deep-label/internal/detect"
	"github.com/derekphilipau/deep-label/internal/discovery"
	"github.com/derekphilipau/deep-label/internal/dispatch"
	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/imageops"
	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/label"
	"github.com/derekphilipau/deep-label/internal/logger"
	"github.com/derekphilipau/deep-label/internal/postprocess"
)

// Stats are the advisory counters of one run. They appear in the payload and
// the completion log line but never influence control flow.
type Stats struct {
	Calls         int64   `json:"calls"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	RateLimitHits int64   `json:"rateLimitHits"`
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	EstimatedCost float64 `json:"estimatedCost"`
	SkippedTiles  int64   `json:"skippedTiles"`
	SkippedKinds  int     `json:"skippedKinds"`
}

// Result is the complete output of one labeling run.
type Result struct {
	RunID       string           `json:"runId"`
	ImagePath   string           `json:"imagePath,omitempty"`
	ImageWidth  int              `json:"imageWidth"`
	ImageHeight int              `json:"imageHeight"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	Kinds       []label.Kind     `json:"kinds"`
	Instances   []label.Instance `json:"instances"`
	Stats       Stats            `json:"stats"`
}

// Runner executes labeling runs against one inference backend.
type Runner struct {
	cfg    *config.Config
	caller inference.Caller
	logger *logger.Logger
}

// New creates a runner. The caller is injected so tests can script it.
func New(cfg *config.Config, caller inference.Caller, log *logger.Logger) *Runner {
	return &Runner{cfg: cfg, caller: caller, logger: log}
}

// Run loads the image at path and labels it.
func (r *Runner) Run(ctx context.Context, path string) (*Result, error) {
	src, err := imageops.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	res, err := r.runSource(ctx, src)
	if res != nil {
		res.ImagePath = path
	}
	return res, err
}

func (r *Runner) runSource(ctx context.Context, src *imageops.SourceImage) (*Result, error) {
	lc := r.cfg.Labeler
	result := &Result{
		RunID:       uuid.NewString(),
		ImageWidth:  src.Width,
		ImageHeight: src.Height,
		StartedAt:   time.Now().UTC(),
		Kinds:       []label.Kind{},
		Instances:   []label.Instance{},
	}
	log := r.logger.Named("run")
	log.Info("Run started", "run_id", result.RunID, "width", src.Width, "height", src.Height)

	// Two pools: detection fan-out and the single-flight discovery and
	// description calls. Separate instances keep their backoff windows and
	// counters independent.
	detectPool := dispatch.New(r.poolConfig(lc.Pool.DetectConcurrency), log.Named("detect-pool"))
	describePool := dispatch.New(r.poolConfig(lc.Pool.DescribeConcurrency), log.Named("describe-pool"))

	disc := discovery.New(discovery.Config{
		MultiScale:    lc.Discovery.MultiScale,
		MaxKinds:      lc.Discovery.MaxKinds,
		QuadrantScale: lc.Discovery.QuadrantScale,
		MaxImageDim:   lc.Inference.MaxImageDim,
	}, describePool, r.caller, src, log.Named("discovery"))

	kinds, err := disc.Discover(ctx)
	if err != nil {
		// The one run-level failure mode: no kinds means nothing to detect.
		// The run still completes with an empty result instead of crashing.
		log.Error("Kind discovery failed, finishing with empty result", "error", err)
		result.FinishedAt = time.Now().UTC()
		result.Stats = r.collectStats(describePool, detectPool, nil, 0)
		return result, nil
	}
	result.Kinds = kinds
	log.Info("Discovery complete", "kinds", len(kinds))

	detCfg := r.detectConfig(lc)
	detector := detect.NewDetector(detCfg, detectPool, r.caller, src, log.Named("detector"))
	tiler := detect.NewTiler(detCfg, detector, detectPool, r.caller, src, log.Named("tiler"))

	// Kinds run concurrently; the pool bounds actual call concurrency. Each
	// kind's result list is immutable and merged only after all finish.
	perKind := make([][]label.Instance, len(kinds))
	var wg sync.WaitGroup
	for i, k := range kinds {
		i, k := i, k
		wg.Add(1)
		go func() {
			defer wg.Done()
			perKind[i] = tiler.Run(ctx, k)
			log.Info("Kind detected", "kind", k.Label, "instances", len(perKind[i]))
		}()
	}
	wg.Wait()

	skippedKinds := 0
	var flat []label.Instance
	for i, instances := range perKind {
		if len(instances) == 0 {
			skippedKinds++
			log.Warn("Kind contributed no instances", "kind", kinds[i].Label)
			continue
		}
		flat = append(flat, instances...)
	}

	result.Instances = postprocess.Process(flat, postprocess.Config{
		Dedup: lc.Dedup,
		Weights: postprocess.Weights{
			Area:             lc.Scoring.Area,
			Centrality:       lc.Scoring.Centrality,
			VerticalPosition: lc.Scoring.VerticalPosition,
			LabelRarity:      lc.Scoring.LabelRarity,
			CategoryRarity:   lc.Scoring.CategoryRarity,
		},
	})
	result.FinishedAt = time.Now().UTC()
	result.Stats = r.collectStats(describePool, detectPool, detector, skippedKinds)

	log.Info("Run finished",
		"run_id", result.RunID,
		"instances", len(result.Instances),
		"calls", result.Stats.Calls,
		"skipped_tiles", result.Stats.SkippedTiles,
		"skipped_kinds", result.Stats.SkippedKinds,
		"estimated_cost", result.Stats.EstimatedCost,
	)
	return result, nil
}

func (r *Runner) poolConfig(limit int) dispatch.Config {
	p := r.cfg.Labeler.Pool
	return dispatch.Config{
		Limit:                limit,
		MaxAttempts:          p.MaxAttempts,
		RetryBase:            p.RetryBase,
		BackoffBase:          p.BackoffBase,
		BackoffMax:           p.BackoffMax,
		CostPerMInputTokens:  p.CostPerMInputTokens,
		CostPerMOutputTokens: p.CostPerMOutputTokens,
	}
}

func (r *Runner) detectConfig(lc config.LabelerConfig) detect.Config {
	dedup := lc.Dedup
	if dedup == (geometry.MatchThresholds{}) {
		dedup = geometry.DefaultMatchThresholds()
	}
	return detect.Config{
		MaxVerifyRounds:   lc.Detect.MaxVerifyRounds,
		CountThreshold:    lc.Detect.CountThreshold,
		MaxDepth:          lc.Detect.MaxDepth,
		MinTilePx:         lc.Detect.MinTilePx,
		TileOverlap:       lc.Detect.TileOverlap,
		RepresentativeCap: lc.Detect.RepresentativeCap,
		AreaMassMax:       lc.Detect.AreaMassMax,
		EdgeThreshold:     lc.Detect.EdgeThreshold,
		MaxImageDim:       lc.Inference.MaxImageDim,
		Dedup:             dedup,
	}
}

func (r *Runner) collectStats(describePool, detectPool *dispatch.Pool, detector *detect.Detector, skippedKinds int) Stats {
	var s Stats
	for _, p := range []*dispatch.Pool{describePool, detectPool} {
		u := p.Snapshot()
		s.Calls += u.Calls
		s.Successes += u.Successes
		s.Failures += u.Failures
		s.RateLimitHits += u.RateLimitHits
		s.InputTokens += u.InputTokens
		s.OutputTokens += u.OutputTokens
		s.EstimatedCost += u.EstimatedCost
	}
	if detector != nil {
		s.SkippedTiles = detector.SkippedTiles()
	}
	s.SkippedKinds = skippedKinds
	return s
}
