package main

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BootstrapSeed seeds the offset draws. Fixed so that two runs over the
// same source data with the same iteration count produce bit-for-bit
// identical offset sequences and result collections.
const BootstrapSeed int64 = 113

// RunBootstrap performs cfg.BootIters resampling rounds. Every round
// rebuilds a fresh aligned dataset from the untouched source mapping,
// removes one annual block at a drawn offset, and re-runs discovery and
// mediation on the reduced matrix.
//
// All offsets are drawn up front from a single seeded generator, and each
// iteration writes only its own preallocated slot, so the collection is
// reproducible regardless of how the worker pool schedules iterations.
//
// Failure policy: a statistical failure inside one iteration (degenerate
// reduced dataset, singular fit) marks that iteration as skipped and the
// run continues; only structural errors abort the whole run.
func RunBootstrap(src map[string]Series, cfg Config, log *zap.Logger) (*BootstrapRun, error) {
	if cfg.BootIters <= 0 {
		return nil, fmt.Errorf("boot_iters must be > 0 for a bootstrap run, got %d", cfg.BootIters)
	}

	// Reference build resolves the name ordering and the series length,
	// and surfaces alignment errors before any iteration starts.
	ref, err := BuildDataset(src, cfg.Variables)
	if err != nil {
		return nil, err
	}
	T, _ := ref.Dims()

	blockSize := cfg.BlockSize()
	if T-blockSize <= cfg.TauMax+2 {
		return nil, fmt.Errorf("series too short for bootstrap: %d time steps minus block %d leaves too few rows for tau_max %d",
			T, blockSize, cfg.TauMax)
	}

	// Valid block starts are the annual boundaries that still fit a whole
	// block: 0, blockSize, 2*blockSize, ...
	var starts []int
	for s := 0; s+blockSize <= T; s += blockSize {
		starts = append(starts, s)
	}

	rng := rand.New(rand.NewSource(BootstrapSeed))
	offsets := make([]int, cfg.BootIters)
	for b := range offsets {
		offsets[b] = starts[rng.Intn(len(starts))]
	}
	log.Info("bootstrap offsets drawn",
		zap.Int("iterations", cfg.BootIters),
		zap.Int("block_size", blockSize),
		zap.Int("valid_starts", len(starts)),
		zap.Int64("seed", BootstrapSeed))

	iterations := make([]IterationResult, cfg.BootIters)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for b := 0; b < cfg.BootIters; b++ {
		b := b
		g.Go(func() error {
			res, err := iterate(src, cfg, offsets[b], blockSize)
			if errors.Is(err, ErrDegenerate) {
				// Degenerate iteration: record the gap and move on.
				log.Warn("bootstrap iteration skipped",
					zap.Int("iteration", b),
					zap.Int("offset", offsets[b]),
					zap.Error(err))
				iterations[b] = IterationResult{Offset: offsets[b], Skipped: true, Reason: err.Error()}
				return nil
			}
			if err != nil {
				return fmt.Errorf("iteration %d: %w", b, err)
			}
			iterations[b] = res
			log.Debug("bootstrap iteration done",
				zap.Int("iteration", b),
				zap.Int("offset", offsets[b]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	skipped := 0
	for _, it := range iterations {
		if it.Skipped {
			skipped++
		}
	}
	log.Info("bootstrap finished",
		zap.Int("iterations", cfg.BootIters),
		zap.Int("skipped", skipped))

	return &BootstrapRun{
		Names:      ref.Names,
		Seed:       BootstrapSeed,
		BlockSize:  blockSize,
		Offsets:    offsets,
		Iterations: iterations,
	}, nil
}

// iterate is the per-round pipeline behind RunBootstrap. A variable so
// tests can stand in failing rounds and exercise the skip policy.
var iterate = runIteration

// runIteration executes one resampling round: fresh dataset, block
// removal, discovery, mediation, metrics. The source mapping is read-only
// here; each round works on its own rebuilt copy.
func runIteration(src map[string]Series, cfg Config, offset, blockSize int) (IterationResult, error) {
	ds, err := BuildDataset(src, cfg.Variables)
	if err != nil {
		// Cannot happen after the reference build succeeded, but keep the
		// error path honest.
		return IterationResult{}, fmt.Errorf("rebuild dataset: %w", err)
	}
	if err := ds.RemoveBlock(offset, blockSize); err != nil {
		return IterationResult{}, fmt.Errorf("remove block at %d: %w", offset, err)
	}

	disc, err := RunDiscovery(ds, cfg.Lags())
	if err != nil {
		return IterationResult{}, fmt.Errorf("discovery: %w", err)
	}
	model, err := FitMediation(ds, disc, cfg.Lags())
	if err != nil {
		return IterationResult{}, fmt.Errorf("mediation: %w", err)
	}

	return IterationResult{
		Offset: offset,
		Coeffs: model.ValMatrix,
		ACE:    model.AllACE(),
		ACS:    model.AllACS(),
	}, nil
}
