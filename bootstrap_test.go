package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrapConfig(t *testing.T, iters int) Config {
	t.Helper()
	return Config{
		Path:        t.TempDir(),
		Variables:   []string{"X", "Y", "Z", "Q"},
		TauMin:      0,
		TauMax:      3,
		Alpha:       0.05,
		RangeMonths: [2]int{1, 12},
		BootIters:   iters,
	}
}

func TestBootstrapScenario(t *testing.T) {
	// 240 monthly steps, one-year blocks: valid starts are {0,12,...,228}.
	src := syntheticChain(240, 42)
	cfg := bootstrapConfig(t, 5)

	run, err := RunBootstrap(src, cfg, zap.NewNop())
	require.NoError(t, err)

	require.Equal(t, []string{"Q", "X", "Y", "Z"}, run.Names)
	require.Equal(t, 12, run.BlockSize)
	require.Len(t, run.Offsets, 5)
	require.Len(t, run.Iterations, 5)

	for b, off := range run.Offsets {
		require.Zero(t, off%12, "offset %d not on a year boundary", off)
		require.GreaterOrEqual(t, off, 0)
		require.LessOrEqual(t, off, 228)
		require.Equal(t, off, run.Iterations[b].Offset)
	}

	for b, it := range run.Iterations {
		require.False(t, it.Skipped, "iteration %d skipped: %s", b, it.Reason)
		require.Len(t, it.ACE, 4)
		require.Len(t, it.ACS, 4)
		require.Len(t, it.Coeffs, 4)
		for i := range it.Coeffs {
			require.Len(t, it.Coeffs[i], 4)
			for j := range it.Coeffs[i] {
				require.Len(t, it.Coeffs[i][j], 4)
			}
		}
	}
}

func TestBootstrapDeterminism(t *testing.T) {
	src := syntheticChain(240, 42)
	cfg := bootstrapConfig(t, 6)

	first, err := RunBootstrap(src, cfg, zap.NewNop())
	require.NoError(t, err)
	second, err := RunBootstrap(src, cfg, zap.NewNop())
	require.NoError(t, err)

	// Same seed, data and iteration count: identical offset sequence and
	// identical result collections, bit for bit, regardless of worker
	// scheduling.
	require.Equal(t, first.Offsets, second.Offsets)
	require.Equal(t, first.Iterations, second.Iterations)
}

func TestBootstrapSourceUntouched(t *testing.T) {
	src := syntheticChain(240, 42)
	before := append([]float64(nil), src["X"].Values...)

	_, err := RunBootstrap(src, bootstrapConfig(t, 3), zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, before, src["X"].Values)
	require.Len(t, src["X"].Values, 240)
}

func TestBootstrapRejectsZeroIterations(t *testing.T) {
	src := syntheticChain(240, 42)
	_, err := RunBootstrap(src, bootstrapConfig(t, 0), zap.NewNop())
	require.Error(t, err)
}

func TestBootstrapRejectsShortSeries(t *testing.T) {
	// 17 steps minus a 12-step block leaves 5 rows, not enough for
	// tau_max 3.
	src := syntheticChain(17, 42)
	_, err := RunBootstrap(src, bootstrapConfig(t, 2), zap.NewNop())
	require.Error(t, err)
}

func TestBootstrapRecordsSkippedIterations(t *testing.T) {
	src := syntheticChain(240, 42)
	cfg := bootstrapConfig(t, 6)

	clean, err := RunBootstrap(src, cfg, zap.NewNop())
	require.NoError(t, err)

	// Degenerate every round drawn at one known offset. The offset
	// sequence is seeded, so the clean run tells us which slots that hits.
	target := clean.Offsets[0]
	orig := iterate
	defer func() { iterate = orig }()
	iterate = func(src map[string]Series, cfg Config, offset, blockSize int) (IterationResult, error) {
		if offset == target {
			return IterationResult{}, fmt.Errorf("mediation: %w", ErrDegenerate)
		}
		return runIteration(src, cfg, offset, blockSize)
	}

	run, err := RunBootstrap(src, cfg, zap.NewNop())
	require.NoError(t, err)

	// The run continues past the failures: the collection keeps its full
	// length, skipped slots are flagged, every other slot is untouched.
	require.Len(t, run.Iterations, cfg.BootIters)
	require.Equal(t, clean.Offsets, run.Offsets)

	skipped := 0
	for b, it := range run.Iterations {
		if run.Offsets[b] == target {
			skipped++
			require.True(t, it.Skipped, "iteration %d", b)
			require.Equal(t, target, it.Offset)
			require.Contains(t, it.Reason, "degenerate")
			require.Nil(t, it.Coeffs)
		} else {
			require.Equal(t, clean.Iterations[b], it)
		}
	}
	require.Positive(t, skipped)

	// A skipped round stays a visible gap in the persisted collection.
	path, err := run.SaveArchive(cfg.Path)
	require.NoError(t, err)
	loaded, err := LoadArchive(path)
	require.NoError(t, err)
	require.Equal(t, run, loaded)
}

func TestBootstrapAbortsOnStructuralError(t *testing.T) {
	src := syntheticChain(240, 42)

	orig := iterate
	defer func() { iterate = orig }()
	iterate = func(map[string]Series, Config, int, int) (IterationResult, error) {
		return IterationResult{}, errors.New("input vanished mid-run")
	}

	// Non-statistical failures are not skippable: the whole run aborts.
	_, err := RunBootstrap(src, bootstrapConfig(t, 3), zap.NewNop())
	require.ErrorContains(t, err, "input vanished mid-run")
}

func TestBootstrapArchiveRoundTrip(t *testing.T) {
	src := syntheticChain(240, 42)
	cfg := bootstrapConfig(t, 4)

	run, err := RunBootstrap(src, cfg, zap.NewNop())
	require.NoError(t, err)

	path, err := run.SaveArchive(cfg.Path)
	require.NoError(t, err)
	require.Contains(t, path, "bootstrap_Q_X_Y_Z.json.gz")

	loaded, err := LoadArchive(path)
	require.NoError(t, err)
	require.Equal(t, run, loaded)
}
