package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeChainData dumps the synthetic chain series as one CSV per index.
func writeChainData(t *testing.T, dir string, T int) {
	t.Helper()
	for name, s := range syntheticChain(T, 42) {
		var b strings.Builder
		b.WriteString(s.Name + "\n")
		for _, v := range s.Values {
			fmt.Fprintf(&b, "%g\n", v)
		}
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, strings.ToLower(name)+".csv"), []byte(b.String()), 0o644))
	}
}

func pipelineConfig(t *testing.T, bootIters int) (string, string) {
	t.Helper()
	dataDir := t.TempDir()
	writeChainData(t, dataDir, 240)
	outDir := t.TempDir()

	body := fmt.Sprintf(`
path: %s
data_dir: %s
variables: [X, Y, Z, Q]
tau_min: 0
tau_max: 3
significance_level: 0.05
range_months: [1, 12]
boot_iters: %d
`, outDir, dataDir, bootIters)

	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, outDir
}

func TestRunPipelineSinglePass(t *testing.T) {
	cfgPath, outDir := pipelineConfig(t, 0)

	require.NoError(t, runPipeline(cfgPath, zap.NewNop()))

	// boot_iters = 0: one discovery+estimation pass, no archive.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunPipelineBootstrapWritesArchive(t *testing.T) {
	cfgPath, outDir := pipelineConfig(t, 3)

	require.NoError(t, runPipeline(cfgPath, zap.NewNop()))

	archive := filepath.Join(outDir, "bootstrap_Q_X_Y_Z.json.gz")
	run, err := LoadArchive(archive)
	require.NoError(t, err)
	require.Len(t, run.Offsets, 3)
	require.Len(t, run.Iterations, 3)
}
