package main

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadSeriesDir loads every *.csv file in dir into a named series. Each
// file holds one climate index: a single-column CSV whose header cell is
// the index name (falling back to the file name without extension).
func LoadSeriesDir(dir string) (map[string]Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir %s: %w", dir, err)
	}

	src := make(map[string]Series)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		s, err := loadSeriesCSV(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := src[s.Name]; dup {
			return nil, fmt.Errorf("duplicate series name %q in %s", s.Name, dir)
		}
		src[s.Name] = s
	}
	if len(src) == 0 {
		return nil, fmt.Errorf("no CSV series found in %s", dir)
	}
	return src, nil
}

// loadSeriesCSV reads one single-column index file.
func loadSeriesCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return Series{}, fmt.Errorf("read header of %s: %w", path, err)
	}
	// Exactly one column per file. A wider file means the caller pointed
	// at the wrong data; failing here beats silently reading column 0.
	// The reader enforces the same width on every following record.
	if len(header) != 1 {
		return Series{}, fmt.Errorf("%s: expected a single column, header has %d fields", path, len(header))
	}
	name := strings.TrimSpace(header[0])
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".csv")
	}

	var values []float64
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("read %s row %d: %w", path, row+2, err)
		}
		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}

		v, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return Series{}, fmt.Errorf("parse float at %s row %d (%q): %w", path, row+2, record[0], err)
		}
		values = append(values, v)
		row++
	}
	if row == 0 {
		return Series{}, fmt.Errorf("no data rows in %s", path)
	}

	return Series{Name: name, Values: values}, nil
}

// ArchiveName builds the archive file name from the sorted variable-name
// set, so runs over different variable subsets never collide.
func ArchiveName(names []string) string {
	return "bootstrap_" + strings.Join(names, "_") + ".json.gz"
}

// SaveArchive persists the full result collection as gzip-compressed JSON
// under dir. It runs once at the end of a bootstrap run; a write failure
// is a terminal error of the run.
func (r *BootstrapRun) SaveArchive(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, ArchiveName(r.Names))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive %s: %w", path, err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(r); err != nil {
		zw.Close()
		return "", fmt.Errorf("encode archive %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("flush archive %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive %s: %w", path, err)
	}
	return path, nil
}

// LoadArchive reads a persisted bootstrap result collection back.
func LoadArchive(path string) (*BootstrapRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	defer zr.Close()

	var run BootstrapRun
	if err := json.NewDecoder(zr).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", path, err)
	}
	return &run, nil
}

// PrintSignificantLinks writes the discovered causal graph as a table,
// one row per significant link. An empty graph is reported with its
// cause: no links found versus tests lost to numerical degeneracy.
func PrintSignificantLinks(w io.Writer, disc *DiscoveryResult, alpha float64) {
	fmt.Fprintf(w, "\n=== Significant links (alpha = %g) ===\n", alpha)

	total := 0
	for j, parents := range disc.Parents {
		if len(parents) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nVariable %s has %d link(s):\n", disc.Names[j], len(parents))
		for _, p := range parents {
			fmt.Fprintf(w, "  (%s, -%d): stat = %8.4f | p = %.6f | q = %.6f\n",
				disc.Names[p.Source], p.Lag, p.Stat,
				disc.PMatrix[p.Source][j][p.Lag],
				disc.QMatrix[p.Source][j][p.Lag])
			total++
		}
	}

	if total == 0 {
		if disc.Degenerate > 0 {
			fmt.Fprintf(w, "No significant links; %d of %d independence tests were numerically degenerate\n",
				disc.Degenerate, disc.Tested)
		} else {
			fmt.Fprintf(w, "No significant links among %d tested hypotheses\n", disc.Tested)
		}
		return
	}
	fmt.Fprintf(w, "\n%d significant link(s), %d hypotheses tested, %d degenerate\n",
		total, disc.Tested, disc.Degenerate)
}

// PrintCoefficients writes the fitted path coefficients for every link in
// the model, plus the variable index legend.
func PrintCoefficients(w io.Writer, model *MediationModel) {
	fmt.Fprintf(w, "\n### Beta coefficients for:\n")
	for i, name := range model.Names {
		fmt.Fprintf(w, "%d %s\n", i, name)
	}

	n := len(model.Names)
	printed := 0
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			for tau := 1; tau <= model.TauMax; tau++ {
				c := model.ValMatrix[i][j][tau]
				if c == 0 {
					continue
				}
				fmt.Fprintf(w, "(%s, -%d) --> %s: %10.6f\n", model.Names[i], tau, model.Names[j], c)
				printed++
			}
		}
	}
	if printed == 0 {
		fmt.Fprintf(w, "(no fitted links)\n")
	}
}

// PrintMetrics writes the per-variable ACE and ACS vectors.
func PrintMetrics(w io.Writer, names []string, ace, acs []float64) {
	fmt.Fprintf(w, "\n%-20s %12s %12s\n", "Variable", "ACE", "ACS")
	for i, name := range names {
		fmt.Fprintf(w, "%-20s %12.4f %12.4f\n", name, ace[i], acs[i])
	}
}
