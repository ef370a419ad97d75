// Project: Causal discovery and bootstrap estimation for climate index dynamics.
// A PC-style conditional-independence search over lagged monthly indices,
// a linear mediation fit on the discovered graph, and a year-block bootstrap
// that propagates structural uncertainty into the path coefficients.

package main

import (
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Series is one named climate index: an ordered sequence of monthly values.
type Series struct {
	Name   string
	Values []float64
}

// Dataset is the aligned (T x N) matrix of retained indices.
// Names holds the resolved column order (sorted intersection, NOT the
// caller's order); ID tags the instance so discovery output can only be
// fed back to the estimator together with the matrix it came from.
type Dataset struct {
	ID    uuid.UUID
	Names []string
	// Matrix for data, rows are time steps, cols follow Names
	Y *mat.Dense
}

// Parent is one statistically significant causal predecessor of a target:
// the source column index plus the lag (in time steps) of the link.
type Parent struct {
	Source int
	Lag    int
	// Test statistic of the link (partial correlation), kept for sorting
	// and reporting
	Stat float64
}

// DiscoveryResult holds everything the causal search produces.
// All tensors are indexed [source][target][lag] with lag in 0..TauMax.
type DiscoveryResult struct {
	DatasetID uuid.UUID
	Names     []string
	TauMin    int
	TauMax    int

	// Raw two-sided p-values per tested hypothesis; untested cells hold 1
	PMatrix [][][]float64
	// Benjamini-Hochberg corrected q-values, corrected across the full
	// hypothesis set of the run
	QMatrix [][][]float64
	// Partial-correlation statistic per hypothesis
	ValMatrix [][][]float64
	// Links[i][j][tau] is true when i -> j at lag tau survived the
	// corrected significance filter
	Links [][][]bool

	// Parents[j] lists the significant predecessors of target j, sorted
	// by |Stat| descending. A parentless target keeps an empty slice.
	Parents [][]Parent

	// Tested counts the momentary-test hypotheses entering the global
	// correction (condition-selection screening tests are excluded);
	// Degenerate counts the subset that failed numerically and was
	// treated as non-significant.
	// Zero links with Degenerate > 0 is a different outcome than zero
	// links with Degenerate == 0 and is reported as such.
	Tested     int
	Degenerate int
}

// MediationModel is the fitted linear structural model for one dataset.
// It is a plain value returned by FitMediation: there is no estimator
// object holding fitted state, so nothing can go stale between bootstrap
// iterations.
type MediationModel struct {
	DatasetID uuid.UUID
	Names     []string
	TauMax    int

	// Path coefficients, indexed [source][target][lag]; zero where no
	// link was fitted
	ValMatrix [][][]float64

	// Phi[tau] is the N x N coefficient matrix at lag tau (row = target,
	// col = source); Phi[0] is unused and kept nil
	Phi []*mat.Dense
	// Psi[h] is the accumulated total-effect matrix at horizon h
	Psi []*mat.Dense
}

// IterationResult is one bootstrap round: the block-start offset that was
// removed, and the coefficients/metrics refit on the reduced dataset.
// A round that hit a statistical degeneracy is kept in the collection
// with Skipped set, so gaps stay visible in the archive.
type IterationResult struct {
	Offset  int
	Skipped bool
	Reason  string

	Coeffs [][][]float64
	ACE    []float64
	ACS    []float64
}

// BootstrapRun is the full result collection of a bootstrap run, ordered
// by iteration index.
type BootstrapRun struct {
	Names     []string
	Seed      int64
	BlockSize int
	Offsets   []int

	Iterations []IterationResult
}
