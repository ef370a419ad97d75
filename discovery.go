package main

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrDegenerate marks a statistical degeneracy (singular conditioning,
// zero-variance residuals, too few rows). Inside the search it is
// recovered locally per hypothesis; at the iteration level the bootstrap
// turns it into a skipped round.
var ErrDegenerate = errors.New("degenerate statistics")

// Threshold for the condition-selection phase. Deliberately liberal: it
// only decides which variables enter the conditioning sets, final link
// significance is decided by the corrected q-values at the configured
// alpha.
const selectionAlpha = 0.2

// cond identifies one conditioning column: source variable at a lag.
type cond struct {
	src int
	lag int
}

// candidate is a potential parent during the selection phase.
type candidate struct {
	src  int
	lag  int
	stat float64
}

type search struct {
	ds     *Dataset
	cfg    LagConfig
	T      int
	N      int
	tested int
	degen  int
}

// RunDiscovery performs the PC-style lagged causal search: a
// condition-selection phase per target, momentary conditional-independence
// tests for every (source, target, lag) hypothesis, global
// Benjamini-Hochberg correction, and filtering at the configured alpha.
func RunDiscovery(ds *Dataset, cfg LagConfig) (*DiscoveryResult, error) {
	T, N := ds.Dims()
	if T <= cfg.TauMax+2 {
		return nil, fmt.Errorf("dataset too short: %d time steps for tau_max %d", T, cfg.TauMax)
	}

	s := &search{ds: ds, cfg: cfg, T: T, N: N}

	// Phase 1: per-target conditioning parents at the selection threshold.
	selected := make([][]candidate, N)
	for j := 0; j < N; j++ {
		selected[j] = s.selectParents(j)
	}

	// Phase 2: momentary tests over the full (source, target, lag) grid.
	lags := cfg.TauMax + 1
	pMatrix := newTensor(N, lags, 1.0)
	valMatrix := newTensor(N, lags, 0.0)
	tested := newBoolTensor(N, lags)

	for j := 0; j < N; j++ {
		for i := 0; i < N; i++ {
			for tau := cfg.TauMin; tau <= cfg.TauMax; tau++ {
				if i == j && tau == 0 {
					continue // self link, untested
				}
				val, p := s.mciTest(i, j, tau, selected)
				valMatrix[i][j][tau] = val
				pMatrix[i][j][tau] = p
				tested[i][j][tau] = true
			}
		}
	}

	// Correction runs globally across every tested hypothesis of the run,
	// not per target: adding variables or lags raises the correction
	// burden for all of them.
	qMatrix := benjaminiHochberg(pMatrix, tested)

	links := newBoolTensor(N, lags)
	parents := make([][]Parent, N)
	for j := 0; j < N; j++ {
		parents[j] = []Parent{}
		for i := 0; i < N; i++ {
			for tau := 0; tau < lags; tau++ {
				if !tested[i][j][tau] || qMatrix[i][j][tau] > cfg.Alpha {
					continue
				}
				links[i][j][tau] = true
				parents[j] = append(parents[j], Parent{Source: i, Lag: tau, Stat: valMatrix[i][j][tau]})
			}
		}
		ps := parents[j]
		sort.SliceStable(ps, func(a, b int) bool {
			sa, sb := math.Abs(ps[a].Stat), math.Abs(ps[b].Stat)
			if sa != sb {
				return sa > sb
			}
			if ps[a].Source != ps[b].Source {
				return ps[a].Source < ps[b].Source
			}
			return ps[a].Lag < ps[b].Lag
		})
	}

	return &DiscoveryResult{
		DatasetID:  ds.ID,
		Names:      append([]string(nil), ds.Names...),
		TauMin:     cfg.TauMin,
		TauMax:     cfg.TauMax,
		PMatrix:    pMatrix,
		QMatrix:    qMatrix,
		ValMatrix:  valMatrix,
		Links:      links,
		Parents:    parents,
		Tested:     s.tested,
		Degenerate: s.degen,
	}, nil
}

// selectParents runs the iterative condition-selection phase for target j.
// Candidates are all (source, lag >= 1) pairs; each round conditions every
// surviving candidate on the strongest other survivors, growing the
// conditioning-set size until it exceeds the number of remaining
// candidates.
func (s *search) selectParents(j int) []candidate {
	lagFloor := s.cfg.TauMin
	if lagFloor < 1 {
		lagFloor = 1
	}

	var cands []candidate
	for i := 0; i < s.N; i++ {
		for tau := lagFloor; tau <= s.cfg.TauMax; tau++ {
			cands = append(cands, candidate{src: i, lag: tau})
		}
	}

	for size := 0; ; size++ {
		if size > len(cands)-1 {
			break
		}

		var kept []candidate
		for idx, c := range cands {
			conds := strongestOthers(cands, idx, size)
			val, p, _ := s.testLink(c.src, j, c.lag, conds)
			if p > selectionAlpha {
				continue
			}
			c.stat = val
			kept = append(kept, c)
		}
		cands = kept

		sort.SliceStable(cands, func(a, b int) bool {
			sa, sb := math.Abs(cands[a].stat), math.Abs(cands[b].stat)
			if sa != sb {
				return sa > sb
			}
			if cands[a].src != cands[b].src {
				return cands[a].src < cands[b].src
			}
			return cands[a].lag < cands[b].lag
		})
	}

	return cands
}

// strongestOthers picks the size strongest candidates excluding index skip.
// Assumes cands is sorted by |stat| descending (true after round zero).
func strongestOthers(cands []candidate, skip, size int) []cond {
	conds := make([]cond, 0, size)
	for idx, c := range cands {
		if idx == skip {
			continue
		}
		if len(conds) == size {
			break
		}
		conds = append(conds, cond{src: c.src, lag: c.lag})
	}
	return conds
}

// mciTest tests i -> j at lag tau conditioning on the selected parents of
// the target plus the lag-shifted selected parents of the source. Only
// these momentary tests count toward Tested and Degenerate: they are the
// hypotheses entering the global correction, the selection phase is a
// screening step.
func (s *search) mciTest(i, j, tau int, selected [][]candidate) (val, p float64) {
	seen := make(map[cond]bool)
	var conds []cond

	for _, c := range selected[j] {
		z := cond{src: c.src, lag: c.lag}
		if z.src == i && z.lag == tau {
			continue // never condition on the tested link itself
		}
		if !seen[z] {
			seen[z] = true
			conds = append(conds, z)
		}
	}
	for _, c := range selected[i] {
		z := cond{src: c.src, lag: c.lag + tau}
		if z.src == i && z.lag == tau {
			continue
		}
		if !seen[z] {
			seen[z] = true
			conds = append(conds, z)
		}
	}

	s.tested++
	val, p, degen := s.testLink(i, j, tau, conds)
	if degen {
		s.degen++
	}
	return val, p
}

// testLink runs one partial-correlation independence test of i -> j at lag
// tau given conditioning columns. A numerically degenerate test is a local
// failure of that hypothesis only: it reports statistic 0, p-value 1 and
// the degenerate flag, never aborting the search.
func (s *search) testLink(i, j, tau int, conds []cond) (val, p float64, degenerate bool) {
	// Common row window: large enough for the deepest lag involved, and
	// never smaller than tau_max so sample sizes stay comparable across
	// hypotheses.
	start := s.cfg.TauMax
	if tau > start {
		start = tau
	}
	for _, z := range conds {
		if z.lag > start {
			start = z.lag
		}
	}

	n := s.T - start
	if n < len(conds)+3 {
		return 0, 1, true
	}

	x := make([]float64, n)
	y := make([]float64, n)
	for t := 0; t < n; t++ {
		x[t] = s.ds.Y.At(t+start-tau, i)
		y[t] = s.ds.Y.At(t+start, j)
	}

	var Z *mat.Dense
	if len(conds) > 0 {
		Z = mat.NewDense(n, len(conds), nil)
		for c, z := range conds {
			for t := 0; t < n; t++ {
				Z.Set(t, c, s.ds.Y.At(t+start-z.lag, z.src))
			}
		}
	}

	r, pval, err := parCorr(x, y, Z)
	if err != nil {
		return 0, 1, true
	}
	return r, pval, false
}

// parCorr computes the partial correlation of x and y given the columns of
// Z (nil for none), with a two-sided p-value from the analytic Student's t
// distribution of the correlation of the OLS residuals.
func parCorr(x, y []float64, Z *mat.Dense) (r, p float64, err error) {
	n := len(x)
	nz := 0
	if Z != nil {
		_, nz = Z.Dims()
	}

	df := n - nz - 2
	if df <= 0 {
		return 0, 1, fmt.Errorf("%w: %d samples for %d conditions", ErrDegenerate, n, nz)
	}

	rx, err := residualize(x, Z)
	if err != nil {
		return 0, 1, err
	}
	ry, err := residualize(y, Z)
	if err != nil {
		return 0, 1, err
	}

	r = stat.Correlation(rx, ry, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, 1, fmt.Errorf("%w: undefined residual correlation", ErrDegenerate)
	}
	if r > 1 {
		r = 1
	}
	if r < -1 {
		r = -1
	}

	// Perfectly correlated residuals: the t statistic diverges, the link
	// is maximally significant, not degenerate.
	if 1-r*r <= 0 {
		return r, 0, nil
	}

	t := r * math.Sqrt(float64(df)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	p = 2 * dist.CDF(-math.Abs(t))
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return r, p, nil
}

// residualize returns v minus its OLS projection onto [1 | Z].
func residualize(v []float64, Z *mat.Dense) ([]float64, error) {
	n := len(v)
	nz := 0
	if Z != nil {
		_, nz = Z.Dims()
	}

	X := mat.NewDense(n, nz+1, nil)
	for t := 0; t < n; t++ {
		X.Set(t, 0, 1.0)
		for c := 0; c < nz; c++ {
			X.Set(t, c+1, Z.At(t, c))
		}
	}

	yVec := mat.NewVecDense(n, append([]float64(nil), v...))
	beta, err := lsSolve(X, yVec)
	if err != nil {
		return nil, err
	}

	var fitted mat.VecDense
	fitted.MulVec(X, beta)

	res := make([]float64, n)
	for t := 0; t < n; t++ {
		res[t] = v[t] - fitted.AtVec(t)
	}
	return res, nil
}

// lsSolve solves X beta ~ y by normal equations, falling back to an
// SVD-based minimum-norm least-squares solution when X'X is singular or
// badly conditioned.
func lsSolve(X *mat.Dense, y *mat.VecDense) (*mat.VecDense, error) {
	_, m := X.Dims()

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	if errInv := xtxInv.Inverse(&xtx); errInv == nil {
		var xty mat.VecDense
		xty.MulVec(X.T(), y)

		beta := mat.NewVecDense(m, nil)
		beta.MulVec(&xtxInv, &xty)
		return beta, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD factorization failed", ErrDegenerate)
	}

	rank := svd.Rank(1e-12)
	beta := mat.NewVecDense(m, nil)
	if rank == 0 {
		// Numerically all-zero design: minimum-norm solution is beta = 0.
		return beta, nil
	}

	n := y.Len()
	yMat := mat.NewDense(n, 1, nil)
	for t := 0; t < n; t++ {
		yMat.Set(t, 0, y.AtVec(t))
	}

	var b mat.Dense
	svd.SolveTo(&b, yMat, rank)
	for i := 0; i < m; i++ {
		beta.SetVec(i, b.At(i, 0))
	}
	return beta, nil
}

// benjaminiHochberg applies the FDR step-up correction across all tested
// hypotheses at once, returning the q-value tensor. Untested cells stay at
// 1; q is never below the raw p.
func benjaminiHochberg(pMatrix [][][]float64, tested [][][]bool) [][][]float64 {
	N := len(pMatrix)
	lags := 0
	if N > 0 {
		lags = len(pMatrix[0][0])
	}
	q := newTensor(N, lags, 1.0)

	type hyp struct {
		i, j, tau int
		p         float64
	}
	var hyps []hyp
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			for tau := 0; tau < lags; tau++ {
				if tested[i][j][tau] {
					hyps = append(hyps, hyp{i, j, tau, pMatrix[i][j][tau]})
				}
			}
		}
	}
	m := len(hyps)
	if m == 0 {
		return q
	}

	sort.SliceStable(hyps, func(a, b int) bool { return hyps[a].p < hyps[b].p })

	running := 1.0
	for rank := m; rank >= 1; rank-- {
		h := hyps[rank-1]
		qv := h.p * float64(m) / float64(rank)
		if qv > running {
			qv = running
		}
		running = qv
		q[h.i][h.j][h.tau] = qv
	}
	return q
}

// newTensor allocates an N x N x lags tensor filled with fill.
func newTensor(n, lags int, fill float64) [][][]float64 {
	t := make([][][]float64, n)
	for i := range t {
		t[i] = make([][]float64, n)
		for j := range t[i] {
			row := make([]float64, lags)
			if fill != 0 {
				for k := range row {
					row[k] = fill
				}
			}
			t[i][j] = row
		}
	}
	return t
}

// newBoolTensor allocates an N x N x lags boolean tensor.
func newBoolTensor(n, lags int) [][][]bool {
	t := make([][][]bool, n)
	for i := range t {
		t[i] = make([][]bool, n)
		for j := range t[i] {
			t[i][j] = make([]bool, lags)
		}
	}
	return t
}
