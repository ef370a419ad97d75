package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FitMediation fits one linear regression per target variable against its
// discovered lagged parents, taking the parent set from the search as
// given (no further variable selection). The parent structure must
// originate from the same dataset instance as the matrix; the identity
// token enforces that at the boundary.
//
// Contemporaneous (lag 0) links stay in the link matrix for reporting but
// do not enter the structural fit: the propagation model is strictly
// time-forward.
func FitMediation(ds *Dataset, disc *DiscoveryResult, cfg LagConfig) (*MediationModel, error) {
	if disc.DatasetID != ds.ID {
		return nil, fmt.Errorf("%w: parents from %s, dataset %s",
			ErrDatasetMismatch, disc.DatasetID, ds.ID)
	}

	T, N := ds.Dims()
	lags := cfg.TauMax + 1
	start := cfg.TauMax
	rows := T - start
	if rows < 2 {
		return nil, fmt.Errorf("%w: %d usable rows after lag window", ErrDegenerate, rows)
	}

	valMatrix := newTensor(N, lags, 0.0)

	// One equation per target over its lagged parents.
	for j := 0; j < N; j++ {
		var parents []Parent
		for _, par := range disc.Parents[j] {
			if par.Lag >= 1 {
				parents = append(parents, par)
			}
		}
		if len(parents) == 0 {
			continue // parentless target: all-zero coefficients
		}
		if rows < len(parents)+2 {
			return nil, fmt.Errorf("%w: %d rows for %d parents of %s",
				ErrDegenerate, rows, len(parents), ds.Names[j])
		}

		X := mat.NewDense(rows, len(parents)+1, nil)
		y := mat.NewVecDense(rows, nil)
		for t := 0; t < rows; t++ {
			X.Set(t, 0, 1.0)
			for k, par := range parents {
				X.Set(t, k+1, ds.Y.At(t+start-par.Lag, par.Source))
			}
			y.SetVec(t, ds.Y.At(t+start, j))
		}

		beta, err := lsSolve(X, y)
		if err != nil {
			return nil, fmt.Errorf("fit target %s: %w", ds.Names[j], err)
		}
		for k, par := range parents {
			valMatrix[par.Source][j][par.Lag] = beta.AtVec(k + 1)
		}
	}

	// Phi[tau](j, i) = coefficient of i at lag tau in the equation of j.
	phi := make([]*mat.Dense, lags)
	for tau := 1; tau <= cfg.TauMax; tau++ {
		P := mat.NewDense(N, N, nil)
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				P.Set(j, i, valMatrix[i][j][tau])
			}
		}
		phi[tau] = P
	}

	// Total effects by the moving-average recursion:
	// Psi_0 = I, Psi_h = sum_{k=1..h} Phi_k Psi_{h-k}.
	psi := make([]*mat.Dense, lags)
	psi[0] = identity(N)
	for h := 1; h <= cfg.TauMax; h++ {
		M := mat.NewDense(N, N, nil)
		for k := 1; k <= h; k++ {
			var tmp mat.Dense
			tmp.Mul(phi[k], psi[h-k])
			M.Add(M, &tmp)
		}
		psi[h] = M
	}

	return &MediationModel{
		DatasetID: ds.ID,
		Names:     append([]string(nil), ds.Names...),
		TauMax:    cfg.TauMax,
		ValMatrix: valMatrix,
		Phi:       phi,
		Psi:       psi,
	}, nil
}

// Coeff returns the fitted path coefficient of source i at lag tau in the
// equation of target j; zero where no link was fitted.
func (m *MediationModel) Coeff(i, tau, j int) float64 {
	return m.ValMatrix[i][j][tau]
}

// CausalEffect returns the total effect of a unit perturbation of i on j:
// the Psi entry of largest magnitude over horizons 1..TauMax.
func (m *MediationModel) CausalEffect(i, j int) float64 {
	best := 0.0
	for h := 1; h <= m.TauMax; h++ {
		v := m.Psi[h].At(j, i)
		if math.Abs(v) > math.Abs(best) {
			best = v
		}
	}
	return best
}

// AllACE returns the Average Causal Effect per variable: the mean absolute
// total effect of that variable on every other variable.
func (m *MediationModel) AllACE() []float64 {
	n := len(m.Names)
	ace := make([]float64, n)
	if n < 2 {
		return ace
	}
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sum += math.Abs(m.CausalEffect(i, j))
		}
		ace[i] = sum / float64(n-1)
	}
	return ace
}

// AllACS returns the Average Causal Susceptibility per variable: the mean
// absolute total effect received from every other variable. It is the
// transpose-direction analog of AllACE.
func (m *MediationModel) AllACS() []float64 {
	n := len(m.Names)
	acs := make([]float64, n)
	if n < 2 {
		return acs
	}
	for j := 0; j < n; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			if i == j {
				continue
			}
			sum += math.Abs(m.CausalEffect(i, j))
		}
		acs[j] = sum / float64(n-1)
	}
	return acs
}

func identity(n int) *mat.Dense {
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1.0
	}
	return mat.NewDense(n, n, data)
}
