package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// plantedDiscovery builds a parent structure for the synthetic chain by
// hand, bypassing the search, so coefficient recovery can be checked
// against the known generating weights.
func plantedDiscovery(ds *Dataset) *DiscoveryResult {
	iX, iY, iZ := 1, 2, 3 // sorted names: Q, X, Y, Z
	parents := make([][]Parent, len(ds.Names))
	for j := range parents {
		parents[j] = []Parent{}
	}
	parents[iY] = []Parent{{Source: iX, Lag: 2}}
	parents[iZ] = []Parent{{Source: iY, Lag: 1}}

	return &DiscoveryResult{
		DatasetID: ds.ID,
		Names:     ds.Names,
		TauMin:    0,
		TauMax:    3,
		Parents:   parents,
	}
}

func TestFitMediationRecoversCoefficients(t *testing.T) {
	ds := chainDataset(t)
	disc := plantedDiscovery(ds)
	cfg := LagConfig{TauMin: 0, TauMax: 3, Alpha: 0.05}

	model, err := FitMediation(ds, disc, cfg)
	require.NoError(t, err)

	iQ, iX, iY, iZ := 0, 1, 2, 3

	// Generating weights: Y <- 0.8 X (lag 2), Z <- 0.7 Y (lag 1).
	require.True(t, almostEqual(model.Coeff(iX, 2, iY), 0.8, 0.15),
		"got %f", model.Coeff(iX, 2, iY))
	require.True(t, almostEqual(model.Coeff(iY, 1, iZ), 0.7, 0.15),
		"got %f", model.Coeff(iY, 1, iZ))

	// Unlinked triples carry exact zeros.
	require.Zero(t, model.Coeff(iQ, 1, iY))
	require.Zero(t, model.Coeff(iX, 1, iY))
	require.Zero(t, model.Coeff(iZ, 3, iQ))

	// Indirect X -> Z effect propagates along the chain: 0.8 * 0.7.
	require.True(t, almostEqual(model.CausalEffect(iX, iZ), 0.56, 0.2),
		"got %f", model.CausalEffect(iX, iZ))
}

func TestFitMediationTensorShape(t *testing.T) {
	ds := chainDataset(t)
	cfg := LagConfig{TauMin: 0, TauMax: 3, Alpha: 0.05}

	disc, err := RunDiscovery(ds, cfg)
	require.NoError(t, err)
	model, err := FitMediation(ds, disc, cfg)
	require.NoError(t, err)

	// 4 x 4 x (tau_max + 1) coefficient tensor, length-4 metric vectors.
	require.Len(t, model.ValMatrix, 4)
	for i := range model.ValMatrix {
		require.Len(t, model.ValMatrix[i], 4)
		for j := range model.ValMatrix[i] {
			require.Len(t, model.ValMatrix[i][j], 4)
		}
	}
	require.Len(t, model.AllACE(), 4)
	require.Len(t, model.AllACS(), 4)
}

func TestFitMediationRejectsForeignParents(t *testing.T) {
	ds := chainDataset(t)
	disc := plantedDiscovery(ds)

	// Same source data, but a different dataset instance: the pairing
	// check must refuse it.
	other, err := BuildDataset(syntheticChain(240, 42), []string{"X", "Y", "Z", "Q"})
	require.NoError(t, err)

	_, err = FitMediation(other, disc, LagConfig{TauMin: 0, TauMax: 3, Alpha: 0.05})
	require.ErrorIs(t, err, ErrDatasetMismatch)
}

func TestFitMediationIdempotent(t *testing.T) {
	ds := chainDataset(t)
	disc := plantedDiscovery(ds)
	cfg := LagConfig{TauMin: 0, TauMax: 3, Alpha: 0.05}

	first, err := FitMediation(ds, disc, cfg)
	require.NoError(t, err)
	second, err := FitMediation(ds, disc, cfg)
	require.NoError(t, err)

	require.Equal(t, first.ValMatrix, second.ValMatrix)
	require.Equal(t, first.AllACE(), second.AllACE())
	require.Equal(t, first.AllACS(), second.AllACS())
}

func TestMediationMetricsOfIsolatedVariable(t *testing.T) {
	ds := chainDataset(t)
	disc := plantedDiscovery(ds)

	model, err := FitMediation(ds, disc, LagConfig{TauMin: 0, TauMax: 3, Alpha: 0.05})
	require.NoError(t, err)

	iQ, iX := 0, 1
	ace := model.AllACE()
	acs := model.AllACS()

	// Q has no links in either direction: exact zeros, not near-zeros.
	require.Zero(t, ace[iQ])
	require.Zero(t, acs[iQ])

	// X drives the chain, so it has effect but no susceptibility.
	require.Positive(t, ace[iX])
	require.Zero(t, acs[iX])
}

func TestMediationParentlessModelIsAllZero(t *testing.T) {
	ds := chainDataset(t)
	parents := make([][]Parent, len(ds.Names))
	for j := range parents {
		parents[j] = []Parent{}
	}
	disc := &DiscoveryResult{DatasetID: ds.ID, Names: ds.Names, TauMax: 3, Parents: parents}

	model, err := FitMediation(ds, disc, LagConfig{TauMin: 0, TauMax: 3, Alpha: 0.05})
	require.NoError(t, err)

	for i := range model.ValMatrix {
		for j := range model.ValMatrix[i] {
			for tau := range model.ValMatrix[i][j] {
				require.Zero(t, model.ValMatrix[i][j][tau])
			}
		}
	}
	for _, v := range model.AllACE() {
		require.Zero(t, v)
	}
}
