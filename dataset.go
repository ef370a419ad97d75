package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyIntersection means no configured variable name matched the
	// available series; nothing can be built from that.
	ErrEmptyIntersection = errors.New("empty intersection between configured and available variables")

	// ErrSeriesLengthMismatch means the input series do not share a common
	// time index. Misalignment is a configuration error, never silently
	// truncated.
	ErrSeriesLengthMismatch = errors.New("series lengths differ")

	// ErrDatasetMismatch means a parent structure from one dataset was
	// paired with a different dataset instance at the estimator boundary.
	ErrDatasetMismatch = errors.New("parent structure and dataset come from different dataset instances")
)

// BuildDataset assembles the aligned (T x N) matrix from the source series.
// Column order is the sorted intersection of retain and the keys of src,
// which is deterministic regardless of map iteration order; callers must
// use the returned Names for all labeling, not their own retain list.
// The source mapping is never mutated.
func BuildDataset(src map[string]Series, retain []string) (*Dataset, error) {
	available := make(map[string]bool, len(src))
	for name := range src {
		available[name] = true
	}

	var names []string
	seen := make(map[string]bool, len(retain))
	for _, name := range retain {
		if available[name] && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	if len(names) == 0 {
		return nil, ErrEmptyIntersection
	}
	sort.Strings(names)

	// All series must share one time index; check against the first.
	T := len(src[names[0]].Values)
	for _, name := range names {
		if got := len(src[name].Values); got != T {
			return nil, fmt.Errorf("%w: %s has %d values, %s has %d",
				ErrSeriesLengthMismatch, name, got, names[0], T)
		}
	}
	if T < 2 {
		return nil, fmt.Errorf("series too short: %d time steps", T)
	}

	N := len(names)
	data := make([]float64, T*N)
	for j, name := range names {
		vals := src[name].Values
		for t := 0; t < T; t++ {
			data[t*N+j] = vals[t]
		}
	}

	return &Dataset{
		ID:    uuid.New(),
		Names: names,
		Y:     mat.NewDense(T, N, data),
	}, nil
}

// Dims returns (time steps, variables).
func (d *Dataset) Dims() (int, int) { return d.Y.Dims() }

// Column copies out column j as a plain slice.
func (d *Dataset) Column(j int) []float64 {
	T, _ := d.Y.Dims()
	out := make([]float64, T)
	for t := 0; t < T; t++ {
		out[t] = d.Y.At(t, j)
	}
	return out
}

// RemoveBlock deletes the contiguous rows [start, start+length) from the
// dataset, in place. It is used while constructing one bootstrap
// iteration's working copy, before any consumer has seen the dataset, so
// the identity token is kept.
func (d *Dataset) RemoveBlock(start, length int) error {
	T, N := d.Y.Dims()
	if length <= 0 {
		return fmt.Errorf("block length must be > 0, got %d", length)
	}
	if start < 0 || start+length > T {
		return fmt.Errorf("block [%d,%d) out of range for %d time steps", start, start+length, T)
	}

	reduced := mat.NewDense(T-length, N, nil)
	row := 0
	for t := 0; t < T; t++ {
		if t >= start && t < start+length {
			continue
		}
		for j := 0; j < N; j++ {
			reduced.Set(row, j, d.Y.At(t, j))
		}
		row++
	}
	d.Y = reduced
	return nil
}
