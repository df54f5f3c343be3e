package cubestream

import (
	"context"

	"github.com/ctessum/sparse"
)

// streamAnomaly computes a centered or standardized anomaly over a
// VirtualCube in two passes. Pass 1 streams tiles through the reducer to
// build the per-key baseline (mean, and standard deviation when
// standardizing). Pass 2 re-streams tiles and rewrites each value as
// (x - mean) or (x - mean) / std, assembling an output cube with the
// original shape.
//
// Pass 2 re-fetches tiles by default; with cacheTiles the pass-1 chunks are
// kept in memory keyed by tile index, trading memory for halved I/O.
//
// The output is a full-size cube, so the same size guard as Materialize
// applies.
func streamAnomaly(ctx context.Context, vc *VirtualCube, dim Dim, standardize bool, eps float64, cacheTiles bool) (*Cube, error) {
	est := vc.EstimateBytes()
	if est > vc.maxBytes && !vc.force {
		return nil, &MaterializeTooLargeError{EstimatedBytes: est, MaxBytes: vc.maxBytes}
	}

	grid, err := newStatGrid(vc.domain, dim)
	if err != nil {
		return nil, err
	}
	tiles, err := vc.Tiles()
	if err != nil {
		return nil, err
	}

	var cache map[int]*TileResult
	if cacheTiles {
		cache = make(map[int]*TileResult, len(tiles))
	}

	// Pass 1: baseline statistics.
	err = vc.forEachTile(ctx, tiles, func(res *TileResult) error {
		grid.addTile(res)
		if cache != nil {
			cache[res.Tile.Index] = res
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	means := make([]float64, len(grid.stats))
	var stds []float64
	for i, s := range grid.stats {
		means[i] = s.meanValue()
	}
	if standardize {
		stds = make([]float64, len(grid.stats))
		for i, s := range grid.stats {
			stds[i] = s.stdDev()
		}
	}

	// Pass 2: re-stream tiles and rewrite values in place in the output.
	source := vc
	if cache != nil {
		source = vc.withFetcher(cachedFetcher(cache))
	}

	d := vc.domain
	nt, ny, nx := d.Steps(), d.Height(), d.Width()
	out := sparse.ZerosDense(nt, ny, nx)
	for i := range out.Elements {
		out.Elements[i] = Missing()
	}

	err = source.forEachTile(ctx, tiles, func(res *TileResult) error {
		writeAnomalyChunk(out, ny, nx, res, dim, means, stds, eps)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return NewCube(d.Times(), d.Lats(), d.Lons(), out)
}

// cachedFetcher serves pass-2 fetches from the pass-1 chunks.
func cachedFetcher(cache map[int]*TileResult) TileFetcher {
	return FetcherFunc(func(_ context.Context, tile Tile) (*TileResult, error) {
		if res, ok := cache[tile.Index]; ok {
			return res, nil
		}
		return nil, &FetchError{Tile: tile, Err: errMissingCachedTile}
	})
}

var errMissingCachedTile = &ConfigurationError{Field: "tile cache", Reason: "tile missing from pass-1 cache"}

// writeAnomalyChunk transforms one tile's values against the baseline and
// places them at the tile's known offsets. Keys whose standard deviation
// falls below eps produce the missing-value marker rather than an
// exploding number.
func writeAnomalyChunk(out *sparse.DenseArray, ny, nx int, res *TileResult, dim Dim, means, stds []float64, eps float64) {
	tile := res.Tile
	tny, tnx := tile.Space.NY, tile.Space.NX
	for k := 0; k < tile.Time.Steps; k++ {
		t := tile.Time.StartStep + k
		for j := 0; j < tny; j++ {
			for i := 0; i < tnx; i++ {
				key := (tile.Space.Y0+j)*nx + tile.Space.X0 + i
				if dim == DimSpace {
					key = t
				}

				v := res.Data.Elements[(k*tny+j)*tnx+i]
				dst := (t*ny+tile.Space.Y0+j)*nx + tile.Space.X0 + i

				m := means[key]
				if IsMissing(v) || IsMissing(m) {
					out.Elements[dst] = Missing()
					continue
				}
				if stds == nil {
					out.Elements[dst] = v - m
					continue
				}
				s := stds[key]
				if IsMissing(s) || s < eps {
					out.Elements[dst] = Missing()
					continue
				}
				out.Elements[dst] = (v - m) / s
			}
		}
	}
}
