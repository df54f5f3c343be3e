// Package cubestream provides lazy, tile-streamed spatiotemporal cubes.
// An analysis written once, as a pipe of composable verbs over a 3-D cube
// indexed by (time, y, x), runs identically whether the cube fits in
// memory or is far too large to materialize.
//
// A VirtualCube partitions its domain into non-overlapping tiles, fetches
// them on demand through a TileFetcher, and computes exact statistical
// reductions (mean, variance, standardized anomalies) with numerically
// stable running accumulators. The streamed result equals the result of
// the same reduction on a fully materialized cube, within floating-point
// tolerance.
//
// Basic usage:
//
//	domain := cubestream.Domain{
//		Bounds:    cubestream.BBox{West: -105, South: 39, East: -104, North: 40},
//		Start:     start,
//		End:       start.Add(30 * 24 * time.Hour),
//		Step:      24 * time.Hour,
//		PixelSize: 0.01,
//	}
//
//	vc := cubestream.NewVirtualCube(domain, fetcher).
//		WithTimeTile(7 * 24 * time.Hour).
//		WithSpatialTile(32)
//
//	out, err := cubestream.NewPipe(vc).
//		Then(ctx, cubestream.Standardize(cubestream.DimTime)).
//		Then(ctx, cubestream.Mean(cubestream.DimSpace)).
//		Result()
//
// Verbs are configured first and applied later; applying a verb to an eager
// Cube runs the direct computation, applying it to a VirtualCube streams
// tiles through the reducer. Either way the output honors the same shape
// and coordinate contract, so downstream consumers need no special case
// for streamed origin.
package cubestream

import (
	"context"

	"github.com/ctessum/sparse"
)

// Dataset is the capability shared by eager and lazy cubes. A verb applied
// through Apply accepts either implementation, so pipes stay valid no
// matter which stage first returns a VirtualCube.
//
// The two implementations are *Cube (data in memory) and *VirtualCube
// (data behind a TileFetcher).
type Dataset interface {
	// DimNames returns the dimension names in storage order.
	DimNames() []string
}

// TileFetcher supplies concrete data for one tile. Implementations are
// external collaborators (network loaders, file readers); the streaming
// core only requires that the returned chunk covers exactly the tile's
// bounds and that fetching the same tile twice yields the same data.
//
// A fetcher must return an error on failure rather than empty or
// zero-filled data. Retry and backoff policy belongs to the fetcher,
// not to this package.
type TileFetcher interface {
	FetchTile(ctx context.Context, tile Tile) (*TileResult, error)
}

// FetcherFunc adapts an ordinary function to the TileFetcher interface.
type FetcherFunc func(ctx context.Context, tile Tile) (*TileResult, error)

// FetchTile calls f.
func (f FetcherFunc) FetchTile(ctx context.Context, tile Tile) (*TileResult, error) {
	return f(ctx, tile)
}

// TileResult is a concrete array chunk returned by a fetch, paired with the
// tile descriptor it covers. Data is shaped exactly [tile.Time.Steps,
// tile.Space.NY, tile.Space.NX]; missing values are NaN.
type TileResult struct {
	Tile Tile
	Data *sparse.DenseArray
}
