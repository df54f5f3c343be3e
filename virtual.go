package cubestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/ctessum/sparse"
)

// DefaultMaxMaterializeBytes is the safety threshold above which Materialize
// refuses to run without an explicit override.
const DefaultMaxMaterializeBytes int64 = 512 << 20

// VirtualCube is an immutable lazy cube: a domain, a tiling configuration,
// and a reference to an external tile fetcher. It never holds tile data
// itself; data moves only when a tile is fetched. Every transformation
// yields a new VirtualCube or an eager Cube, never an in-place mutation.
//
// Configuration uses the usual fluent pattern:
//
//	vc := cubestream.NewVirtualCube(domain, fetcher).
//		WithTimeTile(24 * time.Hour).
//		WithSpatialTile(64).
//		WithWorkers(8)
//
// By default each axis is covered by a single whole-extent tile.
type VirtualCube struct {
	domain     Domain
	fetcher    TileFetcher
	timeTiler  *TimeTiler
	spaceTiler *SpatialTiler
	maxBytes   int64
	force      bool
	workers    int
	logger     *slog.Logger
	metrics    *Metrics
	monitor    *FetchMonitor
}

// NewVirtualCube creates a lazy cube over the given domain and fetcher.
func NewVirtualCube(domain Domain, fetcher TileFetcher) *VirtualCube {
	return &VirtualCube{
		domain:   domain,
		fetcher:  fetcher,
		maxBytes: DefaultMaxMaterializeBytes,
		workers:  runtime.NumCPU(),
	}
}

// WithTimeTile tiles the time axis into tiles of the given width.
func (vc *VirtualCube) WithTimeTile(width time.Duration) *VirtualCube {
	vc.timeTiler = NewTimeTiler(width)
	return vc
}

// WithSpatialTile tiles the spatial grid into squares of the given pixel
// count per side.
func (vc *VirtualCube) WithSpatialTile(pixels int) *VirtualCube {
	vc.spaceTiler = NewSpatialTiler(pixels)
	return vc
}

// WithSpatialTileDegrees tiles the spatial grid into squares of the given
// degree span per side.
func (vc *VirtualCube) WithSpatialTileDegrees(span float64) *VirtualCube {
	vc.spaceTiler = NewSpatialTilerDegrees(span)
	return vc
}

// WithMaxBytes sets the Materialize safety threshold.
func (vc *VirtualCube) WithMaxBytes(maxBytes int64) *VirtualCube {
	if maxBytes > 0 {
		vc.maxBytes = maxBytes
	}
	return vc
}

// WithForce overrides the Materialize safety check.
func (vc *VirtualCube) WithForce(force bool) *VirtualCube {
	vc.force = force
	return vc
}

// WithWorkers bounds the number of tiles fetched concurrently. This is the
// backpressure knob: at most this many fetches are in flight, so memory
// growth from prefetching is bounded. Defaults to runtime.NumCPU().
func (vc *VirtualCube) WithWorkers(workers int) *VirtualCube {
	if workers > 0 {
		vc.workers = workers
	}
	return vc
}

// WithLogger enables structured debug logging. A nil logger is silent.
func (vc *VirtualCube) WithLogger(logger *slog.Logger) *VirtualCube {
	vc.logger = logger
	return vc
}

// WithMetrics wires fetch and materialize counters.
func (vc *VirtualCube) WithMetrics(m *Metrics) *VirtualCube {
	vc.metrics = m
	return vc
}

// WithMonitor observes every successful fetch for throughput reporting.
func (vc *VirtualCube) WithMonitor(m *FetchMonitor) *VirtualCube {
	vc.monitor = m
	return vc
}

// withFetcher clones the cube with a different fetcher, keeping the domain
// and configuration. Used by Map and by the two-pass tile cache.
func (vc *VirtualCube) withFetcher(f TileFetcher) *VirtualCube {
	clone := *vc
	clone.fetcher = f
	return &clone
}

// Domain returns the cube's immutable domain.
func (vc *VirtualCube) Domain() Domain {
	return vc.domain
}

// DimNames returns the dimension names in storage order.
func (vc *VirtualCube) DimNames() []string {
	return []string{"time", "y", "x"}
}

// EstimateBytes returns the exact size of the cube if materialized.
func (vc *VirtualCube) EstimateBytes() int64 {
	return vc.domain.EstimateBytes()
}

// Tiles returns the ordered tile descriptors covering the domain:
// time-major, then row-major over space. It is side-effect-free and never
// fetches data.
func (vc *VirtualCube) Tiles() ([]Tile, error) {
	if err := vc.domain.Validate(); err != nil {
		return nil, err
	}

	timeTiles := []TimeTile{wholeTimeTile(vc.domain)}
	if vc.timeTiler != nil {
		var err error
		if timeTiles, err = vc.timeTiler.Tiles(vc.domain); err != nil {
			return nil, err
		}
	}

	spaceTiles := []SpatialTile{wholeSpatialTile(vc.domain)}
	if vc.spaceTiler != nil {
		var err error
		if spaceTiles, err = vc.spaceTiler.Tiles(vc.domain); err != nil {
			return nil, err
		}
	}

	return crossTiles(timeTiles, spaceTiles), nil
}

// DebugTiles returns the tile boundary list for diagnostics. It is
// guaranteed not to trigger any fetch.
func (vc *VirtualCube) DebugTiles() ([]Tile, error) {
	return vc.Tiles()
}

// Fetch retrieves one tile through the external fetcher and validates that
// the chunk covers exactly the tile's bounds. Safe to call more than once
// for the same tile given a deterministic fetcher.
func (vc *VirtualCube) Fetch(ctx context.Context, tile Tile) (*TileResult, error) {
	res, err := vc.fetcher.FetchTile(ctx, tile)
	if err != nil {
		if vc.metrics != nil {
			vc.metrics.FetchErrors.Inc()
		}
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FetchError{Tile: tile, Err: err}
	}
	if res == nil || res.Data == nil {
		if vc.metrics != nil {
			vc.metrics.FetchErrors.Inc()
		}
		return nil, &FetchError{Tile: tile, Err: errors.New("fetcher returned no data")}
	}
	if !shapeEqual(res.Data.Shape, tile.Shape()) {
		if vc.metrics != nil {
			vc.metrics.FetchErrors.Inc()
		}
		return nil, &FetchError{
			Tile: tile,
			Err:  fmt.Errorf("chunk shape %v does not cover tile shape %v", res.Data.Shape, tile.Shape()),
		}
	}

	if vc.metrics != nil {
		vc.metrics.TilesFetched.Inc()
	}
	if vc.monitor != nil {
		vc.monitor.observe(res)
	}
	if vc.logger != nil {
		vc.logger.Debug("fetched tile",
			slog.Int("tile", tile.Index),
			slog.Int("time_tile", tile.Time.Index),
			slog.Int("space_tile", tile.Space.Index),
			slog.Int("values", tile.NumValues()))
	}
	return res, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Materialize fetches every tile and concatenates the chunks into one eager
// cube whose shape and coordinates match eagerly loading the whole domain.
// If the estimated size exceeds the configured threshold it fails with
// MaterializeTooLargeError unless WithForce(true) was set.
func (vc *VirtualCube) Materialize(ctx context.Context) (*Cube, error) {
	est := vc.EstimateBytes()
	if est > vc.maxBytes && !vc.force {
		return nil, &MaterializeTooLargeError{EstimatedBytes: est, MaxBytes: vc.maxBytes}
	}

	tiles, err := vc.Tiles()
	if err != nil {
		return nil, err
	}

	d := vc.domain
	nt, ny, nx := d.Steps(), d.Height(), d.Width()
	out := sparse.ZerosDense(nt, ny, nx)
	for i := range out.Elements {
		out.Elements[i] = Missing()
	}

	err = vc.forEachTile(ctx, tiles, func(res *TileResult) error {
		placeChunk(out, ny, nx, res)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if vc.metrics != nil {
		vc.metrics.BytesMaterialized.Add(float64(est))
	}
	if vc.logger != nil {
		vc.logger.Debug("materialized cube",
			slog.Int("tiles", len(tiles)),
			slog.Int64("bytes", est))
	}
	return NewCube(d.Times(), d.Lats(), d.Lons(), out)
}

// placeChunk copies a fetched chunk into the full array at the tile's known
// offsets.
func placeChunk(out *sparse.DenseArray, ny, nx int, res *TileResult) {
	tile := res.Tile
	tny, tnx := tile.Space.NY, tile.Space.NX
	for k := 0; k < tile.Time.Steps; k++ {
		t := tile.Time.StartStep + k
		for j := 0; j < tny; j++ {
			src := (k*tny + j) * tnx
			dst := (t*ny+tile.Space.Y0+j)*nx + tile.Space.X0
			copy(out.Elements[dst:dst+tnx], res.Data.Elements[src:src+tnx])
		}
	}
}

// Map returns a new VirtualCube whose tiles are the original tiles with fn
// applied per element. No data moves until the new cube is consumed.
func (vc *VirtualCube) Map(name string, fn func(float64) float64) *VirtualCube {
	inner := vc
	return vc.withFetcher(FetcherFunc(func(ctx context.Context, tile Tile) (*TileResult, error) {
		res, err := inner.Fetch(ctx, tile)
		if err != nil {
			return nil, err
		}
		data := sparse.ZerosDense(res.Data.Shape...)
		for i, v := range res.Data.Elements {
			data.Elements[i] = fn(v)
		}
		if inner.logger != nil {
			inner.logger.Debug("transformed tile", slog.String("op", name), slog.Int("tile", tile.Index))
		}
		return &TileResult{Tile: tile, Data: data}, nil
	}))
}
