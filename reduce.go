package cubestream

import (
	"context"
	"fmt"
	"math"
)

// runningStat is the mergeable running accumulator behind every streamed
// reduction: sample count, running mean, and sum of squared deviations.
//
// Single samples fold in with Welford's update; disjoint partial states
// combine with the parallel-variance rule:
//
//	n        = nA + nB
//	delta    = meanB - meanA
//	mean     = meanA + delta * nB/n
//	sumSqDev = sumSqDevA + sumSqDevB + delta² * nA*nB/n
//
// The combine step is associative and commutative up to floating-point
// rounding, so tiles may arrive in any order.
type runningStat struct {
	n    float64
	mean float64
	m2   float64
}

// add folds one sample into the state. Missing values are skipped entirely.
func (s *runningStat) add(x float64) {
	if IsMissing(x) {
		return
	}
	s.n++
	delta := x - s.mean
	s.mean += delta / s.n
	s.m2 += delta * (x - s.mean)
}

// merge combines another partial state over a disjoint sample set.
func (s *runningStat) merge(o runningStat) {
	if o.n == 0 {
		return
	}
	if s.n == 0 {
		*s = o
		return
	}
	n := s.n + o.n
	delta := o.mean - s.mean
	s.mean += delta * (o.n / n)
	s.m2 += o.m2 + delta*delta*(s.n*o.n/n)
	s.n = n
}

// meanValue returns the running mean, or missing for an empty state.
func (s runningStat) meanValue() float64 {
	if s.n == 0 {
		return Missing()
	}
	return s.mean
}

// variance returns the sample variance (sumSqDev / (n-1)), the same
// convention as the eager reference path. Fewer than two samples is
// missing, never a division by zero.
func (s runningStat) variance() float64 {
	if s.n < 2 {
		return Missing()
	}
	return s.m2 / (s.n - 1)
}

// stdDev returns the sample standard deviation.
func (s runningStat) stdDev() float64 {
	v := s.variance()
	if IsMissing(v) {
		return v
	}
	return math.Sqrt(v)
}

// statGrid holds one runningStat per surviving key: one per pixel when
// collapsing time, one per time step when collapsing space.
type statGrid struct {
	dim   Dim
	nt    int
	ny    int
	nx    int
	stats []runningStat
}

func newStatGrid(d Domain, dim Dim) (*statGrid, error) {
	g := &statGrid{dim: dim, nt: d.Steps(), ny: d.Height(), nx: d.Width()}
	switch dim {
	case DimTime:
		g.stats = make([]runningStat, g.ny*g.nx)
	case DimSpace:
		g.stats = make([]runningStat, g.nt)
	default:
		return nil, &ConfigurationError{Field: "dim", Reason: fmt.Sprintf("unknown dimension %q", dim)}
	}
	return g, nil
}

// addTile folds one fetched tile into the grid: a tile-local partial state
// per key first (per-sample updates), then a merge into the global state.
// Called from a single goroutine; ordering does not affect the result.
func (g *statGrid) addTile(res *TileResult) {
	tile := res.Tile
	steps, ny, nx := tile.Time.Steps, tile.Space.NY, tile.Space.NX

	switch g.dim {
	case DimTime:
		partial := make([]runningStat, ny*nx)
		for k := 0; k < steps; k++ {
			base := k * ny * nx
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					partial[j*nx+i].add(res.Data.Elements[base+j*nx+i])
				}
			}
		}
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				key := (tile.Space.Y0+j)*g.nx + tile.Space.X0 + i
				g.stats[key].merge(partial[j*nx+i])
			}
		}

	case DimSpace:
		partial := make([]runningStat, steps)
		for k := 0; k < steps; k++ {
			base := k * ny * nx
			for _, v := range res.Data.Elements[base : base+ny*nx] {
				partial[k].add(v)
			}
		}
		for k := 0; k < steps; k++ {
			g.stats[tile.Time.StartStep+k].merge(partial[k])
		}
	}
}

// toCube finalizes the grid into an eager cube with the same shape and
// coordinate contract the eager reduction produces.
func (g *statGrid) toCube(d Domain, retain bool, finalize func(runningStat) float64) *Cube {
	flat := make([]float64, len(g.stats))
	for i, s := range g.stats {
		flat[i] = finalize(s)
	}

	switch g.dim {
	case DimTime:
		out := &Cube{
			names: []string{"y", "x"},
			Lats:  d.Lats(),
			Lons:  d.Lons(),
			Data:  denseFromFlat(flat, g.ny, g.nx),
		}
		if retain {
			out.names = []string{"time", "y", "x"}
			out.Times = d.Times()[:1]
			out.Data = denseFromFlat(flat, 1, g.ny, g.nx)
		}
		return out

	default: // DimSpace
		out := &Cube{
			names: []string{"time"},
			Times: d.Times(),
			Data:  denseFromFlat(flat, g.nt),
		}
		if retain {
			out.names = []string{"time", "y", "x"}
			out.Lats = d.Lats()[:1]
			out.Lons = d.Lons()[:1]
			out.Data = denseFromFlat(flat, g.nt, 1, 1)
		}
		return out
	}
}

// streamReduce runs the generic streaming reduction: enumerate tiles, fetch
// them through the bounded pool, fold each into the keyed accumulator grid.
// Any fetch error aborts the whole reduction.
func streamReduce(ctx context.Context, vc *VirtualCube, dim Dim) (*statGrid, error) {
	grid, err := newStatGrid(vc.domain, dim)
	if err != nil {
		return nil, err
	}
	tiles, err := vc.Tiles()
	if err != nil {
		return nil, err
	}
	err = vc.forEachTile(ctx, tiles, func(res *TileResult) error {
		grid.addTile(res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grid, nil
}
