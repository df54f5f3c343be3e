package cubestream

import (
	"context"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats/scalar"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// testDomain builds a domain with the given axis lengths: hourly steps and
// one-degree pixels anchored at the epoch.
func testDomain(steps, height, width int) Domain {
	return Domain{
		Bounds: BBox{
			West:  0,
			South: 0,
			East:  float64(width),
			North: float64(height),
		},
		Start:     epoch,
		End:       epoch.Add(time.Duration(steps) * time.Hour),
		Step:      time.Hour,
		PixelSize: 1.0,
	}
}

// gridFetcher synthesizes tile chunks from a value function over global
// sample indices. Deterministic, so fetches are idempotent.
func gridFetcher(f func(t, y, x int) float64) FetcherFunc {
	return func(_ context.Context, tile Tile) (*TileResult, error) {
		data := sparse.ZerosDense(tile.Shape()...)
		steps, ny, nx := tile.Time.Steps, tile.Space.NY, tile.Space.NX
		for k := 0; k < steps; k++ {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					data.Elements[(k*ny+j)*nx+i] = f(tile.Time.StartStep+k, tile.Space.Y0+j, tile.Space.X0+i)
				}
			}
		}
		return &TileResult{Tile: tile, Data: data}, nil
	}
}

// requireCubesEqual fails the test unless both cubes have the same shape
// and elementwise-equal data within the given relative tolerance. NaN is
// equal to NaN.
func requireCubesEqual(t *testing.T, got, want *Cube, relTol float64) {
	t.Helper()

	if !shapeEqual(got.Shape(), want.Shape()) {
		t.Fatalf("expected shape %v, got %v", want.Shape(), got.Shape())
	}
	for i, w := range want.Data.Elements {
		g := got.Data.Elements[i]
		if IsMissing(w) && IsMissing(g) {
			continue
		}
		if !scalar.EqualWithinAbsOrRel(g, w, relTol, relTol) {
			t.Fatalf("element %d: expected %v, got %v", i, w, g)
		}
	}
}

// applyToCube applies a verb and fails unless the result is an eager cube.
func applyToCube(t *testing.T, ctx context.Context, v Verb, ds Dataset) *Cube {
	t.Helper()

	out, err := Apply(ctx, v, ds)
	if err != nil {
		t.Fatalf("apply %s: unexpected error: %v", v.Name(), err)
	}
	c, ok := out.(*Cube)
	if !ok {
		t.Fatalf("apply %s: expected *Cube, got %T", v.Name(), out)
	}
	return c
}
