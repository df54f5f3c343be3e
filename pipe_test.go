package cubestream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPipeComposesVerbs(t *testing.T) {
	ctx := context.Background()
	d := testDomain(24, 4, 4)
	value := func(ts, y, x int) float64 { return float64(ts) + float64(y*4+x)*0.25 }

	vc := NewVirtualCube(d, gridFetcher(value)).
		WithTimeTile(8 * time.Hour).
		WithSpatialTile(2)

	// pipe(x) | scale | mean is apply(mean, apply(scale, x)).
	piped, err := NewPipe(vc).
		Then(ctx, Scale(2)).
		Then(ctx, Mean(DimTime)).
		Cube()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eagerInput, err := vc.Materialize(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := applyToCube(t, ctx, Mean(DimTime), applyToCube(t, ctx, Scale(2), eagerInput))

	requireCubesEqual(t, piped, want, 1e-9)
}

func TestPipeStagesAcceptEitherCapability(t *testing.T) {
	ctx := context.Background()
	d := testDomain(12, 4, 4)
	vc := NewVirtualCube(d, gridFetcher(func(ts, y, x int) float64 {
		return float64(ts*y) - float64(x)
	})).WithSpatialTile(2)

	// The first stage stays virtual, the second reduces to an eager cube,
	// the third transforms the eager cube. One chain, mixed capabilities.
	out, err := NewPipe(vc).
		Then(ctx, Offset(10)).
		Then(ctx, Mean(DimTime).WithRetainDim(true)).
		Then(ctx, Scale(0.5)).
		Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := out.(*Cube)
	if !ok {
		t.Fatalf("expected eager result, got %T", out)
	}
	if !shapeEqual(c.Shape(), []int{1, 4, 4}) {
		t.Errorf("expected shape [1 4 4], got %v", c.Shape())
	}
}

func TestPipeShortCircuitsOnError(t *testing.T) {
	ctx := context.Background()
	d := testDomain(10, 2, 2)
	vc := NewVirtualCube(d, gridFetcher(func(_, _, _ int) float64 { return 1 }))

	applied := 0
	p := NewPipe(vc).
		Then(ctx, CorrelateWith(make([]float64, 10))). // fails on a VirtualCube
		Then(ctx, Tap(func(Dataset) { applied++ }))

	_, err := p.Result()
	var ice *InsufficientContextError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientContextError, got %v", err)
	}
	if applied != 0 {
		t.Errorf("expected later stages to be skipped after an error, ran %d", applied)
	}
}

func TestPipeCubeRejectsVirtualResult(t *testing.T) {
	d := testDomain(10, 2, 2)
	vc := NewVirtualCube(d, gridFetcher(func(_, _, _ int) float64 { return 1 }))

	_, err := NewPipe(vc).Cube()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for a still-virtual result, got %v", err)
	}
}
