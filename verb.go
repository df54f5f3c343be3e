package cubestream

import (
	"context"
	"errors"
	"fmt"
)

// VerbKind classifies what a verb does to its input, so dispatch is
// exhaustive and statically checkable rather than probing ad hoc
// attributes on callables.
type VerbKind int

const (
	// KindTransform rewrites values, preserving the input shape.
	KindTransform VerbKind = iota

	// KindReducer collapses one axis into summary statistics.
	KindReducer

	// KindSideEffect observes the dataset and passes it through unchanged.
	KindSideEffect
)

// String returns the kind name.
func (k VerbKind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindReducer:
		return "reducer"
	case KindSideEffect:
		return "side-effect"
	default:
		return fmt.Sprintf("VerbKind(%d)", int(k))
	}
}

// DefaultEpsilon is the standard-deviation floor below which standardized
// outputs become the missing-value marker.
const DefaultEpsilon = 1e-4

type eagerFunc func(ctx context.Context, c *Cube, v Verb) (Dataset, error)
type streamFunc func(ctx context.Context, vc *VirtualCube, v Verb) (Dataset, error)

// Verb is a configured, composable operation: a kind, a target dimension,
// and numeric policy, paired with an eager and (when streamable) a
// streaming implementation. Verbs are configured once with the With*
// options and applied later with Apply; options return modified copies, so
// a Verb never mutates after construction.
//
// For any verb and any tiling, applying it to a VirtualCube equals applying
// it to the materialized cube within floating-point tolerance. Verbs whose
// computation needs context beyond the streamed tiles (see CorrelateWith)
// carry no streaming implementation and fail with
// InsufficientContextError instead of returning a silently partial result.
type Verb struct {
	name       string
	kind       VerbKind
	dim        Dim
	retainDim  bool
	epsilon    float64
	cacheTiles bool
	needs      string

	eager     eagerFunc
	streaming streamFunc
}

// Name returns the verb name.
func (v Verb) Name() string { return v.name }

// Kind returns the verb's kind.
func (v Verb) Kind() VerbKind { return v.kind }

// WithRetainDim keeps the collapsed axis in reducer output at length 1
// instead of dropping it.
func (v Verb) WithRetainDim(retain bool) Verb {
	v.retainDim = retain
	return v
}

// WithEpsilon sets the standard-deviation floor for standardized verbs.
func (v Verb) WithEpsilon(eps float64) Verb {
	if eps > 0 {
		v.epsilon = eps
	}
	return v
}

// WithTileCache keeps pass-1 chunks in memory during a two-pass verb,
// trading memory for halved fetch I/O. Off by default.
func (v Verb) WithTileCache(cache bool) Verb {
	v.cacheTiles = cache
	return v
}

// Mean reduces the given dimension to its per-key mean.
func Mean(dim Dim) Verb {
	return Verb{
		name: "mean",
		kind: KindReducer,
		dim:  dim,
		eager: func(_ context.Context, c *Cube, v Verb) (Dataset, error) {
			return c.reduce(v.dim, v.retainDim, meanOf)
		},
		streaming: func(ctx context.Context, vc *VirtualCube, v Verb) (Dataset, error) {
			grid, err := streamReduce(ctx, vc, v.dim)
			if err != nil {
				return nil, err
			}
			return grid.toCube(vc.domain, v.retainDim, runningStat.meanValue), nil
		},
	}
}

// Variance reduces the given dimension to its per-key sample variance.
func Variance(dim Dim) Verb {
	return Verb{
		name: "variance",
		kind: KindReducer,
		dim:  dim,
		eager: func(_ context.Context, c *Cube, v Verb) (Dataset, error) {
			return c.reduce(v.dim, v.retainDim, varianceOf)
		},
		streaming: func(ctx context.Context, vc *VirtualCube, v Verb) (Dataset, error) {
			grid, err := streamReduce(ctx, vc, v.dim)
			if err != nil {
				return nil, err
			}
			return grid.toCube(vc.domain, v.retainDim, runningStat.variance), nil
		},
	}
}

// StdDev reduces the given dimension to its per-key sample standard
// deviation.
func StdDev(dim Dim) Verb {
	return Verb{
		name: "stddev",
		kind: KindReducer,
		dim:  dim,
		eager: func(_ context.Context, c *Cube, v Verb) (Dataset, error) {
			return c.reduce(v.dim, v.retainDim, stdDevOf)
		},
		streaming: func(ctx context.Context, vc *VirtualCube, v Verb) (Dataset, error) {
			grid, err := streamReduce(ctx, vc, v.dim)
			if err != nil {
				return nil, err
			}
			return grid.toCube(vc.domain, v.retainDim, runningStat.stdDev), nil
		},
	}
}

// Anomaly subtracts the per-key mean along dim from every value. Streaming
// execution takes two passes over the tiles (see WithTileCache).
func Anomaly(dim Dim) Verb {
	return Verb{
		name:    "anomaly",
		kind:    KindTransform,
		dim:     dim,
		epsilon: DefaultEpsilon,
		eager: func(_ context.Context, c *Cube, v Verb) (Dataset, error) {
			return c.anomaly(v.dim, false, v.epsilon)
		},
		streaming: func(ctx context.Context, vc *VirtualCube, v Verb) (Dataset, error) {
			return streamAnomaly(ctx, vc, v.dim, false, v.epsilon, v.cacheTiles)
		},
	}
}

// Standardize rewrites every value as (x - mean) / std along dim. Keys
// whose standard deviation falls below the epsilon become the
// missing-value marker rather than an exploding number.
func Standardize(dim Dim) Verb {
	return Verb{
		name:    "standardize",
		kind:    KindTransform,
		dim:     dim,
		epsilon: DefaultEpsilon,
		eager: func(_ context.Context, c *Cube, v Verb) (Dataset, error) {
			return c.anomaly(v.dim, true, v.epsilon)
		},
		streaming: func(ctx context.Context, vc *VirtualCube, v Verb) (Dataset, error) {
			return streamAnomaly(ctx, vc, v.dim, true, v.epsilon, v.cacheTiles)
		},
	}
}

// Scale multiplies every value by k. On a VirtualCube it stays lazy,
// returning a new VirtualCube that transforms tiles as they are fetched.
func Scale(k float64) Verb {
	return elementwise("scale", func(x float64) float64 { return x * k })
}

// Offset adds k to every value. Lazy on a VirtualCube, like Scale.
func Offset(k float64) Verb {
	return elementwise("offset", func(x float64) float64 { return x + k })
}

func elementwise(name string, fn func(float64) float64) Verb {
	return Verb{
		name: name,
		kind: KindTransform,
		eager: func(_ context.Context, c *Cube, _ Verb) (Dataset, error) {
			return c.mapValues(fn), nil
		},
		streaming: func(_ context.Context, vc *VirtualCube, _ Verb) (Dataset, error) {
			return vc.Map(name, fn), nil
		},
	}
}

// CorrelateWith computes the per-pixel Pearson correlation between the
// cube's time series and an external reference series. Pairing against the
// reference needs the whole time axis at once, which no single tile
// carries, so on a VirtualCube this verb fails with
// InsufficientContextError; materialize first.
func CorrelateWith(series []float64) Verb {
	ref := make([]float64, len(series))
	copy(ref, series)
	return Verb{
		name:  "correlate",
		kind:  KindReducer,
		dim:   DimTime,
		needs: "correlation against an external reference series requires the full cube",
		eager: func(_ context.Context, c *Cube, _ Verb) (Dataset, error) {
			return c.correlate(ref)
		},
	}
}

// Tap invokes fn with the dataset and passes it through unchanged.
func Tap(fn func(Dataset)) Verb {
	return Verb{
		name: "tap",
		kind: KindSideEffect,
		eager: func(_ context.Context, c *Cube, _ Verb) (Dataset, error) {
			fn(c)
			return c, nil
		},
		streaming: func(_ context.Context, vc *VirtualCube, _ Verb) (Dataset, error) {
			fn(vc)
			return vc, nil
		},
	}
}

// Apply runs a configured verb against a dataset, selecting the eager or
// streaming code path by the input's capability. The two paths agree
// within floating-point tolerance for every verb and every tiling.
func Apply(ctx context.Context, v Verb, ds Dataset) (Dataset, error) {
	switch in := ds.(type) {
	case *Cube:
		return v.eager(ctx, in, v)

	case *VirtualCube:
		if v.streaming == nil {
			return nil, &InsufficientContextError{Verb: v.name, Reason: v.needs}
		}
		out, err := v.streaming(ctx, in, v)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && fe.Verb == "" {
				fe.Verb = v.name
			}
			return nil, err
		}
		return out, nil

	default:
		return nil, &ConfigurationError{
			Field:  "dataset",
			Reason: fmt.Sprintf("verb %q cannot run on %T", v.name, ds),
		}
	}
}
