package cubestream

import (
	"fmt"
	"math"
	"time"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat"
)

// Dim names an axis a verb collapses or transforms along.
type Dim string

// Reducible dimensions. Collapsing DimTime keys the result by pixel;
// collapsing DimSpace keys the result by time step.
const (
	DimTime  Dim = "time"
	DimSpace Dim = "space"
)

// IsMissing reports whether a value is the missing-value marker (NaN).
// Missing values are skipped entirely by every reduction: they affect
// neither the count, the mean, nor the sum of squared deviations.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Missing returns the missing-value marker.
func Missing() float64 {
	return math.NaN()
}

// Cube is an eager, fully materialized spatiotemporal array. Data is a
// dense array whose shape matches the coordinate vectors in storage order:
// time, then y, then x. Axes collapsed by a reduction without the
// retain-dimension flag are dropped from both the shape and the dimension
// names, so a time-collapsed cube is 2-D over (y, x).
type Cube struct {
	names []string

	// Times, Lats, Lons are the coordinate vectors of the surviving axes.
	// A dropped axis has a nil coordinate vector.
	Times []time.Time
	Lats  []float64
	Lons  []float64

	Data *sparse.DenseArray
}

// NewCube creates an eager cube over the given coordinates. The data shape
// must match the coordinate lengths exactly.
func NewCube(times []time.Time, lats, lons []float64, data *sparse.DenseArray) (*Cube, error) {
	want := []int{len(times), len(lats), len(lons)}
	if len(data.Shape) != 3 || data.Shape[0] != want[0] || data.Shape[1] != want[1] || data.Shape[2] != want[2] {
		return nil, &ConfigurationError{
			Field:  "Cube.Data",
			Reason: fmt.Sprintf("shape %v does not match coordinates %v", data.Shape, want),
		}
	}
	return &Cube{
		names: []string{"time", "y", "x"},
		Times: times,
		Lats:  lats,
		Lons:  lons,
		Data:  data,
	}, nil
}

// DimNames returns the dimension names in storage order.
func (c *Cube) DimNames() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Shape returns the data shape.
func (c *Cube) Shape() []int {
	out := make([]int, len(c.Data.Shape))
	copy(out, c.Data.Shape)
	return out
}

// At returns the value at (time, y, x). Only valid for 3-D cubes.
func (c *Cube) At(t, y, x int) float64 {
	return c.Data.Get(t, y, x)
}

// is3D reports whether the cube still carries all three axes.
func (c *Cube) is3D() bool {
	return len(c.Data.Shape) == 3 && len(c.Times) > 0 && len(c.Lats) > 0 && len(c.Lons) > 0
}

func (c *Cube) require3D(op string) error {
	if !c.is3D() {
		return &ConfigurationError{
			Field:  op,
			Reason: fmt.Sprintf("needs a (time, y, x) cube, have dimensions %v", c.names),
		}
	}
	return nil
}

// mapValues applies fn to every element, returning a new cube of the same
// shape. NaN inputs pass through fn unchanged by the usual float semantics.
func (c *Cube) mapValues(fn func(float64) float64) *Cube {
	out := sparse.ZerosDense(c.Data.Shape...)
	for i, v := range c.Data.Elements {
		out.Elements[i] = fn(v)
	}
	clone := *c
	clone.Data = out
	return &clone
}

// reduce collapses dim, computing finalize over the valid samples at each
// surviving key. With retain the collapsed axis is kept at length 1.
// Keys with no valid samples get the missing-value marker.
//
// This is the trusted-reference computation the streamed path must match.
func (c *Cube) reduce(dim Dim, retain bool, finalize func(valid []float64) float64) (*Cube, error) {
	if err := c.require3D("reduce"); err != nil {
		return nil, err
	}
	nt, ny, nx := c.Data.Shape[0], c.Data.Shape[1], c.Data.Shape[2]

	switch dim {
	case DimTime:
		vals := make([]float64, 0, nt)
		flat := make([]float64, ny*nx)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vals = vals[:0]
				for t := 0; t < nt; t++ {
					if v := c.Data.Elements[(t*ny+y)*nx+x]; !IsMissing(v) {
						vals = append(vals, v)
					}
				}
				flat[y*nx+x] = finalize(vals)
			}
		}
		out := &Cube{
			names: []string{"y", "x"},
			Lats:  c.Lats,
			Lons:  c.Lons,
			Data:  denseFromFlat(flat, ny, nx),
		}
		if retain {
			out.names = []string{"time", "y", "x"}
			out.Times = c.Times[:1]
			out.Data = denseFromFlat(flat, 1, ny, nx)
		}
		return out, nil

	case DimSpace:
		flat := make([]float64, nt)
		vals := make([]float64, 0, ny*nx)
		for t := 0; t < nt; t++ {
			vals = vals[:0]
			for _, v := range c.Data.Elements[t*ny*nx : (t+1)*ny*nx] {
				if !IsMissing(v) {
					vals = append(vals, v)
				}
			}
			flat[t] = finalize(vals)
		}
		out := &Cube{
			names: []string{"time"},
			Times: c.Times,
			Data:  denseFromFlat(flat, nt),
		}
		if retain {
			out.names = []string{"time", "y", "x"}
			out.Lats = c.Lats[:1]
			out.Lons = c.Lons[:1]
			out.Data = denseFromFlat(flat, nt, 1, 1)
		}
		return out, nil

	default:
		return nil, &ConfigurationError{Field: "dim", Reason: fmt.Sprintf("unknown dimension %q", dim)}
	}
}

// denseFromFlat wraps flat values in a DenseArray of the given shape.
func denseFromFlat(flat []float64, shape ...int) *sparse.DenseArray {
	out := sparse.ZerosDense(shape...)
	copy(out.Elements, flat)
	return out
}

// meanOf is the reference mean over valid samples.
func meanOf(valid []float64) float64 {
	if len(valid) == 0 {
		return Missing()
	}
	return stat.Mean(valid, nil)
}

// varianceOf is the reference variance over valid samples: unbiased sample
// variance, matching stat.MeanVariance. Fewer than two samples is missing.
func varianceOf(valid []float64) float64 {
	if len(valid) < 2 {
		return Missing()
	}
	_, variance := stat.MeanVariance(valid, nil)
	return variance
}

// stdDevOf is the reference standard deviation over valid samples.
func stdDevOf(valid []float64) float64 {
	v := varianceOf(valid)
	if IsMissing(v) {
		return v
	}
	return math.Sqrt(v)
}

// anomaly subtracts the per-key mean along dim from every value, optionally
// dividing by the per-key standard deviation. Keys whose deviation falls
// below eps produce the missing-value marker instead of exploding.
func (c *Cube) anomaly(dim Dim, standardize bool, eps float64) (*Cube, error) {
	if err := c.require3D("anomaly"); err != nil {
		return nil, err
	}
	means, err := c.reduce(dim, false, meanOf)
	if err != nil {
		return nil, err
	}
	var stds *Cube
	if standardize {
		if stds, err = c.reduce(dim, false, stdDevOf); err != nil {
			return nil, err
		}
	}

	nt, ny, nx := c.Data.Shape[0], c.Data.Shape[1], c.Data.Shape[2]
	out := sparse.ZerosDense(nt, ny, nx)
	for t := 0; t < nt; t++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := (t*ny+y)*nx + x
				key := y*nx + x
				if dim == DimSpace {
					key = t
				}
				m := means.Data.Elements[key]
				v := c.Data.Elements[i]
				if IsMissing(v) || IsMissing(m) {
					out.Elements[i] = Missing()
					continue
				}
				if !standardize {
					out.Elements[i] = v - m
					continue
				}
				s := stds.Data.Elements[key]
				if IsMissing(s) || s < eps {
					out.Elements[i] = Missing()
					continue
				}
				out.Elements[i] = (v - m) / s
			}
		}
	}
	clone := *c
	clone.Data = out
	return &clone, nil
}

// correlate computes the per-pixel Pearson correlation between the cube's
// time series and an external reference series of the same length. Sample
// pairs with a missing value on either side are skipped; pixels with fewer
// than two valid pairs are missing.
func (c *Cube) correlate(series []float64) (*Cube, error) {
	if err := c.require3D("correlate"); err != nil {
		return nil, err
	}
	nt, ny, nx := c.Data.Shape[0], c.Data.Shape[1], c.Data.Shape[2]
	if len(series) != nt {
		return nil, &ConfigurationError{
			Field:  "series",
			Reason: fmt.Sprintf("length %d does not match time axis length %d", len(series), nt),
		}
	}

	flat := make([]float64, ny*nx)
	xs := make([]float64, 0, nt)
	rs := make([]float64, 0, nt)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			xs, rs = xs[:0], rs[:0]
			for t := 0; t < nt; t++ {
				v := c.Data.Elements[(t*ny+y)*nx+x]
				if IsMissing(v) || IsMissing(series[t]) {
					continue
				}
				xs = append(xs, v)
				rs = append(rs, series[t])
			}
			if len(xs) < 2 {
				flat[y*nx+x] = Missing()
				continue
			}
			flat[y*nx+x] = stat.Correlation(xs, rs, nil)
		}
	}
	return &Cube{
		names: []string{"y", "x"},
		Lats:  c.Lats,
		Lons:  c.Lons,
		Data:  denseFromFlat(flat, ny, nx),
	}, nil
}
