package cubestream

import (
	"math"
	"time"
)

// BBox is a geographic bounding box in degrees.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// SpanX returns the east-west extent in degrees.
func (b BBox) SpanX() float64 { return b.East - b.West }

// SpanY returns the north-south extent in degrees.
func (b BBox) SpanY() float64 { return b.North - b.South }

// Domain is the space-time extent of a cube together with its sample
// resolution. It is immutable once a VirtualCube is constructed. The time
// range is half-open, [Start, End). Step and PixelSize make the sample grid
// deterministic, so every tile descriptor carries exact index offsets and
// size estimates are exact rather than heuristic.
//
// A degenerate extent (Start equal to End, or a zero-area box) still has
// one sample along the degenerate axis.
type Domain struct {
	Bounds BBox

	Start time.Time
	End   time.Time

	// Step is the temporal resolution, the spacing between samples.
	Step time.Duration

	// PixelSize is the spatial resolution in degrees per pixel, applied to
	// both spatial axes.
	PixelSize float64

	// Variables optionally names the variables the cube carries.
	Variables []string
}

// Validate checks the domain for construction errors.
func (d Domain) Validate() error {
	if d.Step <= 0 {
		return &ConfigurationError{Field: "Domain.Step", Reason: "must be positive"}
	}
	if d.PixelSize <= 0 {
		return &ConfigurationError{Field: "Domain.PixelSize", Reason: "must be positive"}
	}
	if d.End.Before(d.Start) {
		return &ConfigurationError{Field: "Domain.End", Reason: "must not precede Start"}
	}
	if d.Bounds.East < d.Bounds.West {
		return &ConfigurationError{Field: "Domain.Bounds", Reason: "East must not be west of West"}
	}
	if d.Bounds.North < d.Bounds.South {
		return &ConfigurationError{Field: "Domain.Bounds", Reason: "North must not be south of South"}
	}
	return nil
}

// Steps returns the number of samples along the time axis.
func (d Domain) Steps() int {
	if d.Step <= 0 {
		return 1
	}
	n := int(d.End.Sub(d.Start) / d.Step)
	if n < 1 {
		return 1
	}
	return n
}

// Height returns the number of pixels along the y axis.
func (d Domain) Height() int {
	return axisPixels(d.Bounds.SpanY(), d.PixelSize)
}

// Width returns the number of pixels along the x axis.
func (d Domain) Width() int {
	return axisPixels(d.Bounds.SpanX(), d.PixelSize)
}

func axisPixels(span, pixel float64) int {
	if pixel <= 0 {
		return 1
	}
	n := int(math.Round(span / pixel))
	if n < 1 {
		return 1
	}
	return n
}

// NumValues returns the total number of samples in the domain.
func (d Domain) NumValues() int {
	return d.Steps() * d.Height() * d.Width()
}

// EstimateBytes returns the in-memory size of the fully materialized cube,
// at eight bytes per sample.
func (d Domain) EstimateBytes() int64 {
	return int64(d.NumValues()) * 8
}

// TimeAt returns the timestamp of the given time step.
func (d Domain) TimeAt(step int) time.Time {
	return d.Start.Add(time.Duration(step) * d.Step)
}

// LatAt returns the cell-center latitude of the given row.
func (d Domain) LatAt(row int) float64 {
	return d.Bounds.South + (float64(row)+0.5)*d.PixelSize
}

// LonAt returns the cell-center longitude of the given column.
func (d Domain) LonAt(col int) float64 {
	return d.Bounds.West + (float64(col)+0.5)*d.PixelSize
}

// Times returns the full time coordinate vector.
func (d Domain) Times() []time.Time {
	out := make([]time.Time, d.Steps())
	for i := range out {
		out[i] = d.TimeAt(i)
	}
	return out
}

// Lats returns the full latitude coordinate vector.
func (d Domain) Lats() []float64 {
	out := make([]float64, d.Height())
	for i := range out {
		out[i] = d.LatAt(i)
	}
	return out
}

// Lons returns the full longitude coordinate vector.
func (d Domain) Lons() []float64 {
	out := make([]float64, d.Width())
	for i := range out {
		out[i] = d.LonAt(i)
	}
	return out
}
