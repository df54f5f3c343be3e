package cubestream

import (
	"math"
	"time"
)

// TimeTile is a contiguous sub-range of the domain along the time axis.
// The range is half-open, [Start, End). StartStep and Steps locate the tile
// in the domain's sample grid, so a fetched chunk can be reassembled in a
// known position without inspecting its coordinates.
type TimeTile struct {
	// Index is the ordinal position in chronological tile order.
	Index int

	Start time.Time
	End   time.Time

	// StartStep is the offset of the tile's first sample on the time axis.
	StartStep int

	// Steps is the number of samples the tile covers.
	Steps int
}

// SpatialTile is a contiguous pixel box of the domain's spatial grid.
// Tiles are ordered row-major.
type SpatialTile struct {
	// Index is the ordinal position in row-major tile order.
	Index int

	// Y0, X0 are the pixel offsets of the tile's lower-left corner.
	Y0 int
	X0 int

	// NY, NX are the tile's pixel extents.
	NY int
	NX int

	// Bounds is the tile's geographic extent.
	Bounds BBox
}

// Tile is one fetch/compute unit: the cross product of a TimeTile and a
// SpatialTile. When only one axis is tiled the other is represented by a
// single whole-extent tile. Tiles from one tiling partition the domain
// exactly: no overlap, no gaps, boundary tiles may be short.
type Tile struct {
	// Index is the ordinal position in enumeration order: time-major,
	// then row-major over space.
	Index int

	Time  TimeTile
	Space SpatialTile
}

// Shape returns the chunk shape a fetch of this tile must produce.
func (t Tile) Shape() []int {
	return []int{t.Time.Steps, t.Space.NY, t.Space.NX}
}

// NumValues returns the number of samples in the tile.
func (t Tile) NumValues() int {
	return t.Time.Steps * t.Space.NY * t.Space.NX
}

// TimeTiler splits a domain's time extent into chronological tiles of a
// requested width. The final tile may be narrower to respect the domain
// edge; a degenerate (zero-extent) domain yields exactly one tile.
type TimeTiler struct {
	width time.Duration
}

// NewTimeTiler creates a tiler producing tiles of the given duration.
// A non-positive width is a configuration error, reported by Tiles.
func NewTimeTiler(width time.Duration) *TimeTiler {
	return &TimeTiler{width: width}
}

// Tiles returns the ordered, exactly-partitioning tile sequence for d.
func (t *TimeTiler) Tiles(d Domain) ([]TimeTile, error) {
	if t.width <= 0 {
		return nil, &ConfigurationError{Field: "TimeTiler.width", Reason: "tile width must be positive"}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	per := int(t.width / d.Step)
	if per < 1 {
		per = 1
	}

	steps := d.Steps()
	tiles := make([]TimeTile, 0, (steps+per-1)/per)
	for start := 0; start < steps; start += per {
		n := per
		if start+n > steps {
			n = steps - start
		}
		tiles = append(tiles, TimeTile{
			Index:     len(tiles),
			Start:     d.TimeAt(start),
			End:       d.TimeAt(start + n),
			StartStep: start,
			Steps:     n,
		})
	}
	return tiles, nil
}

// SpatialTiler splits a domain's spatial grid into row-major square tiles.
// The size is given either as a pixel count or as a degree span that is
// converted to pixels at the domain's resolution. Boundary tiles may be
// smaller; a degenerate domain yields exactly one tile.
type SpatialTiler struct {
	pixels  int
	degrees float64
}

// NewSpatialTiler creates a tiler producing tiles of the given pixel count
// per side. A non-positive count is a configuration error, reported by
// Tiles.
func NewSpatialTiler(pixels int) *SpatialTiler {
	return &SpatialTiler{pixels: pixels}
}

// NewSpatialTilerDegrees creates a tiler whose tile side is a degree span.
func NewSpatialTilerDegrees(span float64) *SpatialTiler {
	return &SpatialTiler{degrees: span}
}

// Tiles returns the ordered, exactly-partitioning tile sequence for d.
func (s *SpatialTiler) Tiles(d Domain) ([]SpatialTile, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	px := s.pixels
	if s.degrees > 0 {
		px = int(math.Round(s.degrees / d.PixelSize))
		if px < 1 {
			px = 1
		}
	}
	if px <= 0 {
		return nil, &ConfigurationError{Field: "SpatialTiler.size", Reason: "tile size must be positive"}
	}

	height, width := d.Height(), d.Width()
	var tiles []SpatialTile
	for y0 := 0; y0 < height; y0 += px {
		ny := px
		if y0+ny > height {
			ny = height - y0
		}
		for x0 := 0; x0 < width; x0 += px {
			nx := px
			if x0+nx > width {
				nx = width - x0
			}
			tiles = append(tiles, SpatialTile{
				Index: len(tiles),
				Y0:    y0,
				X0:    x0,
				NY:    ny,
				NX:    nx,
				Bounds: BBox{
					West:  d.Bounds.West + float64(x0)*d.PixelSize,
					South: d.Bounds.South + float64(y0)*d.PixelSize,
					East:  d.Bounds.West + float64(x0+nx)*d.PixelSize,
					North: d.Bounds.South + float64(y0+ny)*d.PixelSize,
				},
			})
		}
	}
	return tiles, nil
}

// wholeTimeTile covers the full time extent as a single tile.
func wholeTimeTile(d Domain) TimeTile {
	return TimeTile{Start: d.Start, End: d.End, StartStep: 0, Steps: d.Steps()}
}

// wholeSpatialTile covers the full spatial grid as a single tile.
func wholeSpatialTile(d Domain) SpatialTile {
	return SpatialTile{Y0: 0, X0: 0, NY: d.Height(), NX: d.Width(), Bounds: d.Bounds}
}

// crossTiles enumerates the cross product time-major, then row-major.
func crossTiles(timeTiles []TimeTile, spaceTiles []SpatialTile) []Tile {
	tiles := make([]Tile, 0, len(timeTiles)*len(spaceTiles))
	for _, tt := range timeTiles {
		for _, st := range spaceTiles {
			tiles = append(tiles, Tile{
				Index: len(tiles),
				Time:  tt,
				Space: st,
			})
		}
	}
	return tiles
}
