// Package obstacle converts raw range scans and occupancy grids into the
// flat point lists the collision kernel consumes. Extracted points are in
// the robot body frame and live for exactly one control tick.
package obstacle

import (
	"math"

	"github.com/golang/geo/r2"
)

// Occupancy grid cell values.
const (
	CellFree     int8 = 0
	CellOccupied int8 = 100
	CellUnknown  int8 = -1
)

// LaserScan is a 1D radial range snapshot.
type LaserScan struct {
	AngleMin       float64
	AngleIncrement float64
	RangeMin       float64
	RangeMax       float64
	Ranges         []float64
}

// OccupancyGrid is a discretized local map. Origin is the coordinate of cell
// (0, 0) in the frame the grid is expressed in; the extractor treats that as
// the robot body frame, matching the local costmaps it is fed.
type OccupancyGrid struct {
	Width      int
	Height     int
	Resolution float64
	OriginX    float64
	OriginY    float64
	Cells      []int8
}

// At returns the value of cell (x, y), or CellUnknown out of bounds.
func (g *OccupancyGrid) At(x, y int) int8 {
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height {
		return CellUnknown
	}
	return g.Cells[y*g.Width+x]
}

// OccupiedAt reports whether the world point lies in an occupied cell.
func (g *OccupancyGrid) OccupiedAt(pt r2.Point) bool {
	x := int(math.Floor((pt.X - g.OriginX) / g.Resolution))
	y := int(math.Floor((pt.Y - g.OriginY) / g.Resolution))
	return g.At(x, y) == CellOccupied
}

// FromScan subsamples the scan at roughly angleRes angular spacing and
// returns the in-range returns as body-frame points.
func FromScan(scan *LaserScan, angleRes float64) []r2.Point {
	if scan == nil || len(scan.Ranges) == 0 || scan.AngleIncrement <= 0 {
		return nil
	}
	step := int(math.Round(angleRes / scan.AngleIncrement))
	if step < 1 {
		step = 1
	}
	var pts []r2.Point
	for i := 0; i < len(scan.Ranges); i += step {
		r := scan.Ranges[i]
		if r < scan.RangeMin || r > scan.RangeMax {
			continue
		}
		theta := scan.AngleMin + float64(i)*scan.AngleIncrement
		s, c := math.Sincos(theta)
		pts = append(pts, r2.Point{X: r * c, Y: r * s})
	}
	return pts
}

// FromGrid sweeps a virtual scan over (-pi, pi] at angleRes spacing. Each
// bearing marches outward from the body origin in steps of the grid
// resolution until the first occupied cell or the map diagonal, yielding at
// most one obstacle point per bearing.
func FromGrid(grid *OccupancyGrid, angleRes float64) []r2.Point {
	if grid == nil || grid.Resolution <= 0 || angleRes <= 0 {
		return nil
	}
	maxRange := math.Hypot(float64(grid.Width)*grid.Resolution, float64(grid.Height)*grid.Resolution)
	bearings := int(math.Round(2 * math.Pi / angleRes))
	var pts []r2.Point
	for k := 1; k <= bearings; k++ {
		theta := -math.Pi + float64(k)*angleRes
		s, c := math.Sincos(theta)
		for r := grid.Resolution; r <= maxRange; r += grid.Resolution {
			pt := r2.Point{X: r * c, Y: r * s}
			if grid.OccupiedAt(pt) {
				pts = append(pts, pt)
				break
			}
		}
	}
	return pts
}
