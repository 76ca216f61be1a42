// Package grid implements the regular raster definition (Grid) and the
// Raster data carrier, grounded on original_source/src/LASR/Grid.{h,cpp}
// and Raster.{h,cpp}.
package grid

import (
	"math"

	"github.com/go-lasr/lasr/internal/geom"
)

// Contiguity selects rook (4-connected) or queen (8-connected) adjacency.
type Contiguity int

const (
	Rook  Contiguity = 4
	Queen Contiguity = 8
)

// Grid is a regular raster definition over a bounding rectangle. Rows are
// counted from ymax downward (row 0 is the northernmost row), matching the
// original engine's convention.
type Grid struct {
	XMin, YMin, XMax, YMax float64
	XRes, YRes             float64
	NRows, NCols, NCells   int
}

// New builds a Grid with square cells of side res, rounding the extent up
// to a whole number of cells.
func New(xmin, ymin, xmax, ymax, res float64) Grid {
	ncols := int(math.Ceil((xmax - xmin) / res))
	nrows := int(math.Ceil((ymax - ymin) / res))
	if ncols < 1 {
		ncols = 1
	}
	if nrows < 1 {
		nrows = 1
	}
	return Grid{
		XMin: xmin, YMin: ymin,
		XMax: xmin + float64(ncols)*res,
		YMax: ymin + float64(nrows)*res,
		XRes: res, YRes: res,
		NRows: nrows, NCols: ncols, NCells: nrows * ncols,
	}
}

// NewDims builds a Grid with an explicit row/column count over the given
// extent (cells need not be square).
func NewDims(xmin, ymin, xmax, ymax float64, nrows, ncols int) Grid {
	g := Grid{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax, NRows: nrows, NCols: ncols, NCells: nrows * ncols}
	if ncols > 0 {
		g.XRes = (xmax - xmin) / float64(ncols)
	}
	if nrows > 0 {
		g.YRes = (ymax - ymin) / float64(nrows)
	}
	return g
}

// RowFromCell, ColFromCell decompose a flat cell index.
func (g Grid) RowFromCell(cell int) int { return cell / g.NCols }
func (g Grid) ColFromCell(cell int) int { return cell % g.NCols }

// CellFromRowCol composes a flat cell index.
func (g Grid) CellFromRowCol(row, col int) int { return row*g.NCols + col }

// CellFromXY returns the flat cell index containing (x,y), or -1 if
// outside the grid extent.
func (g Grid) CellFromXY(x, y float64) int {
	if x < g.XMin || x > g.XMax || y < g.YMin || y > g.YMax {
		return -1
	}
	col := int((x - g.XMin) / g.XRes)
	row := int((g.YMax - y) / g.YRes)
	if col >= g.NCols {
		col = g.NCols - 1
	}
	if row >= g.NRows {
		row = g.NRows - 1
	}
	if col < 0 {
		col = 0
	}
	if row < 0 {
		row = 0
	}
	return g.CellFromRowCol(row, col)
}

// XFromCol, YFromRow return a cell's centre coordinate along one axis.
func (g Grid) XFromCol(col int) float64 { return g.XMin + (float64(col)+0.5)*g.XRes }
func (g Grid) YFromRow(row int) float64 { return g.YMax - (float64(row)+0.5)*g.YRes }

// XFromCell, YFromCell return a cell's centre coordinate.
func (g Grid) XFromCell(cell int) float64 { return g.XFromCol(g.ColFromCell(cell)) }
func (g Grid) YFromCell(cell int) float64 { return g.YFromRow(g.RowFromCell(cell)) }

// CellCenter returns both coordinates of a cell's centre.
func (g Grid) CellCenter(cell int) (x, y float64) {
	return g.XFromCell(cell), g.YFromCell(cell)
}

// GetCells returns every cell index overlapping the given bbox.
func (g Grid) GetCells(bbox geom.Rectangle) []int {
	if !g.Bbox().Overlaps(bbox) {
		return nil
	}
	topLeft := g.CellFromXY(math.Max(bbox.XMin, g.XMin), math.Min(bbox.YMax, g.YMax))
	bottomRight := g.CellFromXY(math.Min(bbox.XMax, g.XMax), math.Max(bbox.YMin, g.YMin))
	if topLeft == -1 || bottomRight == -1 {
		return nil
	}
	rowStart, colStart := g.RowFromCell(topLeft), g.ColFromCell(topLeft)
	rowEnd, colEnd := g.RowFromCell(bottomRight), g.ColFromCell(bottomRight)

	var cells []int
	for row := rowStart; row <= rowEnd; row++ {
		for col := colStart; col <= colEnd; col++ {
			cells = append(cells, g.CellFromRowCol(row, col))
		}
	}
	return cells
}

// GetAdjacentCells returns the rook- or queen-adjacent neighbours of cell,
// omitting any that fall outside the grid.
func (g Grid) GetAdjacentCells(cell int, n Contiguity) []int {
	row := g.RowFromCell(cell)
	col := g.ColFromCell(cell)

	offsets := [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	if n == Queen {
		offsets = append(offsets, [2]int{-1, -1}, [2]int{-1, 1}, [2]int{1, -1}, [2]int{1, 1})
	}

	var out []int
	for _, o := range offsets {
		r, c := row+o[0], col+o[1]
		if r < 0 || r >= g.NRows || c < 0 || c >= g.NCols {
			continue
		}
		out = append(out, g.CellFromRowCol(r, c))
	}
	return out
}

// Bbox returns the grid's bounding rectangle.
func (g Grid) Bbox() geom.Rectangle {
	return geom.Rectangle{XMin: g.XMin, YMin: g.YMin, XMax: g.XMax, YMax: g.YMax}
}
