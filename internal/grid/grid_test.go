package grid

import (
	"testing"

	"github.com/go-lasr/lasr/internal/geom"
)

func TestNewRoundsUpToWholeCells(t *testing.T) {
	g := New(0, 0, 95, 195, 10)
	if g.NCols != 10 || g.NRows != 20 {
		t.Fatalf("unexpected dims: cols=%d rows=%d", g.NCols, g.NRows)
	}
	if g.XMax != 100 || g.YMax != 200 {
		t.Fatalf("expected extent rounded up to whole cells, got xmax=%v ymax=%v", g.XMax, g.YMax)
	}
	if g.NCells != g.NRows*g.NCols {
		t.Fatalf("ncells mismatch: %d vs %d", g.NCells, g.NRows*g.NCols)
	}
}

func TestCellFromXYRowZeroIsNorthernmost(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	cell := g.CellFromXY(5, 95)
	if g.RowFromCell(cell) != 0 {
		t.Fatalf("expected row 0 for northernmost point, got row %d", g.RowFromCell(cell))
	}
	cellSouth := g.CellFromXY(5, 5)
	if g.RowFromCell(cellSouth) != g.NRows-1 {
		t.Fatalf("expected last row for southernmost point, got row %d", g.RowFromCell(cellSouth))
	}
}

func TestCellFromXYOutsideReturnsMinusOne(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	if g.CellFromXY(-1, 50) != -1 {
		t.Fatal("expected -1 for x outside grid")
	}
	if g.CellFromXY(50, 200) != -1 {
		t.Fatal("expected -1 for y outside grid")
	}
}

func TestCellFromRowColRoundTrip(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	for row := 0; row < g.NRows; row++ {
		for col := 0; col < g.NCols; col++ {
			cell := g.CellFromRowCol(row, col)
			if g.RowFromCell(cell) != row || g.ColFromCell(cell) != col {
				t.Fatalf("round trip failed for row=%d col=%d", row, col)
			}
		}
	}
}

func TestGetCellsCoversBbox(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	cells := g.GetCells(geom.Rectangle{XMin: 15, YMin: 15, XMax: 35, YMax: 35})
	if len(cells) == 0 {
		t.Fatal("expected overlapping cells")
	}
	seen := map[int]bool{}
	for _, c := range cells {
		seen[c] = true
	}
	// the bbox spans cols 1-3, rows (from ymax=100) covering the same range
	want := g.CellFromXY(20, 20)
	if !seen[want] {
		t.Fatalf("expected cell %d covering (20,20) in result set %v", want, cells)
	}
}

func TestGetCellsOutsideGridReturnsNil(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	cells := g.GetCells(geom.Rectangle{XMin: 200, YMin: 200, XMax: 300, YMax: 300})
	if cells != nil {
		t.Fatalf("expected nil for disjoint bbox, got %v", cells)
	}
}

func TestGetAdjacentCellsRookVsQueen(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	center := g.CellFromRowCol(5, 5)
	rook := g.GetAdjacentCells(center, Rook)
	if len(rook) != 4 {
		t.Fatalf("expected 4 rook neighbours for interior cell, got %d", len(rook))
	}
	queen := g.GetAdjacentCells(center, Queen)
	if len(queen) != 8 {
		t.Fatalf("expected 8 queen neighbours for interior cell, got %d", len(queen))
	}
}

func TestGetAdjacentCellsCorner(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	corner := g.CellFromRowCol(0, 0)
	rook := g.GetAdjacentCells(corner, Rook)
	if len(rook) != 2 {
		t.Fatalf("expected 2 rook neighbours for corner cell, got %d", len(rook))
	}
}

func TestRasterSetGetValue(t *testing.T) {
	g := New(0, 0, 100, 100, 10)
	r := NewRaster(g, 1)
	for _, v := range r.Data() {
		if v != NoData {
			t.Fatal("expected all cells initialised to NoData")
		}
	}
	r.SetValue(25, 25, 42.5, 1)
	if got := r.GetValue(25, 25, 1); got != 42.5 {
		t.Fatalf("expected 42.5, got %v", got)
	}
}

func TestRasterMultiBandIndexing(t *testing.T) {
	g := New(0, 0, 10, 10, 10)
	r := NewRaster(g, 2)
	r.SetValueCell(0, 1.0, 1)
	r.SetValueCell(0, 2.0, 2)
	if r.GetValueCell(0, 1) != 1.0 {
		t.Fatalf("band 1 mismatch: %v", r.GetValueCell(0, 1))
	}
	if r.GetValueCell(0, 2) != 2.0 {
		t.Fatalf("band 2 mismatch: %v", r.GetValueCell(0, 2))
	}
}

func TestRasterOutOfRangeCellIsNoop(t *testing.T) {
	g := New(0, 0, 10, 10, 10)
	r := NewRaster(g, 1)
	r.SetValueCell(-1, 99, 1)
	r.SetValueCell(9999, 99, 1)
	if got := r.GetValueCell(-1, 1); got != r.NoData {
		t.Fatalf("expected NoData for out-of-range cell, got %v", got)
	}
}

func TestRasterSetNBandsReallocates(t *testing.T) {
	g := New(0, 0, 10, 10, 10)
	r := NewRaster(g, 1)
	if err := r.SetNBands(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Data()) != g.NCells*3 {
		t.Fatalf("expected reallocated data of len %d, got %d", g.NCells*3, len(r.Data()))
	}
}
