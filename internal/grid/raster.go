package grid

import (
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// NoData is the sentinel value used for empty raster cells.
const NoData = float32(-9999)

// Raster is a Grid plus nbands flat float32 bands, a NODATA sentinel, a
// buffer-ring width used for neighborhood operators (e.g. the rasterizer's
// window > res grouping) and a destination file path.
//
// Storage defaults to an in-process slice. SetTileDBBackend switches large
// rasters to a TileDB dense array (go-gsf's tiledb.go schema-building
// idiom, see DESIGN.md) so COPC/rasterize outputs that exceed comfortable
// heap residency can spill to disk or object storage through the same VFS
// the partitioner uses to discover files.
type Raster struct {
	Grid
	NBands int
	NoData float32
	Buffer int
	Path   string

	data []float32

	tdb *tiledbBackend
}

// NewRaster allocates an in-memory Raster over g with nbands bands, all
// cells initialised to NoData.
func NewRaster(g Grid, nbands int) *Raster {
	r := &Raster{Grid: g, NBands: nbands, NoData: NoData}
	r.data = make([]float32, g.NCells*nbands)
	for i := range r.data {
		r.data[i] = r.NoData
	}
	return r
}

// SetChunkBuffer records the ring width (in cells) reserved around the
// processed extent for neighborhood operators.
func (r *Raster) SetChunkBuffer(buffer int) { r.Buffer = buffer }

// index computes the flat data-slice index for (cell, band), 1-based bands
// matching the original API's `layer = 1` default.
func (r *Raster) index(cell, band int) int {
	if band <= 0 {
		band = 1
	}
	return (band-1)*r.NCells + cell
}

// SetValueCell stores value at the given cell/band.
func (r *Raster) SetValueCell(cell int, value float32, band int) {
	if cell < 0 || cell >= r.NCells {
		return
	}
	if r.tdb != nil {
		r.tdb.set(cell, band, value)
		return
	}
	r.data[r.index(cell, band)] = value
}

// SetValue stores value at the cell containing (x,y).
func (r *Raster) SetValue(x, y float64, value float32, band int) {
	r.SetValueCell(r.CellFromXY(x, y), value, band)
}

// GetValueCell returns the value stored at (cell, band), or NoData if cell
// is out of range.
func (r *Raster) GetValueCell(cell, band int) float32 {
	if cell < 0 || cell >= r.NCells {
		return r.NoData
	}
	if r.tdb != nil {
		return r.tdb.get(cell, band)
	}
	return r.data[r.index(cell, band)]
}

// GetValue returns the value stored at the cell containing (x,y).
func (r *Raster) GetValue(x, y float64, band int) float32 {
	return r.GetValueCell(r.CellFromXY(x, y), band)
}

// Data returns the raw band-major backing slice (in-memory backend only).
func (r *Raster) Data() []float32 { return r.data }

// SetNBands reallocates the raster for a new band count, in-memory backend
// only (a TileDB-backed raster's schema is fixed at creation).
func (r *Raster) SetNBands(n int) error {
	if r.tdb != nil {
		return fmt.Errorf("raster: cannot resize band count on a TileDB-backed raster")
	}
	r.NBands = n
	r.data = make([]float32, r.NCells*n)
	for i := range r.data {
		r.data[i] = r.NoData
	}
	return nil
}

// tiledbBackend is a thin wrapper that gives a Raster an optional
// TileDB dense-array persistence layer, grounded on go-gsf's tiledb.go
// schema construction style.
type tiledbBackend struct {
	ctx   *tiledb.Context
	array *tiledb.Array
	ncols int
}

// SetTileDBBackend creates (or opens, if uri already exists) a dense TileDB
// array of shape (nbands, nrows, ncols) backing this raster's cell values,
// and switches reads/writes to go through it.
func (r *Raster) SetTileDBBackend(uri string) error {
	config, err := tiledb.NewConfig()
	if err != nil {
		return fmt.Errorf("raster: tiledb config: %w", err)
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return fmt.Errorf("raster: tiledb context: %w", err)
	}

	dimBand, err := tiledb.NewDimension(ctx, "band", tiledb.TILEDB_INT32, []int32{1, int32(r.NBands)}, int32(1))
	if err != nil {
		return fmt.Errorf("raster: band dimension: %w", err)
	}
	dimRow, err := tiledb.NewDimension(ctx, "row", tiledb.TILEDB_INT32, []int32{0, int32(r.NRows - 1)}, int32(r.NRows))
	if err != nil {
		return fmt.Errorf("raster: row dimension: %w", err)
	}
	dimCol, err := tiledb.NewDimension(ctx, "col", tiledb.TILEDB_INT32, []int32{0, int32(r.NCols - 1)}, int32(r.NCols))
	if err != nil {
		return fmt.Errorf("raster: col dimension: %w", err)
	}

	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return fmt.Errorf("raster: domain: %w", err)
	}
	if err := domain.AddDimensions(dimBand, dimRow, dimCol); err != nil {
		return fmt.Errorf("raster: add dimensions: %w", err)
	}

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return fmt.Errorf("raster: schema: %w", err)
	}
	if err := schema.SetDomain(domain); err != nil {
		return fmt.Errorf("raster: set domain: %w", err)
	}

	attr, err := tiledb.NewAttribute(ctx, "value", tiledb.TILEDB_FLOAT32)
	if err != nil {
		return fmt.Errorf("raster: value attribute: %w", err)
	}
	if err := schema.AddAttributes(attr); err != nil {
		return fmt.Errorf("raster: add attribute: %w", err)
	}

	if err := tiledb.CreateArray(ctx, uri, schema); err != nil {
		return fmt.Errorf("raster: create array: %w", err)
	}

	array, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return fmt.Errorf("raster: open array: %w", err)
	}
	if err := array.Open(tiledb.TILEDB_WRITE); err != nil {
		return fmt.Errorf("raster: open for write: %w", err)
	}

	r.tdb = &tiledbBackend{ctx: ctx, array: array, ncols: r.NCols}
	r.Path = uri
	return nil
}

func (b *tiledbBackend) set(cell, band int, value float32) {
	if band <= 0 {
		band = 1
	}
	row, col := cell/b.ncols, cell%b.ncols
	subarray, err := b.array.NewSubarray()
	if err != nil {
		return
	}
	defer subarray.Free()
	_ = subarray.SetSubArray([]int32{int32(band), int32(band), int32(row), int32(row), int32(col), int32(col)})

	query, err := tiledb.NewQuery(b.ctx, b.array)
	if err != nil {
		return
	}
	defer query.Free()
	_ = query.SetSubarray(subarray)
	_ = query.SetLayout(tiledb.TILEDB_ROW_MAJOR)
	buf := []float32{value}
	_, _ = query.SetDataBuffer("value", buf)
	_ = query.Submit()
}

func (b *tiledbBackend) get(cell, band int) float32 {
	if band <= 0 {
		band = 1
	}
	row, col := cell/b.ncols, cell%b.ncols
	subarray, err := b.array.NewSubarray()
	if err != nil {
		return NoData
	}
	defer subarray.Free()
	_ = subarray.SetSubArray([]int32{int32(band), int32(band), int32(row), int32(row), int32(col), int32(col)})

	query, err := tiledb.NewQuery(b.ctx, b.array)
	if err != nil {
		return NoData
	}
	defer query.Free()
	_ = query.SetSubarray(subarray)
	_ = query.SetLayout(tiledb.TILEDB_ROW_MAJOR)
	buf := make([]float32, 1)
	_, _ = query.SetDataBuffer("value", buf)
	if err := query.Submit(); err != nil {
		return NoData
	}
	return buf[0]
}

// Close releases the TileDB backend, if any.
func (r *Raster) Close() error {
	if r.tdb == nil {
		return nil
	}
	if err := r.tdb.array.Close(); err != nil {
		return err
	}
	r.tdb.array.Free()
	r.tdb.ctx.Free()
	r.tdb = nil
	return nil
}
