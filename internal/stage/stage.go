// Package stage defines the Stage contract the pipeline engine drives
// and a name-keyed registry stages are instantiated from. go-gsf ships
// no plugin/registry system of its own; this package's shape (capability
// traits, uid-keyed handles) uses google/uuid for uid assignment and
// stagparser for tag-driven attribute binding, read with
// stgpsr.ParseStruct exactly as go-gsf's schema.go reads its
// `tiledb:"..."` tags (both go-gsf dependencies, stagparser otherwise
// unused outside the schema package).
package stage

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/google/uuid"
	stgpsr "github.com/yuin/stagparser"

	"github.com/go-lasr/lasr/internal/errctx"
	"github.com/go-lasr/lasr/internal/filter"
	"github.com/go-lasr/lasr/internal/geom"
	"github.com/go-lasr/lasr/internal/partition"
	"github.com/go-lasr/lasr/internal/point"
)

// BreakSignal is returned by Process* methods to short-circuit the
// remainder of a chunk's stage walk.
type BreakSignal bool

const (
	Continue BreakSignal = false
	Break    BreakSignal = true
)

// Stage is the full capability contract a pipeline stage implements.
// Most stages embed Base and override only the methods relevant to what
// they do; Base supplies sensible no-op defaults.
type Stage interface {
	UID() string
	Name() string
	SetFilter(expr string) error
	SetOutputFile(template string)

	ProcessFileCollection(fc *partition.Partitioner) error
	ProcessHeader(h *point.Header) error
	ProcessPoint(p *point.Point) (BreakSignal, error)
	ProcessPointCloud(pts []point.Point) (BreakSignal, error)
	Write() error
	Clear(lastChunk bool) error
	SetChunk(c partition.Chunk)
	SetCRS(crs point.CRS)
	SetHeader(h point.Header)

	IsStreamable() bool
	IsParallelizable() bool
	IsParallelized() bool
	IsReader() bool
	NeedPoints() bool
	NeedBuffer() float64
	UsesForeignCallback() bool

	Clone() Stage
	Merge(other Stage) error
	UpdateConnection(stages map[string]Stage)
}

// PointSource is implemented by reader stages: the pipeline engine drives
// a streamed chunk by repeatedly calling NextPoint instead of calling
// ProcessPoint on the reader itself. ChunkHeader reports
// the header the reader decoded for the current chunk, which the engine
// then distributes to every stage's ProcessHeader.
type PointSource interface {
	NextPoint() (*point.Point, error)
	ChunkHeader() point.Header
}

// Base implements Stage with the defaults most concrete stages want:
// streamable, non-parallel-sensitive, no buffer requirement, no points
// needed, every process hook a no-op. Concrete stages embed *Base and
// override the handful of methods that matter for what they do.
type Base struct {
	uid          string
	name         string
	FilterExpr   *filter.Chain
	OutputTmpl   string
	Chunk        partition.Chunk
	CRS          point.CRS
	Header       point.Header
	Ctx          *errctx.Context
}

// NewBase constructs a Base with a fresh 12-hex-character uid, matching
// the pipeline parser's "assign uid at parse time" rule when the JSON
// document doesn't supply one explicitly.
func NewBase(name string) Base {
	u := uuid.New()
	return Base{uid: fmt.Sprintf("%x", u[:6]), name: name}
}

func (b *Base) UID() string  { return b.uid }
func (b *Base) Name() string { return b.name }

// SetUID overrides the generated uid with one parsed from the pipeline
// document.
func (b *Base) SetUID(uid string) { b.uid = uid }

func (b *Base) SetFilter(expr string) error {
	if expr == "" {
		return nil
	}
	c, err := filter.Parse(expr)
	if err != nil {
		return fmt.Errorf("stage %s: %w", b.name, err)
	}
	b.FilterExpr = c
	return nil
}

func (b *Base) SetOutputFile(template string) { b.OutputTmpl = template }

// PerChunkOutput reports whether OutputTmpl contains the `*` per-chunk
// marker.
func (b *Base) PerChunkOutput() bool {
	for _, r := range b.OutputTmpl {
		if r == '*' {
			return true
		}
	}
	return false
}

func (b *Base) ProcessFileCollection(*partition.Partitioner) error { return nil }
func (b *Base) ProcessHeader(*point.Header) error                  { return nil }
func (b *Base) ProcessPoint(*point.Point) (BreakSignal, error)     { return Continue, nil }
func (b *Base) ProcessPointCloud([]point.Point) (BreakSignal, error) {
	return Continue, nil
}
func (b *Base) Write() error             { return nil }
func (b *Base) Clear(lastChunk bool) error { return nil }
func (b *Base) SetChunk(c partition.Chunk) { b.Chunk = c }
func (b *Base) SetCRS(crs point.CRS)       { b.CRS = crs }
func (b *Base) SetHeader(h point.Header)   { b.Header = h }

func (b *Base) IsStreamable() bool        { return true }
func (b *Base) IsParallelizable() bool    { return true }
func (b *Base) IsParallelized() bool      { return false }
func (b *Base) IsReader() bool            { return false }
func (b *Base) NeedPoints() bool          { return false }
func (b *Base) NeedBuffer() float64       { return 0 }
func (b *Base) UsesForeignCallback() bool { return false }

// CloneBase copies the uid, filter, output template and metadata into a
// fresh Base for a worker clone), leaving
// per-chunk state (Chunk) to be set again via SetChunk.
func (b *Base) CloneBase() Base {
	clone := Base{uid: b.uid, name: b.name, FilterExpr: b.FilterExpr, OutputTmpl: b.OutputTmpl, CRS: b.CRS, Header: b.Header, Ctx: b.Ctx}
	return clone
}

func (b *Base) UpdateConnection(map[string]Stage) {}

// KeepPoint applies the stage's filter, if any; stages with no filter
// keep every point ... consumed opaquely").
func (b *Base) KeepPoint(p *point.Point) bool {
	if b.FilterExpr == nil {
		return true
	}
	return b.FilterExpr.Keep(pointAccessor(p))
}

func pointAccessor(p *point.Point) filter.Accessor {
	return func(attr filter.Attribute) (float64, bool) {
		switch attr {
		case filter.AttrX:
			return p.X, true
		case filter.AttrY:
			return p.Y, true
		case filter.AttrZ:
			return p.Z, true
		case filter.AttrIntensity:
			return float64(p.Intensity), true
		case filter.AttrReturn:
			return float64(p.ReturnNumber), true
		case filter.AttrNumberOfReturn:
			return float64(p.NumberOfReturns), true
		case filter.AttrClass:
			return float64(p.Classification), true
		case filter.AttrPointSourceID:
			return float64(p.PointSourceID), true
		case filter.AttrGPSTime:
			return p.GPSTime, true
		case filter.AttrScanAngle:
			return float64(p.ScanAngle), true
		case filter.AttrUserData:
			return float64(p.UserData), true
		default:
			return 0, false
		}
	}
}

// Factory instantiates a new, zero-valued Stage for a registered name.
type Factory func() Stage

// Registry maps a pipeline JSON "algoname" to the Stage implementation
// that handles it.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry; callers register every stage
// kind the build supports (internal/stages does this at init time).
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named stage factory. Re-registering a name overwrites
// the previous factory, letting tests substitute fakes.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New instantiates the stage registered under name.
func (r *Registry) New(name string) (Stage, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("stage: unrecognised algoname %q", name)
	}
	return f(), nil
}

// BindAttributes binds a stage's pipeline-JSON attribute map onto its Go
// struct fields via a `stage:"name=...,required"` tag, read the same way
// go-gsf's schema.go/attitude.go read their `tiledb:"..."`/`filters:"..."`
// tags: stgpsr.ParseStruct walks dst's fields and returns, per field, the
// []Definition parsed out of the tag string, and the caller drives the
// rest (there CreateAttr/filter-list construction, here reflection-based
// assignment from the JSON attrs map).
func BindAttributes(dst any, attrs map[string]any) error {
	defs, err := stgpsr.ParseStruct(dst, "stage")
	if err != nil {
		return fmt.Errorf("stage: parsing binding tags: %w", err)
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("stage: BindAttributes requires a pointer to struct, got %T", dst)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldDefs, ok := defs[field.Name]
		if !ok || len(fieldDefs) == 0 {
			continue
		}
		def := fieldDefs[0]

		attrName := def.Name()
		if alias, ok := def.Attribute("name"); ok {
			attrName = alias
		}

		raw, present := attrs[attrName]
		if !present {
			if _, required := def.Attribute("required"); required {
				return fmt.Errorf("stage: missing required attribute %q for field %s", attrName, field.Name)
			}
			continue
		}

		if err := assignField(rv.Field(i), raw); err != nil {
			return fmt.Errorf("stage: field %s: %w", field.Name, err)
		}
	}
	return nil
}

// assignField converts a loosely-typed pipeline JSON attribute value (as
// decoded by encoding/json: float64, string, bool, []any) onto a
// destination struct field, covering the scalar kinds the stage JSON
// attribute grammar actually produces.
func assignField(fv reflect.Value, raw any) error {
	if !fv.CanSet() {
		return fmt.Errorf("unexported or unsettable field")
	}

	switch fv.Kind() {
	case reflect.String:
		s, err := toString(raw)
		if err != nil {
			return err
		}
		fv.SetString(s)
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		fv.SetUint(uint64(f))
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		fv.SetBool(b)
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", raw)
		}
		out := reflect.MakeSlice(fv.Type(), len(items), len(items))
		for i, item := range items {
			if err := assignField(out.Index(i), item); err != nil {
				return err
			}
		}
		fv.Set(out)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("expected string, got %T", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got string %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

// BufferShape is a spatial clipping shape a stage (e.g. a writer)
// restricts its output to, distinct from the chunk's processing buffer.
type BufferShape = geom.Shape
