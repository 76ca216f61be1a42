// Package filter implements the space-separated attribute-predicate
// language fed opaquely to the point reader, covering the predicates
// recognised by original_source/src/LASRcore/filters.cpp.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Attribute names the filter language's accessor set, matching
// filters.cpp's LASRcriterion attribute_name dispatch.
type Attribute string

const (
	AttrX              Attribute = "x"
	AttrY              Attribute = "y"
	AttrZ              Attribute = "z"
	AttrIntensity      Attribute = "intensity"
	AttrReturn         Attribute = "return"
	AttrNumberOfReturn Attribute = "numberofreturns"
	AttrClass          Attribute = "class"
	AttrPointSourceID  Attribute = "psid"
	AttrGPSTime        Attribute = "gpstime"
	AttrScanAngle      Attribute = "angle"
	AttrUserData       Attribute = "userdata"
)

// Accessor reads a named attribute off a point-like value. Callers (e.g.
// internal/stages' reader) implement this over their concrete Point type
// so this package stays decoupled from internal/point.
type Accessor func(attr Attribute) (float64, bool)

// Predicate is one compiled filter clause. Keep reports whether the point
// should be retained.
type Predicate interface {
	Keep(get Accessor) bool
	String() string
}

// Chain is an ordered set of predicates; a point passes the chain only if
// every predicate keeps it.
type Chain struct {
	predicates []Predicate
	dedup      *dropDuplicate
}

// Keep evaluates every predicate in the chain.
func (c *Chain) Keep(get Accessor) bool {
	for _, p := range c.predicates {
		if !p.Keep(get) {
			return false
		}
	}
	return true
}

// Reset clears any stateful predicate (drop_duplicate's registry),
// matching LAScriterionDropDuplicates::reset(), called between chunks.
func (c *Chain) Reset() {
	if c.dedup != nil {
		c.dedup.reset()
	}
}

func (c *Chain) String() string {
	parts := make([]string, len(c.predicates))
	for i, p := range c.predicates {
		parts[i] = p.String()
	}
	return strings.Join(parts, " ")
}

// Parse compiles a filter expression, a single string of space-separated
// tokens, into a Chain.
func Parse(expr string) (*Chain, error) {
	fields := strings.Fields(expr)
	c := &Chain{}

	i := 0
	next := func() (string, error) {
		if i >= len(fields) {
			return "", fmt.Errorf("filter: unexpected end of expression")
		}
		v := fields[i]
		i++
		return v, nil
	}
	nextFloat := func() (float64, error) {
		s, err := next()
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	nextAttr := func() (Attribute, error) {
		s, err := next()
		if err != nil {
			return "", err
		}
		return Attribute(strings.ToLower(s)), nil
	}

	for i < len(fields) {
		tok, _ := next()
		if !strings.HasPrefix(tok, "-") {
			return nil, fmt.Errorf("filter: expected token starting with '-', got %q", tok)
		}
		name := strings.TrimPrefix(tok, "-")

		switch name {
		case "keep_below":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			v, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: attr, v: v, keep: func(x, t float64) bool { return x < t }})
		case "keep_above":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			v, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: attr, v: v, keep: func(x, t float64) bool { return x > t }})
		case "keep_between":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			lo, err := nextFloat()
			if err != nil {
				return nil, err
			}
			hi, err := nextFloat()
			if err != nil {
				return nil, err
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			c.predicates = append(c.predicates, &betweenPred{attr: attr, lo: lo, hi: hi})
		case "keep_equal":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			v, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: attr, v: v, keep: func(x, t float64) bool { return x == t }})
		case "keep_different":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			v, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: attr, v: v, keep: func(x, t float64) bool { return x != t }})
		case "keep_class":
			var vals []float64
			for i < len(fields) && !strings.HasPrefix(fields[i], "-") {
				v, err := nextFloat()
				if err != nil {
					return nil, err
				}
				vals = append(vals, v)
			}
			c.predicates = append(c.predicates, &setPred{attr: AttrClass, values: vals, wantIn: true})
		case "keep_in":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			var vals []float64
			for i < len(fields) && !strings.HasPrefix(fields[i], "-") {
				v, err := nextFloat()
				if err != nil {
					return nil, err
				}
				vals = append(vals, v)
			}
			c.predicates = append(c.predicates, &setPred{attr: attr, values: vals, wantIn: true})
		case "keep_out":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			var vals []float64
			for i < len(fields) && !strings.HasPrefix(fields[i], "-") {
				v, err := nextFloat()
				if err != nil {
					return nil, err
				}
				vals = append(vals, v)
			}
			c.predicates = append(c.predicates, &setPred{attr: attr, values: vals, wantIn: false})
		case "keep_first":
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: AttrReturn, v: 1, keep: func(x, t float64) bool { return x == t }})
		case "keep_last":
			c.predicates = append(c.predicates, &lastReturnPred{})
		case "keep_single":
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: AttrNumberOfReturn, v: 1, keep: func(x, t float64) bool { return x == t }})
		case "keep_double":
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: AttrNumberOfReturn, v: 2, keep: func(x, t float64) bool { return x == t }})
		case "keep_triple":
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: AttrNumberOfReturn, v: 3, keep: func(x, t float64) bool { return x == t }})
		case "keep_scan_angle":
			lo, err := nextFloat()
			if err != nil {
				return nil, err
			}
			hi, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &betweenPred{attr: AttrScanAngle, lo: lo, hi: hi})
		case "keep_intensity":
			lo, err := nextFloat()
			if err != nil {
				return nil, err
			}
			hi, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &betweenPred{attr: AttrIntensity, lo: lo, hi: hi})
		case "keep_xy":
			xmin, err := nextFloat()
			if err != nil {
				return nil, err
			}
			ymin, err := nextFloat()
			if err != nil {
				return nil, err
			}
			xmax, err := nextFloat()
			if err != nil {
				return nil, err
			}
			ymax, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &xyRectPred{xmin: xmin, ymin: ymin, xmax: xmax, ymax: ymax})
		case "keep_circle":
			cx, err := nextFloat()
			if err != nil {
				return nil, err
			}
			cy, err := nextFloat()
			if err != nil {
				return nil, err
			}
			radius, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &circlePred{cx: cx, cy: cy, r2: radius * radius})
		case "drop_above":
			attr, err := nextAttr()
			if err != nil {
				return nil, err
			}
			v, err := nextFloat()
			if err != nil {
				return nil, err
			}
			c.predicates = append(c.predicates, &thresholdPred{name: name, attr: attr, v: v, keep: func(x, t float64) bool { return x <= t }})
		case "drop_duplicate":
			d := &dropDuplicate{seen: make(map[[3]int64]bool)}
			c.dedup = d
			c.predicates = append(c.predicates, d)
		default:
			return nil, fmt.Errorf("filter: unrecognised predicate %q", name)
		}
	}

	return c, nil
}

type thresholdPred struct {
	name string
	attr Attribute
	v    float64
	keep func(x, threshold float64) bool
}

func (p *thresholdPred) Keep(get Accessor) bool {
	x, ok := get(p.attr)
	if !ok {
		return true
	}
	return p.keep(x, p.v)
}

func (p *thresholdPred) String() string {
	return fmt.Sprintf("-%s %s %g", p.name, p.attr, p.v)
}

type betweenPred struct {
	attr   Attribute
	lo, hi float64
}

func (p *betweenPred) Keep(get Accessor) bool {
	x, ok := get(p.attr)
	if !ok {
		return true
	}
	return x >= p.lo && x <= p.hi
}

func (p *betweenPred) String() string {
	return fmt.Sprintf("-keep_between %s %g %g", p.attr, p.lo, p.hi)
}

type setPred struct {
	attr   Attribute
	values []float64
	wantIn bool
}

func (p *setPred) Keep(get Accessor) bool {
	x, ok := get(p.attr)
	if !ok {
		return true
	}
	for _, v := range p.values {
		if v == x {
			return p.wantIn
		}
	}
	return !p.wantIn
}

func (p *setPred) String() string {
	name := "keep_in"
	if !p.wantIn {
		name = "keep_out"
	}
	return fmt.Sprintf("-%s %s %v", name, p.attr, p.values)
}

type xyRectPred struct {
	xmin, ymin, xmax, ymax float64
}

func (p *xyRectPred) Keep(get Accessor) bool {
	x, okX := get(AttrX)
	y, okY := get(AttrY)
	if !okX || !okY {
		return true
	}
	return x >= p.xmin && x <= p.xmax && y >= p.ymin && y <= p.ymax
}

func (p *xyRectPred) String() string {
	return fmt.Sprintf("-keep_xy %g %g %g %g", p.xmin, p.ymin, p.xmax, p.ymax)
}

type circlePred struct {
	cx, cy, r2 float64
}

func (p *circlePred) Keep(get Accessor) bool {
	x, okX := get(AttrX)
	y, okY := get(AttrY)
	if !okX || !okY {
		return true
	}
	dx, dy := x-p.cx, y-p.cy
	return dx*dx+dy*dy <= p.r2
}

func (p *circlePred) String() string {
	return fmt.Sprintf("-keep_circle %g %g %g", p.cx, p.cy, p.r2)
}

type lastReturnPred struct{}

func (p *lastReturnPred) Keep(get Accessor) bool {
	ret, ok1 := get(AttrReturn)
	n, ok2 := get(AttrNumberOfReturn)
	if !ok1 || !ok2 {
		return true
	}
	return ret == n
}

func (p *lastReturnPred) String() string { return "-keep_last" }

// dropDuplicate implements LAScriterionDropDuplicates: a point is dropped
// if its (x,y,z) triplet, scaled to an integer key, has already been seen
// this chunk.
type dropDuplicate struct {
	seen map[[3]int64]bool
}

func (d *dropDuplicate) Keep(get Accessor) bool {
	x, _ := get(AttrX)
	y, _ := get(AttrY)
	z, _ := get(AttrZ)
	key := [3]int64{int64(x * 1000), int64(y * 1000), int64(z * 1000)}
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func (d *dropDuplicate) String() string { return "-drop_duplicate" }

func (d *dropDuplicate) reset() { d.seen = make(map[[3]int64]bool) }
