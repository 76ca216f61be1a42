package filter

import "testing"

func mkAccessor(vals map[Attribute]float64) Accessor {
	return func(attr Attribute) (float64, bool) {
		v, ok := vals[attr]
		return v, ok
	}
}

func TestKeepBelow(t *testing.T) {
	c, err := Parse("-keep_below z 10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.Keep(mkAccessor(map[Attribute]float64{AttrZ: 5})) {
		t.Errorf("z=5 should pass -keep_below z 10")
	}
	if c.Keep(mkAccessor(map[Attribute]float64{AttrZ: 15})) {
		t.Errorf("z=15 should not pass -keep_below z 10")
	}
}

func TestKeepBetween(t *testing.T) {
	c, err := Parse("-keep_between z 0 10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		z    float64
		want bool
	}{
		{-1, false},
		{0, true},
		{5, true},
		{10, true},
		{11, false},
	}
	for _, tc := range cases {
		got := c.Keep(mkAccessor(map[Attribute]float64{AttrZ: tc.z}))
		if got != tc.want {
			t.Errorf("z=%v: got %v, want %v", tc.z, got, tc.want)
		}
	}
}

func TestKeepInOut(t *testing.T) {
	in, err := Parse("-keep_in class 2 6")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := Parse("-keep_out class 2 6")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	acc := mkAccessor(map[Attribute]float64{AttrClass: 2})
	if !in.Keep(acc) {
		t.Errorf("keep_in should retain class 2")
	}
	if out.Keep(acc) {
		t.Errorf("keep_out should reject class 2")
	}
}

func TestKeepLast(t *testing.T) {
	c, err := Parse("-keep_last")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	last := mkAccessor(map[Attribute]float64{AttrReturn: 3, AttrNumberOfReturn: 3})
	notLast := mkAccessor(map[Attribute]float64{AttrReturn: 1, AttrNumberOfReturn: 3})
	if !c.Keep(last) {
		t.Errorf("return 3 of 3 should be kept by -keep_last")
	}
	if c.Keep(notLast) {
		t.Errorf("return 1 of 3 should not be kept by -keep_last")
	}
}

func TestDropDuplicate(t *testing.T) {
	c, err := Parse("-drop_duplicate")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := mkAccessor(map[Attribute]float64{AttrX: 1, AttrY: 2, AttrZ: 3})
	if !c.Keep(p) {
		t.Errorf("first occurrence should be kept")
	}
	if c.Keep(p) {
		t.Errorf("second identical occurrence should be dropped")
	}
	c.Reset()
	if !c.Keep(p) {
		t.Errorf("after Reset, occurrence should be kept again")
	}
}

func TestKeepXY(t *testing.T) {
	c, err := Parse("-keep_xy 0 0 10 10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.Keep(mkAccessor(map[Attribute]float64{AttrX: 5, AttrY: 5})) {
		t.Errorf("(5,5) should be inside the rectangle")
	}
	if c.Keep(mkAccessor(map[Attribute]float64{AttrX: 20, AttrY: 5})) {
		t.Errorf("(20,5) should be outside the rectangle")
	}
}

func TestKeepCircle(t *testing.T) {
	c, err := Parse("-keep_circle 0 0 10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.Keep(mkAccessor(map[Attribute]float64{AttrX: 3, AttrY: 4})) {
		t.Errorf("(3,4) is distance 5 from origin, should be inside radius 10")
	}
	if c.Keep(mkAccessor(map[Attribute]float64{AttrX: 30, AttrY: 0})) {
		t.Errorf("(30,0) should be outside radius 10")
	}
}

func TestChainConjunction(t *testing.T) {
	c, err := Parse("-keep_above z 0 -keep_below z 100")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.Keep(mkAccessor(map[Attribute]float64{AttrZ: 50})) {
		t.Errorf("z=50 should satisfy both clauses")
	}
	if c.Keep(mkAccessor(map[Attribute]float64{AttrZ: -1})) {
		t.Errorf("z=-1 should fail first clause")
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("keep_below z 10"); err == nil {
		t.Errorf("expected error for token missing '-' prefix")
	}
	if _, err := Parse("-bogus_predicate"); err == nil {
		t.Errorf("expected error for unrecognised predicate")
	}
	if _, err := Parse("-keep_below z"); err == nil {
		t.Errorf("expected error for missing threshold operand")
	}
}
