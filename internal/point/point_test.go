package point

import "testing"

func TestSchemaIndexOf(t *testing.T) {
	s := Schema{Extra: []ExtraAttr{
		{Name: "NDVI", Kind: AttrFloat32},
		{Name: "Amplitude", Kind: AttrUint16, Scale: 0.01},
	}}
	if idx := s.IndexOf("Amplitude"); idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
	if idx := s.IndexOf("Missing"); idx != -1 {
		t.Fatalf("expected -1 for missing attribute, got %d", idx)
	}
}

func TestSchemaIndexOfEmpty(t *testing.T) {
	var s Schema
	if idx := s.IndexOf("anything"); idx != -1 {
		t.Fatalf("expected -1 on empty schema, got %d", idx)
	}
}

func TestCRSIsSet(t *testing.T) {
	var zero CRS
	if zero.IsSet() {
		t.Fatal("zero-value CRS should not be set")
	}
	if !(CRS{EPSG: 4326}).IsSet() {
		t.Fatal("CRS with EPSG should be set")
	}
	if !(CRS{WKT: "GEOGCS[...]"}).IsSet() {
		t.Fatal("CRS with WKT should be set")
	}
}

func TestCRSEqualEPSGPrecedence(t *testing.T) {
	a := CRS{EPSG: 4326, WKT: "A"}
	b := CRS{EPSG: 4326, WKT: "B"}
	if !a.Equal(b) {
		t.Fatal("expected EPSG match to take precedence over differing WKT")
	}
	c := CRS{EPSG: 3857}
	if a.Equal(c) {
		t.Fatal("expected mismatched EPSG codes to be unequal")
	}
}

func TestCRSEqualFallsBackToWKT(t *testing.T) {
	a := CRS{WKT: "same"}
	b := CRS{WKT: "same"}
	if !a.Equal(b) {
		t.Fatal("expected identical WKT strings to be equal when no EPSG present")
	}
	c := CRS{WKT: "different"}
	if a.Equal(c) {
		t.Fatal("expected differing WKT strings to be unequal")
	}
}
