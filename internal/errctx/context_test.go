package errctx

import (
	"errors"
	"testing"
)

func TestFailRecordsFirstErrorOnly(t *testing.T) {
	c := New()
	c.Fail("rasterize", errors.New("first failure"))
	c.Fail("write_las", errors.New("second failure"))

	err, stage := c.LastError()
	if stage != "rasterize" {
		t.Fatalf("expected first stage name retained, got %q", stage)
	}
	if err.Error() != "first failure" {
		t.Fatalf("expected first error retained, got %q", err.Error())
	}
	if !c.Cancelled() {
		t.Fatal("expected Fail to set the cancellation flag")
	}
}

func TestFailWithNilErrorIsNoop(t *testing.T) {
	c := New()
	c.Fail("rasterize", nil)
	if c.Cancelled() {
		t.Fatal("Fail(nil) should not cancel")
	}
	if err, _ := c.LastError(); err != nil {
		t.Fatalf("expected no recorded error, got %v", err)
	}
}

func TestCancelWithoutError(t *testing.T) {
	c := New()
	c.Cancel()
	if !c.Cancelled() {
		t.Fatal("expected cancelled after explicit Cancel")
	}
	if err, _ := c.LastError(); err != nil {
		t.Fatalf("expected no error recorded for a deliberate stop, got %v", err)
	}
	if c.Err() != nil {
		t.Fatal("expected Err() to be nil when cancellation carried no error")
	}
}

func TestErrWrapsStageName(t *testing.T) {
	c := New()
	c.Fail("triangulate", errors.New("boom"))
	err := c.Err()
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StageError, got %T", err)
	}
	if se.Stage != "triangulate" {
		t.Fatalf("unexpected stage: %q", se.Stage)
	}
	if se.Error() != "triangulate: boom" {
		t.Fatalf("unexpected message: %q", se.Error())
	}
}

func TestStageErrorWithFile(t *testing.T) {
	se := &StageError{Stage: "reader_las", File: "tile.laz", Err: errors.New("short read")}
	if se.Error() != "reader_las: tile.laz: short read" {
		t.Fatalf("unexpected message: %q", se.Error())
	}
	if errors.Unwrap(se).Error() != "short read" {
		t.Fatalf("unexpected unwrapped error: %v", errors.Unwrap(se))
	}
}
