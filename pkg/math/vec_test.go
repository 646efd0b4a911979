package math

import (
	"math"
	"testing"
)

func TestVec3Add(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{4, 5, 6}
	got := a.Add(b)
	want := Vec3{5, 7, 9}
	if got != want {
		t.Errorf("Vec3.Add() = %v, want %v", got, want)
	}
}

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Normalize(t *testing.T) {
	v := Vec3{3, 4, 0}
	l := v.Normalize().Length()
	if math.Abs(l-1) > 1e-12 {
		t.Errorf("Vec3.Normalize().Length() = %v, want 1", l)
	}
	if (Vec3{}).Normalize() != (Vec3{}) {
		t.Error("zero vector should normalize to zero")
	}
}

func TestVec3Midpoint(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{2, -4, 1}
	got := a.Midpoint(b)
	want := Vec3{1, -2, 0.5}
	if got != want {
		t.Errorf("Vec3.Midpoint() = %v, want %v", got, want)
	}
	if a.Lerp(b, 0.5) != want {
		t.Errorf("Vec3.Lerp(0.5) = %v, want %v", a.Lerp(b, 0.5), want)
	}
}

func TestVec3IsFinite(t *testing.T) {
	if !(Vec3{1, 2, 3}).IsFinite() {
		t.Error("expected finite vector")
	}
	if (Vec3{math.NaN(), 0, 0}).IsFinite() {
		t.Error("NaN component should not be finite")
	}
	if (Vec3{0, math.Inf(-1), 0}).IsFinite() {
		t.Error("Inf component should not be finite")
	}
}

func TestTriangleArea(t *testing.T) {
	got := TriangleArea(Vec3{0, 0, 0}, Vec3{2, 0, 0}, Vec3{0, 2, 0})
	if got != 2 {
		t.Errorf("TriangleArea() = %v, want 2", got)
	}
}

func TestBounds(t *testing.T) {
	b := EmptyBounds()
	if !b.IsEmpty() {
		t.Fatal("expected empty bounds")
	}
	if b.Size() != (Vec3{}) {
		t.Errorf("empty bounds size = %v, want zero", b.Size())
	}

	b.Extend(Vec3{-1, 0, 2})
	b.Extend(Vec3{1, 4, -2})

	if b.Min != (Vec3{-1, 0, -2}) {
		t.Errorf("Min = %v", b.Min)
	}
	if b.Max != (Vec3{1, 4, 2}) {
		t.Errorf("Max = %v", b.Max)
	}
	if b.Center() != (Vec3{0, 2, 0}) {
		t.Errorf("Center = %v", b.Center())
	}
	if b.Size() != (Vec3{2, 4, 4}) {
		t.Errorf("Size = %v", b.Size())
	}
}
