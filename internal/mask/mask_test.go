package mask

import (
	"testing"

	"github.com/scireader/zarrimaged/internal/upstream"
)

// rect builds a fully-set ImageMask covering (x,y,w,h) with the given
// plane restrictions, for tests that don't care about sparse bits.
func rect(x, y, w, h int, z, c, t upstream.PlaneRestriction) ImageMask {
	n := (w*h + 7) / 8
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = 0xFF
	}
	// Trailing pad bits past w*h are left set; reader logic never reads
	// them.
	return NewImageMask(x, y, w, h, z, c, t, bits)
}

// diag builds an ImageMask over (x,y,w,h) with exactly the diagonal
// bits set, useful for testing packing order precisely.
func diag(x, y, w, h int) ImageMask {
	n := (w*h + 7) / 8
	bits := make([]byte, n)
	for i := 0; i < w && i < h; i++ {
		setBit(bits, w, i, i)
	}
	return NewImageMask(x, y, w, h, upstream.All(), upstream.All(), upstream.All(), bits)
}

func TestImageMaskReaderBitPacking(t *testing.T) {
	m := diag(2, 3, 4, 4)
	r, ok := m.Reader(0, 0, 0)
	if !ok {
		t.Fatal("expected reader for all-planes mask")
	}
	for ly := 0; ly < 4; ly++ {
		for lx := 0; lx < 4; lx++ {
			want := lx == ly
			got := r.Test(2+lx, 3+ly)
			if got != want {
				t.Errorf("Test(%d,%d) = %v, want %v", 2+lx, 3+ly, got, want)
			}
		}
	}
	// Outside the rectangle is always false.
	if r.Test(0, 0) || r.Test(100, 100) {
		t.Error("expected out-of-rectangle points to read false")
	}
}

func TestImageMaskPlaneRestriction(t *testing.T) {
	m := rect(0, 0, 2, 2, upstream.At(5), upstream.All(), upstream.All())
	if _, ok := m.Reader(5, 0, 0); !ok {
		t.Error("expected reader at z=5")
	}
	if _, ok := m.Reader(6, 0, 0); ok {
		t.Error("expected no reader at z=6")
	}
}

func TestUnionContainment(t *testing.T) {
	outer := rect(0, 0, 10, 10, upstream.All(), upstream.All(), upstream.All())
	inner := diag(2, 2, 3, 3)
	fused, ok := Union(outer, inner)
	if !ok {
		t.Fatal("expected containment union to succeed")
	}
	r, _ := fused.Reader(0, 0, 0)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if !r.Test(x, y) {
				t.Fatalf("expected fused mask to cover (%d,%d) since outer is fully set", x, y)
			}
		}
	}
}

func TestUnionNoContainment(t *testing.T) {
	a := rect(0, 0, 5, 5, upstream.All(), upstream.All(), upstream.All())
	b := rect(10, 10, 5, 5, upstream.All(), upstream.All(), upstream.All())
	if _, ok := Union(a, b); ok {
		t.Error("expected disjoint non-containing rectangles to fail union")
	}
}

func TestUnionMaskBuildAndReader(t *testing.T) {
	// m1 envelopes m2 but not m3: two members result.
	m1 := rect(0, 0, 20, 20, upstream.All(), upstream.All(), upstream.All())
	m2 := diag(5, 5, 4, 4)
	m3 := rect(100, 100, 5, 5, upstream.All(), upstream.All(), upstream.All())

	um := Build([]ImageMask{m1, m2, m3})
	if len(um.Members()) != 2 {
		t.Fatalf("expected 2 members, got %d", len(um.Members()))
	}

	r1, _ := m1.Reader(0, 0, 0)
	r2, _ := m2.Reader(0, 0, 0)
	r3, _ := m3.Reader(0, 0, 0)
	ur, _ := um.Reader(0, 0, 0)

	for y := 0; y < 110; y++ {
		for x := 0; x < 110; x++ {
			want := r1.Test(x, y) || r2.Test(x, y) || r3.Test(x, y)
			if got := ur.Test(x, y); got != want {
				t.Fatalf("union mismatch at (%d,%d): got %v want %v", x, y, got, want)
			}
		}
	}
}

func TestOverlap(t *testing.T) {
	a := rect(0, 0, 5, 5, upstream.All(), upstream.All(), upstream.All())
	b := rect(3, 3, 5, 5, upstream.All(), upstream.All(), upstream.All())
	if !Overlap(a, b) {
		t.Error("expected overlapping rectangles to overlap")
	}
	c := rect(10, 10, 2, 2, upstream.All(), upstream.All(), upstream.All())
	if Overlap(a, c) {
		t.Error("expected disjoint rectangles not to overlap")
	}
	d := rect(0, 0, 5, 5, upstream.At(1), upstream.All(), upstream.All())
	e := rect(0, 0, 5, 5, upstream.At(2), upstream.All(), upstream.All())
	if Overlap(d, e) {
		t.Error("expected conflicting plane restrictions not to overlap")
	}
}
