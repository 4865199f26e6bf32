// Package mask implements the planar bitmask algebra of spec.md §4.6: a
// single-rectangle ImageMask, its union/overlap operations, and
// UnionMask, an ordered collection of masks that composes their
// answers. There is no teacher analogue for this domain; the bit-level
// packing style (manual shifts, named MSB-first convention, no generic
// bitset type) follows Perkeep's own low-level byte/bit code such as
// pkg/rollsum, which favors explicit shift/mask arithmetic over a
// wrapping abstraction.
package mask

import "github.com/scireader/zarrimaged/internal/upstream"

// Dim names one of the five axes a mask can be restricted on.
type Dim int

const (
	DimX Dim = iota
	DimY
	DimZ
	DimC
	DimT
)

// Reader answers point-membership queries for one fixed (z,c,t) plane.
type Reader interface {
	Test(x, y int) bool
}

// ReaderFunc adapts a function to a Reader.
type ReaderFunc func(x, y int) bool

func (f ReaderFunc) Test(x, y int) bool { return f(x, y) }

// Mask is anything that can answer the three questions UnionMask needs
// to compose: which dimensions it restricts, a reader for one plane (or
// none, if the mask doesn't apply there), and a rough size estimate.
// ImageMask and UnionMask are its two implementations.
type Mask interface {
	Significant(d Dim) bool
	Reader(z, c, t int) (Reader, bool)
	SizeEstimate() int
}

// ImageMask is a single planar packed bitmask over a rectangle.
type ImageMask struct {
	X, Y, W, H int
	Z, C, T    upstream.PlaneRestriction
	bits       []byte // defensive copy, length ceil(W*H/8)
}

// NewImageMask builds an ImageMask from upstream bytes, defensively
// copying them so later upstream mutation can't affect this immutable
// value.
func NewImageMask(x, y, w, h int, z, c, t upstream.PlaneRestriction, bits []byte) ImageMask {
	want := (w*h + 7) / 8
	if len(bits) != want {
		panic("mask: payload length does not match ceil(w*h/8)")
	}
	cp := make([]byte, len(bits))
	copy(cp, bits)
	return ImageMask{X: x, Y: y, W: w, H: h, Z: z, C: c, T: t, bits: cp}
}

func (m ImageMask) Significant(d Dim) bool {
	switch d {
	case DimX, DimY:
		return true
	case DimZ:
		return m.Z.Significant
	case DimC:
		return m.C.Significant
	case DimT:
		return m.T.Significant
	default:
		return false
	}
}

// applies reports whether the mask's plane restrictions all match the
// given plane.
func (m ImageMask) applies(z, c, t int) bool {
	return m.Z.Matches(z) && m.C.Matches(c) && m.T.Matches(t)
}

// Reader returns a predicate testing rectangle containment and bit
// membership, or (nil, false) if the mask doesn't apply to this plane.
func (m ImageMask) Reader(z, c, t int) (Reader, bool) {
	if !m.applies(z, c, t) {
		return nil, false
	}
	return ReaderFunc(func(x, y int) bool {
		if x < m.X || x >= m.X+m.W || y < m.Y || y >= m.Y+m.H {
			return false
		}
		return testBit(m.bits, m.W, x-m.X, y-m.Y)
	}), true
}

func (m ImageMask) SizeEstimate() int { return len(m.bits) }

// testBit reads the bit for local coordinate (lx,ly) within a w-wide
// packed plane: bitIndex = lx + ly*w, MSB-first within each byte.
func testBit(bits []byte, w, lx, ly int) bool {
	idx := lx + ly*w
	b := bits[idx/8]
	shift := uint(7 - idx%8)
	return (b>>shift)&1 == 1
}

func setBit(bits []byte, w, lx, ly int) {
	idx := lx + ly*w
	shift := uint(7 - idx%8)
	bits[idx/8] |= 1 << shift
}

// contains reports whether a fully contains b (same coordinate space).
func contains(ax, ay, aw, ah, bx, by, bw, bh int) bool {
	return bx >= ax && by >= ay && bx+bw <= ax+aw && by+bh <= ay+ah
}

// samePlanes reports whether two masks have identical plane
// restrictions.
func samePlanes(a, b ImageMask) bool {
	return a.Z == b.Z && a.C == b.C && a.T == b.T
}

// Overlap reports whether a and b can ever both be true at the same
// (z,c,t,x,y): false if any plane restriction conflicts, else a
// byte-wise AND scan when the rectangles coincide, else a bit-by-bit
// scan over the rectangle intersection.
func Overlap(a, b ImageMask) bool {
	if !planesCompatible(a, b) {
		return false
	}
	if a.X == b.X && a.Y == b.Y && a.W == b.W && a.H == b.H {
		for i := range a.bits {
			if a.bits[i]&b.bits[i] != 0 {
				return true
			}
		}
		return false
	}
	ix0, iy0, ix1, iy1 := intersect(a, b)
	for y := iy0; y < iy1; y++ {
		for x := ix0; x < ix1; x++ {
			if testBit(a.bits, a.W, x-a.X, y-a.Y) && testBit(b.bits, b.W, x-b.X, y-b.Y) {
				return true
			}
		}
	}
	return false
}

// planesCompatible reports whether a and b could ever apply to the same
// plane (their restrictions don't name two different fixed indices).
func planesCompatible(a, b ImageMask) bool {
	return planeCompatible(a.Z, b.Z) && planeCompatible(a.C, b.C) && planeCompatible(a.T, b.T)
}

func planeCompatible(a, b upstream.PlaneRestriction) bool {
	if !a.Significant || !b.Significant {
		return true
	}
	return a.Index == b.Index
}

func intersect(a, b ImageMask) (x0, y0, x1, y1 int) {
	x0 = max(a.X, b.X)
	y0 = max(a.Y, b.Y)
	x1 = min(a.X+a.W, b.X+b.W)
	y1 = min(a.Y+a.H, b.Y+b.H)
	return
}

// Union attempts to produce a single ImageMask whose reader is true
// exactly where a's or b's reader is true, on their joint plane
// restrictions. It succeeds only when one rectangle contains the other;
// otherwise it returns (ImageMask{}, false) and the caller must keep
// both masks as separate UnionMask members.
func Union(a, b ImageMask) (ImageMask, bool) {
	if !samePlanes(a, b) {
		return ImageMask{}, false
	}
	if contains(a.X, a.Y, a.W, a.H, b.X, b.Y, b.W, b.H) {
		return orInto(a, b), true
	}
	if contains(b.X, b.Y, b.W, b.H, a.X, a.Y, a.W, a.H) {
		return orInto(b, a), true
	}
	return ImageMask{}, false
}

// orInto returns a copy of outer's bits with inner's bits OR-ed in,
// using outer's rectangle as the envelope. Precondition: outer contains
// inner and they share plane restrictions.
func orInto(outer, inner ImageMask) ImageMask {
	bits := make([]byte, len(outer.bits))
	copy(bits, outer.bits)
	if outer.X == inner.X && outer.Y == inner.Y && outer.W == inner.W && outer.H == inner.H {
		for i := range bits {
			bits[i] |= inner.bits[i]
		}
	} else {
		for y := inner.Y; y < inner.Y+inner.H; y++ {
			for x := inner.X; x < inner.X+inner.W; x++ {
				if testBit(inner.bits, inner.W, x-inner.X, y-inner.Y) {
					setBit(bits, outer.W, x-outer.X, y-outer.Y)
				}
			}
		}
	}
	return ImageMask{X: outer.X, Y: outer.Y, W: outer.W, H: outer.H, Z: outer.Z, C: outer.C, T: outer.T, bits: bits}
}
