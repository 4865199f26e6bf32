package buffercache

import (
	"testing"

	"github.com/scireader/zarrimaged/internal/upstream"
)

// fakeBuffer is a minimal upstream.PixelBuffer for cache tests; it
// doesn't serve real tiles.
type fakeBuffer struct {
	levels int
	res    int
	closed bool
}

func (b *fakeBuffer) SizeX() int                     { return 10 }
func (b *fakeBuffer) SizeY() int                     { return 10 }
func (b *fakeBuffer) SizeZ() int                     { return 1 }
func (b *fakeBuffer) SizeC() int                     { return 1 }
func (b *fakeBuffer) SizeT() int                     { return 1 }
func (b *fakeBuffer) ByteWidth() int                  { return 2 }
func (b *fakeBuffer) IsSigned() bool                  { return false }
func (b *fakeBuffer) IsFloat() bool                   { return false }
func (b *fakeBuffer) TileSize() (int, int)            { return 10, 10 }
func (b *fakeBuffer) ResolutionLevels() int            { return b.levels }
func (b *fakeBuffer) SetResolutionLevel(i int) error  { b.res = i; return nil }
func (b *fakeBuffer) ResolutionDescriptions() []upstream.Resolution {
	return make([]upstream.Resolution, b.levels)
}
func (b *fakeBuffer) GetTile(z, c, t, x, y, w, h int) (upstream.Tile, error) {
	return upstream.Tile{Bytes: make([]byte, w*h*2)}, nil
}
func (b *fakeBuffer) Close() error { b.closed = true; return nil }

// fakeUpstream is a MetadataSource+PixelSource pair that opens one fresh
// *fakeBuffer per OpenBuffer call and counts calls, matching the
// synthetic upstream spec.md §8 describes for scenario S5/S6.
type fakeUpstream struct {
	levels      int
	opens       int
	lastOpened  []*fakeBuffer
}

func (u *fakeUpstream) GetPixels(imageID int64) (upstream.Pixels, error) {
	return upstream.Pixels{ID: imageID}, nil
}
func (u *fakeUpstream) GetMask(int64) (upstream.Mask, error)   { return upstream.Mask{}, upstream.ErrNotFound }
func (u *fakeUpstream) GetRoi(int64) (upstream.Roi, error)     { return upstream.Roi{}, upstream.ErrNotFound }
func (u *fakeUpstream) GetMaskIDsOfRoi(int64) ([]int64, error) { return nil, nil }
func (u *fakeUpstream) GetRoiIDsOfImage(int64) ([]int64, error) { return nil, nil }
func (u *fakeUpstream) GetRoiIDsWithMaskOfImage(int64) ([]int64, error) { return nil, nil }

func (u *fakeUpstream) OpenBuffer(p upstream.Pixels) (upstream.PixelBuffer, error) {
	u.opens++
	b := &fakeBuffer{levels: u.levels}
	u.lastOpened = append(u.lastOpened, b)
	return b, nil
}

// TestAcquireReleaseCycleThenOutOfRange is spec.md §8 scenario S5.
func TestAcquireReleaseCycleThenOutOfRange(t *testing.T) {
	up := &fakeUpstream{levels: 3}
	c := New(16, up, up, nil)

	for r := 0; r < 3; r++ {
		buf, err := c.Acquire(1, r)
		if err != nil {
			t.Fatalf("Acquire(1,%d): %v", r, err)
		}
		c.Release(buf)
	}
	if _, err := c.Acquire(1, 3); err != upstream.ErrNotFound {
		t.Fatalf("Acquire(1,3) = %v, want ErrNotFound", err)
	}
	if up.opens != 4 {
		t.Fatalf("opens = %d, want 4 (three valid + one out-of-range attempt)", up.opens)
	}
}

// TestCapacityAndEvictionReuse is spec.md §8 scenario S6 (K=20).
func TestCapacityAndEvictionReuse(t *testing.T) {
	up := &fakeUpstream{levels: 1}
	c := New(20, up, up, nil)

	bufs := make([]upstream.PixelBuffer, 20)
	for i := 0; i < 20; i++ {
		buf, err := c.Acquire(int64(i), 0)
		if err != nil {
			t.Fatalf("Acquire(%d,0): %v", i, err)
		}
		bufs[i] = buf
		c.Release(buf)
	}
	if c.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", c.Len())
	}

	// Re-acquire even-indexed images: moves them to MRU.
	for i := 0; i < 20; i += 2 {
		buf, err := c.Acquire(int64(i), 0)
		if err != nil {
			t.Fatalf("re-acquire(%d,0): %v", i, err)
		}
		if buf != bufs[i] {
			t.Fatalf("re-acquire(%d,0) returned a different buffer instance", i)
		}
		c.Release(buf)
	}

	// Acquire four brand-new images; LRU eviction should claim the
	// least-recently-touched odd-indexed entries (1,3,5,7), not the
	// just-touched even ones.
	for i := 20; i < 24; i++ {
		buf, err := c.Acquire(int64(i), 0)
		if err != nil {
			t.Fatalf("Acquire(%d,0): %v", i, err)
		}
		c.Release(buf)
	}
	if c.Len() != 20 {
		t.Fatalf("Len() after growth = %d, want 20 (capacity)", c.Len())
	}

	for i := 1; i < 8; i += 2 {
		if !bufs[i].(*fakeBuffer).closed {
			t.Errorf("expected odd-indexed buffer %d to have been evicted and closed", i)
		}
	}
	for i := 0; i < 8; i += 2 {
		if bufs[i].(*fakeBuffer).closed {
			t.Errorf("expected even-indexed buffer %d to still be open (recently reused)", i)
		}
		buf, err := c.Acquire(int64(i), 0)
		if err != nil {
			t.Fatalf("re-acquire(%d,0) after growth: %v", i, err)
		}
		if buf != bufs[i] {
			t.Fatalf("re-acquire(%d,0) after growth returned a different buffer instance", i)
		}
		c.Release(buf)
	}
}

// TestEvictionWaitsForOutstandingLease covers spec.md §8 property 5(c)/(d):
// a buffer is never closed while a lease is outstanding, and is closed
// exactly once after the last lease releases.
func TestEvictionWaitsForOutstandingLease(t *testing.T) {
	up := &fakeUpstream{levels: 1}
	c := New(1, up, up, nil)

	buf0, err := c.Acquire(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Hold buf0's lease open across the eviction below.
	buf1, err := c.Acquire(1, 0) // evicts the (0,0) cache entry
	if err != nil {
		t.Fatal(err)
	}
	if buf0.(*fakeBuffer).closed {
		t.Fatal("buffer must not be closed while its lease is outstanding")
	}
	c.Release(buf0)
	if !buf0.(*fakeBuffer).closed {
		t.Fatal("buffer must be closed once its last lease releases after eviction")
	}
	c.Release(buf1)
}
