package shape

import (
	"testing"

	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/upstream"
)

type fakeBuf struct {
	sx, sy, sz, sc, st int
	bw                 int
	tw, th             int
}

func (b fakeBuf) SizeX() int { return b.sx }
func (b fakeBuf) SizeY() int { return b.sy }
func (b fakeBuf) SizeZ() int { return b.sz }
func (b fakeBuf) SizeC() int { return b.sc }
func (b fakeBuf) SizeT() int { return b.st }
func (b fakeBuf) ByteWidth() int { return b.bw }
func (b fakeBuf) IsSigned() bool { return false }
func (b fakeBuf) IsFloat() bool  { return false }
func (b fakeBuf) TileSize() (int, int) { return b.tw, b.th }
func (b fakeBuf) ResolutionLevels() int { return 1 }
func (b fakeBuf) SetResolutionLevel(int) error { return nil }
func (b fakeBuf) ResolutionDescriptions() []upstream.Resolution { return nil }
func (b fakeBuf) GetTile(z, c, t, x, y, w, h int) (upstream.Tile, error) {
	return upstream.Tile{}, nil
}
func (b fakeBuf) Close() error { return nil }

// TestS1Shape mirrors spec.md §8 scenario S1 at service resolution 0
// (upstream level 2): sizeX=800<<2=3200, sizeY=640<<2=2560,
// Z=1,C=3,T=30, byteWidth=2, tileSize=(256,256), target=1MiB.
func TestS1Shape(t *testing.T) {
	buf := fakeBuf{sx: 3200, sy: 2560, sz: 1, sc: 3, st: 30, bw: 2, tw: 256, th: 256}
	s := Of(buf, []config.AdjustDim{config.AdjustX, config.AdjustY, config.AdjustZ}, 1048576)

	if s.Shape() != [5]int{30, 3, 1, 2560, 3200} {
		t.Fatalf("shape = %v", s.Shape())
	}
	if s.ChunkX%256 != 0 || s.ChunkY%256 != 0 {
		t.Fatalf("chunk (%d,%d) not 256-aligned", s.ChunkX, s.ChunkY)
	}
	if s.ChunkX*s.ChunkY*s.ChunkZ*s.ByteWidth < 1048576 {
		t.Fatalf("chunk byte size %d below target", s.ChunkX*s.ChunkY*s.ChunkZ*s.ByteWidth)
	}
	if s.ChunkT != 1 || s.ChunkC != 1 {
		t.Fatalf("chunk T/C = %d/%d, want 1/1", s.ChunkT, s.ChunkC)
	}
}

func TestEnlargeClampsToImageExtent(t *testing.T) {
	buf := fakeBuf{sx: 100, sy: 100, sz: 1, sc: 1, st: 1, bw: 1, tw: 10, th: 10}
	s := Of(buf, []config.AdjustDim{config.AdjustX, config.AdjustY, config.AdjustZ}, 1 << 30)
	if s.ChunkX > s.X || s.ChunkY > s.Y || s.ChunkZ > s.Z {
		t.Fatalf("chunk dims exceed image dims: %+v", s)
	}
}

func TestMonotoneResolutionExample(t *testing.T) {
	hi := fakeBuf{sx: 3200, sy: 2560, sz: 1, sc: 1, st: 1, bw: 2, tw: 256, th: 256}
	lo := fakeBuf{sx: 800, sy: 640, sz: 1, sc: 1, st: 1, bw: 2, tw: 256, th: 256}
	adjust := []config.AdjustDim{config.AdjustX, config.AdjustY, config.AdjustZ}
	a := Of(hi, adjust, 1048576)
	b := Of(lo, adjust, 1048576)
	if !(b.X <= a.X && b.Y <= a.Y && (b.X < a.X || b.Y < a.Y)) {
		t.Fatalf("expected strict decrease in at least one of X,Y: hi=%v lo=%v", a.Shape(), b.Shape())
	}
}
