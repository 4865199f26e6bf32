package zarrhttp

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/scireader/zarrimaged/internal/buffercache"
	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/upstream"
)

// synthBuffer is the synthetic upstream buffer spec.md §8 describes:
// sizeX = 800<<level, sizeY = 640<<level, Z=1, C=3, T=30, byteWidth=2,
// tileSize=(256,256), resolutionLevels=3, little-endian; getTile(z,c,t,
// x,y,w,h) returns w·h LE 16-bit values where byte 2·(y'·w+x') is x'
// mod 256 and byte 2·(y'·w+x')+1 is y' mod 256.
type synthBuffer struct {
	level int
}

func (b *synthBuffer) SizeX() int          { return 800 << b.level }
func (b *synthBuffer) SizeY() int          { return 640 << b.level }
func (b *synthBuffer) SizeZ() int          { return 1 }
func (b *synthBuffer) SizeC() int          { return 3 }
func (b *synthBuffer) SizeT() int          { return 30 }
func (b *synthBuffer) ByteWidth() int      { return 2 }
func (b *synthBuffer) IsSigned() bool      { return false }
func (b *synthBuffer) IsFloat() bool       { return false }
func (b *synthBuffer) TileSize() (int, int) { return 256, 256 }
func (b *synthBuffer) ResolutionLevels() int { return 3 }
func (b *synthBuffer) SetResolutionLevel(i int) error {
	if i < 0 || i >= 3 {
		return upstream.ErrNotFound
	}
	b.level = i
	return nil
}
func (b *synthBuffer) ResolutionDescriptions() []upstream.Resolution {
	out := make([]upstream.Resolution, 3)
	for i := range out {
		out[i] = upstream.Resolution{X: 800 << i, Y: 640 << i}
	}
	return out
}
func (b *synthBuffer) GetTile(z, c, t, x, y, w, h int) (upstream.Tile, error) {
	buf := make([]byte, w*h*2)
	for yp := 0; yp < h; yp++ {
		for xp := 0; xp < w; xp++ {
			off := 2 * (yp*w + xp)
			buf[off] = byte((x + xp) % 256)
			buf[off+1] = byte((y + yp) % 256)
		}
	}
	return upstream.Tile{Bytes: buf, Endianness: upstream.LittleEndian}, nil
}
func (b *synthBuffer) Close() error { return nil }

// synthUpstream is the MetadataSource+PixelSource pair backing the
// handler tests: one image (id 1) with three RGB channels and an
// owner-less rendering definition matching spec.md §8 scenario S4.
type synthUpstream struct{}

func (u *synthUpstream) GetPixels(imageID int64) (upstream.Pixels, error) {
	if imageID != 1 {
		return upstream.Pixels{}, upstream.ErrNotFound
	}
	return upstream.Pixels{
		ID:   1,
		Name: "test-image",
		Channels: []upstream.Channel{
			{Name: "red"}, {Name: "green"}, {Name: "blue"},
		},
		Renderings: []upstream.RenderingDef{{
			DefaultZ: 0,
			DefaultT: 15,
			Model:    upstream.ModelColor,
			Channels: []upstream.ChannelBinding{
				{Active: true, Coefficient: 1, Family: "linear", Red: 0xFF, Green: 0x00, Blue: 0x00, WindowStart: 0, WindowEnd: 65535, Stats: upstream.ChannelStats{Known: true, Min: 0, Max: 65535}},
				{Active: true, Coefficient: 1, Family: "linear", Red: 0x00, Green: 0xFF, Blue: 0x00, WindowStart: 0, WindowEnd: 65535, Stats: upstream.ChannelStats{Known: true, Min: 0, Max: 65535}},
				{Active: true, Coefficient: 1, Family: "linear", Red: 0x00, Green: 0x00, Blue: 0xFF, WindowStart: 0, WindowEnd: 65535, Stats: upstream.ChannelStats{Known: true, Min: 0, Max: 65535}},
			},
		}},
	}, nil
}
func (u *synthUpstream) GetMask(int64) (upstream.Mask, error)   { return upstream.Mask{}, upstream.ErrNotFound }
func (u *synthUpstream) GetRoi(int64) (upstream.Roi, error)     { return upstream.Roi{}, upstream.ErrNotFound }
func (u *synthUpstream) GetMaskIDsOfRoi(int64) ([]int64, error) { return nil, nil }
func (u *synthUpstream) GetRoiIDsOfImage(int64) ([]int64, error) { return nil, nil }
func (u *synthUpstream) GetRoiIDsWithMaskOfImage(int64) ([]int64, error) { return nil, nil }

func (u *synthUpstream) OpenBuffer(p upstream.Pixels) (upstream.PixelBuffer, error) {
	return &synthBuffer{}, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	up := &synthUpstream{}
	cache := buffercache.New(16, up, up, nil)
	cfg := &config.Config{
		ChunkSizeMin:      1 << 20,
		ChunkAdjust:       []config.AdjustDim{config.AdjustX, config.AdjustY, config.AdjustZ},
		ZlibLevel:         6,
		FolderLayout:      config.LayoutFlattened,
		ImagePathTemplate: "/image/{image}.zarr/",
	}
	h, err := NewHandler(up, up, cache, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func decodeChunk(t *testing.T, body []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read deflated body: %v", err)
	}
	return out
}

// TestZArrayShapeAndChunks is spec.md §8 scenario S1.
func TestZArrayShapeAndChunks(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/image/1.zarr/0/.zarray", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var doc zArrayDoc
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal .zarray: %v", err)
	}
	wantShape := [5]int{30, 3, 1, 2560, 3200}
	if doc.Shape != wantShape {
		t.Fatalf("shape = %v, want %v", doc.Shape, wantShape)
	}
	xTile, yTile := doc.Chunks[4], doc.Chunks[3]
	if xTile*yTile*2 < 1048576 {
		t.Fatalf("chunk byte size %d < 1MiB", xTile*yTile*2)
	}
	if xTile%256 != 0 || yTile%256 != 0 {
		t.Fatalf("chunks (%d,%d) not 256-aligned", xTile, yTile)
	}
	if doc.DType != "<u2" {
		t.Fatalf("dtype = %q, want \"<u2\"", doc.DType)
	}
}

// TestChunkBodyMatchesSyntheticPattern is spec.md §8 scenario S2.
func TestChunkBodyMatchesSyntheticPattern(t *testing.T) {
	h := newTestHandler(t)

	arReq := httptest.NewRequest("GET", "/image/1.zarr/0/.zarray", nil)
	arW := httptest.NewRecorder()
	h.ServeHTTP(arW, arReq)
	var doc zArrayDoc
	if err := json.Unmarshal(arW.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal .zarray: %v", err)
	}
	xTile, yTile := doc.Chunks[4], doc.Chunks[3]

	req := httptest.NewRequest("GET", "/image/1.zarr/0/0.0.0.0.0", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	raw := decodeChunk(t, w.Body.Bytes())
	if len(raw) != xTile*yTile*2 {
		t.Fatalf("len(raw) = %d, want %d", len(raw), xTile*yTile*2)
	}

	for yp := 0; yp < yTile; yp++ {
		for xp := 0; xp < xTile; xp++ {
			off := 2 * (yp*xTile + xp)
			var wantX, wantY byte
			if xp < 3200 && yp < 2560 {
				wantX, wantY = byte(xp%256), byte(yp%256)
			}
			if raw[off] != wantX || raw[off+1] != wantY {
				t.Fatalf("pixel (%d,%d): got (%d,%d), want (%d,%d)", xp, yp, raw[off], raw[off+1], wantX, wantY)
			}
		}
	}
}

// TestZAttrsRenderingMetadata is spec.md §8 scenario S4.
func TestZAttrsRenderingMetadata(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/image/1.zarr/.zattrs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var doc zAttrsDoc
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal .zattrs: %v", err)
	}
	if len(doc.Multiscales) != 1 || len(doc.Multiscales[0].Datasets) != 3 {
		t.Fatalf("datasets = %+v, want 3 entries", doc.Multiscales)
	}
	for i, want := range []string{"0", "1", "2"} {
		if doc.Multiscales[0].Datasets[i].Path != want {
			t.Fatalf("dataset[%d].Path = %q, want %q", i, doc.Multiscales[0].Datasets[i].Path, want)
		}
	}
	if doc.Omero.Rdefs.DefaultZ != 0 || doc.Omero.Rdefs.DefaultT != 15 || doc.Omero.Rdefs.Model != "color" {
		t.Fatalf("rdefs = %+v", doc.Omero.Rdefs)
	}
	wantColors := []string{"FF0000", "00FF00", "0000FF"}
	if len(doc.Omero.Channels) != 3 {
		t.Fatalf("channels = %+v, want 3 entries", doc.Omero.Channels)
	}
	for i, ch := range doc.Omero.Channels {
		if ch.Color != wantColors[i] {
			t.Fatalf("channel[%d].Color = %q, want %q", i, ch.Color, wantColors[i])
		}
		if ch.Window.Min == nil || *ch.Window.Min != 0 || ch.Window.Max == nil || *ch.Window.Max != 65535 {
			t.Fatalf("channel[%d].Window = %+v, want min=0 max=65535", i, ch.Window)
		}
	}
}

// TestUnknownImageIsNotFound covers the 404 taxonomy of spec.md §7.
func TestUnknownImageIsNotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/image/999.zarr/.zattrs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

// TestOutOfRangeChunkIsNotFound covers the out-of-range chunk index
// branch of spec.md §7.
func TestOutOfRangeChunkIsNotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/image/1.zarr/0/999.999.999.999.999", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
