// Package shape computes per-resolution 5-D array geometry and chunk
// extents from an upstream pixel buffer's native tile size, following
// the deterministic enlargement procedure in spec.md §3/§4.1. There is
// no teacher analogue for this; it's built fresh, transient-value style
// (plain struct, pure functions, no internal state), matching the
// idiom of Perkeep's pkg/types value types.
package shape

import (
	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/upstream"
)

// DataShape is the full-extent geometry and chunk extent for one
// (imageId, resolution) pair. It's a transient value, recomputed per
// request.
type DataShape struct {
	T, C, Z, Y, X int
	ByteWidth     int

	ChunkT, ChunkC, ChunkZ, ChunkY, ChunkX int
}

// Of derives the DataShape for buf at its currently-set resolution
// level, applying the chunk enlargement procedure configured by adjust
// and targetBytes.
func Of(buf upstream.PixelBuffer, adjust []config.AdjustDim, targetBytes int) DataShape {
	tw, th := buf.TileSize()
	return OfExtent(buf.SizeT(), buf.SizeC(), buf.SizeZ(), buf.SizeY(), buf.SizeX(), tw, th, buf.ByteWidth(), adjust, targetBytes)
}

// OfExtent derives a DataShape from an explicit full extent and tile
// size, applying the same enlargement procedure as Of. Used for the
// mask label/split arrays (spec.md §4.5), whose element width differs
// from the source image's and so enlarges to a different chunk extent
// even though the full-plane extent and starting tile size match.
func OfExtent(t, c, z, y, x, tileW, tileH, byteWidth int, adjust []config.AdjustDim, targetBytes int) DataShape {
	s := DataShape{
		T: t, C: c, Z: z, Y: y, X: x,
		ByteWidth: byteWidth,
		ChunkT:    1, ChunkC: 1,
		ChunkZ: 1, ChunkY: tileH, ChunkX: tileW,
	}
	s.enlarge(adjust, targetBytes)
	return s
}

func (s *DataShape) chunkBytes() int {
	return s.ChunkX * s.ChunkY * s.ChunkZ * s.ByteWidth
}

// enlarge runs the deterministic enlargement procedure: for each
// dimension in adjust order, repeatedly widen just that dimension until
// the chunk byte size reaches targetBytes or the dimension saturates the
// image extent, then move to the next dimension in the list.
func (s *DataShape) enlarge(adjust []config.AdjustDim, targetBytes int) {
	for _, d := range adjust {
		for s.chunkBytes() < targetBytes {
			before := s.chunkBytes()
			switch d {
			case config.AdjustX:
				s.ChunkX = enlargePlanar(s.ChunkX, s.X)
			case config.AdjustY:
				s.ChunkY = enlargePlanar(s.ChunkY, s.Y)
			case config.AdjustZ:
				s.ChunkZ = enlargeZ(s.ChunkZ, s.Z)
			}
			if s.chunkBytes() == before {
				// Dimension saturated the image extent; no further
				// growth possible here, move to the next dimension.
				break
			}
		}
	}
	s.clampToImage()
}

// enlargePlanar implements the X/Y enlargement rule: snap to the full
// image extent once tripling would meet or exceed it, else double.
func enlargePlanar(current, size int) int {
	if current >= size {
		return current
	}
	if current*3 >= size {
		return size
	}
	return current * 2
}

// enlargeZ implements the Z enlargement rule: double, then redistribute
// so that the resulting chunk count evenly covers the image extent.
func enlargeZ(current, size int) int {
	if current >= size {
		return current
	}
	doubled := current * 2
	if doubled > size {
		doubled = size
	}
	chunks := ceilDiv(size, doubled)
	return ceilDiv(size, chunks)
}

func (s *DataShape) clampToImage() {
	if s.ChunkX > s.X {
		s.ChunkX = s.X
	}
	if s.ChunkY > s.Y {
		s.ChunkY = s.Y
	}
	if s.ChunkZ > s.Z {
		s.ChunkZ = s.Z
	}
	if s.ChunkT > s.T {
		s.ChunkT = s.T
	}
	if s.ChunkC > s.C {
		s.ChunkC = s.C
	}
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		return n
	}
	return (n + d - 1) / d
}

// Shape returns the full [T,C,Z,Y,X] extent.
func (s DataShape) Shape() [5]int { return [5]int{s.T, s.C, s.Z, s.Y, s.X} }

// Chunks returns the [1,1,zTile,yTile,xTile] chunk extent.
func (s DataShape) Chunks() [5]int { return [5]int{s.ChunkT, s.ChunkC, s.ChunkZ, s.ChunkY, s.ChunkX} }

// GridCounts returns how many chunks tile each dimension ([T,C,Z,Y,X]).
func (s DataShape) GridCounts() [5]int {
	return [5]int{
		ceilDiv(s.T, s.ChunkT),
		ceilDiv(s.C, s.ChunkC),
		ceilDiv(s.Z, s.ChunkZ),
		ceilDiv(s.Y, s.ChunkY),
		ceilDiv(s.X, s.ChunkX),
	}
}
