package zarrhttp

import (
	"errors"

	"github.com/scireader/zarrimaged/internal/shape"
	"github.com/scireader/zarrimaged/internal/upstream"
)

// errChunkOutOfRange is returned when a requested chunk index's origin
// falls at or past the image's full extent (spec.md §4.4 step 1).
var errChunkOutOfRange = errors.New("zarrhttp: chunk index out of range")

// assembleChunk builds the uncompressed byte payload for the chunk at
// (it,ic,iz,iy,ix), per spec.md §4.4 steps 1-3: zero-initialised buffer,
// per-plane upstream tile reads, direct copy when a tile fully covers
// the plane, row-by-row copy with right/bottom padding otherwise.
func assembleChunk(buf upstream.PixelBuffer, ds shape.DataShape, it, ic, iz, iy, ix int) ([]byte, error) {
	t := it
	c := ic
	z0 := iz * ds.ChunkZ
	y0 := iy * ds.ChunkY
	x0 := ix * ds.ChunkX

	if t >= ds.T || c >= ds.C || z0 >= ds.Z || y0 >= ds.Y || x0 >= ds.X {
		return nil, errChunkOutOfRange
	}

	bw := ds.ByteWidth
	planeBytes := ds.ChunkX * bw
	chunk := make([]byte, ds.ChunkX*ds.ChunkY*ds.ChunkZ*bw)

	for p := 0; p < ds.ChunkZ; p++ {
		z := z0 + p
		if z >= ds.Z {
			break
		}
		xd := min(ds.ChunkX, ds.X-x0)
		yd := min(ds.ChunkY, ds.Y-y0)

		tile, err := buf.GetTile(z, c, t, x0, y0, xd, yd)
		if err != nil {
			return nil, err
		}

		planeOff := p * ds.ChunkY * planeBytes
		if xd == ds.ChunkX && yd == ds.ChunkY {
			copy(chunk[planeOff:planeOff+ds.ChunkY*planeBytes], tile.Bytes)
			continue
		}
		rowBytes := xd * bw
		for row := 0; row < yd; row++ {
			src := tile.Bytes[row*rowBytes : (row+1)*rowBytes]
			dstOff := planeOff + row*planeBytes
			copy(chunk[dstOff:dstOff+rowBytes], src)
		}
	}

	return chunk, nil
}
