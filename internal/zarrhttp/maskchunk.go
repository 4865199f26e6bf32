package zarrhttp

import (
	"encoding/binary"

	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/mask"
	"github.com/scireader/zarrimaged/internal/shape"
)

// assembleLabeledChunk renders one chunk of the labeled mask array:
// zero where no ROI covers a pixel, the ROI id where exactly one does,
// and the configured overlap value where two or more do (spec.md §4.5).
func assembleLabeledChunk(rois []roiEntry, ds shape.DataShape, overlap config.OverlapValue, it, ic, iz, iy, ix int) ([]byte, error) {
	t, c := it, ic
	z0 := iz * ds.ChunkZ
	y0 := iy * ds.ChunkY
	x0 := ix * ds.ChunkX
	if t >= ds.T || c >= ds.C || z0 >= ds.Z || y0 >= ds.Y || x0 >= ds.X {
		return nil, errChunkOutOfRange
	}

	bw := ds.ByteWidth
	planeBytes := ds.ChunkX * bw
	chunk := make([]byte, ds.ChunkX*ds.ChunkY*ds.ChunkZ*bw)

	type roiReader struct {
		id int64
		r  mask.Reader
	}

	for p := 0; p < ds.ChunkZ; p++ {
		z := z0 + p
		if z >= ds.Z {
			break
		}
		var readers []roiReader
		for _, re := range rois {
			if r, ok := re.Mask.Reader(z, c, t); ok {
				readers = append(readers, roiReader{re.ID, r})
			}
		}
		yd := min(ds.ChunkY, ds.Y-y0)
		xd := min(ds.ChunkX, ds.X-x0)
		planeOff := p * ds.ChunkY * planeBytes

		for row := 0; row < yd; row++ {
			y := y0 + row
			rowOff := planeOff + row*planeBytes
			for col := 0; col < xd; col++ {
				x := x0 + col
				var hits []int64
				for _, rr := range readers {
					if rr.r.Test(x, y) {
						hits = append(hits, rr.id)
					}
				}
				binary.LittleEndian.PutUint64(chunk[rowOff+col*bw:], labelValue(hits, overlap))
			}
		}
	}
	return chunk, nil
}

func labelValue(hits []int64, overlap config.OverlapValue) uint64 {
	switch len(hits) {
	case 0:
		return 0
	case 1:
		return uint64(hits[0])
	}
	switch overlap.Mode {
	case "highest":
		m := hits[0]
		for _, h := range hits[1:] {
			if h > m {
				m = h
			}
		}
		return uint64(m)
	case "lowest":
		m := hits[0]
		for _, h := range hits[1:] {
			if h < m {
				m = h
			}
		}
		return uint64(m)
	default:
		return overlap.Fixed
	}
}

// assembleSplitChunk renders one chunk of a single ROI's boolean
// (uint8) split array.
func assembleSplitChunk(um mask.UnionMask, ds shape.DataShape, it, ic, iz, iy, ix int) ([]byte, error) {
	t, c := it, ic
	z0 := iz * ds.ChunkZ
	y0 := iy * ds.ChunkY
	x0 := ix * ds.ChunkX
	if t >= ds.T || c >= ds.C || z0 >= ds.Z || y0 >= ds.Y || x0 >= ds.X {
		return nil, errChunkOutOfRange
	}

	planeBytes := ds.ChunkX
	chunk := make([]byte, ds.ChunkX*ds.ChunkY*ds.ChunkZ)

	for p := 0; p < ds.ChunkZ; p++ {
		z := z0 + p
		if z >= ds.Z {
			break
		}
		reader, ok := um.Reader(z, c, t)
		if !ok {
			continue
		}
		yd := min(ds.ChunkY, ds.Y-y0)
		xd := min(ds.ChunkX, ds.X-x0)
		planeOff := p * ds.ChunkY * planeBytes

		for row := 0; row < yd; row++ {
			y := y0 + row
			rowOff := planeOff + row*planeBytes
			for col := 0; col < xd; col++ {
				x := x0 + col
				if reader.Test(x, y) {
					chunk[rowOff+col] = 1
				}
			}
		}
	}
	return chunk, nil
}
