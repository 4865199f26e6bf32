package zarrhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/mask"
	"github.com/scireader/zarrimaged/internal/shape"
	"github.com/scireader/zarrimaged/internal/upstream"
	"github.com/scireader/zarrimaged/internal/zarrcodec"
)

// roiEntry pairs a ROI id with its materialised UnionMask, in the
// image's canonical ROI order (spec.md §4.5 "iterate ROIs in the
// image's canonical order").
type roiEntry struct {
	ID   int64
	Mask mask.UnionMask
}

// loadRoi builds (or recalls from the mask cache) the UnionMask for one
// ROI id, by fetching its member mask ids and their packed bitmasks from
// the metadata source.
func (h *Handler) loadRoi(roiID int64) (mask.UnionMask, error) {
	if h.MaskCache != nil {
		if um, ok := h.MaskCache.Get(roiID); ok {
			return um, nil
		}
	}

	maskIDs, err := h.Metadata.GetMaskIDsOfRoi(roiID)
	if err != nil {
		return mask.UnionMask{}, err
	}
	members := make([]mask.ImageMask, 0, len(maskIDs))
	for _, id := range maskIDs {
		m, err := h.Metadata.GetMask(id)
		if err != nil {
			return mask.UnionMask{}, err
		}
		members = append(members, mask.NewImageMask(m.X, m.Y, m.W, m.H, m.Z, m.C, m.T, m.Bytes))
	}
	um := mask.Build(members)
	if h.MaskCache != nil {
		h.MaskCache.Put(roiID, um)
	}
	return um, nil
}

// loadRois returns every ROI of imageID that carries at least one
// bitmask, with its UnionMask, in canonical order.
func (h *Handler) loadRois(imageID int64) ([]roiEntry, error) {
	roiIDs, err := h.Metadata.GetRoiIDsWithMaskOfImage(imageID)
	if err != nil {
		return nil, err
	}
	entries := make([]roiEntry, 0, len(roiIDs))
	for _, id := range roiIDs {
		um, err := h.loadRoi(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, roiEntry{ID: id, Mask: um})
	}
	return entries, nil
}

type masksZAttrsDoc struct {
	Masks []string `json:"masks"`
}

func (h *Handler) serveMasksZAttrs(w http.ResponseWriter, imageID int64) {
	roiIDs, err := h.Metadata.GetRoiIDsWithMaskOfImage(imageID)
	if err != nil {
		h.m.upstreamErrors.Inc()
		h.printf("zarrhttp: GetRoiIDsWithMaskOfImage(%d): %v", imageID, err)
		serverError(w, err)
		return
	}
	doc := masksZAttrsDoc{Masks: []string{"labeled"}}
	if h.Config.MaskSplitEnable {
		for _, id := range roiIDs {
			doc.Masks = append(doc.Masks, strconv.FormatInt(id, 10))
		}
	}
	b, _ := json.Marshal(doc)
	serveJSON(w, b)
}

// maskDataShape derives the label/split array geometry: same full
// extent and starting tile size as the source image's highest
// resolution, enlarged for the labeled array's 8-byte elements.
func (h *Handler) maskDataShape(buf upstream.PixelBuffer) shape.DataShape {
	tw, th := buf.TileSize()
	return shape.OfExtent(buf.SizeT(), buf.SizeC(), buf.SizeZ(), buf.SizeY(), buf.SizeX(), tw, th, 8, h.Config.ChunkAdjust, h.Config.ChunkSizeMin)
}

type colorDoc struct {
	Label int64 `json:"label"`
	RGBA  int   `json:"rgba"`
}

type labeledZAttrsDoc struct {
	Colors []colorDoc `json:"color"`
}

func (h *Handler) serveMaskPath(w http.ResponseWriter, imageID int64, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	name := parts[0]
	var tail string
	if len(parts) == 2 {
		tail = parts[1]
	}

	if name == "labeled" {
		h.serveLabeledPath(w, imageID, tail)
		return
	}
	if !h.Config.MaskSplitEnable {
		notFound(w, "split masks disabled")
		return
	}
	roiID, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		badRequest(w, "failed to parse integers")
		return
	}
	h.serveSplitPath(w, imageID, roiID, tail)
}

func (h *Handler) serveLabeledPath(w http.ResponseWriter, imageID int64, tail string) {
	buf, err := h.Cache.Acquire(imageID, 0)
	if err != nil {
		notFound(w, "unknown image")
		return
	}
	defer h.Cache.Release(buf)
	ds := h.maskDataShape(buf)

	switch tail {
	case "":
		entries := []string{".zarray", ".zattrs"}
		entries = append(entries, chunkDirectoryEntries(ds, h.Config.FolderLayout)...)
		writeDirectoryListing(w, entries)
	case ".zgroup":
		serveJSON(w, buildZGroup())
	case ".zarray":
		serveJSON(w, buildZArrayWithDType(ds, dtypeString(8, false, false, upstream.LittleEndian), h.Config))
	case ".zattrs":
		h.serveLabeledZAttrs(w, imageID)
	default:
		h.serveLabeledChunk(w, imageID, ds, tail)
	}
}

func (h *Handler) serveLabeledZAttrs(w http.ResponseWriter, imageID int64) {
	rois, err := h.loadRois(imageID)
	if err != nil {
		h.m.upstreamErrors.Inc()
		h.printf("zarrhttp: loadRois(%d): %v", imageID, err)
		serverError(w, err)
		return
	}
	doc := labeledZAttrsDoc{Colors: make([]colorDoc, 0, len(rois))}
	for _, r := range rois {
		roi, err := h.Metadata.GetRoi(r.ID)
		if err != nil {
			h.m.upstreamErrors.Inc()
			h.printf("zarrhttp: GetRoi(%d): %v", r.ID, err)
			serverError(w, err)
			return
		}
		doc.Colors = append(doc.Colors, colorDoc{Label: r.ID, RGBA: roi.Color})
	}
	if h.Config.MaskOverlapColor != nil {
		doc.Colors = append(doc.Colors, colorDoc{Label: h.overlapLabel(), RGBA: *h.Config.MaskOverlapColor})
	}
	b, _ := json.Marshal(doc)
	serveJSON(w, b)
}

// overlapLabel returns the label for the color list's overlap entry: the
// configured value as a plain int64 in "fixed" mode, and -1 in the
// "highest" and "lowest" modes, which have no single overlap value.
func (h *Handler) overlapLabel() int64 {
	switch h.Config.MaskOverlapValue.Mode {
	case "fixed":
		return int64(h.Config.MaskOverlapValue.Fixed)
	default:
		return -1
	}
}

func (h *Handler) serveLabeledChunk(w http.ResponseWriter, imageID int64, ds shape.DataShape, tail string) {
	idx, ok := parseChunkKey(tail, h.Config.FolderLayout)
	if !ok {
		if h.Config.FolderLayout == config.LayoutNested && isNestedDirectoryPrefix(tail) {
			h.serveMaskChunkDirectory(w, ds, tail)
			return
		}
		notFound(w, "unknown chunk path")
		return
	}
	rois, err := h.loadRois(imageID)
	if err != nil {
		h.m.upstreamErrors.Inc()
		h.printf("zarrhttp: loadRois(%d): %v", imageID, err)
		serverError(w, err)
		return
	}
	raw, err := assembleLabeledChunk(rois, ds, h.Config.MaskOverlapValue, idx[0], idx[1], idx[2], idx[3], idx[4])
	if err != nil {
		if errors.Is(err, errChunkOutOfRange) {
			notFound(w, "chunk index out of range")
			return
		}
		h.printf("zarrhttp: assembleLabeledChunk(%d): %v", imageID, err)
		serverError(w, err)
		return
	}
	h.serveCompressedChunk(w, raw)
}

func (h *Handler) serveMaskChunkDirectory(w http.ResponseWriter, ds shape.DataShape, tail string) {
	entries, ok := nestedDirectoryEntries(ds, tail)
	if !ok {
		notFound(w, "not a directory")
		return
	}
	writeDirectoryListing(w, entries)
}

func (h *Handler) serveSplitPath(w http.ResponseWriter, imageID, roiID int64, tail string) {
	buf, err := h.Cache.Acquire(imageID, 0)
	if err != nil {
		notFound(w, "unknown image")
		return
	}
	defer h.Cache.Release(buf)

	tw, th := buf.TileSize()
	ds := shape.OfExtent(buf.SizeT(), buf.SizeC(), buf.SizeZ(), buf.SizeY(), buf.SizeX(), tw, th, 1, h.Config.ChunkAdjust, h.Config.ChunkSizeMin)

	switch tail {
	case "":
		entries := []string{".zarray"}
		entries = append(entries, chunkDirectoryEntries(ds, h.Config.FolderLayout)...)
		writeDirectoryListing(w, entries)
	case ".zgroup":
		serveJSON(w, buildZGroup())
	case ".zarray":
		serveJSON(w, buildZArrayWithDType(ds, dtypeString(1, false, false, upstream.LittleEndian), h.Config))
	default:
		idx, ok := parseChunkKey(tail, h.Config.FolderLayout)
		if !ok {
			if h.Config.FolderLayout == config.LayoutNested && isNestedDirectoryPrefix(tail) {
				h.serveMaskChunkDirectory(w, ds, tail)
				return
			}
			notFound(w, "unknown chunk path")
			return
		}
		um, err := h.loadRoi(roiID)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				notFound(w, "unknown roi")
				return
			}
			h.m.upstreamErrors.Inc()
			h.printf("zarrhttp: loadRoi(%d): %v", roiID, err)
			serverError(w, err)
			return
		}
		raw, err := assembleSplitChunk(um, ds, idx[0], idx[1], idx[2], idx[3], idx[4])
		if err != nil {
			if errors.Is(err, errChunkOutOfRange) {
				notFound(w, "chunk index out of range")
				return
			}
			h.printf("zarrhttp: assembleSplitChunk(%d): %v", roiID, err)
			serverError(w, err)
			return
		}
		h.serveCompressedChunk(w, raw)
	}
}

// serveCompressedChunk runs the memory-semaphore-bounded compression
// path shared by pixel and mask chunks.
func (h *Handler) serveCompressedChunk(w http.ResponseWriter, raw []byte) {
	if err := h.sem.Acquire(int64(len(raw))); err != nil {
		h.printf("zarrhttp: acquire chunk semaphore: %v", err)
		serverError(w, err)
		return
	}
	defer h.sem.Release(int64(len(raw)))

	compressed, err := zarrcodec.CompressChunk(raw, h.Config.ZlibLevel)
	if err != nil {
		h.printf("zarrhttp: compress chunk: %v", err)
		serverError(w, err)
		return
	}
	h.m.chunksServed.Inc()
	h.m.bytesServed.Add(float64(len(compressed)))
	serveOctetStream(w, compressed)
}
