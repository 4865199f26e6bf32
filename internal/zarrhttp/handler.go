// Package zarrhttp synthesizes the virtual Zarr v2 hierarchy described
// in spec.md §4.4/§4.5: URL dispatch, JSON metadata documents, and
// chunk assembly + compression. Handler shape (a struct of collaborators
// implementing http.Handler, request counters, semaphore-bounded
// CPU-heavy work) is grounded on Perkeep's pkg/server/image.go and
// pkg/server/filetree.go.
package zarrhttp

import (
	"errors"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go4.org/syncutil"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scireader/zarrimaged/internal/buffercache"
	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/maskcache"
	"github.com/scireader/zarrimaged/internal/shape"
	"github.com/scireader/zarrimaged/internal/upstream"
)

// metrics mirrors the counters in Perkeep's pkg/server/image.go
// (imageBytesServedVar, thumbCacheMiss, ...), reimplemented with the
// retrieval pack's real Prometheus client instead of expvar — see
// SPEC_FULL.md §2.
type metrics struct {
	chunksServed   prometheus.Counter
	bytesServed    prometheus.Counter
	upstreamErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		chunksServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zarrimaged_chunks_served_total",
			Help: "Number of Zarr chunk bodies served.",
		}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zarrimaged_chunk_bytes_served_total",
			Help: "Compressed chunk bytes served.",
		}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zarrimaged_upstream_errors_total",
			Help: "Upstream metadata/pixel read failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.chunksServed, m.bytesServed, m.upstreamErrors)
	}
	return m
}

// Handler serves the virtual Zarr hierarchy for every image under the
// configured path template.
type Handler struct {
	Metadata  upstream.MetadataSource
	Pixels    upstream.PixelSource
	Cache     *buffercache.Cache
	MaskCache *maskcache.Cache
	Config    *config.Config
	Logger    *log.Logger

	pathRE *regexp.Regexp
	sem    *syncutil.Sem
	m      *metrics
}

// NewHandler builds a Handler. reg may be nil to skip metrics
// registration (e.g. in tests).
func NewHandler(meta upstream.MetadataSource, pixels upstream.PixelSource, cache *buffercache.Cache, cfg *config.Config, logger *log.Logger, reg prometheus.Registerer) (*Handler, error) {
	re, err := compileImagePattern(cfg.ImagePathTemplate)
	if err != nil {
		return nil, err
	}
	return &Handler{
		Metadata:  meta,
		Pixels:    pixels,
		Cache:     cache,
		MaskCache: maskcache.New(cfg.MaskCacheSizeMB << 20),
		Config:    cfg,
		Logger:    logger,
		pathRE:    re,
		sem:       syncutil.NewSem(int64(64) << 20), // 64MiB of assembled chunks in compression
		m:         newMetrics(reg),
	}, nil
}

func (h *Handler) printf(format string, v ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, v...)
		return
	}
	log.Printf(format, v...)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	m := h.pathRE.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	imageID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		badRequest(w, "failed to parse integers")
		return
	}
	rest := m[2]

	switch {
	case rest == "":
		h.serveImageRoot(w, imageID)
	case rest == ".zgroup":
		serveJSON(w, buildZGroup())
	case rest == ".zattrs":
		h.serveZAttrs(w, imageID)
	case rest == "masks/.zattrs":
		h.serveMasksZAttrs(w, imageID)
	case rest == "masks/.zgroup":
		serveJSON(w, buildZGroup())
	case strings.HasPrefix(rest, "masks/"):
		h.serveMaskPath(w, imageID, strings.TrimPrefix(rest, "masks/"))
	default:
		h.serveResolutionPath(w, imageID, rest)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusBadRequest)
}

func notFound(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusNotFound)
}

func serverError(w http.ResponseWriter, err error) {
	http.Error(w, "query failed", http.StatusInternalServerError)
	_ = err // logged by the caller before invoking this helper
}

func serveJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

func serveOctetStream(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

func (h *Handler) serveZAttrs(w http.ResponseWriter, imageID int64) {
	pix, err := h.Metadata.GetPixels(imageID)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			notFound(w, "unknown image")
			return
		}
		h.m.upstreamErrors.Inc()
		h.printf("zarrhttp: GetPixels(%d): %v", imageID, err)
		serverError(w, err)
		return
	}
	buf, err := h.Cache.Acquire(imageID, 0)
	if err != nil {
		notFound(w, "unknown image")
		return
	}
	n := buf.ResolutionLevels()
	h.Cache.Release(buf)
	serveJSON(w, buildZAttrs(pix, n))
}

func (h *Handler) serveResolutionPath(w http.ResponseWriter, imageID int64, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	resolution, err := strconv.Atoi(parts[0])
	if err != nil {
		badRequest(w, "failed to parse integers")
		return
	}
	var tail string
	if len(parts) == 2 {
		tail = parts[1]
	}

	buf, err := h.Cache.Acquire(imageID, resolution)
	if err != nil {
		notFound(w, "unknown image or resolution")
		return
	}
	defer h.Cache.Release(buf)

	ds := shape.Of(buf, h.Config.ChunkAdjust, h.Config.ChunkSizeMin)

	switch {
	case tail == "":
		h.serveResolutionDirectory(w, ds)
	case tail == ".zarray":
		endian, err := probeEndianness(buf)
		if err != nil {
			h.m.upstreamErrors.Inc()
			h.printf("zarrhttp: probeEndianness(%d): %v", imageID, err)
			serverError(w, err)
			return
		}
		serveJSON(w, buildZArray(ds, buf, endian, h.Config))
	default:
		h.serveChunk(w, buf, ds, tail)
	}
}

func (h *Handler) serveChunk(w http.ResponseWriter, buf upstream.PixelBuffer, ds shape.DataShape, tail string) {
	idx, ok := parseChunkKey(tail, h.Config.FolderLayout)
	if !ok {
		if h.Config.FolderLayout == config.LayoutNested && isNestedDirectoryPrefix(tail) {
			h.serveChunkDirectory(w, ds, tail)
			return
		}
		notFound(w, "unknown chunk path")
		return
	}

	raw, err := assembleChunk(buf, ds, idx[0], idx[1], idx[2], idx[3], idx[4])
	if err != nil {
		if errors.Is(err, errChunkOutOfRange) {
			notFound(w, "chunk index out of range")
			return
		}
		h.m.upstreamErrors.Inc()
		h.printf("zarrhttp: assembleChunk: %v", err)
		serverError(w, err)
		return
	}
	h.serveCompressedChunk(w, raw)
}

func (h *Handler) serveImageRoot(w http.ResponseWriter, imageID int64) {
	if h.Config.FolderLayout == config.LayoutNone {
		notFound(w, "directory listings disabled")
		return
	}
	buf, err := h.Cache.Acquire(imageID, 0)
	if err != nil {
		notFound(w, "unknown image")
		return
	}
	n := buf.ResolutionLevels()
	h.Cache.Release(buf)

	entries := []string{".zattrs", ".zgroup", "masks/"}
	for i := 0; i < n; i++ {
		entries = append(entries, strconv.Itoa(i)+"/")
	}
	writeDirectoryListing(w, entries)
}

func (h *Handler) serveResolutionDirectory(w http.ResponseWriter, ds shape.DataShape) {
	if h.Config.FolderLayout == config.LayoutNone {
		notFound(w, "directory listings disabled")
		return
	}
	entries := []string{".zarray"}
	entries = append(entries, chunkDirectoryEntries(ds, h.Config.FolderLayout)...)
	writeDirectoryListing(w, entries)
}

func (h *Handler) serveChunkDirectory(w http.ResponseWriter, ds shape.DataShape, tail string) {
	entries, ok := nestedDirectoryEntries(ds, tail)
	if !ok {
		notFound(w, "not a directory")
		return
	}
	writeDirectoryListing(w, entries)
}
