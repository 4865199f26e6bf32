// Package config assembles the service's immutable settings bundle from
// a key/value map, failing fast on anything invalid the way Perkeep's
// serverinit validates a camlistore server config before bringing a
// server up (see pkg/jsonconfig, pkg/serverinit).
package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FolderLayout controls chunk URL key form and whether synthetic
// directory listings are emitted.
type FolderLayout int

const (
	LayoutFlattened FolderLayout = iota
	LayoutNested
	LayoutNone
)

func (l FolderLayout) String() string {
	switch l {
	case LayoutNested:
		return "nested"
	case LayoutNone:
		return "none"
	default:
		return "flattened"
	}
}

// OverlapValue selects the labeled-mask pixel value written where two or
// more ROIs cover the same pixel.
type OverlapValue struct {
	// Mode is one of "fixed", "highest", "lowest".
	Mode  string
	Fixed uint64
}

// AdjustDim names one of the three dimensions the chunk-size enlargement
// procedure may widen.
type AdjustDim int

const (
	AdjustX AdjustDim = iota
	AdjustY
	AdjustZ
)

// Config is the validated, immutable settings bundle. Load is its
// validating constructor; the fields are exported, so a Config literal
// built directly (as tests do) skips that validation.
type Config struct {
	BufferCacheSize int
	ChunkSizeMin    int
	ChunkAdjust     []AdjustDim
	ZlibLevel       int
	FolderLayout    FolderLayout
	MaskCacheSizeMB int
	MaskSplitEnable bool
	MaskOverlapColor *int // RGBA, nil if unset
	MaskOverlapValue OverlapValue
	ImagePathTemplate string
	Port              int

	// MetadataDriver selects the database/sql driver backing
	// sqlmeta's MetadataSource: "mysql" or "postgres".
	MetadataDriver string
	MetadataDSN    string

	// PixelBackend selects objtiles' object-storage backend: "s3" or
	// "gcs".
	PixelBackend string
	PixelBucket  string
}

// Load validates raw and returns the resulting Config, or a descriptive
// error. Type errors from the accessors and unknown keys are accumulated
// and reported together by Validate (jsonconfig-style); an invalid
// folder.layout or mask.overlap.value returns before that step, and the
// range checks after it return on the first failure.
func Load(raw Obj) (*Config, error) {
	c := &Config{
		BufferCacheSize:   raw.OptionalInt("buffer-cache.size", 16),
		ChunkSizeMin:      raw.OptionalInt("chunk.size.min", 1048576),
		ZlibLevel:         raw.OptionalInt("compress.zlib.level", 6),
		MaskCacheSizeMB:   raw.OptionalInt("mask-cache.size", 250),
		MaskSplitEnable:   raw.OptionalBool("mask.split.enable", false),
		MaskOverlapColor:  raw.OptionalIntPtr("mask.overlap.color"),
		ImagePathTemplate: raw.OptionalString("net.path.image", "/image/{image}.zarr/"),
		Port:              raw.OptionalInt("net.port", 8080),
		MetadataDriver:    raw.OptionalString("upstream.metadata.driver", "mysql"),
		MetadataDSN:       raw.OptionalString("upstream.metadata.dsn", ""),
		PixelBackend:      raw.OptionalString("upstream.pixels.backend", "s3"),
		PixelBucket:       raw.OptionalString("upstream.pixels.bucket", ""),
	}

	adjust := raw.OptionalList("chunk.size.adjust")
	if adjust == nil {
		adjust = []string{"X", "Y", "Z"}
	}

	layout := raw.OptionalString("folder.layout", "flattened")
	switch layout {
	case "nested":
		c.FolderLayout = LayoutNested
	case "flattened":
		c.FolderLayout = LayoutFlattened
	case "none":
		c.FolderLayout = LayoutNone
	default:
		return nil, fmt.Errorf("config: folder.layout must be one of nested/flattened/none, got %q", layout)
	}

	overlap := raw.OptionalString("mask.overlap.value", "HIGHEST")
	switch overlap {
	case "HIGHEST":
		c.MaskOverlapValue = OverlapValue{Mode: "highest"}
	case "LOWEST":
		c.MaskOverlapValue = OverlapValue{Mode: "lowest"}
	default:
		var fixed int
		if _, err := fmt.Sscanf(overlap, "%d", &fixed); err != nil || fixed < 0 {
			return nil, fmt.Errorf("config: mask.overlap.value must be HIGHEST, LOWEST, or a non-negative integer, got %q", overlap)
		}
		c.MaskOverlapValue = OverlapValue{Mode: "fixed", Fixed: uint64(fixed)}
	}

	if err := raw.Validate(); err != nil {
		return nil, err
	}

	if c.BufferCacheSize < 1 {
		return nil, fmt.Errorf("config: buffer-cache.size must be >= 1, got %d", c.BufferCacheSize)
	}
	if c.ChunkSizeMin < 1 {
		return nil, fmt.Errorf("config: chunk.size.min must be >= 1, got %d", c.ChunkSizeMin)
	}
	if c.ZlibLevel < 0 || c.ZlibLevel > 9 {
		return nil, fmt.Errorf("config: compress.zlib.level must be 0-9, got %d", c.ZlibLevel)
	}
	if c.MaskCacheSizeMB < 0 {
		return nil, fmt.Errorf("config: mask-cache.size must be >= 0, got %d", c.MaskCacheSizeMB)
	}
	if c.MetadataDriver != "mysql" && c.MetadataDriver != "postgres" {
		return nil, fmt.Errorf("config: upstream.metadata.driver must be mysql or postgres, got %q", c.MetadataDriver)
	}
	if c.PixelBackend != "s3" && c.PixelBackend != "gcs" {
		return nil, fmt.Errorf("config: upstream.pixels.backend must be s3 or gcs, got %q", c.PixelBackend)
	}

	dims, err := parseAdjustDims(adjust)
	if err != nil {
		return nil, err
	}
	c.ChunkAdjust = dims

	return c, nil
}

func parseAdjustDims(names []string) ([]AdjustDim, error) {
	seen := make(map[AdjustDim]bool, len(names))
	dims := make([]AdjustDim, 0, len(names))
	for _, n := range names {
		var d AdjustDim
		switch n {
		case "X":
			d = AdjustX
		case "Y":
			d = AdjustY
		case "Z":
			d = AdjustZ
		default:
			return nil, fmt.Errorf("config: chunk.size.adjust entries must be X, Y, or Z, got %q", n)
		}
		if seen[d] {
			return nil, fmt.Errorf("config: chunk.size.adjust must not repeat dimension %q", n)
		}
		seen[d] = true
		dims = append(dims, d)
	}
	return dims, nil
}

// LogSummary renders a one-line human-readable summary of the sizing
// knobs, the way Perkeep logs startup settings in server/camlistored.
func (c *Config) LogSummary() string {
	return fmt.Sprintf(
		"buffer-cache=%d entries, chunk.size.min=%s, mask-cache=%s, port=%d",
		c.BufferCacheSize,
		humanize.IBytes(uint64(c.ChunkSizeMin)),
		humanize.IBytes(uint64(c.MaskCacheSizeMB)*1<<20),
		c.Port,
	)
}
