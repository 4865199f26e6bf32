package zarrhttp

import (
	"strconv"
	"strings"

	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/shape"
)

// parseChunkKey decodes a chunk URL suffix into its five grid indices,
// per spec.md §4.4's two key forms: flattened ("t.c.z.y.x", a single
// path segment) and nested ("t/c/z/y/x", one segment per dimension).
func parseChunkKey(tail string, layout config.FolderLayout) ([5]int, bool) {
	var idx [5]int
	var parts []string
	if layout == config.LayoutNested {
		parts = strings.Split(tail, "/")
	} else {
		parts = strings.Split(tail, ".")
	}
	if len(parts) != 5 {
		return idx, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return idx, false
		}
		idx[i] = n
	}
	return idx, true
}

// isNestedDirectoryPrefix reports whether tail looks like a partial
// nested chunk path (1-4 numeric segments) that should be served as a
// synthetic directory listing rather than a chunk.
func isNestedDirectoryPrefix(tail string) bool {
	parts := strings.Split(tail, "/")
	if len(parts) < 1 || len(parts) > 4 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return false
		}
	}
	return true
}

// chunkDirectoryEntries lists the contents of a resolution directory,
// beyond .zarray: every flattened chunk key when the layout is
// flattened, or just the first nesting level ("0/".."T-1/") when
// nested.
func chunkDirectoryEntries(ds shape.DataShape, layout config.FolderLayout) []string {
	grid := ds.GridCounts()
	if layout == config.LayoutNested {
		entries := make([]string, grid[0])
		for t := range entries {
			entries[t] = strconv.Itoa(t) + "/"
		}
		return entries
	}

	var entries []string
	for t := 0; t < grid[0]; t++ {
		for c := 0; c < grid[1]; c++ {
			for z := 0; z < grid[2]; z++ {
				for y := 0; y < grid[3]; y++ {
					for x := 0; x < grid[4]; x++ {
						entries = append(entries, flattenedKey(t, c, z, y, x))
					}
				}
			}
		}
	}
	return entries
}

func flattenedKey(t, c, z, y, x int) string {
	return strconv.Itoa(t) + "." + strconv.Itoa(c) + "." + strconv.Itoa(z) + "." + strconv.Itoa(y) + "." + strconv.Itoa(x)
}

// nestedDirectoryEntries lists the next nesting level below tail (a
// 1-4 segment numeric prefix already validated by
// isNestedDirectoryPrefix). The final level (4 segments, naming t/c/z/y)
// lists leaf chunk file names rather than subdirectories.
func nestedDirectoryEntries(ds shape.DataShape, tail string) ([]string, bool) {
	parts := strings.Split(tail, "/")
	if len(parts) < 1 || len(parts) > 4 {
		return nil, false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return nil, false
		}
	}

	grid := ds.GridCounts()
	next := grid[len(parts)]
	entries := make([]string, next)
	for i := range entries {
		if len(parts) == 4 {
			entries[i] = strconv.Itoa(i)
		} else {
			entries[i] = strconv.Itoa(i) + "/"
		}
	}
	return entries, true
}
