// Package metacache de-duplicates concurrent MetadataSource.GetPixels
// calls for the same image, so that a burst of simultaneous .zattrs/
// .zgroup/.zarray requests for one image costs the upstream a single
// query. This is purely a query-deduplication layer, never a cache of
// chunk bytes (spec.md's non-goals exclude caching layers in front of
// chunk bytes; this never touches them). Grounded on Perkeep's direct
// dependency on golang.org/x/sync, used here for its singleflight
// package.
package metacache

import (
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/scireader/zarrimaged/internal/upstream"
)

// Group wraps a MetadataSource, collapsing concurrent GetPixels calls
// for the same image id into one upstream query.
type Group struct {
	source upstream.MetadataSource
	sf     singleflight.Group
}

func Wrap(source upstream.MetadataSource) *Group {
	return &Group{source: source}
}

// GetPixels returns the same result (or error) as the underlying
// MetadataSource, but concurrent calls for the same imageID share one
// in-flight query.
func (g *Group) GetPixels(imageID int64) (upstream.Pixels, error) {
	v, err, _ := g.sf.Do(key(imageID), func() (interface{}, error) {
		return g.source.GetPixels(imageID)
	})
	if err != nil {
		return upstream.Pixels{}, err
	}
	return v.(upstream.Pixels), nil
}

func (g *Group) GetMask(maskID int64) (upstream.Mask, error) { return g.source.GetMask(maskID) }
func (g *Group) GetRoi(roiID int64) (upstream.Roi, error)    { return g.source.GetRoi(roiID) }
func (g *Group) GetMaskIDsOfRoi(roiID int64) ([]int64, error) {
	return g.source.GetMaskIDsOfRoi(roiID)
}
func (g *Group) GetRoiIDsOfImage(imageID int64) ([]int64, error) {
	return g.source.GetRoiIDsOfImage(imageID)
}
func (g *Group) GetRoiIDsWithMaskOfImage(imageID int64) ([]int64, error) {
	return g.source.GetRoiIDsWithMaskOfImage(imageID)
}

func key(imageID int64) string {
	return strconv.FormatInt(imageID, 10)
}
