package zarrhttp

import (
	"encoding/json"
	"fmt"

	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/shape"
	"github.com/scireader/zarrimaged/internal/upstream"
)

// zGroupDoc is the .zgroup document: a fixed marker, spec.md §4.4.
type zGroupDoc struct {
	ZarrFormat int `json:"zarr_format"`
}

func buildZGroup() []byte {
	b, _ := json.Marshal(zGroupDoc{ZarrFormat: 2})
	return b
}

// compressorDoc describes the chunk compressor in .zarray.
type compressorDoc struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// zArrayDoc is the .zarray document, spec.md §4.4.
type zArrayDoc struct {
	ZarrFormat int            `json:"zarr_format"`
	Order      string         `json:"order"`
	Shape      [5]int         `json:"shape"`
	Chunks     [5]int         `json:"chunks"`
	FillValue  int            `json:"fill_value"`
	DType      string         `json:"dtype"`
	Filters    interface{}    `json:"filters"`
	Compressor *compressorDoc `json:"compressor"`
}

// dtypeString renders the three-byte Zarr v2 dtype string: byte-order
// marker ('|' for 1-byte samples, else '<'/'>'), kind ('f'/'i'/'u'), and
// byte width.
func dtypeString(byteWidth int, isFloat, isSigned bool, endian upstream.Endianness) string {
	var order byte = '<'
	if byteWidth == 1 {
		order = '|'
	} else if endian == upstream.BigEndian {
		order = '>'
	}
	var kind byte
	switch {
	case isFloat:
		kind = 'f'
	case isSigned:
		kind = 'i'
	default:
		kind = 'u'
	}
	return fmt.Sprintf("%c%c%d", order, kind, byteWidth)
}

// probeEndianness learns the buffer's sample byte order the way spec.md
// §4.4 specifies: a single 1-pixel tile read at the origin.
func probeEndianness(buf upstream.PixelBuffer) (upstream.Endianness, error) {
	tile, err := buf.GetTile(0, 0, 0, 0, 0, 1, 1)
	if err != nil {
		return upstream.LittleEndian, err
	}
	return tile.Endianness, nil
}

func buildZArray(ds shape.DataShape, buf upstream.PixelBuffer, endian upstream.Endianness, cfg *config.Config) []byte {
	dtype := dtypeString(buf.ByteWidth(), buf.IsFloat(), buf.IsSigned(), endian)
	return buildZArrayWithDType(ds, dtype, cfg)
}

// buildZArrayWithDType builds a .zarray document for a fixed element
// type rather than the source image's — used by the labeled (uint64)
// and split (uint8) mask arrays, which don't share the source buffer's
// dtype (spec.md §4.5).
func buildZArrayWithDType(ds shape.DataShape, dtype string, cfg *config.Config) []byte {
	doc := zArrayDoc{
		ZarrFormat: 2,
		Order:      "C",
		Shape:      ds.Shape(),
		Chunks:     ds.Chunks(),
		FillValue:  0,
		DType:      dtype,
		Filters:    nil,
		Compressor: &compressorDoc{ID: "zlib", Level: cfg.ZlibLevel},
	}
	b, _ := json.Marshal(doc)
	return b
}

// multiscaleDataset is one entry in .zattrs' multiscales[0].datasets.
// The "scale" field the Zarr OME convention defines is intentionally
// omitted — see spec.md open question #2.
type multiscaleDataset struct {
	Path string `json:"path"`
}

type multiscaleDoc struct {
	Version  string               `json:"version"`
	Name     string               `json:"name"`
	Datasets []multiscaleDataset `json:"datasets"`
}

type windowDoc struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Start float64  `json:"start"`
	End   float64  `json:"end"`
}

type channelDoc struct {
	Label       string    `json:"label,omitempty"`
	Active      bool      `json:"active"`
	Coefficient float64   `json:"coefficient"`
	Family      string    `json:"family"`
	Inverted    bool      `json:"inverted"`
	Color       string    `json:"color"`
	Window      windowDoc `json:"window"`
}

type rdefsDoc struct {
	DefaultZ int    `json:"defaultZ"`
	DefaultT int    `json:"defaultT"`
	Model    string `json:"model"`
}

type omeroDoc struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Rdefs    rdefsDoc     `json:"rdefs"`
	Channels []channelDoc `json:"channels,omitempty"`
}

type zAttrsDoc struct {
	Multiscales []multiscaleDoc `json:"multiscales"`
	Omero       omeroDoc         `json:"omero"`
}

func buildZAttrs(pix upstream.Pixels, numResolutions int) []byte {
	datasets := make([]multiscaleDataset, numResolutions)
	for i := range datasets {
		datasets[i] = multiscaleDataset{Path: fmt.Sprintf("%d", i)}
	}

	doc := zAttrsDoc{
		Multiscales: []multiscaleDoc{{
			Version:  "0.1",
			Name:     "default",
			Datasets: datasets,
		}},
		Omero: omeroDoc{
			ID:   pix.ID,
			Name: pix.Name,
		},
	}

	rdef, ok := pix.PickRendering()
	if ok {
		doc.Omero.Rdefs = rdefsDoc{
			DefaultZ: rdef.DefaultZ,
			DefaultT: rdef.DefaultT,
			Model:    rdef.Model.String(),
		}
		if len(rdef.Channels) == len(pix.Channels) {
			doc.Omero.Channels = make([]channelDoc, len(rdef.Channels))
			for i, cb := range rdef.Channels {
				doc.Omero.Channels[i] = channelDocFrom(pix.Channels[i], cb)
			}
		}
	}

	b, _ := json.Marshal(doc)
	return b
}

func channelDocFrom(ch upstream.Channel, cb upstream.ChannelBinding) channelDoc {
	win := windowDoc{Start: cb.WindowStart, End: cb.WindowEnd}
	if cb.Stats.Known {
		min, max := cb.Stats.Min, cb.Stats.Max
		win.Min = &min
		win.Max = &max
	}
	return channelDoc{
		Label:       ch.Name,
		Active:      cb.Active,
		Coefficient: cb.Coefficient,
		Family:      cb.Family,
		Inverted:    cb.Inverted,
		Color:       fmt.Sprintf("%02X%02X%02X", cb.Red, cb.Green, cb.Blue),
		Window:      win,
	}
}
