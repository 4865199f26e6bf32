// Package sqlmeta is a reference upstream.MetadataSource backed by
// database/sql, reading pixels/channels/rendering-settings/rois/masks
// tables. Grounded on Perkeep's pkg/mysqlindexer (plain database/sql
// queries behind a narrow interface, no ORM). Driver-specific wiring
// (MySQL/Postgres) is the retrieval pack's real drivers, registered by
// the caller via the blank import the chosen config.MetadataDriver
// value selects.
package sqlmeta

import (
	"database/sql"
	"fmt"

	"github.com/scireader/zarrimaged/internal/upstream"
)

// Source is a database/sql-backed MetadataSource.
type Source struct {
	db *sql.DB
}

// Open opens a *sql.DB for driverName (as registered by the caller's
// blank import of the matching database/sql driver package) and dsn,
// and wraps it as a MetadataSource.
func Open(driverName, dsn string) (*Source, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: open %s: %w", driverName, err)
	}
	return &Source{db: db}, nil
}

func (s *Source) Close() error { return s.db.Close() }

func (s *Source) GetPixels(imageID int64) (upstream.Pixels, error) {
	var p upstream.Pixels
	p.ID = imageID
	row := s.db.QueryRow(`SELECT name, owner_id FROM pixels WHERE id = ?`, imageID)
	if err := row.Scan(&p.Name, &p.OwnerID); err != nil {
		if err == sql.ErrNoRows {
			return upstream.Pixels{}, upstream.ErrNotFound
		}
		return upstream.Pixels{}, fmt.Errorf("sqlmeta: GetPixels(%d): %w", imageID, err)
	}

	rows, err := s.db.Query(`SELECT name FROM channels WHERE pixels_id = ? ORDER BY index_num`, imageID)
	if err != nil {
		return upstream.Pixels{}, fmt.Errorf("sqlmeta: channels for %d: %w", imageID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return upstream.Pixels{}, fmt.Errorf("sqlmeta: scan channel for %d: %w", imageID, err)
		}
		p.Channels = append(p.Channels, upstream.Channel{Name: name.String})
	}
	if err := rows.Err(); err != nil {
		return upstream.Pixels{}, fmt.Errorf("sqlmeta: channels for %d: %w", imageID, err)
	}

	rdefs, err := s.renderingDefs(imageID)
	if err != nil {
		return upstream.Pixels{}, err
	}
	p.Renderings = rdefs
	return p, nil
}

func (s *Source) renderingDefs(imageID int64) ([]upstream.RenderingDef, error) {
	rows, err := s.db.Query(`SELECT id, owner_id, default_z, default_t, model FROM rendering_defs WHERE pixels_id = ?`, imageID)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: rendering_defs for %d: %w", imageID, err)
	}
	defer rows.Close()

	var defs []upstream.RenderingDef
	for rows.Next() {
		var (
			rdefID            int64
			ownerID           int64
			defaultZ, defaultT int
			model             string
		)
		if err := rows.Scan(&rdefID, &ownerID, &defaultZ, &defaultT, &model); err != nil {
			return nil, fmt.Errorf("sqlmeta: scan rendering_def for %d: %w", imageID, err)
		}
		rdef := upstream.RenderingDef{OwnerID: ownerID, DefaultZ: defaultZ, DefaultT: defaultT}
		if model == "greyscale" {
			rdef.Model = upstream.ModelGreyscale
		}
		bindings, err := s.channelBindings(rdefID)
		if err != nil {
			return nil, err
		}
		rdef.Channels = bindings
		defs = append(defs, rdef)
	}
	return defs, rows.Err()
}

func (s *Source) channelBindings(rdefID int64) ([]upstream.ChannelBinding, error) {
	rows, err := s.db.Query(`SELECT active, coefficient, family, inverted, red, green, blue, window_start, window_end, stats_known, stats_min, stats_max FROM channel_bindings WHERE rendering_def_id = ? ORDER BY index_num`, rdefID)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: channel_bindings for %d: %w", rdefID, err)
	}
	defer rows.Close()

	var out []upstream.ChannelBinding
	for rows.Next() {
		var cb upstream.ChannelBinding
		var statsKnown bool
		var statsMin, statsMax float64
		if err := rows.Scan(&cb.Active, &cb.Coefficient, &cb.Family, &cb.Inverted, &cb.Red, &cb.Green, &cb.Blue, &cb.WindowStart, &cb.WindowEnd, &statsKnown, &statsMin, &statsMax); err != nil {
			return nil, fmt.Errorf("sqlmeta: scan channel_binding for %d: %w", rdefID, err)
		}
		cb.Stats = upstream.ChannelStats{Known: statsKnown, Min: statsMin, Max: statsMax}
		out = append(out, cb)
	}
	return out, rows.Err()
}

func (s *Source) GetMask(maskID int64) (upstream.Mask, error) {
	var m upstream.Mask
	m.ID = maskID
	var zSig, cSig, tSig bool
	var zIdx, cIdx, tIdx int
	row := s.db.QueryRow(`SELECT x, y, w, h, z_significant, z_index, c_significant, c_index, t_significant, t_index, bits FROM masks WHERE id = ?`, maskID)
	if err := row.Scan(&m.X, &m.Y, &m.W, &m.H, &zSig, &zIdx, &cSig, &cIdx, &tSig, &tIdx, &m.Bytes); err != nil {
		if err == sql.ErrNoRows {
			return upstream.Mask{}, upstream.ErrNotFound
		}
		return upstream.Mask{}, fmt.Errorf("sqlmeta: GetMask(%d): %w", maskID, err)
	}
	m.Z = upstream.PlaneRestriction{Significant: zSig, Index: zIdx}
	m.C = upstream.PlaneRestriction{Significant: cSig, Index: cIdx}
	m.T = upstream.PlaneRestriction{Significant: tSig, Index: tIdx}
	return m, nil
}

func (s *Source) GetRoi(roiID int64) (upstream.Roi, error) {
	var roi upstream.Roi
	roi.ID = roiID
	row := s.db.QueryRow(`SELECT pixels_id, color FROM rois WHERE id = ?`, roiID)
	if err := row.Scan(&roi.ImageID, &roi.Color); err != nil {
		if err == sql.ErrNoRows {
			return upstream.Roi{}, upstream.ErrNotFound
		}
		return upstream.Roi{}, fmt.Errorf("sqlmeta: GetRoi(%d): %w", roiID, err)
	}
	maskIDs, err := s.GetMaskIDsOfRoi(roiID)
	if err != nil {
		return upstream.Roi{}, err
	}
	roi.MaskIDs = maskIDs
	return roi, nil
}

func (s *Source) GetMaskIDsOfRoi(roiID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT mask_id FROM roi_masks WHERE roi_id = ? ORDER BY index_num`, roiID)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: GetMaskIDsOfRoi(%d): %w", roiID, err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func (s *Source) GetRoiIDsOfImage(imageID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM rois WHERE pixels_id = ? ORDER BY id`, imageID)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: GetRoiIDsOfImage(%d): %w", imageID, err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func (s *Source) GetRoiIDsWithMaskOfImage(imageID int64) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT r.id FROM rois r
		JOIN roi_masks rm ON rm.roi_id = r.id
		WHERE r.pixels_id = ? ORDER BY r.id`, imageID)
	if err != nil {
		return nil, fmt.Errorf("sqlmeta: GetRoiIDsWithMaskOfImage(%d): %w", imageID, err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
