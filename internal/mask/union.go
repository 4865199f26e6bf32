package mask

// UnionMask is an ordered collection of ImageMasks whose combined
// significance per dimension is the logical OR of its members'.
// Built incrementally: each incoming mask is fused into an existing
// member when ImageMask.Union succeeds (same plane restrictions,
// rectangles in a containment relation); otherwise it's appended as a
// separate member (spec.md §3 "UnionMask").
type UnionMask struct {
	members []ImageMask
}

// Build folds masks left to right into a UnionMask, fusing each one
// into the first existing member it can (the first member whose
// rectangle envelopes or is enveloped by it and whose plane
// restrictions match), else appending it as a new member.
func Build(masks []ImageMask) UnionMask {
	var u UnionMask
	for _, m := range masks {
		u.absorb(m)
	}
	return u
}

func (u *UnionMask) absorb(m ImageMask) {
	for i, existing := range u.members {
		if fused, ok := Union(existing, m); ok {
			u.members[i] = fused
			return
		}
	}
	u.members = append(u.members, m)
}

// Members returns the union's current members, in absorption order.
func (u UnionMask) Members() []ImageMask { return u.members }

func (u UnionMask) Significant(d Dim) bool {
	for _, m := range u.members {
		if m.Significant(d) {
			return true
		}
	}
	return false
}

// Reader returns a predicate true wherever any member's reader is true
// at (z,c,t,x,y). It always succeeds (a UnionMask with no applicable
// member simply never reports true), unlike ImageMask.Reader which can
// report "no reader" for a single mask.
func (u UnionMask) Reader(z, c, t int) (Reader, bool) {
	readers := make([]Reader, 0, len(u.members))
	for _, m := range u.members {
		if r, ok := m.Reader(z, c, t); ok {
			readers = append(readers, r)
		}
	}
	return ReaderFunc(func(x, y int) bool {
		for _, r := range readers {
			if r.Test(x, y) {
				return true
			}
		}
		return false
	}), true
}

func (u UnionMask) SizeEstimate() int {
	total := 0
	for _, m := range u.members {
		total += m.SizeEstimate()
	}
	return total
}
