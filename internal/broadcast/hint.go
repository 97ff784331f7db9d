package broadcast

import (
	"errors"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
)

// ErrNoGroupsOrImages is returned by ComputeHint when the server's config
// declares no groups or no images, which makes a first hint impossible.
var ErrNoGroupsOrImages = errors.New("broadcast: no groups or images configured")

// position is a unit's (row, col) within its group, used only for the
// snake placement computation below.
type position struct{ row, col uint8 }

// ComputeHint derives the next suggested registration slot from the
// previous hint (nil on first call) and the units currently registered in
// that hint's group, using a snake placement: row 1 fills left-to-right
// until no unit has claimed column col+1, then each subsequent row wraps
// at the width established by row 1.
func ComputeHint(prev *registry.RegistrationHint, firstGroup uint8, firstImage string, unitsInGroup []registry.Unit) (registry.RegistrationHint, error) {
	if prev == nil {
		return registry.RegistrationHint{Group: firstGroup, Row: 1, Col: 1, Image: firstImage}, nil
	}

	positions := make([]position, len(unitsInGroup))
	for i, u := range unitsInGroup {
		positions[i] = position{row: u.Row, col: u.Col}
	}

	row, col := prev.Row, prev.Col
	if row == 0 {
		if best, ok := maxPosition(positions); ok {
			row, col = best.row, best.col
		}
	}

	var mrow, mcol uint8
	for _, p := range positions {
		if p.row > mrow {
			mrow = p.row
		}
		if p.col > mcol {
			mcol = p.col
		}
	}

	switch {
	case mrow == 0:
		row, col = 1, 1
	case mrow == 1:
		row, col = 1, mcol+1
	default:
		row, col = row+col/mcol, col%mcol+1
	}

	return registry.RegistrationHint{Group: prev.Group, Row: row, Col: col, Image: prev.Image}, nil
}

// maxPosition returns the lexicographically greatest (row, col) pair,
// comparing row first then col, matching a plain tuple max().
func maxPosition(positions []position) (position, bool) {
	var best position
	found := false
	for _, p := range positions {
		if !found || p.row > best.row || (p.row == best.row && p.col > best.col) {
			best = p
			found = true
		}
	}
	return best, found
}
