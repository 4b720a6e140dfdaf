package pyramid

import (
	"fmt"

	"github.com/geoanchor/warptile/mercator"
)

// An Address identifies a tile at a zoom level. Public addressing uses the
// north-up (XYZ) row convention; the stored pyramid uses south-up (TMS).
// Flip converts between the two.
type Address struct {
	Z, Col, Row int
}

// Valid reports whether the address lies inside the 2^z x 2^z grid.
func (a Address) Valid() bool {
	if a.Z < 0 || a.Col < 0 || a.Row < 0 {
		return false
	}
	n := 1 << uint(a.Z)
	return a.Col < n && a.Row < n
}

// Flip converts the row between north-up and south-up conventions. The
// conversion is self-inverse.
func (a Address) Flip() Address {
	return Address{Z: a.Z, Col: a.Col, Row: mercator.FlipRow(a.Z, a.Row)}
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.Col, a.Row)
}

// TileAt resolves a public (north-up) address against the stored pyramid.
// Every address resolves to an image: addresses with no data get the shared
// fully transparent placeholder of the pyramid's tile size.
func (p *Pyramid) TileAt(a Address) *Tile {
	stored := a.Flip()
	if t, ok := p.tiles[stored]; ok {
		return t
	}
	return &Tile{Z: stored.Z, Col: stored.Col, Row: stored.Row, Image: Placeholder(p.TileSize)}
}
