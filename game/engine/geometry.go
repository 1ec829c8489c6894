package engine

// Rect is an axis-aligned box in tile coordinates.
type Rect struct {
	X, Y, W, H float64
}

// FootprintAt returns the square footprint of edge size anchored at p.
func FootprintAt(p Position, size float64) Rect {
	return Rect{X: p.X, Y: p.Y, W: size, H: size}
}

// Intersects reports whether r and o overlap with positive area. Boxes that
// only share an edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W &&
		r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Contains reports whether p lies inside r, right and bottom edges excluded.
func (r Rect) Contains(p Position) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}
