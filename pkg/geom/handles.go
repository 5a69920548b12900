package geom

import (
	"github.com/pagemark/pagemark.go/pkg/models"
)

// Handle names a corner of a selected annotation's bounding rect.
type Handle string

const (
	HandleNW Handle = "nw"
	HandleNE Handle = "ne"
	HandleSW Handle = "sw"
	HandleSE Handle = "se"
)

// Handles returns the four corner handle positions of a screen-space rect,
// keyed by handle name.
func Handles(r models.Rect) map[Handle]models.Point {
	return map[Handle]models.Point{
		HandleNW: {X: r.X, Y: r.Y},
		HandleNE: {X: r.X + r.Width, Y: r.Y},
		HandleSW: {X: r.X, Y: r.Y + r.Height},
		HandleSE: {X: r.X + r.Width, Y: r.Y + r.Height},
	}
}

// HitTestHandle returns the handle whose grab area contains p, if any.
// The grab radius is screen-space pixels.
func HitTestHandle(r models.Rect, p models.Point, radius float64) (Handle, bool) {
	for handle, corner := range Handles(r) {
		if distance(corner, p) <= radius {
			return handle, true
		}
	}
	return "", false
}

// ResizeBy moves the corner under the dragged handle by delta, keeping the
// opposite corner fixed, and re-normalizes. Dragging a corner past its
// opposite flips the rect instead of producing negative dimensions.
func ResizeBy(r models.Rect, handle Handle, delta models.Point) models.Rect {
	moving := Handles(r)[handle]
	moving.X += delta.X
	moving.Y += delta.Y

	var anchor models.Point
	switch handle {
	case HandleNW:
		anchor = models.Point{X: r.X + r.Width, Y: r.Y + r.Height}
	case HandleNE:
		anchor = models.Point{X: r.X, Y: r.Y + r.Height}
	case HandleSW:
		anchor = models.Point{X: r.X + r.Width, Y: r.Y}
	case HandleSE:
		anchor = models.Point{X: r.X, Y: r.Y}
	}

	return NormalizeRect(anchor, moving)
}
