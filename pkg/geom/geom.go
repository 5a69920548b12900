// Package geom converts between page space and screen space and prepares
// draft geometry for commit: rectangle normalization, freehand smoothing
// and simplification, and resize-handle math.
//
// Page space is the zoom-independent coordinate system annotations are
// stored in. Screen space is page space scaled by the current zoom factor.
package geom

import (
	"math"

	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/models"
)

// ToPageSpace converts a screen-space value at the given zoom. Zoom is
// always > 0.
func ToPageSpace(screen, zoom float64) float64 {
	return screen / zoom
}

// ToScreenSpace converts a page-space value at the given zoom.
func ToScreenSpace(page, zoom float64) float64 {
	return page * zoom
}

// RectToPageSpace converts every component of a screen-space rect.
func RectToPageSpace(r models.Rect, zoom float64) models.Rect {
	return models.Rect{
		X:      ToPageSpace(r.X, zoom),
		Y:      ToPageSpace(r.Y, zoom),
		Width:  ToPageSpace(r.Width, zoom),
		Height: ToPageSpace(r.Height, zoom),
	}
}

// RectToScreenSpace converts every component of a page-space rect.
func RectToScreenSpace(r models.Rect, zoom float64) models.Rect {
	return models.Rect{
		X:      ToScreenSpace(r.X, zoom),
		Y:      ToScreenSpace(r.Y, zoom),
		Width:  ToScreenSpace(r.Width, zoom),
		Height: ToScreenSpace(r.Height, zoom),
	}
}

// PathToPageSpace converts a screen-space point path.
func PathToPageSpace(points []models.Point, zoom float64) []models.Point {
	out := make([]models.Point, len(points))
	for i, p := range points {
		out[i] = models.Point{X: ToPageSpace(p.X, zoom), Y: ToPageSpace(p.Y, zoom)}
	}
	return out
}

// NormalizeRect builds a rect from two opposite corners regardless of drag
// direction. Width and height are always non-negative.
func NormalizeRect(p1, p2 models.Point) models.Rect {
	return models.Rect{
		X:      math.Min(p1.X, p2.X),
		Y:      math.Min(p1.Y, p2.Y),
		Width:  math.Abs(p1.X - p2.X),
		Height: math.Abs(p1.Y - p2.Y),
	}
}

// BelowMinSize reports whether a drag draft is too small to commit.
// Stray clicks produce degenerate rects; those are discarded instead of
// becoming zero-size annotations.
func BelowMinSize(r models.Rect) bool {
	return r.Width <= constants.MinDraftSize || r.Height <= constants.MinDraftSize
}

// SmoothPath applies a 3-point moving average over the interior points.
// Endpoints are preserved exactly. Paths with fewer than three points are
// returned as-is.
func SmoothPath(points []models.Point) []models.Point {
	if len(points) < 3 {
		return points
	}
	out := make([]models.Point, len(points))
	out[0] = points[0]
	for i := 1; i < len(points)-1; i++ {
		out[i] = models.Point{
			X: (points[i-1].X + points[i].X + points[i+1].X) / 3,
			Y: (points[i-1].Y + points[i].Y + points[i+1].Y) / 3,
		}
	}
	out[len(points)-1] = points[len(points)-1]
	return out
}

// SimplifyPath drops points closer than minDistance to the last retained
// point. The first and last input points are always kept, so stroke ends
// stay anchored where the user lifted the pen.
func SimplifyPath(points []models.Point, minDistance float64) []models.Point {
	if len(points) < 3 {
		return points
	}
	out := make([]models.Point, 0, len(points))
	out = append(out, points[0])
	last := points[0]
	for _, p := range points[1 : len(points)-1] {
		if distance(last, p) < minDistance {
			continue
		}
		out = append(out, p)
		last = p
	}
	return append(out, points[len(points)-1])
}

// PreparePath is the commit pipeline for freehand ink: smooth out pointer
// jitter, then bound the stored point count. Running it again on its own
// output keeps the path stable: simplification spaces the points far
// enough apart that the averaging window barely moves them.
func PreparePath(points []models.Point) []models.Point {
	return SimplifyPath(SmoothPath(points), constants.MinPointDistance)
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
