// Package geometry computes the scalar facial ratios used by the detectors.
// Every function is total: malformed input yields 0 instead of an error.
package geometry

import (
	"math"

	"github.com/san-kum/driver-safety/server/models"
	"gonum.org/v1/gonum/stat"
)

// MinMouthPoints is the smallest mouth subset MouthAspectRatio accepts.
const MinMouthPoints = 14

func Distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio expects six points ordered outer corner, two upper lid
// points, inner corner, two lower lid points:
//
//	EAR = (|p1-p5| + |p2-p4|) / (2 * |p0-p3|)
func EyeAspectRatio(eye []models.Point) float64 {
	if len(eye) != 6 {
		return 0
	}

	horizontal := Distance(eye[0], eye[3])
	if horizontal == 0 {
		return 0
	}

	vertical1 := Distance(eye[1], eye[5])
	vertical2 := Distance(eye[2], eye[4])

	return (vertical1 + vertical2) / (2.0 * horizontal)
}

// MouthAspectRatio uses the two mouth corners (0, 1) as the width and the
// lip pairs (2, 10) and (4, 8) as the opening.
func MouthAspectRatio(mouth []models.Point) float64 {
	if len(mouth) < MinMouthPoints {
		return 0
	}

	horizontal := Distance(mouth[0], mouth[1])
	if horizontal == 0 {
		return 0
	}

	vertical1 := Distance(mouth[2], mouth[10])
	vertical2 := Distance(mouth[4], mouth[8])

	return (vertical1 + vertical2) / (2.0 * horizontal)
}

// Centroid returns the mean point. An empty slice gives the origin.
func Centroid(points []models.Point) models.Point {
	if len(points) == 0 {
		return models.Point{}
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}

	return models.Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
}

// BoundsOf returns the bounding box of points grown by pad on every side.
// When width and height are positive the box is clamped to the frame.
func BoundsOf(points []models.Point, pad, width, height float64) (models.BBox, bool) {
	if len(points) == 0 {
		return models.BBox{}, false
	}

	box := models.BBox{X1: points[0].X, Y1: points[0].Y, X2: points[0].X, Y2: points[0].Y}
	for _, p := range points[1:] {
		box.X1 = math.Min(box.X1, p.X)
		box.Y1 = math.Min(box.Y1, p.Y)
		box.X2 = math.Max(box.X2, p.X)
		box.Y2 = math.Max(box.Y2, p.Y)
	}

	box.X1 -= pad
	box.Y1 -= pad
	box.X2 += pad
	box.Y2 += pad

	if width > 0 && height > 0 {
		box.X1 = math.Max(0, box.X1)
		box.Y1 = math.Max(0, box.Y1)
		box.X2 = math.Min(width, box.X2)
		box.Y2 = math.Min(height, box.Y2)
	}

	return box, true
}
