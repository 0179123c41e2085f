package models

// Landmark counts produced by the upstream detectors.
const (
	FaceLandmarkCount = 468
	HandLandmarkCount = 21
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkSet is the ordered point list for one detected face or hand.
// It is only meaningful for the frame it was produced in.
type LandmarkSet []Point

// Valid reports whether the set has exactly the expected number of points.
func (s LandmarkSet) Valid(expected int) bool {
	return len(s) == expected
}

// Select returns the points at the given indices. Out of range indices are skipped.
func (s LandmarkSet) Select(indices []int) []Point {
	points := make([]Point, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(s) {
			points = append(points, s[idx])
		}
	}
	return points
}

// Scale converts normalized coordinates into pixel coordinates.
func (s LandmarkSet) Scale(width, height float64) LandmarkSet {
	if len(s) == 0 {
		return nil
	}

	scaled := make(LandmarkSet, len(s))
	for i, p := range s {
		scaled[i] = Point{X: p.X * width, Y: p.Y * height}
	}
	return scaled
}

// BBox is an axis-aligned rectangle given by its top-left and bottom-right corners.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

type FaceObservation struct {
	Landmarks LandmarkSet `json:"landmarks"`
	BBox      *BBox       `json:"bbox,omitempty"`
}

// HandObservation holds one landmark set per detected hand. Hands are not
// tracked across frames.
type HandObservation []LandmarkSet

// FrameObservation is everything the detectors produced for a single frame.
// A nil Face means no face was found.
type FrameObservation struct {
	Timestamp int64            `json:"timestamp"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Face      *FaceObservation `json:"face,omitempty"`
	Hands     HandObservation  `json:"hands,omitempty"`
}
