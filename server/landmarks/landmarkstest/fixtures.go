// Package landmarkstest builds synthetic face and hand landmark sets with
// known eye and mouth ratios for tests.
package landmarkstest

import (
	"github.com/san-kum/driver-safety/server/models"
)

// Typical ratios for the default thresholds (EAR 0.21, MAR 0.75).
const (
	OpenEAR   = 0.30
	ClosedEAR = 0.10
	RestMAR   = 0.30
	YawnMAR   = 0.90
)

// FaceBox is the bounding box to pair with Face when a test needs to
// control it explicitly.
var FaceBox = models.BBox{X1: 200, Y1: 100, X2: 400, Y2: 340}

var (
	leftEye  = []int{33, 160, 158, 133, 153, 144}
	rightEye = []int{362, 385, 387, 263, 373, 380}
)

// Face returns a full face mesh whose averaged eye aspect ratio is ear and
// whose mouth aspect ratio is mar.
func Face(ear, mar float64) models.LandmarkSet {
	face := make(models.LandmarkSet, models.FaceLandmarkCount)
	for i := range face {
		face[i] = models.Point{X: 300, Y: 220}
	}

	placeEye(face, leftEye, 230, 180, ear)
	placeEye(face, rightEye, 330, 180, ear)
	placeMouth(face, 300, 290, mar)

	return face
}

// An eye 40px wide with both lid pairs opened by the same amount:
// EAR = 2*(2h) / (2*40) = h/20.
func placeEye(face models.LandmarkSet, idx []int, x, y, ear float64) {
	h := ear * 20
	face[idx[0]] = models.Point{X: x - 20, Y: y}
	face[idx[3]] = models.Point{X: x + 20, Y: y}
	face[idx[1]] = models.Point{X: x - 5, Y: y - h}
	face[idx[5]] = models.Point{X: x - 5, Y: y + h}
	face[idx[2]] = models.Point{X: x + 5, Y: y - h}
	face[idx[4]] = models.Point{X: x + 5, Y: y + h}
}

// A mouth 60px wide: MAR = 2*(2v) / (2*60) = v/30.
func placeMouth(face models.LandmarkSet, x, y, mar float64) {
	v := mar * 30
	face[61] = models.Point{X: x - 30, Y: y}
	face[291] = models.Point{X: x + 30, Y: y}
	face[0] = models.Point{X: x - 5, Y: y - v}
	face[17] = models.Point{X: x - 5, Y: y + v}
	face[269] = models.Point{X: x + 5, Y: y - v}
	face[181] = models.Point{X: x + 5, Y: y + v}
}

// Hand returns a 21-point hand clustered around (x, y).
func Hand(x, y float64) models.LandmarkSet {
	hand := make(models.LandmarkSet, models.HandLandmarkCount)
	for i := range hand {
		dx := float64(i%5) - 2
		dy := float64(i/5) - 2
		hand[i] = models.Point{X: x + dx, Y: y + dy}
	}
	return hand
}

// HandAtEar is held against the right side of FaceBox at ear height. Both
// phone heuristics fire for it.
func HandAtEar() models.LandmarkSet {
	return Hand(410, FaceBox.Center().Y)
}

// HandBesideFace is level with the ear but too far out to count as close.
func HandBesideFace() models.LandmarkSet {
	return Hand(490, FaceBox.Center().Y)
}

// HandFar is nowhere near the face.
func HandFar() models.LandmarkSet {
	return Hand(10, 700)
}
