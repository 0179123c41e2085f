package processor

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// FPSCounter smooths the frame rate over the last window frames.
type FPSCounter struct {
	window    int
	intervals []float64
	last      time.Time
	frames    int64
}

func NewFPSCounter(window int) *FPSCounter {
	if window < 1 {
		window = 1
	}
	return &FPSCounter{
		window:    window,
		intervals: make([]float64, 0, window),
	}
}

func (f *FPSCounter) Tick(now time.Time) {
	f.frames++
	if !f.last.IsZero() {
		if len(f.intervals) == f.window {
			f.intervals = f.intervals[1:]
		}
		f.intervals = append(f.intervals, now.Sub(f.last).Seconds())
	}
	f.last = now
}

func (f *FPSCounter) FPS() float64 {
	if len(f.intervals) == 0 {
		return 0
	}

	mean := stat.Mean(f.intervals, nil)
	if mean <= 0 {
		return 0
	}
	return 1 / mean
}

func (f *FPSCounter) Frames() int64 {
	return f.frames
}
