// Package presenter writes the best prediction of each frame to the display.
package presenter

import (
	"strconv"

	"github.com/vzahanych/camsense/internal/display"
	"github.com/vzahanych/camsense/internal/inference"
)

// Sentinel is written to both regions when a frame has no predictions
const Sentinel = "null"

// Top returns the prediction with the highest score. Ties go to the earliest
// in the list. ok is false for an empty list.
func Top(predictions []inference.Prediction) (top inference.Prediction, ok bool) {
	for i, p := range predictions {
		if i == 0 || p.Score > top.Score {
			top = p
		}
	}
	return top, len(predictions) > 0
}

// Format renders a score the way it is shown on the display
func Format(score float32) string {
	return strconv.FormatFloat(float64(score), 'f', -1, 32)
}

// Presenter writes top predictions to the label and score regions
type Presenter struct {
	display *display.Display
}

// New creates a presenter for d
func New(d *display.Display) *Presenter {
	return &Presenter{display: d}
}

// Present selects the top prediction and writes it. Must run on the UI loop.
func (p *Presenter) Present(predictions []inference.Prediction) (inference.Prediction, bool) {
	top, ok := Top(predictions)
	if !ok {
		p.display.SetText(display.RegionLabel, Sentinel)
		p.display.SetText(display.RegionScore, Sentinel)
		return top, false
	}
	p.display.SetText(display.RegionLabel, top.Label)
	p.display.SetText(display.RegionScore, Format(top.Score))
	return top, true
}
