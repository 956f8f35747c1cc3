package inference

import "fmt"

// UnknownLabel is used for class indices outside the label file
const UnknownLabel = "???"

// SSDDecoder turns the four outputs of an SSD detection model into
// predictions. The outputs are:
//
//	0: locations [1, N, 4] as ymin, xmin, ymax, xmax
//	1: classes   [1, N]
//	2: scores    [1, N]
//	3: count     [1]
type SSDDecoder struct {
	Labels      []string
	LabelOffset int
	ObjectCount int
}

// Label maps a class index to its label
func (d SSDDecoder) Label(class int) string {
	i := d.LabelOffset + class
	if i < 0 || i >= len(d.Labels) {
		return UnknownLabel
	}
	return d.Labels[i]
}

// Decode builds up to ObjectCount predictions, bounded by the model's count
// output and the lengths of the output arrays.
func (d SSDDecoder) Decode(locations, classes, scores []float32, count float32) ([]Prediction, error) {
	if len(locations) < 4*len(scores) {
		return nil, fmt.Errorf("ssd outputs: %d locations for %d scores", len(locations), len(scores))
	}

	n := d.ObjectCount
	if n <= 0 || n > len(scores) {
		n = len(scores)
	}
	if len(classes) < n {
		n = len(classes)
	}
	if c := int(count); count >= 0 && c < n {
		n = c
	}

	out := make([]Prediction, 0, n)
	for i := 0; i < n; i++ {
		loc := locations[i*4 : i*4+4]
		out = append(out, Prediction{
			Label: d.Label(int(classes[i])),
			Score: scores[i],
			Box: BoundingBox{
				Left:   loc[1],
				Top:    loc[0],
				Right:  loc[3],
				Bottom: loc[2],
			},
		})
	}
	return out, nil
}
