package types

// FrameTask represents a single raw RGBA frame sent to an engine for processing
type FrameTask struct {
	Index int
	Data  []byte
}

// Point is one landmark in pixel coordinates of the detector input image.
// Z is model-relative depth and is not used for drawing.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Landmarks is the ordered keypoint set of one detected subject
type Landmarks struct {
	Coords []Point `json:"coords"`
}

// DetectionResult is one subject found by the pose detector
type DetectionResult struct {
	Score     float64   `json:"score"`
	Landmarks Landmarks `json:"landmarks"`
}

// ErrorResult is the JSON body returned by the HTTP host on failure
type ErrorResult struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
