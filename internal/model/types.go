package model

import "errors"

// ErrShapeMismatch is returned by Classify when the tensor does not match the
// model's fixed input shape.
var ErrShapeMismatch = errors.New("tensor shape does not match model input")

// Tensor layouts understood by the normalizer.
const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Output activations declared in the metadata file.
const (
	ActivationSoftmax = "softmax" // model already emits probabilities
	ActivationLogits  = "logits"  // softmax is applied after inference
)

// DefaultClasses is the ordered label set of the emotion model.
var DefaultClasses = []string{"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"}

const DefaultImageSize = 96

type Metadata struct {
	InputShape       []int64  `json:"input_shape"`
	OutputShape      []int64  `json:"output_shape"`
	Classes          []string `json:"classes"`
	ImageSize        int      `json:"image_size"`
	Layout           string   `json:"layout"`
	InputName        string   `json:"input_name"`
	OutputName       string   `json:"output_name"`
	OutputActivation string   `json:"output_activation"`
}

// DefaultMetadata describes the 96x96 RGB seven-class emotion model.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:       []int64{1, DefaultImageSize, DefaultImageSize, 3},
		OutputShape:      []int64{1, int64(len(DefaultClasses))},
		Classes:          append([]string(nil), DefaultClasses...),
		ImageSize:        DefaultImageSize,
		Layout:           LayoutNHWC,
		InputName:        "input",
		OutputName:       "output",
		OutputActivation: ActivationSoftmax,
	}
}

func (m *Metadata) applyDefaults() {
	def := DefaultMetadata()
	if len(m.Classes) == 0 {
		m.Classes = def.Classes
	}
	if m.Layout == "" {
		m.Layout = def.Layout
	}
	if m.ImageSize == 0 {
		m.ImageSize = def.ImageSize
	}
	if len(m.InputShape) == 0 {
		if m.Layout == LayoutNCHW {
			m.InputShape = []int64{1, 3, int64(m.ImageSize), int64(m.ImageSize)}
		} else {
			m.InputShape = []int64{1, int64(m.ImageSize), int64(m.ImageSize), 3}
		}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
	if m.OutputActivation == "" {
		m.OutputActivation = def.OutputActivation
	}
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Classification is the argmax result of one inference.
type Classification struct {
	Label         string             `json:"label"`
	Confidence    float32            `json:"confidence"`
	Probabilities map[string]float32 `json:"probabilities"`
}

// Info describes the loaded model for the model_info endpoints.
type Info struct {
	Status         string   `json:"status"`
	ModelPath      string   `json:"model_path"`
	InputShape     []int64  `json:"input_shape"`
	OutputShape    []int64  `json:"output_shape"`
	Layout         string   `json:"layout"`
	ImageSize      int      `json:"image_size"`
	EmotionClasses []string `json:"emotion_classes"`
}
