package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Config locates the model artefacts on disk.
type Config struct {
	ModelPath    string
	MetadataPath string // empty means DefaultMetadata
	LibraryPath  string // onnxruntime shared library, empty means the runtime default
}

// session runs one forward pass. The ONNX implementation binds its tensors at
// construction, so Run must not be called concurrently.
type session interface {
	Run(input []float32) ([]float32, error)
	Destroy()
}

type sessionFactory func(modelPath string, meta Metadata) (session, error)

// Server owns the loaded classifier. It is built once at startup and handed
// to whoever needs inference.
type Server struct {
	cfg        Config
	Metadata   Metadata
	newSession sessionFactory
	ownsEnv    bool

	mu   sync.Mutex
	sess session
}

func NewServer(cfg Config) (*Server, error) {
	meta, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	s, err := newServer(cfg, meta, newONNXSession)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}
	s.ownsEnv = true
	return s, nil
}

func newServer(cfg Config, meta Metadata, factory sessionFactory) (*Server, error) {
	meta.applyDefaults()
	sess, err := factory(cfg.ModelPath, meta)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:        cfg,
		Metadata:   meta,
		newSession: factory,
		sess:       sess,
	}, nil
}

// LoadMetadata reads the model metadata file. An empty path yields the
// built-in emotion model description.
func LoadMetadata(path string) (Metadata, error) {
	if path == "" {
		return DefaultMetadata(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()
	return meta, nil
}

// InputSize is the number of float32 values one input tensor holds.
func (s *Server) InputSize() int {
	n := 1
	for _, d := range s.Metadata.InputShape {
		n *= int(d)
	}
	return n
}

// Classify runs the model over t and returns the most likely label.
func (s *Server) Classify(t Tensor) (*Classification, error) {
	if !slices.Equal(t.Shape, s.Metadata.InputShape) {
		return nil, fmt.Errorf("%w: got %v, expected %v", ErrShapeMismatch, t.Shape, s.Metadata.InputShape)
	}
	if len(t.Data) != s.InputSize() {
		return nil, fmt.Errorf("%w: got %d values, expected %d", ErrShapeMismatch, len(t.Data), s.InputSize())
	}

	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("model not loaded")
	}
	out, err := s.sess.Run(t.Data)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	classes := s.Metadata.Classes
	if len(out) < len(classes) {
		return nil, fmt.Errorf("model produced %d scores for %d classes", len(out), len(classes))
	}
	scores := out[:len(classes)]
	if s.Metadata.OutputActivation == ActivationLogits {
		scores = softmax(scores)
	}

	maxIdx := 0
	predictions := make(map[string]float32, len(classes))
	for i, val := range scores {
		val = clamp01(val)
		predictions[classes[i]] = val
		if val > predictions[classes[maxIdx]] {
			maxIdx = i
		}
	}

	return &Classification{
		Label:         classes[maxIdx],
		Confidence:    predictions[classes[maxIdx]],
		Probabilities: predictions,
	}, nil
}

// Info reports the current model state.
func (s *Server) Info() Info {
	s.mu.Lock()
	loaded := s.sess != nil
	s.mu.Unlock()

	status := "loaded"
	if !loaded {
		status = "not_loaded"
	}
	return Info{
		Status:         status,
		ModelPath:      s.cfg.ModelPath,
		InputShape:     s.Metadata.InputShape,
		OutputShape:    s.Metadata.OutputShape,
		Layout:         s.Metadata.Layout,
		ImageSize:      s.Metadata.ImageSize,
		EmotionClasses: s.Metadata.Classes,
	}
}

// Reload rebuilds the session from disk and swaps it in. Calls already inside
// Classify finish on the previous session.
func (s *Server) Reload() error {
	next, err := s.newSession(s.cfg.ModelPath, s.Metadata)
	if err != nil {
		return fmt.Errorf("reload model: %w", err)
	}
	s.mu.Lock()
	prev := s.sess
	s.sess = next
	s.mu.Unlock()
	if prev != nil {
		prev.Destroy()
	}
	return nil
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.sess != nil {
		s.sess.Destroy()
		s.sess = nil
	}
	s.mu.Unlock()
	if s.ownsEnv {
		ort.DestroyEnvironment()
	}
}

func softmax(in []float32) []float32 {
	out := make([]float32, len(in))
	maxVal := in[0]
	for _, v := range in {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func clamp01(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type onnxSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newONNXSession(modelPath string, meta Metadata) (session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:      sess,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (o *onnxSession) Run(input []float32) ([]float32, error) {
	copy(o.inputTensor.GetData(), input)
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return slices.Clone(o.outputTensor.GetData()), nil
}

func (o *onnxSession) Destroy() {
	o.inputTensor.Destroy()
	o.outputTensor.Destroy()
	o.session.Destroy()
}
