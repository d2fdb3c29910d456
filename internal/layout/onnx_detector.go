package layout

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/folio/internal/onnx"
	"github.com/MeKo-Tech/folio/internal/utils"
	"github.com/yalue/onnxruntime_go"
)

// DefaultLabels is the class list of PP-DocLayout style exports, indexed by class id.
var DefaultLabels = []string{
	"paragraph_title", "image", "text", "number", "abstract", "content",
	"figure_title", "formula", "table", "table_title", "reference", "doc_title",
	"footnote", "header", "algorithm", "footer", "seal", "chart_title", "chart",
	"formula_number", "header_image", "footer_image", "aside_text",
}

const (
	inputImage       = "image"
	inputImShape     = "im_shape"
	inputScaleFactor = "scale_factor"
)

// ONNXConfig configures the ONNX layout detector.
type ONNXConfig struct {
	ModelPath    string
	LibraryPath  string
	InputSize    int
	Labels       []string
	UseNMS       bool
	NMSThreshold float64
	NumThreads   int
	GPU          onnx.GPUConfig
}

// DefaultONNXConfig returns defaults for an 800x800 PP-DocLayout export.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		InputSize:    800,
		Labels:       slices.Clone(DefaultLabels),
		UseNMS:       true,
		NMSThreshold: 0.5,
		GPU:          onnx.DefaultGPUConfig(),
	}
}

func (c ONNXConfig) validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if len(c.Labels) == 0 {
		return errors.New("at least one label is required")
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold must be in [0,1], got %.2f", c.NMSThreshold)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}

// ONNXDetector runs a document layout model with ONNX Runtime.
// Session runs are serialized; the detector is safe for concurrent use.
type ONNXDetector struct {
	config     ONNXConfig
	session    *onnxruntime_go.DynamicAdvancedSession
	inputNames []string
	mu         sync.Mutex
}

// NewONNXDetector loads the model and creates an inference session.
func NewONNXDetector(config ONNXConfig) (*ONNXDetector, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model file: %w", ErrDetectorUnavailable, err)
	}

	slog.Debug("Initializing layout detector",
		"model_path", config.ModelPath,
		"input_size", config.InputSize,
		"gpu_enabled", config.GPU.UseGPU,
		"use_nms", config.UseNMS)

	if err := onnx.InitEnvironment(config.LibraryPath, config.GPU.UseGPU); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get model input/output info: %w", ErrDetectorUnavailable, err)
	}
	inputNames, outputName, err := resolveModelIO(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}

	opts, err := onnx.NewSessionOptions(config.NumThreads, config.GPU)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath, inputNames, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", ErrDetectorUnavailable, err)
	}

	slog.Debug("Layout detector initialized", "inputs", inputNames, "output", outputName)
	return &ONNXDetector{config: config, session: session, inputNames: inputNames}, nil
}

// resolveModelIO checks the model exposes an image input plus, optionally,
// the im_shape and scale_factor inputs of Paddle detection exports.
func resolveModelIO(inputs, outputs []onnxruntime_go.InputOutputInfo) ([]string, string, error) {
	if len(outputs) == 0 {
		return nil, "", errors.New("model has no outputs")
	}
	names := make([]string, 0, len(inputs))
	hasImage := false
	for _, in := range inputs {
		switch in.Name {
		case inputImage:
			if len(in.Dimensions) != 4 {
				return nil, "", fmt.Errorf("expected 4D image input, got %dD", len(in.Dimensions))
			}
			hasImage = true
		case inputImShape, inputScaleFactor:
		default:
			return nil, "", fmt.Errorf("unexpected model input %q", in.Name)
		}
		names = append(names, in.Name)
	}
	if !hasImage {
		return nil, "", fmt.Errorf("model has no %q input", inputImage)
	}
	return names, outputs[0].Name, nil
}

// Close releases the inference session.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

// Detect implements Detector.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]RawRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, &utils.ImageProcessingError{Operation: "detect", Err: errors.New("input image is nil")}
	}
	start := time.Now()
	b := img.Bounds()
	origW, origH := b.Dx(), b.Dy()
	size := d.config.InputSize

	resized := utils.ResizeExact(img, size, size)
	imageTensor, err := onnx.ImageToNCHW(resized, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	if err != nil {
		return nil, fmt.Errorf("%w: preprocess: %w", ErrDetectorUnavailable, err)
	}
	defer imageTensor.Release()

	scaleY := float32(size) / float32(origH)
	scaleX := float32(size) / float32(origW)
	feeds := map[string]onnx.Tensor{
		inputImage:       imageTensor,
		inputImShape:     onnx.NewVectorTensor(float32(size), float32(size)),
		inputScaleFactor: onnx.NewVectorTensor(scaleY, scaleX),
	}

	data, shape, err := d.run(feeds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}

	rescale := !slices.Contains(d.inputNames, inputScaleFactor)
	var sx, sy float64 = 1, 1
	if rescale {
		sx, sy = float64(origW)/float64(size), float64(origH)/float64(size)
	}
	regions, err := DecodeDetections(data, shape, d.config.Labels, sx, sy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}
	if d.config.UseNMS {
		regions = NonMaxSuppression(regions, d.config.NMSThreshold, false)
	}

	slog.Debug("Layout detection complete",
		"width", origW, "height", origH,
		"regions", len(regions),
		"duration_ms", time.Since(start).Milliseconds())
	return regions, nil
}

func (d *ONNXDetector) run(feeds map[string]onnx.Tensor) ([]float32, []int64, error) {
	inputs := make([]onnxruntime_go.Value, 0, len(d.inputNames))
	defer func() {
		for _, v := range inputs {
			if err := v.Destroy(); err != nil {
				slog.Warn("failed to destroy input tensor", "error", err)
			}
		}
	}()
	for _, name := range d.inputNames {
		t := feeds[name]
		v, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		inputs = append(inputs, v)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, nil, errors.New("detector is closed")
	}

	outputs := []onnxruntime_go.Value{nil}
	if err := d.session.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			if err := outputs[0].Destroy(); err != nil {
				slog.Warn("failed to destroy output tensor", "error", err)
			}
		}
	}()

	out, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	data := slices.Clone(out.GetData())
	return data, []int64(out.GetShape()), nil
}

// DecodeDetections converts a [N, K>=6] detection tensor with rows
// (class_id, score, x1, y1, x2, y2, ...) into raw regions, scaling coordinates
// by sx and sy. Rows with an unknown class id are skipped.
func DecodeDetections(data []float32, shape []int64, labels []string, sx, sy float64) ([]RawRegion, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected 2D detection output, got shape %v", shape)
	}
	rows, cols := int(shape[0]), int(shape[1])
	if cols < 6 {
		return nil, fmt.Errorf("expected at least 6 values per detection, got %d", cols)
	}
	if len(data) < rows*cols {
		return nil, fmt.Errorf("detection output has %d values, want %d", len(data), rows*cols)
	}

	regions := make([]RawRegion, 0, rows)
	for i := range rows {
		row := data[i*cols : (i+1)*cols]
		class := int(row[0])
		if class < 0 || class >= len(labels) {
			continue
		}
		regions = append(regions, RawRegion{
			Label: labels[class],
			Score: float64(row[1]),
			X1:    float64(row[2]) * sx,
			Y1:    float64(row[3]) * sy,
			X2:    float64(row[4]) * sx,
			Y2:    float64(row[5]) * sy,
		})
	}
	return regions, nil
}
