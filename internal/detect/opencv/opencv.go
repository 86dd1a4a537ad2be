// Package opencv provides local face detection models backed by gocv.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"attendkiosk/internal/detect"
)

// Kind selects the detector implementation.
type Kind string

const (
	KindSSD  Kind = "ssd"
	KindHaar Kind = "haar"
)

// Options locate the model files on the kiosk.
type Options struct {
	Kind     Kind
	Model    string // caffemodel, onnx or cascade xml
	Config   string // prototxt for caffe models
	MinScore float64
}

// Loader returns a detect.LoadFunc for opts.
func Loader(opts Options) detect.LoadFunc {
	return func(ctx context.Context) (detect.Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(opts.Model); err != nil {
			return nil, fmt.Errorf("model file: %w", err)
		}
		switch opts.Kind {
		case KindHaar:
			return NewHaar(opts.Model)
		case KindSSD, "":
			return NewSSD(opts.Model, opts.Config, opts.MinScore)
		default:
			return nil, fmt.Errorf("unknown detector kind %q", opts.Kind)
		}
	}
}

// SSD is the ResNet-10 SSD face detector run through OpenCV DNN.
type SSD struct {
	mu       sync.Mutex
	net      gocv.Net
	minScore float32
}

// NewSSD loads a Caffe or ONNX face detector.
func NewSSD(model, config string, minScore float64) (*SSD, error) {
	net := gocv.ReadNet(model, config)
	if net.Empty() {
		return nil, fmt.Errorf("load dnn model %s", model)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("dnn backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("dnn target: %w", err)
	}
	if minScore <= 0 {
		minScore = 0.5
	}
	return &SSD{net: net, minScore: float32(minScore)}, nil
}

func (s *SSD) Loaded() bool { return true }

// DetectSingleFace returns the most confident face above the minimum score.
func (s *SSD) DetectSingleFace(ctx context.Context, img image.Image) (*detect.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(300, 300), gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()
	s.net.SetInput(blob, "")
	out := s.net.Forward("")
	defer out.Close()
	if out.Empty() || out.Total() < 7 {
		return nil, nil
	}

	// output is [1,1,N,7]: image id, class, confidence, x1, y1, x2, y2
	rows := out.Total() / 7
	flat := out.Reshape(1, rows)
	defer flat.Close()

	w, h := float32(mat.Cols()), float32(mat.Rows())
	var best *detect.Detection
	for i := 0; i < rows; i++ {
		conf := flat.GetFloatAt(i, 2)
		if conf < s.minScore {
			continue
		}
		if best != nil && float64(conf) <= best.Score {
			continue
		}
		r := image.Rect(
			int(flat.GetFloatAt(i, 3)*w), int(flat.GetFloatAt(i, 4)*h),
			int(flat.GetFloatAt(i, 5)*w), int(flat.GetFloatAt(i, 6)*h),
		)
		if r.Empty() {
			continue
		}
		best = &detect.Detection{Rect: r, Score: float64(conf)}
	}
	return best, nil
}

func (s *SSD) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

// Haar wraps an OpenCV cascade classifier. Cascades carry no confidence, so hits score 1.
type Haar struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewHaar loads a cascade xml file.
func NewHaar(path string) (*Haar, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		_ = c.Close()
		return nil, errors.New("load cascade " + path)
	}
	return &Haar{classifier: c}, nil
}

func (h *Haar) Loaded() bool { return true }

// DetectSingleFace returns the largest face.
func (h *Haar) DetectSingleFace(ctx context.Context, img image.Image) (*detect.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	h.mu.Lock()
	rects := h.classifier.DetectMultiScale(gray)
	h.mu.Unlock()

	var best image.Rectangle
	for _, r := range rects {
		if r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
		}
	}
	if best.Empty() {
		return nil, nil
	}
	return &detect.Detection{Rect: best, Score: 1}, nil
}

func (h *Haar) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classifier.Close()
}
