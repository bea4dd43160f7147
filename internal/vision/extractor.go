package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/observability"
)

type faceDetector interface {
	Detect(img image.Image) ([]Detection, error)
}

type faceEmbedder interface {
	Embed(face image.Image) (identity.Embedding, error)
}

// session is one detector/embedder pair. Each pair runs one image at a time;
// the Extractor hands pairs out from a pool.
type session struct {
	detector faceDetector
	embedder faceEmbedder
	close    func()
}

// Extractor turns image bytes into a face embedding:
// decode → detect → pick first face → pad and crop → embed.
type Extractor struct {
	sessions chan *session
	all      []*session
	padding  int
}

// NewExtractor loads cfg.Sessions detector/embedder pairs. The model weights
// are read-only after load, so pairs run concurrently.
func NewExtractor(cfg config.VisionConfig) (*Extractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectorModel)
	embPath := filepath.Join(cfg.ModelsDir, cfg.EmbedderModel)

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	var sessions []*session
	closeAll := func() {
		for _, s := range sessions {
			s.close()
		}
	}

	for i := 0; i < cfg.Sessions; i++ {
		slog.Info("loading face models", "session", i, "detector", detPath, "embedder", embPath)

		det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), opts)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("load detector: %w", err)
		}
		emb, err := NewEmbedder(embPath, opts)
		if err != nil {
			det.Close()
			closeAll()
			return nil, fmt.Errorf("load embedder: %w", err)
		}
		sessions = append(sessions, &session{
			detector: det,
			embedder: emb,
			close: func() {
				det.Close()
				emb.Close()
			},
		})
	}

	slog.Info("face models ready", "sessions", len(sessions))
	return newExtractor(sessions, cfg.CropPadding), nil
}

func newExtractor(sessions []*session, padding int) *Extractor {
	x := &Extractor{
		sessions: make(chan *session, len(sessions)),
		all:      sessions,
		padding:  padding,
	}
	for _, s := range sessions {
		x.sessions <- s
	}
	return x
}

// Extract implements identity.Extractor. When several faces are present the
// highest-confidence detection wins; the others are ignored.
func (x *Extractor) Extract(ctx context.Context, data []byte) (identity.Embedding, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var s *session
	select {
	case s = <-x.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { x.sessions <- s }()

	dets, err := s.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(dets) == 0 {
		return nil, identity.ErrNoFaceDetected
	}
	if len(dets) > 1 {
		slog.Debug("multiple faces detected, using first", "faces", len(dets))
	}

	face := cropFace(img, dets[0], x.padding)
	if face == nil {
		return nil, identity.ErrNoFaceDetected
	}

	emb, err := s.embedder.Embed(face)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	return emb, nil
}

// Close releases every ONNX session.
func (x *Extractor) Close() {
	for _, s := range x.all {
		if s.close != nil {
			s.close()
		}
	}
}

// InitRuntime points onnxruntime_go at the shared library and initialises it.
func InitRuntime(libPath string) error {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// DestroyRuntime tears down the ONNX Runtime environment.
func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

// DefaultLibPath returns the platform's ONNX Runtime shared library name.
func DefaultLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
