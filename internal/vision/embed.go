package vision

import (
	"fmt"
	"image"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/observability"
)

// ArcFace w600k_r50 takes a 112x112 RGB crop and yields a 512-d descriptor.
const embedInputSize = 112

// Embedder runs the ArcFace recognition model. Calls are serialised per Embedder.
type Embedder struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
}

// NewEmbedder loads the ArcFace model. opts may be nil.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{size: embedInputSize}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(e.size), int64(e.size)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.input = input

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, identity.EmbeddingDim))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	e.output = output

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{input},
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	e.session = session

	return e, nil
}

// Embed returns the L2-normalised embedding of a face crop.
func (e *Embedder) Embed(face image.Image) (identity.Embedding, error) {
	data := preprocessForEmbedding(face, e.size)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	copy(e.input.GetData(), data)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	emb := make(identity.Embedding, identity.EmbeddingDim)
	copy(emb, e.output.GetData())
	identity.Normalize(emb)
	return emb, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}
