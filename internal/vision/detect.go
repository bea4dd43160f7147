package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/observability"
)

// Detection is one face found by the detector, in source-image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Rect returns the detection box as integer image coordinates.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(d.BBox[0]))),
		int(math.Floor(float64(d.BBox[1]))),
		int(math.Ceil(float64(d.BBox[2]))),
		int(math.Ceil(float64(d.BBox[3]))),
	)
}

// retinaFace output layout for det_10g at 640x640 (no batch dimension):
// scores [N,1], boxes [N,4], landmarks [N,10] for strides 8, 16 and 32,
// with N = (640/stride)^2 * 2 anchors.
var (
	detStrides = []int{8, 16, 32}

	detOutputs = []struct {
		name string
		cols int64
	}{
		{"448", 1}, {"471", 1}, {"494", 1},
		{"451", 4}, {"474", 4}, {"497", 4},
		{"454", 10}, {"477", 10}, {"500", 10},
	}
)

const (
	detInputSize      = 640
	detAnchorsPerCell = 2
	detNMSThreshold   = 0.4
)

// Detector runs RetinaFace through ONNX Runtime. A Detector owns its tensors,
// so Detect calls are serialised.
type Detector struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32
	size      int
}

// NewDetector loads the RetinaFace model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, size: detInputSize}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.size), int64(d.size)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	d.input = input

	names := make([]string, len(detOutputs))
	values := make([]ort.Value, len(detOutputs))
	for i, out := range detOutputs {
		stride := detStrides[i%len(detStrides)]
		rows := int64((d.size / stride) * (d.size / stride) * detAnchorsPerCell)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, out.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		d.outputs = append(d.outputs, t)
		names[i] = out.name
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{input},
		values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session

	return d, nil
}

// Detect finds faces in img. Results are ordered by descending confidence
// after non-maximum suppression.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	start := time.Now()
	data := preprocessForDetection(img, d.size)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	d.mu.Lock()
	defer d.mu.Unlock()

	start = time.Now()
	copy(d.input.GetData(), data)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	b := img.Bounds()
	outs := make([][]float32, len(d.outputs))
	for i, t := range d.outputs {
		outs[i] = t.GetData()
	}
	dets := decodeRetinaFace(outs, d.size, b.Dx(), b.Dy(), d.threshold)
	for i := range dets {
		dets[i].BBox[0] += float32(b.Min.X)
		dets[i].BBox[1] += float32(b.Min.Y)
		dets[i].BBox[2] += float32(b.Min.X)
		dets[i].BBox[3] += float32(b.Min.Y)
	}
	return nms(dets, detNMSThreshold), nil
}

// decodeRetinaFace turns anchor-relative distances into boxes scaled to the
// original width and height. outs holds scores, boxes and landmarks per stride.
func decodeRetinaFace(outs [][]float32, size, origW, origH int, threshold float32) []Detection {
	var dets []Detection

	scaleW := float32(origW) / float32(size)
	scaleH := float32(origH) / float32(size)

	for si, stride := range detStrides {
		scores := outs[si]
		boxes := outs[si+len(detStrides)]
		st := float32(stride)
		cells := size / stride

		idx := 0
		for cy := 0; cy < cells; cy++ {
			for cx := 0; cx < cells; cx++ {
				for a := 0; a < detAnchorsPerCell; a, idx = a+1, idx+1 {
					if scores[idx] < threshold {
						continue
					}
					ax := float32(cx) * st
					ay := float32(cy) * st
					dets = append(dets, Detection{
						BBox: [4]float32{
							clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
							clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
							clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
							clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
						},
						Confidence: scores[idx],
					})
				}
			}
		}
	}
	return dets
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		if t != nil {
			t.Destroy()
		}
	}
}

func nms(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) == 0 {
		return dets
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	suppressed := make([]bool, len(dets))
	var kept []Detection
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if !suppressed[j] && iou(dets[i].BBox, dets[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
