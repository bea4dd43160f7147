package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/faceid/internal/identity"
)

// DecodeImage decodes any registered format (jpeg, png, gif, bmp, webp) into
// an RGBA raster anchored at the origin.
func DecodeImage(data []byte) (*image.RGBA, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrInvalidImage, err)
	}

	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty %s image", identity.ErrInvalidImage, format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

// PadBox grows box by padding pixels on every side and clips it to bounds.
func PadBox(box image.Rectangle, padding int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(
		box.Min.X-padding,
		box.Min.Y-padding,
		box.Max.X+padding,
		box.Max.Y+padding,
	).Intersect(bounds)
}

// cropFace returns the padded detection region of img, or nil when it is empty.
func cropFace(img *image.RGBA, det Detection, padding int) image.Image {
	r := PadBox(det.Rect(), padding, img.Bounds())
	if r.Empty() {
		return nil
	}
	return img.SubImage(r)
}

func preprocessForDetection(img image.Image, size int) []float32 {
	return imageToCHW(img, size, size, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})
}

func preprocessForEmbedding(img image.Image, size int) []float32 {
	return imageToCHW(img, size, size, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToCHW resizes img to w x h and lays it out as planar RGB floats:
//
//	value = (pixel - mean) / std
func imageToCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			i := y*w + x
			data[i] = (float32(px[0]) - mean[0]) / std[0]
			data[plane+i] = (float32(px[1]) - mean[1]) / std[1]
			data[2*plane+i] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return data
}
