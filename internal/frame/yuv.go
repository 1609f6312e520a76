// Package frame converts raw camera images into Mats the detector accepts.
package frame

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrNilImage is returned when no image is supplied.
	ErrNilImage = errors.New("input image is nil")
	// ErrInvalidPlanes is returned for images without three planes.
	ErrInvalidPlanes = errors.New("invalid image planes")
)

// Plane is one plane of a planar YUV image.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// YUVImage is a YUV 4:2:0 image split into Y, U and V planes, as delivered
// by mobile camera stacks.
type YUVImage struct {
	Width  int
	Height int
	Planes []Plane
}

// ToNV21 packs the image into NV21 order: the Y plane followed by the V and
// U planes. Interleaved chroma planes (pixel stride 2) already overlap in
// that order, so their bytes are copied as-is.
func ToNV21(img *YUVImage) ([]byte, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	if len(img.Planes) < 3 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlanes, len(img.Planes))
	}

	y, u, v := img.Planes[0].Data, img.Planes[1].Data, img.Planes[2].Data

	nv21 := make([]byte, 0, len(y)+len(u)+len(v))
	nv21 = append(nv21, y...)
	nv21 = append(nv21, v...)
	nv21 = append(nv21, u...)
	return nv21, nil
}

// ToMat converts the image into a BGR Mat. The caller owns the result.
func ToMat(img *YUVImage) (gocv.Mat, error) {
	nv21, err := ToNV21(img)
	if err != nil {
		return gocv.NewMat(), err
	}

	if img.Width <= 0 || img.Height <= 0 || img.Height%2 != 0 {
		return gocv.NewMat(), fmt.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}

	want := img.Width * img.Height * 3 / 2
	if len(nv21) < want {
		return gocv.NewMat(), fmt.Errorf("%w: have %d bytes, need %d", ErrInvalidPlanes, len(nv21), want)
	}

	yuv, err := gocv.NewMatFromBytes(img.Height*3/2, img.Width, gocv.MatTypeCV8UC1, nv21[:want])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap nv21: %w", err)
	}
	defer yuv.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(yuv, &bgr, gocv.ColorYUVToBGRNV21)
	return bgr, nil
}
