// Package view holds one frame's inputs and the host/device image buffers they live in.
package view

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// InputImageType is the representation of the incoming depth.
type InputImageType int

const (
	// FloatDepth is already calibrated depth in metres.
	FloatDepth InputImageType = iota
	// ShortDepth is integer millimetres.
	ShortDepth
	// Disparity is raw inverse-depth disparity.
	Disparity
)

func (t InputImageType) String() string {
	switch t {
	case FloatDepth:
		return "float-depth"
	case ShortDepth:
		return "short-depth"
	case Disparity:
		return "disparity"
	default:
		return fmt.Sprintf("InputImageType(%d)", int(t))
	}
}

// SurfacePoint is one pixel of a raycast: a world-space surface point and its colour.
type SurfacePoint struct {
	Point r3.Vector
	Color color.NRGBA
	Valid bool
}

// View holds one frame. It is reused and overwritten for every frame.
type View struct {
	Calib     *Calibration
	InputType InputImageType

	RGB      *Image[color.NRGBA]
	Depth    *Image[float32]
	RawDepth *Image[int16]
}

// New allocates a view. useDevice also allocates device-side buffers.
func New(calib Calibration, rgbSize, depthSize image.Point, useDevice bool) *View {
	return &View{
		Calib:     &calib,
		InputType: FloatDepth,
		RGB:       NewImage[color.NRGBA](rgbSize, useDevice),
		Depth:     NewImage[float32](depthSize, useDevice),
		RawDepth:  NewImage[int16](depthSize, useDevice),
	}
}

// LoadRGB copies img into the host colour buffer.
func (v *View) LoadRGB(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != v.RGB.Width() || b.Dy() != v.RGB.Height() {
		return fmt.Errorf("colour image is %dx%d, view wants %v", b.Dx(), b.Dy(), v.RGB.Size())
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			v.RGB.Set(x, y, c)
		}
	}
	return nil
}

// LoadRawDepth copies a 16 bit depth or disparity image into the host raw depth buffer.
// Values above the int16 range are clamped.
func (v *View) LoadRawDepth(img image.Image, kind InputImageType) error {
	if kind == FloatDepth {
		return fmt.Errorf("raw depth must be %v or %v", ShortDepth, Disparity)
	}
	b := img.Bounds()
	if b.Dx() != v.RawDepth.Width() || b.Dy() != v.RawDepth.Height() {
		return fmt.Errorf("depth image is %dx%d, view wants %v", b.Dx(), b.Dy(), v.RawDepth.Size())
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			d := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			if d > math.MaxInt16 {
				d = math.MaxInt16
			}
			v.RawDepth.Set(x, y, int16(d))
		}
	}
	v.InputType = kind
	return nil
}

// LoadDepth copies metric depth into the host depth buffer.
func (v *View) LoadDepth(metres []float32) error {
	if len(metres) != len(v.Depth.Host()) {
		return fmt.Errorf("depth has %d pixels, view wants %d", len(metres), len(v.Depth.Host()))
	}
	copy(v.Depth.Host(), metres)
	v.InputType = FloatDepth
	return nil
}
