// Package imgutils has image helpers for looking at fusion output.
package imgutils

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"go.viam.com/rdk/pointcloud"

	"github.com/erh/vfusion/view"
)

// MeanBrightness is the average grey level of img, 0 for an empty image.
func MeanBrightness(img image.Image) float64 {
	bounds := img.Bounds()

	totalValue := 0.0
	numPixels := 0.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			grayColor := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			totalValue += float64(grayColor.Y)
			numPixels++
		}
	}

	if numPixels == 0 {
		return 0
	}
	return totalValue / numPixels
}

// DepthToColor renders a metric depth map in false colour, red for the nearest valid
// depth through to blue for the furthest. Invalid pixels (<= 0) are black.
func DepthToColor(depth *view.Image[float32]) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, depth.Width(), depth.Height()))

	near, far := float32(math.MaxFloat32), float32(0)
	for _, d := range depth.Host() {
		if d <= 0 {
			continue
		}
		if d < near {
			near = d
		}
		if d > far {
			far = d
		}
	}

	for y := 0; y < depth.Height(); y++ {
		for x := 0; x < depth.Width(); x++ {
			d := depth.At(x, y)
			if d <= 0 {
				out.SetNRGBA(x, y, color.NRGBA{A: 255})
				continue
			}
			t := 0.0
			if far > near {
				t = float64(d-near) / float64(far-near)
			}
			r, g, b := colorful.Hsv(240*t, 1, 1).Clamped().RGB255()
			out.SetNRGBA(x, y, color.NRGBA{r, g, b, 255})
		}
	}
	return out
}

// PCToImage is a top-down (looking down -z) view of pc, scale pixels per unit.
// Higher points win where several land on the same pixel.
func PCToImage(pc pointcloud.PointCloud, scale float64) image.Image {
	if scale <= 0 {
		scale = 1
	}

	if pc.Size() == 0 {
		return image.NewNRGBA(image.Rect(0, 0, 1, 1))
	}

	md := pc.MetaData()

	r := image.Rect(
		int(math.Floor(md.MinX*scale)),
		int(math.Floor(md.MinY*scale)),
		int(math.Ceil(md.MaxX*scale))+1,
		int(math.Ceil(md.MaxY*scale))+1,
	)

	img := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))

	bestZ := make([]float64, r.Dx()*r.Dy())
	seen := make([]bool, r.Dx()*r.Dy())
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		x := int(math.Floor(p.X*scale)) - r.Min.X
		y := int(math.Floor(p.Y*scale)) - r.Min.Y
		if x < 0 || y < 0 || x >= r.Dx() || y >= r.Dy() {
			return true
		}

		key := (y * r.Dx()) + x
		if seen[key] && p.Z < bestZ[key] {
			return true
		}

		c := color.NRGBA{255, 255, 255, 255}
		if d != nil && d.HasColor() {
			c = color.NRGBAModel.Convert(d.Color()).(color.NRGBA)
		}
		img.SetNRGBA(x, y, c)

		bestZ[key] = p.Z
		seen[key] = true
		return true
	})

	return img
}
