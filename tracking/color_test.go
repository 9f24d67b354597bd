package tracking

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/view"
)

var colorIntrinsics = transform.PinholeCameraIntrinsics{Width: 80, Height: 60, Fx: 200, Fy: 200, Ppx: 40, Ppy: 30}

const planeZ = 2.0

func texture(p r3.Vector) color.NRGBA {
	r := 127 + 120*math.Sin(p.X*40)
	g := 127 + 120*math.Cos(p.Y*40)
	b := 127 + 60*math.Sin((p.X+p.Y)*25)
	return color.NRGBA{uint8(r), uint8(g), uint8(b), 255}
}

// colorScene builds a textured plane model and a colour frame seen from invM.
func colorScene(t *testing.T, invM geom.Pose) (*State, *view.View) {
	t.Helper()
	size := image.Pt(colorIntrinsics.Width, colorIntrinsics.Height)
	calib := view.Calibration{IntrinsicsRGB: colorIntrinsics, IntrinsicsD: colorIntrinsics, RGBToDepth: geom.Identity()}
	v := view.New(calib, size, size, false)

	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			cx, cy, cz := colorIntrinsics.PixelToPoint(float64(x), float64(y), planeZ)
			world := invM.Apply(r3.Vector{X: cx, Y: cy, Z: cz})
			v.RGB.Set(x, y, texture(world))
		}
	}

	state := NewState(size, size, false)
	pc := pointcloud.NewBasicEmpty()
	for y := 5; y < size.Y-5; y += 2 {
		for x := 5; x < size.X-5; x += 2 {
			cx, cy, cz := colorIntrinsics.PixelToPoint(float64(x), float64(y), planeZ)
			p := r3.Vector{X: cx, Y: cy, Z: cz}
			test.That(t, pc.Set(p, pointcloud.NewColoredData(texture(p))), test.ShouldBeNil)
		}
	}
	state.PointCloud = pc
	state.HasRaycast = true
	return state, v
}

func TestColorTrackerStaysPutWhenAligned(t *testing.T) {
	state, v := colorScene(t, geom.Identity())
	tracker := NewColorTracker(ColorConfig{}, logging.NewTestLogger(t))

	test.That(t, tracker.TrackCamera(state, v), test.ShouldBeNil)
	test.That(t, state.InvM().Translation().Norm(), test.ShouldBeLessThan, .005)
}

func TestColorTrackerReducesError(t *testing.T) {
	truth := geom.Identity().WithTranslation(r3.Vector{X: .02})
	state, v := colorScene(t, truth)
	tracker := NewColorTracker(ColorConfig{Iterations: 400}, logging.NewTestLogger(t))

	points := []coloredPoint{}
	state.PointCloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		points = append(points, coloredPoint{p, color.NRGBAModel.Convert(d.Color()).(color.NRGBA)})
		return true
	})
	startErr := photometricError(points, geom.Identity(), &colorIntrinsics, v.RGB)

	test.That(t, tracker.TrackCamera(state, v), test.ShouldBeNil)

	endErr := photometricError(points, state.M(), &colorIntrinsics, v.RGB)
	test.That(t, endErr, test.ShouldBeLessThan, startErr)
	test.That(t, math.Abs(state.InvM().Translation().X-.02), test.ShouldBeLessThan, .02)
}

func TestColorTrackerNeedsPoints(t *testing.T) {
	size := image.Pt(8, 8)
	state := NewState(size, size, false)
	start := geom.Identity().WithTranslation(r3.Vector{Y: 3})
	state.SetPose(start, geom.InvM)

	v := view.New(view.Calibration{IntrinsicsRGB: colorIntrinsics, RGBToDepth: geom.Identity()}, size, size, false)
	tracker := NewColorTracker(ColorConfig{}, logging.NewTestLogger(t))
	test.That(t, tracker.TrackCamera(state, v), test.ShouldBeNil)
	test.That(t, state.InvM(), test.ShouldResemble, start)
}
