package lowlevel

import (
	"image"
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/view"
)

var testIntrinsics = &transform.PinholeCameraIntrinsics{Width: 64, Height: 48, Fx: 580, Fy: 580, Ppx: 32, Ppy: 24}

func rawImage(withDevice bool) *view.Image[int16] {
	in := view.NewImage[int16](image.Pt(64, 48), withDevice)
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			in.Set(x, y, int16((x*97+y*31)%1300-100))
		}
	}
	in.UpdateDeviceFromHost()
	return in
}

func TestDepthMMToFloat(t *testing.T) {
	test.That(t, depthMMToFloat(0), test.ShouldEqual, float32(-1))
	test.That(t, depthMMToFloat(-5), test.ShouldEqual, float32(-1))
	test.That(t, depthMMToFloat(32001), test.ShouldEqual, float32(-1))
	test.That(t, depthMMToFloat(math.MaxInt16), test.ShouldEqual, float32(-1))
	test.That(t, depthMMToFloat(32000), test.ShouldEqual, float32(32))
	test.That(t, depthMMToFloat(1500), test.ShouldEqual, float32(1.5))
}

func TestDisparityToDepth(t *testing.T) {
	calib := view.DisparityCalib{A: 1000, B: .1}

	// A - d == 0
	test.That(t, disparityToDepth(1000, calib, 500), test.ShouldEqual, float32(-1))
	// negative depth
	test.That(t, disparityToDepth(1100, calib, 500), test.ShouldEqual, float32(-1))

	d := disparityToDepth(600, calib, 500)
	test.That(t, float64(d), test.ShouldAlmostEqual, 8*.1*500/400.0, 1e-6)
}

func TestCPUAndParallelAgree(t *testing.T) {
	calib := view.DefaultDisparityCalib

	cpuIn := rawImage(false)
	devIn := rawImage(true)

	cpuOut := view.NewImage[float32](cpuIn.Size(), false)
	devOut := view.NewImage[float32](devIn.Size(), true)

	cpu := New(false)
	dev := New(true)
	test.That(t, cpu.OnDevice(), test.ShouldBeFalse)
	test.That(t, dev.OnDevice(), test.ShouldBeTrue)

	cpu.ConvertDepthMMToFloat(cpuOut, cpuIn)
	dev.ConvertDepthMMToFloat(devOut, devIn)

	// result lives on the device until synced
	test.That(t, devOut.Host()[100], test.ShouldEqual, float32(0))
	devOut.UpdateHostFromDevice()
	test.That(t, devOut.Host(), test.ShouldResemble, cpuOut.Host())

	cpu.ConvertDisparityToDepth(cpuOut, cpuIn, testIntrinsics, calib)
	dev.ConvertDisparityToDepth(devOut, devIn, testIntrinsics, calib)
	devOut.UpdateHostFromDevice()
	test.That(t, devOut.Host(), test.ShouldResemble, cpuOut.Host())
}
