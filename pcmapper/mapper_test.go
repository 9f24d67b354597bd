package pcmapper

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
	"github.com/erh/vfusion/tracking"
	"github.com/erh/vfusion/view"
)

var intr = transform.PinholeCameraIntrinsics{Width: 40, Height: 30, Fx: 60, Fy: 60, Ppx: 20, Ppy: 15}

// planeView is a flat wall at z metres, red on the left half and blue on the right.
func planeView(z float32) *view.View {
	size := image.Pt(intr.Width, intr.Height)
	v := view.New(view.Calibration{IntrinsicsRGB: intr, IntrinsicsD: intr, RGBToDepth: geom.Identity()}, size, size, false)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			v.Depth.Set(x, y, z)
			c := color.NRGBA{R: 255, A: 255}
			if x >= size.X/2 {
				c = color.NRGBA{B: 255, A: 255}
			}
			v.RGB.Set(x, y, c)
		}
	}
	return v
}

func TestProcessFrame(t *testing.T) {
	m := New(0, logging.NewTestLogger(t))
	test.That(t, m.VoxelSize(), test.ShouldEqual, DefaultVoxelSize)
	test.That(t, m.Size(), test.ShouldEqual, 0)

	v := planeView(1)
	v.Depth.Set(0, 0, -1)
	test.That(t, m.ProcessFrame(v, geom.Identity()), test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, intr.Width*intr.Height-1)

	cloud := m.Cloud()
	test.That(t, cloud.Size(), test.ShouldEqual, m.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		test.That(t, p.Z, test.ShouldAlmostEqual, 1.0, 1e-6)
		test.That(t, d.HasColor(), test.ShouldBeTrue)
		return true
	})

	// same frame again only refines the averages
	test.That(t, m.ProcessFrame(v, geom.Identity()), test.ShouldBeNil)
	test.That(t, m.Size(), test.ShouldEqual, intr.Width*intr.Height-1)

	m.Reset()
	test.That(t, m.Size(), test.ShouldEqual, 0)
}

func TestProcessFrameUsesPose(t *testing.T) {
	m := New(.01, logging.NewTestLogger(t))
	pose := geom.Identity().WithTranslation(r3.Vector{X: 5, Z: 2})
	test.That(t, m.ProcessFrame(planeView(1), pose), test.ShouldBeNil)

	m.Cloud().Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		test.That(t, p.Z, test.ShouldAlmostEqual, 3.0, 1e-6)
		test.That(t, math.Abs(p.X-5), test.ShouldBeLessThan, 1)
		return true
	})
}

func TestGetICPMaps(t *testing.T) {
	m := New(.01, logging.NewTestLogger(t))
	test.That(t, m.ProcessFrame(planeView(1), geom.Identity()), test.ShouldBeNil)

	size := image.Pt(intr.Width, intr.Height)
	state := tracking.NewState(size, size, false)
	pose := geom.Identity().WithTranslation(r3.Vector{Z: -.5})
	test.That(t, m.GetICPMaps(pose, &intr, nil, state), test.ShouldBeNil)

	test.That(t, state.HasRaycast, test.ShouldBeTrue)
	test.That(t, state.RaycastPose, test.ShouldResemble, pose)
	test.That(t, state.RaycastIntrinsics, test.ShouldResemble, intr)

	sp := state.Points.At(20, 15)
	test.That(t, sp.Valid, test.ShouldBeTrue)
	test.That(t, sp.Point.Z, test.ShouldAlmostEqual, 1.0, 1e-6)
	test.That(t, state.Rendering.At(20, 15).R, test.ShouldBeGreaterThan, 0)

	// looking away from the wall sees nothing
	away := geom.FromAxisAngle(r3.Vector{Y: math.Pi}, r3.Vector{})
	test.That(t, m.GetICPMaps(away, &intr, nil, state), test.ShouldBeNil)
	for _, p := range state.Points.Host() {
		test.That(t, p.Valid, test.ShouldBeFalse)
	}

	test.That(t, m.GetICPMaps(pose, &transform.PinholeCameraIntrinsics{}, nil, state), test.ShouldNotBeNil)
}

func TestGetPointCloudStride(t *testing.T) {
	m := New(.01, logging.NewTestLogger(t))
	test.That(t, m.ProcessFrame(planeView(1), geom.Identity()), test.ShouldBeNil)

	size := image.Pt(intr.Width, intr.Height)
	state := tracking.NewState(size, size, false)
	test.That(t, m.GetPointCloud(geom.Identity(), &intr, nil, state, 1), test.ShouldBeNil)
	full := state.PointCloud.Size()
	test.That(t, full, test.ShouldBeGreaterThan, 0)

	test.That(t, m.GetPointCloud(geom.Identity(), &intr, nil, state, 2), test.ShouldBeNil)
	half := state.PointCloud.Size()
	test.That(t, half, test.ShouldBeGreaterThan, 0)
	test.That(t, half, test.ShouldBeLessThanOrEqualTo, (full+3)/4+intr.Width)

	state.PointCloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		test.That(t, d.HasColor(), test.ShouldBeTrue)
		return true
	})
	test.That(t, state.Rendering.At(2, 15), test.ShouldResemble, color.NRGBA{R: 255, A: 255})
}

func TestGetRendering(t *testing.T) {
	m := New(.01, logging.NewTestLogger(t))
	test.That(t, m.ProcessFrame(planeView(1), geom.Identity()), test.ShouldBeNil)

	out := image.NewNRGBA(image.Rect(0, 0, intr.Width, intr.Height))
	test.That(t, m.GetRendering(geom.Identity(), &intr, true, out), test.ShouldBeNil)
	test.That(t, out.NRGBAAt(2, 15), test.ShouldResemble, color.NRGBA{R: 255, A: 255})
	test.That(t, out.NRGBAAt(intr.Width-3, 15), test.ShouldResemble, color.NRGBA{B: 255, A: 255})

	test.That(t, m.GetRendering(geom.Identity(), &intr, false, out), test.ShouldBeNil)
	c := out.NRGBAAt(20, 15)
	test.That(t, c.R, test.ShouldEqual, c.G)
	test.That(t, c.G, test.ShouldEqual, c.B)

	test.That(t, m.GetRendering(geom.Identity(), &intr, false, nil), test.ShouldNotBeNil)
}

func TestProjectBreaksDepthTiesByKey(t *testing.T) {
	size := image.Pt(intr.Width, intr.Height)
	low, high := voxelKey{0, 0, 100}, voxelKey{1, 0, 100}
	for i := 0; i < 20; i++ {
		m := New(.01, logging.NewTestLogger(t))
		m.voxels[high] = &voxel{sum: r3.Vector{X: .004, Z: 1}, n: 1}
		m.voxels[low] = &voxel{sum: r3.Vector{Z: 1}, n: 1}

		buf := m.project(geom.Identity(), &intr, size)
		cell := buf[15*size.X+20]
		test.That(t, cell.voxel, test.ShouldNotBeNil)
		test.That(t, cell.key, test.ShouldResemble, low)
	}
}

func TestProjectClipsHugeFootprint(t *testing.T) {
	size := image.Pt(intr.Width, intr.Height)
	m := New(.01, logging.NewTestLogger(t))
	m.voxels[voxelKey{}] = &voxel{sum: r3.Vector{Z: 1e-12}, n: 1}
	m.voxels[voxelKey{x: 1}] = &voxel{sum: r3.Vector{X: -1e3, Z: 1e-9}, n: 1}

	buf := m.project(geom.Identity(), &intr, size)
	test.That(t, len(buf), test.ShouldEqual, size.X*size.Y)
	for _, cell := range buf {
		test.That(t, cell.key, test.ShouldResemble, voxelKey{})
	}
}
