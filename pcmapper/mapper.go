// Package pcmapper is a dense mapper that keeps the scene as a voxel-averaged
// point cloud. It integrates depth frames, raycasts by splatting voxels with a
// z-buffer and exports the model as a pointcloud.PointCloud.
package pcmapper

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/tracking"
	"github.com/erh/vfusion/view"
)

// DefaultVoxelSize is in metres.
const DefaultVoxelSize = .01

type voxelKey struct {
	x, y, z int64
}

func (k voxelKey) less(o voxelKey) bool {
	if k.x != o.x {
		return k.x < o.x
	}
	if k.y != o.y {
		return k.y < o.y
	}
	return k.z < o.z
}

type voxel struct {
	sum     r3.Vector
	n       int
	r, g, b float64
	colored int
}

func (v *voxel) center() r3.Vector {
	return v.sum.Mul(1 / float64(v.n))
}

func (v *voxel) color() (color.NRGBA, bool) {
	if v.colored == 0 {
		return color.NRGBA{}, false
	}
	n := float64(v.colored)
	return color.NRGBA{uint8(v.r / n), uint8(v.g / n), uint8(v.b / n), 255}, true
}

// Mapper is not safe for concurrent use; the fusion engine serialises access.
type Mapper struct {
	voxelSize float64
	voxels    map[voxelKey]*voxel
	logger    logging.Logger
}

// New creates an empty model. voxelSize <= 0 uses DefaultVoxelSize.
func New(voxelSize float64, logger logging.Logger) *Mapper {
	if voxelSize <= 0 {
		voxelSize = DefaultVoxelSize
	}
	return &Mapper{
		voxelSize: voxelSize,
		voxels:    map[voxelKey]*voxel{},
		logger:    logger,
	}
}

func (m *Mapper) VoxelSize() float64 {
	return m.voxelSize
}

// Size is the number of occupied voxels.
func (m *Mapper) Size() int {
	return len(m.voxels)
}

func (m *Mapper) key(p r3.Vector) voxelKey {
	return voxelKey{
		int64(math.Floor(p.X / m.voxelSize)),
		int64(math.Floor(p.Y / m.voxelSize)),
		int64(math.Floor(p.Z / m.voxelSize)),
	}
}

// ProcessFrame integrates the valid depth pixels of v, seen from pose (InvM), into the model.
func (m *Mapper) ProcessFrame(v *view.View, pose geom.Pose) error {
	local, err := backProject(v)
	if err != nil {
		return err
	}

	world := pointcloud.NewBasicEmpty()
	if err := pointcloud.ApplyOffset(local, pose.SpatialPose(), world); err != nil {
		return err
	}

	before := len(m.voxels)
	world.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		k := m.key(p)
		vx, ok := m.voxels[k]
		if !ok {
			vx = &voxel{}
			m.voxels[k] = vx
		}
		vx.sum = vx.sum.Add(p)
		vx.n++
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			vx.r += float64(r)
			vx.g += float64(g)
			vx.b += float64(b)
			vx.colored++
		}
		return true
	})

	m.logger.Debugf("integrated %d points, %d new voxels, %d total", local.Size(), len(m.voxels)-before, len(m.voxels))
	return nil
}

// backProject lifts the depth map into depth-camera coordinates, colouring each
// point through the colour camera when there is one.
func backProject(v *view.View) (pointcloud.PointCloud, error) {
	depthIntr := &v.Calib.IntrinsicsD
	hasColor := v.Calib.HasColorCamera()
	depthToRGB := v.Calib.RGBToDepth.Inverse()

	pc := pointcloud.NewBasicEmpty()
	for y := 0; y < v.Depth.Height(); y++ {
		for x := 0; x < v.Depth.Width(); x++ {
			d := float64(v.Depth.At(x, y))
			if d <= 0 {
				continue
			}
			px, py, pz := depthIntr.PixelToPoint(float64(x), float64(y), d)
			p := r3.Vector{X: px, Y: py, Z: pz}

			var data pointcloud.Data
			if hasColor {
				c := depthToRGB.Apply(p)
				if c.Z > 0 {
					u, w := v.Calib.IntrinsicsRGB.PointToPixel(c.X, c.Y, c.Z)
					cx, cy := int(math.Round(u)), int(math.Round(w))
					if v.RGB.In(cx, cy) {
						data = pointcloud.NewColoredData(v.RGB.At(cx, cy))
					}
				}
			}
			if err := pc.Set(p, data); err != nil {
				return nil, fmt.Errorf("can't add point at (%d,%d): %w", x, y, err)
			}
		}
	}
	return pc, nil
}

// splat is one z-buffer cell.
type splat struct {
	z     float64
	key   voxelKey
	voxel *voxel
}

func (s *splat) take(z float64, key voxelKey, vx *voxel) {
	if s.voxel != nil && (z > s.z || (z == s.z && !key.less(s.key))) {
		return
	}
	s.z, s.key, s.voxel = z, key, vx
}

// project renders the model from pose (InvM) into a z-buffer of the given size.
// Each voxel covers the pixels of its projected footprint, clipped to the image.
// Equal depths go to the lowest voxel key so the result doesn't depend on map order.
func (m *Mapper) project(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, size image.Point) []splat {
	buf := make([]splat, size.X*size.Y)
	worldToCam := pose.Inverse()
	for k, vx := range m.voxels {
		c := worldToCam.Apply(vx.center())
		if c.Z <= 0 {
			continue
		}
		u, w := intrinsics.PointToPixel(c.X, c.Y, c.Z)
		if math.IsNaN(u) || math.IsNaN(w) || math.IsInf(u, 0) || math.IsInf(w, 0) {
			continue
		}
		radius := math.Floor(intrinsics.Fx * m.voxelSize / c.Z / 2)
		x0, x1 := max(clip(math.Round(u)-radius, size.X), 0), min(clip(math.Round(u)+radius, size.X), size.X-1)
		y0, y1 := max(clip(math.Round(w)-radius, size.Y), 0), min(clip(math.Round(w)+radius, size.Y), size.Y-1)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				buf[y*size.X+x].take(c.Z, k, vx)
			}
		}
	}
	return buf
}

// clip bounds a pixel coordinate to [-1, n] before it becomes an int.
func clip(v float64, n int) int {
	switch {
	case v < -1:
		return -1
	case v > float64(n):
		return n
	default:
		return int(v)
	}
}

func renderSize(intrinsics *transform.PinholeCameraIntrinsics, limit image.Point) image.Point {
	size := image.Pt(intrinsics.Width, intrinsics.Height)
	if limit.X > 0 && size.X > limit.X {
		size.X = limit.X
	}
	if limit.Y > 0 && size.Y > limit.Y {
		size.Y = limit.Y
	}
	return size
}

// shade is a grey level, brighter when closer.
func shade(z, near, far float64) color.NRGBA {
	g := uint8(255)
	if far > near {
		g = uint8(55 + 200*(far-z)/(far-near))
	}
	return color.NRGBA{g, g, g, 255}
}

func depthRange(buf []splat) (float64, float64) {
	near, far := math.Inf(1), math.Inf(-1)
	for _, s := range buf {
		if s.voxel == nil {
			continue
		}
		near = math.Min(near, s.z)
		far = math.Max(far, s.z)
	}
	return near, far
}

func (m *Mapper) paint(buf []splat, size image.Point, useColour bool, set func(x, y int, c color.NRGBA)) {
	near, far := depthRange(buf)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			s := buf[y*size.X+x]
			if s.voxel == nil {
				set(x, y, color.NRGBA{A: 255})
				continue
			}
			if useColour {
				if c, ok := s.voxel.color(); ok {
					set(x, y, c)
					continue
				}
			}
			set(x, y, shade(s.z, near, far))
		}
	}
}

func checkIntrinsics(intrinsics *transform.PinholeCameraIntrinsics) error {
	if intrinsics == nil {
		return fmt.Errorf("need intrinsics")
	}
	return intrinsics.CheckValid()
}

// GetICPMaps raycasts the model at pose (InvM) into the state's surface point
// and rendering buffers.
func (m *Mapper) GetICPMaps(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, v *view.View, state *tracking.State) error {
	if err := checkIntrinsics(intrinsics); err != nil {
		return err
	}
	size := renderSize(intrinsics, state.Points.Size())
	buf := m.project(pose, intrinsics, size)

	state.Points.Clear()
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			s := buf[y*size.X+x]
			if s.voxel == nil {
				continue
			}
			sp := view.SurfacePoint{Point: s.voxel.center(), Valid: true}
			sp.Color, _ = s.voxel.color()
			state.Points.Set(x, y, sp)
		}
	}

	m.fillRendering(buf, size, false, state)
	state.RaycastPose = pose
	state.RaycastIntrinsics = *intrinsics
	state.HasRaycast = true
	return nil
}

// GetPointCloud raycasts the model at pose (InvM) and keeps every skip-th pixel
// in each direction as a coloured world point cloud on the state.
func (m *Mapper) GetPointCloud(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, v *view.View, state *tracking.State, skip int) error {
	if err := checkIntrinsics(intrinsics); err != nil {
		return err
	}
	if skip < 1 {
		skip = 1
	}
	size := renderSize(intrinsics, state.Rendering.Size())
	buf := m.project(pose, intrinsics, size)

	pc := pointcloud.NewBasicEmpty()
	for y := 0; y < size.Y; y += skip {
		for x := 0; x < size.X; x += skip {
			s := buf[y*size.X+x]
			if s.voxel == nil {
				continue
			}
			c, ok := s.voxel.color()
			if !ok {
				continue
			}
			if err := pc.Set(s.voxel.center(), pointcloud.NewColoredData(c)); err != nil {
				return err
			}
		}
	}
	state.PointCloud = pc

	m.fillRendering(buf, size, true, state)
	state.RaycastPose = pose
	state.RaycastIntrinsics = *intrinsics
	state.HasRaycast = true
	return nil
}

func (m *Mapper) fillRendering(buf []splat, size image.Point, useColour bool, state *tracking.State) {
	state.Rendering.Clear()
	m.paint(buf, size, useColour, state.Rendering.Set)
	if state.Rendering.HasDevice() {
		state.Rendering.UpdateDeviceFromHost()
	}
}

// GetRendering draws the model from pose (InvM) into out without touching any tracking state.
func (m *Mapper) GetRendering(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, useColour bool, out *image.NRGBA) error {
	if err := checkIntrinsics(intrinsics); err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("need an output image")
	}
	size := renderSize(intrinsics, out.Bounds().Size())
	buf := m.project(pose, intrinsics, size)
	origin := out.Bounds().Min
	m.paint(buf, size, useColour, func(x, y int, c color.NRGBA) {
		out.SetNRGBA(origin.X+x, origin.Y+y, c)
	})
	return nil
}

// Cloud exports the model as voxel centres with their average colour.
func (m *Mapper) Cloud() pointcloud.PointCloud {
	pc := pointcloud.NewBasicEmpty()
	for _, vx := range m.voxels {
		var d pointcloud.Data
		if c, ok := vx.color(); ok {
			d = pointcloud.NewColoredData(c)
		}
		if err := pc.Set(vx.center(), d); err != nil {
			m.logger.Warnf("dropping voxel from export: %v", err)
		}
	}
	return pc
}

// Reset forgets the whole model.
func (m *Mapper) Reset() {
	m.voxels = map[voxelKey]*voxel{}
}
