package tracking

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/view"
)

// State is the shared tracking state: the current camera pose and the latest raycast.
// The pose is always held as InvM (camera to world).
type State struct {
	invM geom.Pose

	// Rendering is the shaded image of the latest raycast.
	Rendering *view.Image[color.NRGBA]
	// Points holds world-space surface points of the latest depth-domain raycast.
	Points *view.Image[view.SurfacePoint]
	// RaycastPose is the InvM pose the latest raycast was produced at.
	RaycastPose geom.Pose
	// RaycastIntrinsics are the intrinsics the latest raycast was produced with.
	RaycastIntrinsics transform.PinholeCameraIntrinsics
	// HasRaycast is set once any raycast has filled the buffers.
	HasRaycast bool

	// PointCloud is the colour-domain raycast: world points with colour.
	PointCloud pointcloud.PointCloud
}

// NewState allocates a state at the identity pose. Raycast buffers cover both
// cameras in each dimension so either raycast mode fits.
func NewState(rgbSize, depthSize image.Point, useDevice bool) *State {
	size := image.Pt(max(rgbSize.X, depthSize.X), max(rgbSize.Y, depthSize.Y))
	return &State{
		invM:        geom.Identity(),
		Rendering:   view.NewImage[color.NRGBA](size, useDevice),
		Points:      view.NewImage[view.SurfacePoint](size, false),
		RaycastPose: geom.Identity(),
		PointCloud:  pointcloud.NewBasicEmpty(),
	}
}

// SetPose installs p, which is expressed in convention c.
func (s *State) SetPose(p geom.Pose, c geom.Convention) {
	if c == geom.M {
		p = p.Inverse()
	}
	s.invM = p
}

// InvM is the camera to world pose.
func (s *State) InvM() geom.Pose {
	return s.invM
}

// M is the world to camera pose.
func (s *State) M() geom.Pose {
	return s.invM.Inverse()
}

// CameraCenter is the camera position in world coordinates.
func (s *State) CameraCenter() r3.Vector {
	return s.invM.Translation()
}

// Snapshot deep copies the state.
func (s *State) Snapshot() *State {
	out := *s
	out.Rendering = s.Rendering.Clone()
	out.Points = s.Points.Clone()
	pc := pointcloud.NewBasicEmpty()
	if s.PointCloud != nil {
		s.PointCloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
			pc.Set(p, d)
			return true
		})
	}
	out.PointCloud = pc
	return &out
}
