package tracking

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/view"
)

// ICPConfig holds the depth-domain tracker parameters. Distances are in metres.
type ICPConfig struct {
	Iterations         int     // maximum refinement iterations per frame
	MaxDistance        float64 // correspondences further apart are rejected
	Subsample          int     // pixel stride over the incoming depth map
	MinCorrespondences int     // fewer than this leaves the pose alone
	ConvergenceEps     float64 // stop when an update moves less than this
}

// DefaultICPConfig is tuned for Kinect-class sensors at VGA resolution.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		Iterations:         10,
		MaxDistance:        .1,
		Subsample:          4,
		MinCorrespondences: 50,
		ConvergenceEps:     1e-5,
	}
}

// ICPTracker aligns the incoming depth map against the latest depth-domain raycast,
// using projective data association and a point-to-plane error.
type ICPTracker struct {
	cfg    ICPConfig
	logger logging.Logger
}

// NewICPTracker creates a depth-domain tracker; zero fields of cfg take defaults.
func NewICPTracker(cfg ICPConfig, logger logging.Logger) *ICPTracker {
	def := DefaultICPConfig()
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = def.MaxDistance
	}
	if cfg.Subsample <= 0 {
		cfg.Subsample = def.Subsample
	}
	if cfg.MinCorrespondences <= 0 {
		cfg.MinCorrespondences = def.MinCorrespondences
	}
	if cfg.ConvergenceEps <= 0 {
		cfg.ConvergenceEps = def.ConvergenceEps
	}
	return &ICPTracker{cfg: cfg, logger: logger}
}

// TrackCamera only accepts a step that lowers the mean point-to-plane distance,
// so the pose never ends worse than it started.
func (t *ICPTracker) TrackCamera(state *State, v *view.View) error {
	if !state.HasRaycast {
		return nil
	}

	refM := state.RaycastPose.Inverse()
	match := func(pose geom.Pose) []correspondence {
		return t.correspond(pose, refM, &state.RaycastIntrinsics, state.Points, v.Depth, &v.Calib.IntrinsicsD)
	}

	pose := state.InvM()
	pairs := match(pose)
	if len(pairs) < t.cfg.MinCorrespondences {
		t.logger.Warnf("icp: only %d correspondences", len(pairs))
		return nil
	}
	prevError := meanPlaneDistance(pairs)

	for iter := 0; iter < t.cfg.Iterations; iter++ {
		delta, err := solvePointToPlane(pairs)
		if err != nil {
			t.logger.Warnf("icp: %v", err)
			break
		}
		next := delta.Mul(pose)

		nextPairs := match(next)
		if len(nextPairs) < t.cfg.MinCorrespondences {
			t.logger.Warnf("icp: only %d correspondences on iteration %d", len(nextPairs), iter)
			break
		}
		currentError := meanPlaneDistance(nextPairs)
		if currentError >= prevError {
			break
		}
		pose, pairs, prevError = next, nextPairs, currentError

		if delta.AlmostEqual(geom.Identity(), t.cfg.ConvergenceEps) {
			break
		}
	}

	state.SetPose(pose, geom.InvM)
	return nil
}

func (t *ICPTracker) UpdateInitialPose(state *State) {}

// correspondence is an observed world point, the raycast surface point it
// projects onto and that surface's normal.
type correspondence struct {
	src, dst, normal r3.Vector
}

func (c correspondence) planeDistance() float64 {
	return c.src.Sub(c.dst).Dot(c.normal)
}

func meanPlaneDistance(pairs []correspondence) float64 {
	sum := 0.0
	for _, c := range pairs {
		sum += math.Abs(c.planeDistance())
	}
	return sum / float64(len(pairs))
}

// correspond pairs observed points (moved into world by pose) with the raycast
// surface point nearest to where they project in the reference view.
func (t *ICPTracker) correspond(
	pose, refM geom.Pose,
	refIntrinsics *transform.PinholeCameraIntrinsics,
	ref *view.Image[view.SurfacePoint],
	depth *view.Image[float32],
	intrinsics *transform.PinholeCameraIntrinsics,
) []correspondence {
	out := []correspondence{}

	for y := 0; y < depth.Height(); y += t.cfg.Subsample {
		for x := 0; x < depth.Width(); x += t.cfg.Subsample {
			d := float64(depth.At(x, y))
			if d <= 0 {
				continue
			}
			cx, cy, cz := intrinsics.PixelToPoint(float64(x), float64(y), d)
			world := pose.Apply(r3.Vector{X: cx, Y: cy, Z: cz})

			inRef := refM.Apply(world)
			if inRef.Z <= 0 {
				continue
			}
			rx, ry, ok := nearestPixel(refIntrinsics.PointToPixel(inRef.X, inRef.Y, inRef.Z))
			if !ok || rx >= ref.Width() || ry >= ref.Height() {
				continue
			}
			sp := ref.At(rx, ry)
			if !sp.Valid {
				continue
			}
			if world.Distance(sp.Point) > t.cfg.MaxDistance {
				continue
			}
			n, ok := surfaceNormal(ref, rx, ry)
			if !ok {
				continue
			}
			out = append(out, correspondence{src: world, dst: sp.Point, normal: n})
		}
	}
	return out
}

// nearestPixel rounds a projected position; ok is false left of or above the image.
func nearestPixel(u, w float64) (int, int, bool) {
	u, w = math.Round(u), math.Round(w)
	if !(u >= 0 && w >= 0) || u > math.MaxInt32 || w > math.MaxInt32 {
		return 0, 0, false
	}
	return int(u), int(w), true
}

// surfaceNormal is the unit normal of the raycast surface at (x, y), from central
// differences of its neighbours.
func surfaceNormal(ref *view.Image[view.SurfacePoint], x, y int) (r3.Vector, bool) {
	if x < 1 || y < 1 || x+1 >= ref.Width() || y+1 >= ref.Height() {
		return r3.Vector{}, false
	}
	left, right := ref.At(x-1, y), ref.At(x+1, y)
	up, down := ref.At(x, y-1), ref.At(x, y+1)
	if !left.Valid || !right.Valid || !up.Valid || !down.Valid {
		return r3.Vector{}, false
	}
	n := right.Point.Sub(left.Point).Cross(down.Point.Sub(up.Point))
	norm := n.Norm()
	if norm == 0 {
		return r3.Vector{}, false
	}
	return n.Mul(1 / norm), true
}

// solvePointToPlane linearises the rotation and returns the rigid update that
// minimises the summed squared point-to-plane distances of pairs.
func solvePointToPlane(pairs []correspondence) (geom.Pose, error) {
	if len(pairs) < 6 {
		return geom.Pose{}, errors.New("need at least 6 correspondences")
	}

	ata := mat.NewSymDense(6, nil)
	atb := mat.NewVecDense(6, nil)
	for _, c := range pairs {
		sxn := c.src.Cross(c.normal)
		row := [6]float64{sxn.X, sxn.Y, sxn.Z, c.normal.X, c.normal.Y, c.normal.Z}
		b := -c.planeDistance()
		for i := 0; i < 6; i++ {
			atb.SetVec(i, atb.AtVec(i)+row[i]*b)
			for j := i; j < 6; j++ {
				ata.SetSym(i, j, ata.At(i, j)+row[i]*row[j])
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return geom.Pose{}, errors.New("degenerate geometry, can't constrain all six degrees of freedom")
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, atb); err != nil {
		return geom.Pose{}, err
	}

	w := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	tr := r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
	if math.IsNaN(w.Norm()) || math.IsNaN(tr.Norm()) {
		return geom.Pose{}, errors.New("degenerate geometry")
	}
	return geom.FromAxisAngle(w, tr), nil
}
