package tracking

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/view"
)

// ColorConfig holds the colour tracker parameters.
type ColorConfig struct {
	Iterations int // Nelder-Mead major iterations per frame
	MinPoints  int // fewer visible model points leaves the pose alone
}

func DefaultColorConfig() ColorConfig {
	return ColorConfig{Iterations: 200, MinPoints: 20}
}

// invisiblePenalty is the cost of a model point that projects outside the colour image.
const invisiblePenalty = .25

// ColorTracker moves the camera so the colour-domain raycast (a coloured point
// cloud of the model) best matches the incoming colour image.
type ColorTracker struct {
	cfg    ColorConfig
	logger logging.Logger
}

func NewColorTracker(cfg ColorConfig, logger logging.Logger) *ColorTracker {
	def := DefaultColorConfig()
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = def.MinPoints
	}
	return &ColorTracker{cfg: cfg, logger: logger}
}

type coloredPoint struct {
	p r3.Vector
	c color.NRGBA
}

func (t *ColorTracker) TrackCamera(state *State, v *view.View) error {
	if state.PointCloud == nil || state.PointCloud.Size() < t.cfg.MinPoints {
		return nil
	}

	points := make([]coloredPoint, 0, state.PointCloud.Size())
	state.PointCloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		if d == nil || !d.HasColor() {
			return true
		}
		points = append(points, coloredPoint{p, color.NRGBAModel.Convert(d.Color()).(color.NRGBA)})
		return true
	})
	if len(points) < t.cfg.MinPoints {
		return nil
	}

	start := state.InvM()
	rgbFromDepth := v.Calib.RGBToDepth.Inverse()

	cost := func(x []float64) float64 {
		invM := deltaPose(x).Mul(start)
		return photometricError(points, rgbFromDepth.Mul(invM.Inverse()), &v.Calib.IntrinsicsRGB, v.RGB)
	}

	initial := make([]float64, 6)
	startCost := cost(initial)

	result, err := optimize.Minimize(
		optimize.Problem{Func: cost},
		initial,
		&optimize.Settings{MajorIterations: t.cfg.Iterations},
		&optimize.NelderMead{},
	)
	if result == nil {
		t.logger.Warnf("color tracking failed: %v", err)
		return nil
	}
	if result.F >= startCost {
		return nil
	}

	state.SetPose(deltaPose(result.X).Mul(start), geom.InvM)
	t.logger.Debugf("color tracking error %0.5f -> %0.5f", startCost, result.F)
	return nil
}

func (t *ColorTracker) UpdateInitialPose(state *State) {}

// deltaPose maps 6 parameters (rotation vector, translation) to a world-side pose update.
func deltaPose(x []float64) geom.Pose {
	return geom.FromAxisAngle(r3.Vector{X: x[0], Y: x[1], Z: x[2]}, r3.Vector{X: x[3], Y: x[4], Z: x[5]})
}

// photometricError is the mean squared colour difference (channels in [0,1]) between the
// model points and the image pixels they project to under the world to colour camera pose m.
func photometricError(points []coloredPoint, m geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, img *view.Image[color.NRGBA]) float64 {
	total := 0.0
	for _, pt := range points {
		c := m.Apply(pt.p)
		if c.Z <= 0 {
			total += invisiblePenalty
			continue
		}
		u, w := intrinsics.PointToPixel(c.X, c.Y, c.Z)
		x, y := int(math.Round(u)), int(math.Round(w))
		if !img.In(x, y) {
			total += invisiblePenalty
			continue
		}
		seen := img.At(x, y)
		dr := float64(seen.R)/255 - float64(pt.c.R)/255
		dg := float64(seen.G)/255 - float64(pt.c.G)/255
		db := float64(seen.B)/255 - float64(pt.c.B)/255
		total += dr*dr + dg*dg + db*db
	}
	return total / float64(len(points))
}
