// Package geom holds the rigid camera pose type shared by trackers, the mapper and the engine.
package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/spatialmath"
)

// Convention says which direction a Pose maps points.
type Convention int

const (
	// M maps world coordinates into camera coordinates (modelview).
	M Convention = iota
	// InvM maps camera coordinates into world coordinates.
	InvM
)

func (c Convention) String() string {
	switch c {
	case M:
		return "M"
	case InvM:
		return "InvM"
	default:
		return fmt.Sprintf("Convention(%d)", int(c))
	}
}

// Pose is a rigid 4x4 transform, row-major: p[row][col].
// The bottom row is always [0 0 0 1].
type Pose [4][4]float64

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// FromRows builds a pose from the first three rows of a row-major 4x4 matrix:
// r00 r01 r02 t0 r10 r11 r12 t1 r20 r21 r22 t2.
func FromRows(v []float64) (Pose, error) {
	if len(v) != 12 {
		return Pose{}, fmt.Errorf("need 12 values for a pose, got %d", len(v))
	}
	p := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			p[r][c] = v[r*4+c]
		}
	}
	return p, nil
}

// Rows is the inverse of FromRows.
func (p Pose) Rows() []float64 {
	out := make([]float64, 0, 12)
	for r := 0; r < 3; r++ {
		out = append(out, p[r][0], p[r][1], p[r][2], p[r][3])
	}
	return out
}

func (p Pose) Translation() r3.Vector {
	return r3.Vector{X: p[0][3], Y: p[1][3], Z: p[2][3]}
}

// WithTranslation returns a copy of p with the translation column replaced.
func (p Pose) WithTranslation(t r3.Vector) Pose {
	p[0][3], p[1][3], p[2][3] = t.X, t.Y, t.Z
	return p
}

// ScaleTranslation scales the translation column only; rotation is untouched.
func (p Pose) ScaleTranslation(s float64) Pose {
	return p.WithTranslation(p.Translation().Mul(s))
}

// Rotation returns the 3x3 rotation block.
func (p Pose) Rotation() [3][3]float64 {
	var out [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = p[r][c]
		}
	}
	return out
}

// Mul returns p * q, i.e. q is applied first.
func (p Pose) Mul(q Pose) Pose {
	var out Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += p[r][k] * q[k][c]
			}
			out[r][c] = sum
		}
	}
	out[3] = [4]float64{0, 0, 0, 1}
	return out
}

// Inverse returns the rigid inverse [Rᵀ | -Rᵀt]. It converts between M and InvM.
func (p Pose) Inverse() Pose {
	out := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = p[c][r]
		}
	}
	t := p.Translation()
	for r := 0; r < 3; r++ {
		out[r][3] = -(out[r][0]*t.X + out[r][1]*t.Y + out[r][2]*t.Z)
	}
	return out
}

// Apply transforms a point.
func (p Pose) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: p[0][0]*v.X + p[0][1]*v.Y + p[0][2]*v.Z + p[0][3],
		Y: p[1][0]*v.X + p[1][1]*v.Y + p[1][2]*v.Z + p[1][3],
		Z: p[2][0]*v.X + p[2][1]*v.Y + p[2][2]*v.Z + p[2][3],
	}
}

// IsRigid reports whether the rotation block is orthonormal with determinant 1
// and the bottom row is exactly [0 0 0 1].
func (p Pose) IsRigid(eps float64) bool {
	if p[3] != [4]float64{0, 0, 0, 1} {
		return false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := 0.0
			for k := 0; k < 3; k++ {
				dot += p[k][i] * p[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > eps {
				return false
			}
		}
	}
	return math.Abs(p.det3()-1) <= eps
}

func (p Pose) det3() float64 {
	return p[0][0]*(p[1][1]*p[2][2]-p[1][2]*p[2][1]) -
		p[0][1]*(p[1][0]*p[2][2]-p[1][2]*p[2][0]) +
		p[0][2]*(p[1][0]*p[2][1]-p[1][1]*p[2][0])
}

// AlmostEqual compares every entry within eps.
func (p Pose) AlmostEqual(q Pose, eps float64) bool {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(p[r][c]-q[r][c]) > eps {
				return false
			}
		}
	}
	return true
}

// FromAxisAngle builds a pose from a rotation vector (axis scaled by angle, radians) and a translation.
func FromAxisAngle(w, t r3.Vector) Pose {
	theta := w.Norm()
	if theta < 1e-12 {
		return Identity().WithTranslation(t)
	}
	aa := &spatialmath.R4AA{Theta: theta, RX: w.X / theta, RY: w.Y / theta, RZ: w.Z / theta}
	return fromRotationMatrix(aa.RotationMatrix(), t)
}

// fromRotationMatrix reads an rdk rotation matrix, whose Row(i) is the image of
// the i'th basis vector.
func fromRotationMatrix(rm *spatialmath.RotationMatrix, t r3.Vector) Pose {
	p := Identity()
	for i := 0; i < 3; i++ {
		axis := rm.Row(i)
		p[0][i], p[1][i], p[2][i] = axis.X, axis.Y, axis.Z
	}
	return p.WithTranslation(t)
}

// SpatialPose converts to an rdk pose with the same mapping direction.
func (p Pose) SpatialPose() spatialmath.Pose {
	data := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		data = append(data, p[0][i], p[1][i], p[2][i])
	}
	rm, err := spatialmath.NewRotationMatrix(data)
	if err != nil {
		// data always has 9 entries
		panic(err)
	}
	return spatialmath.NewPose(p.Translation(), rm)
}

// FromSpatialPose converts an rdk pose.
func FromSpatialPose(sp spatialmath.Pose) Pose {
	return fromRotationMatrix(sp.Orientation().RotationMatrix(), sp.Point())
}
