// Package lowlevel converts raw depth representations into metric depth.
package lowlevel

import (
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/view"
)

// Engine is the depth conversion contract. Implementations are stateless and
// must produce identical output for the same input.
type Engine interface {
	// ConvertDisparityToDepth writes metres into out, -1 where there is no depth.
	ConvertDisparityToDepth(out *view.Image[float32], in *view.Image[int16], intrinsics *transform.PinholeCameraIntrinsics, calib view.DisparityCalib)
	// ConvertDepthMMToFloat writes metres into out, -1 where there is no depth.
	ConvertDepthMMToFloat(out *view.Image[float32], in *view.Image[int16])
	// OnDevice reports whether the engine reads and writes the device side of buffers.
	OnDevice() bool
}

// New picks the implementation at runtime.
func New(useGPU bool) Engine {
	if useGPU {
		return NewParallel()
	}
	return NewCPU()
}

// maxDepthMM is the largest millimetre reading treated as valid. Readings the
// view loader saturated at MaxInt16 land above it.
const maxDepthMM = 32000

func disparityToDepth(disparity int16, calib view.DisparityCalib, fx float64) float32 {
	t := calib.A - float64(disparity)
	depth := 0.0
	if t != 0 {
		depth = 8 * calib.B * fx / t
	}
	if depth > 0 {
		return float32(depth)
	}
	return -1
}

func depthMMToFloat(mm int16) float32 {
	if mm <= 0 || mm > maxDepthMM {
		return -1
	}
	return float32(mm) / 1000
}
