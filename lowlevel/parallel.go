package lowlevel

import (
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/utils"

	"github.com/erh/vfusion/view"
)

// parallelEngine stands in for an accelerator: it only touches device buffers
// and spreads the per-pixel kernels over all cores. Calls block until every pixel is done.
type parallelEngine struct{}

// NewParallel returns the device-side engine.
func NewParallel() Engine {
	return parallelEngine{}
}

func (parallelEngine) OnDevice() bool {
	return true
}

func (parallelEngine) ConvertDisparityToDepth(out *view.Image[float32], in *view.Image[int16], intrinsics *transform.PinholeCameraIntrinsics, calib view.DisparityCalib) {
	src, dst := in.Device(), out.Device()
	w := in.Width()
	fx := intrinsics.Fx
	utils.ParallelForEachPixel(in.Size(), func(x, y int) {
		i := y*w + x
		dst[i] = disparityToDepth(src[i], calib, fx)
	})
}

func (parallelEngine) ConvertDepthMMToFloat(out *view.Image[float32], in *view.Image[int16]) {
	src, dst := in.Device(), out.Device()
	w := in.Width()
	utils.ParallelForEachPixel(in.Size(), func(x, y int) {
		i := y*w + x
		dst[i] = depthMMToFloat(src[i])
	})
}
