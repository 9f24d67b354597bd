package lowlevel

import (
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/view"
)

type cpuEngine struct{}

// NewCPU returns an engine that works on host buffers on the calling goroutine.
func NewCPU() Engine {
	return cpuEngine{}
}

func (cpuEngine) OnDevice() bool {
	return false
}

func (cpuEngine) ConvertDisparityToDepth(out *view.Image[float32], in *view.Image[int16], intrinsics *transform.PinholeCameraIntrinsics, calib view.DisparityCalib) {
	dst := out.Host()
	for i, d := range in.Host() {
		dst[i] = disparityToDepth(d, calib, intrinsics.Fx)
	}
}

func (cpuEngine) ConvertDepthMMToFloat(out *view.Image[float32], in *view.Image[int16]) {
	dst := out.Host()
	for i, d := range in.Host() {
		dst[i] = depthMMToFloat(d)
	}
}
