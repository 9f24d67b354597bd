package view

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
)

// DisparityCalib holds the two disparity-to-depth constants:
// depth = 8 * B * fx / (A - disparity).
type DisparityCalib struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// DefaultDisparityCalib matches the Kinect v1 factory values.
var DefaultDisparityCalib = DisparityCalib{A: 1135.09, B: 0.0819141}

// Calibration bundles both cameras' intrinsics, the colour/depth extrinsic and the disparity constants.
type Calibration struct {
	IntrinsicsRGB transform.PinholeCameraIntrinsics
	IntrinsicsD   transform.PinholeCameraIntrinsics

	// RGBToDepth maps points in colour camera coordinates into depth camera coordinates.
	RGBToDepth geom.Pose

	Disparity DisparityCalib
}

// HasColorCamera reports whether the colour intrinsics are usable.
func (c *Calibration) HasColorCamera() bool {
	return c.IntrinsicsRGB.CheckValid() == nil
}

type calibrationJSON struct {
	IntrinsicsRGB *transform.PinholeCameraIntrinsics `json:"intrinsics_rgb"`
	IntrinsicsD   *transform.PinholeCameraIntrinsics `json:"intrinsics_depth"`
	RGBToDepth    []float64                          `json:"rgb_to_depth,omitempty"`
	Disparity     *DisparityCalib                    `json:"disparity,omitempty"`
}

// ParseCalibration decodes calibration json. Missing extrinsic means identity,
// missing disparity constants means DefaultDisparityCalib.
func ParseCalibration(data []byte) (Calibration, error) {
	var raw calibrationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Calibration{}, errors.Wrap(err, "error parsing calibration")
	}

	if raw.IntrinsicsD == nil {
		return Calibration{}, fmt.Errorf("calibration needs intrinsics_depth")
	}
	if err := raw.IntrinsicsD.CheckValid(); err != nil {
		return Calibration{}, errors.Wrap(err, "bad depth intrinsics")
	}

	c := Calibration{
		IntrinsicsD: *raw.IntrinsicsD,
		RGBToDepth:  geom.Identity(),
		Disparity:   DefaultDisparityCalib,
	}
	if raw.IntrinsicsRGB != nil {
		c.IntrinsicsRGB = *raw.IntrinsicsRGB
	}
	if raw.Disparity != nil {
		c.Disparity = *raw.Disparity
	}
	if len(raw.RGBToDepth) > 0 {
		p, err := geom.FromRows(raw.RGBToDepth)
		if err != nil {
			return Calibration{}, errors.Wrap(err, "bad rgb_to_depth")
		}
		if !p.IsRigid(1e-4) {
			return Calibration{}, fmt.Errorf("rgb_to_depth is not a rigid transform")
		}
		c.RGBToDepth = p
	}
	return c, nil
}

// LoadCalibration reads a calibration json file.
func LoadCalibration(fn string) (Calibration, error) {
	//nolint:gosec
	data, err := os.ReadFile(fn)
	if err != nil {
		return Calibration{}, err
	}
	c, err := ParseCalibration(data)
	if err != nil {
		return Calibration{}, errors.Wrapf(err, "cannot load calibration %s", fn)
	}
	return c, nil
}
