package fusion

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/spatialmath"

	"github.com/erh/vfusion"
	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/imgutils"
	"github.com/erh/vfusion/view"
)

var CameraModel = vfusion.NamespaceFamily.WithModel("fusion-camera")

func init() {
	resource.RegisterComponent(
		camera.API,
		CameraModel,
		resource.Registration[camera.Camera, *CameraConfig]{
			Constructor: newFusionCamera,
		})
}

type CameraConfig struct {
	Src         string `json:"src"`
	ColorSource string `json:"color_source"`
	DepthSource string `json:"depth_source"`
	// DepthType is "mm" (the default) or "disparity".
	DepthType       string   `json:"depth_type"`
	Settings        Settings `json:"settings"`
	CalibrationPath string   `json:"calibration_path"`
}

func (cfg *CameraConfig) colorSource() string {
	if cfg.ColorSource == "" {
		return "color"
	}
	return cfg.ColorSource
}

func (cfg *CameraConfig) depthSource() string {
	if cfg.DepthSource == "" {
		return "depth"
	}
	return cfg.DepthSource
}

func (cfg *CameraConfig) depthType() (view.InputImageType, error) {
	switch cfg.DepthType {
	case "", "mm":
		return view.ShortDepth, nil
	case "disparity":
		return view.Disparity, nil
	default:
		return 0, fmt.Errorf("unknown depth_type %q", cfg.DepthType)
	}
}

func (cfg *CameraConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Src == "" {
		return nil, nil, fmt.Errorf("need a src camera")
	}
	if _, err := cfg.depthType(); err != nil {
		return nil, nil, err
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, nil, err
	}
	return []string{cfg.Src}, nil, nil
}

func newFusionCamera(ctx context.Context, deps resource.Dependencies, config resource.Config, logger logging.Logger) (camera.Camera, error) {
	newConf, err := resource.NativeConfig[*CameraConfig](config)
	if err != nil {
		return nil, err
	}
	return NewFusionCamera(ctx, deps, config.ResourceName(), newConf, logger)
}

// NewFusionCamera builds the camera outside of a module, e.g. against a remote machine.
func NewFusionCamera(ctx context.Context, deps resource.Dependencies, name resource.Name, cfg *CameraConfig, logger logging.Logger) (*FusionCamera, error) {
	kind, err := cfg.depthType()
	if err != nil {
		return nil, err
	}

	fc := &FusionCamera{
		name:      name,
		cfg:       cfg,
		logger:    logger,
		depthType: kind,
	}

	fc.src, err = camera.FromProvider(deps, cfg.Src)
	if err != nil {
		return nil, err
	}

	calib, err := fc.calibration(ctx)
	if err != nil {
		return nil, err
	}

	depthSize := image.Pt(calib.IntrinsicsD.Width, calib.IntrinsicsD.Height)
	rgbSize := depthSize
	if calib.HasColorCamera() {
		rgbSize = image.Pt(calib.IntrinsicsRGB.Width, calib.IntrinsicsRGB.Height)
	}

	fc.engine, err = NewEngine(cfg.Settings, calib, rgbSize, depthSize, logger)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// calibration comes from calibration_path, or else from the src camera's
// intrinsics as a registered rgbd pair.
func (fc *FusionCamera) calibration(ctx context.Context) (view.Calibration, error) {
	if fc.cfg.CalibrationPath != "" {
		return view.LoadCalibration(fc.cfg.CalibrationPath)
	}

	props, err := fc.src.Properties(ctx)
	if err != nil {
		return view.Calibration{}, err
	}
	if props.IntrinsicParams == nil {
		return view.Calibration{}, fmt.Errorf("camera %s has no intrinsics, need a calibration_path", fc.cfg.Src)
	}
	return view.Calibration{
		IntrinsicsRGB: *props.IntrinsicParams,
		IntrinsicsD:   *props.IntrinsicParams,
		RGBToDepth:    geom.Identity(),
		Disparity:     view.DefaultDisparityCalib,
	}, nil
}

// FusionCamera feeds frames from an rgbd camera through a fusion Engine. Its
// point cloud is the fused model, its images are the latest raycast and inputs.
type FusionCamera struct {
	resource.AlwaysRebuild

	name      resource.Name
	cfg       *CameraConfig
	logger    logging.Logger
	depthType view.InputImageType

	src    camera.Camera
	engine *Engine

	lock               sync.Mutex
	active             bool
	lastPointCloud     pointcloud.PointCloud
	lastPointCloudTime time.Time
	lastPointCloudErr  error
}

func (fc *FusionCamera) Name() resource.Name {
	return fc.name
}

func (fc *FusionCamera) Engine() *Engine {
	return fc.engine
}

func (fc *FusionCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	if _, err := fc.NextPointCloud(ctx, extra); err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	img, err := fc.engine.GetImage(CachedSceneRaycast, true, nil, nil)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}

	data, err := rimage.EncodeImage(ctx, img, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}

	return data, camera.ImageMetadata{MimeType: mimeType}, err
}

func (fc *FusionCamera) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	if _, err := fc.NextPointCloud(ctx, extra); err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	want := func(n string) bool {
		if len(filterSourceNames) == 0 {
			return true
		}
		for _, f := range filterSourceNames {
			if f == n {
				return true
			}
		}
		return false
	}

	out := []camera.NamedImage{}
	for _, x := range []struct {
		name string
		mode ImageMode
	}{
		{"raycast", CachedSceneRaycast},
		{"color", RawColor},
		{"depth", RawDepthVisualized},
	} {
		if !want(x.name) {
			continue
		}
		img, err := fc.engine.GetImage(x.mode, true, nil, nil)
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		ni, err := camera.NamedImageFromImage(img, x.name, "image/png", data.Annotations{})
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		out = append(out, ni)
	}
	return out, resource.ResponseMetadata{time.Now()}, nil
}

// DoCommand supports {"integration": bool} and {"status": true}.
func (fc *FusionCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	res := map[string]interface{}{}

	if x, ok := cmd["integration"]; ok {
		on, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("integration needs a bool, not %T", x)
		}
		fc.engine.SetIntegration(on)
		res["integration"] = on
	}

	if _, ok := cmd["status"]; ok {
		center := fc.engine.Pose().Translation()
		res["frames"] = fc.engine.FrameCount()
		res["model_size"] = fc.engine.ModelSize()
		res["integration"] = fc.engine.IntegrationEnabled()
		res["camera_center_m"] = []float64{center.X, center.Y, center.Z}
		if img, err := fc.engine.GetImage(CachedSceneRaycast, false, nil, nil); err == nil {
			res["raycast_brightness"] = imgutils.MeanBrightness(img)
		}
	}

	if len(res) == 0 {
		return nil, fmt.Errorf("unknown command %v", cmd)
	}
	return res, nil
}

func (fc *FusionCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	start := time.Now()
	fc.lock.Lock()
	if fc.active {
		fc.lock.Unlock()
		return fc.waitForPointCloudAfter(ctx, start)
	}

	fc.active = true
	fc.lock.Unlock()

	pc, err := fc.doNextPointCloud(ctx, extra)

	fc.lock.Lock()
	fc.active = false
	fc.lastPointCloud = pc
	fc.lastPointCloudErr = err
	fc.lastPointCloudTime = time.Now()
	fc.lock.Unlock()

	return pc, err
}

func (fc *FusionCamera) waitForPointCloudAfter(ctx context.Context, when time.Time) (pointcloud.PointCloud, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if time.Since(when) > time.Minute {
			return nil, fmt.Errorf("waitForPointCloudAfter timed out after %v", time.Since(when))
		}

		fc.lock.Lock()
		if fc.lastPointCloudTime.After(when) {
			pc := fc.lastPointCloud
			err := fc.lastPointCloudErr
			fc.lock.Unlock()
			return pc, err
		}
		fc.lock.Unlock()

		time.Sleep(time.Millisecond * 50)
	}
}

func (fc *FusionCamera) doNextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	start := time.Now()

	imgs, _, err := fc.src.Images(ctx, nil, extra)
	if err != nil {
		return nil, err
	}

	var rgb, depth image.Image
	for _, ni := range imgs {
		switch ni.SourceName {
		case fc.cfg.colorSource():
			rgb, err = ni.Image(ctx)
		case fc.cfg.depthSource():
			depth, err = ni.Image(ctx)
		}
		if err != nil {
			return nil, err
		}
	}
	if depth == nil {
		return nil, fmt.Errorf("camera %s returned no %q image", fc.cfg.Src, fc.cfg.depthSource())
	}
	calib := fc.engine.Calibration()
	if rgb == nil && calib.HasColorCamera() {
		return nil, fmt.Errorf("camera %s returned no %q image", fc.cfg.Src, fc.cfg.colorSource())
	}

	timeA := time.Since(start)

	if err := fc.engine.LoadFrame(rgb, depth, fc.depthType); err != nil {
		return nil, err
	}
	if err := fc.engine.ProcessFrame(); err != nil {
		return nil, err
	}

	timeB := time.Since(start)

	model, ok := fc.engine.Model()
	if !ok {
		return nil, fmt.Errorf("mapper can't export a point cloud")
	}
	pc, err := toMillimetres(model)
	if err != nil {
		return nil, err
	}

	timeC := time.Since(start)
	if timeC > (time.Millisecond * 250) {
		fc.logger.Infof("FusionCamera::NextPointCloud timeA: %v timeB: %v timeC: %v", timeA, timeB, timeC)
	}

	return pc, nil
}

// toMillimetres scales a metric cloud to the millimetres the rest of rdk expects.
func toMillimetres(pc pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	out := pointcloud.NewBasicEmpty()
	var err error
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		err = out.Set(p.Mul(1000), d)
		return err == nil
	})
	return out, err
}

func (fc *FusionCamera) Properties(ctx context.Context) (camera.Properties, error) {
	intr := fc.engine.Calibration().IntrinsicsD
	return camera.Properties{
		SupportsPCD:     true,
		IntrinsicParams: &intr,
	}, nil
}

func (fc *FusionCamera) Close(ctx context.Context) error {
	return fc.engine.Close()
}

func (fc *FusionCamera) Geometries(ctx context.Context, _ map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}
