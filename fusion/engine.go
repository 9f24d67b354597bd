// Package fusion runs the per frame reconstruction pipeline: depth conversion,
// camera tracking, integration into the dense model and raycasting.
package fusion

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/imgutils"
	"github.com/erh/vfusion/lowlevel"
	"github.com/erh/vfusion/pcmapper"
	"github.com/erh/vfusion/tracking"
	"github.com/erh/vfusion/view"
)

// DenseMapper owns the volumetric model. All poses are InvM (camera to world).
type DenseMapper interface {
	// ProcessFrame integrates one frame at pose. There is no undo.
	ProcessFrame(v *view.View, pose geom.Pose) error
	// GetICPMaps raycasts the depth domain reference into state.
	GetICPMaps(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, v *view.View, state *tracking.State) error
	// GetPointCloud raycasts a coloured point cloud into state, keeping every skip-th pixel.
	GetPointCloud(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, v *view.View, state *tracking.State, skip int) error
	// GetRendering draws the model into out and must not touch any tracking state.
	GetRendering(pose geom.Pose, intrinsics *transform.PinholeCameraIntrinsics, useColour bool, out *image.NRGBA) error
}

// ImageMode picks what GetImage returns.
type ImageMode int

const (
	RawColor ImageMode = iota
	RawDepthVisualized
	CachedSceneRaycast
	FreeViewpointRaycast
)

func (m ImageMode) String() string {
	switch m {
	case RawColor:
		return "raw_color"
	case RawDepthVisualized:
		return "raw_depth"
	case CachedSceneRaycast:
		return "scene_raycast"
	case FreeViewpointRaycast:
		return "free_viewpoint"
	default:
		return fmt.Sprintf("ImageMode(%d)", int(m))
	}
}

type engineOptions struct {
	mapper      DenseMapper
	lowLevel    lowlevel.Engine
	trackersSet bool
	primary     tracking.Tracker
	secondary   tracking.Tracker
}

type Option func(*engineOptions)

// WithMapper replaces the default point cloud mapper.
func WithMapper(m DenseMapper) Option {
	return func(o *engineOptions) {
		o.mapper = m
	}
}

// WithLowLevel replaces the depth conversion strategy picked from the settings.
func WithLowLevel(l lowlevel.Engine) Option {
	return func(o *engineOptions) {
		o.lowLevel = l
	}
}

// WithTrackers replaces the trackers built from the settings. Either may be nil.
func WithTrackers(primary, secondary tracking.Tracker) Option {
	return func(o *engineOptions) {
		o.trackersSet = true
		o.primary = primary
		o.secondary = secondary
	}
}

// Engine is the fusion pipeline. It owns the view, the tracking state, the
// trackers and the mapper. One frame is processed at a time.
type Engine struct {
	mu sync.Mutex

	id       string
	settings Settings
	logger   logging.Logger

	view     *view.View
	state    *tracking.State
	lowLevel lowlevel.Engine
	mapper   DenseMapper

	primary   tracking.Tracker
	secondary tracking.Tracker

	bootstrapped bool
	integrate    bool
	frames       int
	closed       bool
}

// NewEngine builds a pipeline for the given cameras. A zero depthSize means the
// depth image is the same size as the colour image.
func NewEngine(
	settings Settings,
	calib view.Calibration,
	rgbSize, depthSize image.Point,
	logger logging.Logger,
	opts ...Option,
) (*Engine, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if depthSize == (image.Point{}) {
		depthSize = rgbSize
	}
	if rgbSize.X <= 0 || rgbSize.Y <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("bad image size %v", rgbSize)}
	}
	if err := calib.IntrinsicsD.CheckValid(); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("bad depth intrinsics: %v", err)}
	}
	if settings.TrackerType == TrackerColor && !calib.HasColorCamera() {
		return nil, &ConfigurationError{Reason: "color tracking needs a colour camera"}
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.lowLevel == nil {
		o.lowLevel = lowlevel.New(settings.UseGPU)
	}
	if o.mapper == nil {
		o.mapper = pcmapper.New(settings.VoxelSize, logger)
	}
	if !o.trackersSet {
		var err error
		o.primary, o.secondary, err = newTrackers(settings, logger)
		if err != nil {
			return nil, err
		}
	}

	onDevice := o.lowLevel.OnDevice()
	e := &Engine{
		id:        uuid.NewString(),
		settings:  settings,
		logger:    logger,
		view:      view.New(calib, rgbSize, depthSize, onDevice),
		state:     tracking.NewState(rgbSize, depthSize, onDevice),
		lowLevel:  o.lowLevel,
		mapper:    o.mapper,
		primary:   o.primary,
		secondary: o.secondary,
		integrate: !settings.IntegrationDisabled,
	}

	logger.Infof("fusion engine %s: tracker %s rgb %v depth %v device %v", e.id, settings.TrackerType, rgbSize, depthSize, onDevice)
	return e, nil
}

// ID identifies this engine in logs and output.
func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Settings() Settings {
	return e.settings
}

func (e *Engine) trackers() []tracking.Tracker {
	out := []tracking.Tracker{}
	for _, t := range []tracking.Tracker{e.primary, e.secondary} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// LoadFrame copies a colour image and a 16 bit depth or disparity image into the view.
// rgb may be nil when there is no colour camera.
func (e *Engine) LoadFrame(rgb, depth image.Image, kind view.InputImageType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rgb != nil {
		if err := e.view.LoadRGB(rgb); err != nil {
			return err
		}
	}
	return e.view.LoadRawDepth(depth, kind)
}

// LoadMetricDepth loads a depth frame already in metres, row-major at the depth size.
func (e *Engine) LoadMetricDepth(metres []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view.LoadDepth(metres)
}

// ProcessFrame runs the pipeline on the frame currently loaded in the view.
// A tracker error is returned as is and the frame is neither integrated nor counted.
func (e *Engine) ProcessFrame() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("fusion engine %s is closed", e.id)
	}

	v := e.view
	onDevice := e.lowLevel.OnDevice()

	if onDevice {
		v.RGB.UpdateDeviceFromHost()
		if v.InputType == view.FloatDepth {
			v.Depth.UpdateDeviceFromHost()
		} else {
			v.RawDepth.UpdateDeviceFromHost()
		}
	}

	switch v.InputType {
	case view.Disparity:
		e.lowLevel.ConvertDisparityToDepth(v.Depth, v.RawDepth, &v.Calib.IntrinsicsD, v.Calib.Disparity)
	case view.ShortDepth:
		e.lowLevel.ConvertDepthMMToFloat(v.Depth, v.RawDepth)
	case view.FloatDepth:
	}

	// trackers and the mapper read the host side
	if onDevice && v.InputType != view.FloatDepth {
		v.Depth.UpdateHostFromDevice()
	}

	if e.bootstrapped {
		for _, t := range e.trackers() {
			if err := t.TrackCamera(e.state, v); err != nil {
				return fmt.Errorf("tracking frame %d: %w", e.frames, err)
			}
		}
	}

	if e.integrate {
		if err := e.mapper.ProcessFrame(v, e.state.InvM()); err != nil {
			return fmt.Errorf("integrating frame %d: %w", e.frames, err)
		}
	}

	if err := e.raycast(); err != nil {
		return fmt.Errorf("raycasting frame %d: %w", e.frames, err)
	}

	e.bootstrapped = true
	e.frames++
	e.logger.Debugf("frame %d done, camera at %v", e.frames, e.state.CameraCenter())
	return nil
}

func (e *Engine) raycast() error {
	calib := e.view.Calib
	if e.settings.TrackerType.DepthDomain() {
		return e.mapper.GetICPMaps(e.state.InvM(), &calib.IntrinsicsD, e.view, e.state)
	}

	// world to colour camera, handed to the mapper as InvM
	rgbM := calib.RGBToDepth.Inverse().Mul(e.state.M())
	return e.mapper.GetPointCloud(rgbM.Inverse(), &calib.IntrinsicsRGB, e.view, e.state, e.settings.SkipPoints)
}

// GetImage renders one of the engine outputs. pose (InvM) and intrinsics are only
// used, and then required, by FreeViewpointRaycast.
func (e *Engine) GetImage(mode ImageMode, useColour bool, pose *geom.Pose, intrinsics *transform.PinholeCameraIntrinsics) (*image.NRGBA, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch mode {
	case RawColor:
		if e.view.RGB.HasDevice() {
			e.view.RGB.UpdateHostFromDevice()
		}
		return toNRGBA(e.view.RGB, e.view.RGB.Size()), nil
	case RawDepthVisualized:
		return imgutils.DepthToColor(e.view.Depth), nil
	case CachedSceneRaycast:
		if !e.state.HasRaycast {
			return nil, fmt.Errorf("no raycast yet")
		}
		if e.state.Rendering.HasDevice() {
			e.state.Rendering.UpdateHostFromDevice()
		}
		size := image.Pt(e.state.RaycastIntrinsics.Width, e.state.RaycastIntrinsics.Height)
		return toNRGBA(e.state.Rendering, size), nil
	case FreeViewpointRaycast:
		if pose == nil || intrinsics == nil {
			return nil, fmt.Errorf("%v needs a pose and intrinsics", mode)
		}
		out := image.NewNRGBA(image.Rect(0, 0, intrinsics.Width, intrinsics.Height))
		if err := e.mapper.GetRendering(*pose, intrinsics, useColour, out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown image mode %v", mode)
	}
}

func toNRGBA(img *view.Image[color.NRGBA], size image.Point) *image.NRGBA {
	size.X = min(size.X, img.Width())
	size.Y = min(size.Y, img.Height())
	out := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			out.SetNRGBA(x, y, img.At(x, y))
		}
	}
	return out
}

// SetIntegration turns fusing of new frames into the model on or off from the next frame.
func (e *Engine) SetIntegration(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.integrate = enabled
}

func (e *Engine) IntegrationEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.integrate
}

// FrameCount is the number of frames processed successfully.
func (e *Engine) FrameCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Calibration is a copy of the calibration the engine was built with.
func (e *Engine) Calibration() view.Calibration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.view.Calib
}

// OnDevice reports whether frames are staged through device buffers.
func (e *Engine) OnDevice() bool {
	return e.lowLevel.OnDevice()
}

// TrackingState returns a deep copy of the tracking state.
func (e *Engine) TrackingState() *tracking.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// Pose is the current camera to world pose.
func (e *Engine) Pose() geom.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.InvM()
}

// Model exports the scene when the mapper supports it.
func (e *Engine) Model() (pointcloud.PointCloud, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.mapper.(interface{ Cloud() pointcloud.PointCloud })
	if !ok {
		return nil, false
	}
	return c.Cloud(), true
}

// ModelSize is the mapper's element count, -1 when it doesn't report one.
func (e *Engine) ModelSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.mapper.(interface{ Size() int })
	if !ok {
		return -1
	}
	return s.Size()
}

type closer interface {
	Close() error
}

// Close releases every owned collaborator that needs it. Calling it twice is fine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	for _, x := range []interface{}{e.primary, e.secondary, e.mapper, e.lowLevel} {
		if c, ok := x.(closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
