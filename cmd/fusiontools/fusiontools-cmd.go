package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage"

	"github.com/erh/vfusion"
	"github.com/erh/vfusion/fusion"
	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/imgutils"
	"github.com/erh/vfusion/tracking"
	"github.com/erh/vfusion/view"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("fusiontools")
	ctx := context.Background()

	host := flag.String("host", "", "hostname, empty uses the module environment")
	cmd := flag.String("cmd", "", "replay, trajectory, download, live or image")
	cameraName := flag.String("camera", "", "camera to use")
	out := flag.String("out", "", "output file or directory")
	in := flag.String("in", "", "input file")
	frames := flag.String("frames", "", "directory of color-NNNN.png / depth-NNNN.png frames")
	calibPath := flag.String("calib", "", "calibration json")
	settingsPath := flag.String("settings", "", "settings json")
	depthType := flag.String("depth-type", "mm", "mm or disparity")
	maxFrames := flag.Int("n", 0, "stop after this many frames, 0 for all")
	scale := flag.Float64("scale", 1, "pixels per point cloud unit for -cmd image")

	flag.Parse()

	if *cmd == "" {
		return fmt.Errorf("need a cmd")
	}

	if *cmd == "replay" {
		if *frames == "" || *calibPath == "" {
			return fmt.Errorf("need 'frames' and 'calib'")
		}
		kind, err := parseDepthType(*depthType)
		if err != nil {
			return err
		}
		settings, err := loadSettings(*settingsPath)
		if err != nil {
			return err
		}
		calib, err := view.LoadCalibration(*calibPath)
		if err != nil {
			return err
		}
		return replay(*frames, *out, calib, settings, kind, *maxFrames, logger)
	}

	if *cmd == "trajectory" {
		traj, err := tracking.LoadTrajectory(*in)
		if err != nil {
			return err
		}
		logger.Infof("%d poses, path length %0.3f (recorded units), %0.3f m after scaling",
			traj.Len(), traj.PathLength(), traj.PathLength()*tracking.GroundTruthTranslationScale)
		if traj.Len() > 0 {
			first, _ := traj.At(0)
			last, _ := traj.At(traj.Len() - 1)
			logger.Infof("first camera centre %v last %v", first.Translation(), last.Translation())
		}
		return nil
	}

	if *cmd == "download" {
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}

		machine, err := vfusion.Connect(ctx, *host, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		myCamera, err := camera.FromRobot(machine, *cameraName)
		if err != nil {
			return err
		}

		pc, err := myCamera.NextPointCloud(ctx, nil)
		if err != nil {
			return err
		}

		if *frames != "" {
			if err := saveImages(ctx, myCamera, *frames); err != nil {
				return err
			}
		}

		return writePCToFile(*out, pc)
	}

	if *cmd == "live" {
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}
		settings, err := loadSettings(*settingsPath)
		if err != nil {
			return err
		}

		machine, err := vfusion.Connect(ctx, *host, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		deps, err := vfusion.MachineToDependencies(machine)
		if err != nil {
			return err
		}
		if _, ok := vfusion.FindDep(deps, *cameraName); !ok {
			return fmt.Errorf("machine has no camera called %q", *cameraName)
		}

		cfg := &fusion.CameraConfig{Src: *cameraName, DepthType: *depthType, Settings: settings, CalibrationPath: *calibPath}
		if _, _, err := cfg.Validate(""); err != nil {
			return err
		}
		fc, err := fusion.NewFusionCamera(ctx, deps, camera.Named("fusiontools"), cfg, logger)
		if err != nil {
			return err
		}
		defer goutils.UncheckedErrorFunc(func() error { return fc.Close(ctx) })

		n := *maxFrames
		if n <= 0 {
			n = 30
		}
		var pc pointcloud.PointCloud
		for i := 0; i < n; i++ {
			pc, err = fc.NextPointCloud(ctx, nil)
			if err != nil {
				return err
			}
			logger.Infof("frame %d: model has %d points, camera at %v", i, pc.Size(), fc.Engine().Pose().Translation())
		}
		return writePCToFile(*out, pc)
	}

	if *cmd == "image" {
		in, err := pointcloud.NewFromFile(*in, "")
		if err != nil {
			return err
		}
		img := imgutils.PCToImage(in, *scale)
		if *out == "" {
			return fmt.Errorf("need an out")
		}
		logger.Infof("brightness %0.1f", imgutils.MeanBrightness(img))

		return rimage.WriteImageToFile(*out, img)
	}

	return fmt.Errorf("invalid command [%s]", *cmd)

}

func parseDepthType(s string) (view.InputImageType, error) {
	switch s {
	case "", "mm":
		return view.ShortDepth, nil
	case "disparity":
		return view.Disparity, nil
	default:
		return 0, fmt.Errorf("unknown depth-type %q", s)
	}
}

func loadSettings(fn string) (fusion.Settings, error) {
	if fn == "" {
		return fusion.Settings{}, nil
	}
	return fusion.LoadSettings(fn)
}

func frameFile(dir, kind string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%04d.png", kind, idx))
}

// replay runs recorded frames through an engine and writes the model, the
// estimated trajectory and one raycast per frame into outDir.
func replay(framesDir, outDir string, calib view.Calibration, settings fusion.Settings, kind view.InputImageType, maxFrames int, logger logging.Logger) error {
	first, err := rimage.ReadImageFromFile(frameFile(framesDir, "depth", 0))
	if err != nil {
		return err
	}
	depthSize := first.Bounds().Size()
	rgbSize := depthSize
	if calib.HasColorCamera() {
		rgbSize = image.Pt(calib.IntrinsicsRGB.Width, calib.IntrinsicsRGB.Height)
	}

	e, err := fusion.NewEngine(settings, calib, rgbSize, depthSize, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(e.Close)

	if outDir == "" {
		outDir = "replay-" + e.ID()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	poses := []geom.Pose{}
	for idx := 0; maxFrames <= 0 || idx < maxFrames; idx++ {
		depthFile := frameFile(framesDir, "depth", idx)
		if _, err := os.Stat(depthFile); errors.Is(err, os.ErrNotExist) {
			break
		}
		depth, err := rimage.ReadImageFromFile(depthFile)
		if err != nil {
			return err
		}
		var rgb image.Image
		if calib.HasColorCamera() {
			rgb, err = rimage.ReadImageFromFile(frameFile(framesDir, "color", idx))
			if err != nil {
				return err
			}
		}

		if err := e.LoadFrame(rgb, depth, kind); err != nil {
			return fmt.Errorf("frame %d: %w", idx, err)
		}
		err = e.ProcessFrame()
		var be *tracking.BoundsError
		if errors.As(err, &be) {
			logger.Infof("trajectory ran out after %d frames", idx)
			break
		}
		if err != nil {
			return err
		}
		poses = append(poses, e.Pose())

		raycast, err := e.GetImage(fusion.CachedSceneRaycast, true, nil, nil)
		if err != nil {
			return err
		}
		if err := rimage.WriteImageToFile(frameFile(outDir, "raycast", idx), raycast); err != nil {
			return err
		}
	}

	logger.Infof("processed %d frames into %s", e.FrameCount(), outDir)

	f, err := os.Create(filepath.Join(outDir, "trajectory.txt"))
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	if err := tracking.WriteTrajectory(f, poses); err != nil {
		return err
	}

	model, ok := e.Model()
	if !ok {
		return nil
	}
	return writePCToFile(filepath.Join(outDir, "model.pcd"), model)
}

func saveImages(ctx context.Context, myCamera camera.Camera, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	imgs, _, err := myCamera.Images(ctx, nil, nil)
	if err != nil {
		return err
	}
	for _, i := range imgs {
		theImage, err := i.Image(ctx)
		if err != nil {
			return err
		}
		fn := frameFile(dir, i.SourceName, 0)
		if err := rimage.WriteImageToFile(fn, theImage); err != nil {
			return fmt.Errorf("cannot write (%s): %w", fn, err)
		}
	}
	return nil
}

func writePCToFile(fn string, pc pointcloud.PointCloud) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return pointcloud.ToPCD(pc, f, pointcloud.PCDBinary)
}
