package tracking

import (
	"go.viam.com/rdk/logging"

	"github.com/erh/vfusion/geom"
	"github.com/erh/vfusion/view"
)

// GroundTruthTranslationScale brings recorded trajectory translations into the
// depth sensor's metric range. Rotation is not scaled.
const GroundTruthTranslationScale = 0.1

// GroundTruthTracker replays a recorded trajectory instead of estimating pose.
//
// Trajectory entries map points from the i-th camera frame into the first (world)
// frame, so they are installed as InvM. Frame 0 is the bootstrap frame, which is
// never tracked, so the first TrackCamera call reads entry 1.
type GroundTruthTracker struct {
	trajectory *Trajectory
	cursor     int
	logger     logging.Logger
}

// NewGroundTruthTracker loads the trajectory at fn.
func NewGroundTruthTracker(fn string, logger logging.Logger) (*GroundTruthTracker, error) {
	t, err := LoadTrajectory(fn)
	if err != nil {
		return nil, err
	}
	logger.Infof("loaded %d ground truth poses from %s", t.Len(), fn)
	return NewGroundTruthTrackerFromTrajectory(t, logger), nil
}

// NewGroundTruthTrackerFromTrajectory replays an already loaded trajectory.
func NewGroundTruthTrackerFromTrajectory(t *Trajectory, logger logging.Logger) *GroundTruthTracker {
	return &GroundTruthTracker{
		trajectory: t,
		logger:     logger,
	}
}

// Cursor is the index of the last replayed entry.
func (gt *GroundTruthTracker) Cursor() int {
	return gt.cursor
}

// Trajectory is the replayed trajectory.
func (gt *GroundTruthTracker) Trajectory() *Trajectory {
	return gt.trajectory
}

func (gt *GroundTruthTracker) TrackCamera(state *State, v *view.View) error {
	next := gt.cursor + 1
	p, err := gt.trajectory.At(next)
	if err != nil {
		return err
	}
	gt.cursor = next

	state.SetPose(p.ScaleTranslation(GroundTruthTranslationScale), geom.InvM)
	gt.logger.Debugf("ground truth frame %d at %v", next, state.CameraCenter())
	return nil
}

func (gt *GroundTruthTracker) UpdateInitialPose(state *State) {}
