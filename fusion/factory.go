package fusion

import (
	"go.viam.com/rdk/logging"

	"github.com/erh/vfusion/tracking"
)

// newTrackers builds the primary and optional secondary tracker for s.
// ground_truth_icp replays the trajectory and lets ICP refine each replayed pose.
func newTrackers(s Settings, logger logging.Logger) (tracking.Tracker, tracking.Tracker, error) {
	switch s.TrackerType {
	case TrackerICP:
		return tracking.NewICPTracker(s.icpConfig(), logger), nil, nil
	case TrackerColor:
		return tracking.NewColorTracker(s.colorConfig(), logger), nil, nil
	case TrackerGroundTruth:
		gt, err := tracking.NewGroundTruthTracker(s.GroundTruthPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return gt, nil, nil
	case TrackerGroundTruthICP:
		gt, err := tracking.NewGroundTruthTracker(s.GroundTruthPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return gt, tracking.NewICPTracker(s.icpConfig(), logger), nil
	default:
		return nil, nil, &ConfigurationError{Reason: "unknown tracker_type " + string(s.TrackerType)}
	}
}
