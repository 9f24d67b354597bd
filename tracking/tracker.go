// Package tracking holds the camera pose sources and the state they update.
package tracking

import "github.com/erh/vfusion/view"

// Tracker refines the camera pose for a new frame.
//
// TrackCamera reads v and updates state's pose in place through State.SetPose.
// A returned error means the frame could not be tracked at all (for example a
// replayed trajectory ran out); numerical divergence is not reported.
//
// UpdateInitialPose is a hook for variants that need to seed the pose. The engine
// does not call it and the trackers in this package leave the pose alone.
type Tracker interface {
	TrackCamera(state *State, v *view.View) error
	UpdateInitialPose(state *State)
}
