package fusion

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/erh/vfusion/tracking"
)

// TrackerType selects how camera poses are produced.
type TrackerType string

const (
	TrackerICP            TrackerType = "icp"
	TrackerColor          TrackerType = "color"
	TrackerGroundTruth    TrackerType = "ground_truth"
	TrackerGroundTruthICP TrackerType = "ground_truth_icp"
)

// DepthDomain is true for tracker types that consume a depth-domain raycast.
func (t TrackerType) DepthDomain() bool {
	return t != TrackerColor
}

func (t TrackerType) usesGroundTruth() bool {
	return t == TrackerGroundTruth || t == TrackerGroundTruthICP
}

// DefaultSkipPoints is the colour point cloud stride.
const DefaultSkipPoints = 2

type Settings struct {
	UseGPU              bool        `json:"use_gpu"`
	TrackerType         TrackerType `json:"tracker_type"`
	GroundTruthPath     string      `json:"ground_truth_path"`
	SkipPoints          int         `json:"skip_points"`
	VoxelSize           float64     `json:"voxel_size_m"`
	ICPIterations       int         `json:"icp_iterations"`
	ICPMaxDistance      float64     `json:"icp_max_distance_m"`
	ColorIterations     int         `json:"color_iterations"`
	IntegrationDisabled bool        `json:"integration_disabled"`
}

func (s Settings) withDefaults() Settings {
	if s.TrackerType == "" {
		s.TrackerType = TrackerICP
	}
	if s.SkipPoints == 0 {
		s.SkipPoints = DefaultSkipPoints
	}
	return s
}

// Validate checks the settings after defaults are applied.
func (s Settings) Validate() error {
	s = s.withDefaults()
	switch s.TrackerType {
	case TrackerICP, TrackerColor, TrackerGroundTruth, TrackerGroundTruthICP:
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown tracker_type %q", s.TrackerType)}
	}
	if s.TrackerType.usesGroundTruth() && s.GroundTruthPath == "" {
		return &ConfigurationError{Reason: fmt.Sprintf("tracker_type %q needs ground_truth_path", s.TrackerType)}
	}
	if s.SkipPoints < 1 {
		return fmt.Errorf("skip_points has to be at least 1, not %d", s.SkipPoints)
	}
	if s.VoxelSize < 0 || s.ICPMaxDistance < 0 {
		return fmt.Errorf("voxel_size_m and icp_max_distance_m can't be negative")
	}
	if s.ICPIterations < 0 || s.ColorIterations < 0 {
		return fmt.Errorf("icp_iterations and color_iterations can't be negative")
	}
	return nil
}

func (s Settings) icpConfig() tracking.ICPConfig {
	return tracking.ICPConfig{Iterations: s.ICPIterations, MaxDistance: s.ICPMaxDistance}
}

func (s Settings) colorConfig() tracking.ColorConfig {
	return tracking.ColorConfig{Iterations: s.ColorIterations}
}

// LoadSettings reads settings from a json file.
func LoadSettings(fn string) (Settings, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "can't parse settings %s", fn)
	}
	return s, nil
}
