package tracking

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/erh/vfusion/geom"
)

// Trajectory is a recorded sequence of camera-to-world poses, one per frame.
// It is never modified after loading.
type Trajectory struct {
	poses []geom.Pose
}

// NewTrajectory copies poses into a trajectory.
func NewTrajectory(poses []geom.Pose) *Trajectory {
	return &Trajectory{poses: append([]geom.Pose(nil), poses...)}
}

func (t *Trajectory) Len() int {
	return len(t.poses)
}

// At returns pose i or a BoundsError.
func (t *Trajectory) At(i int) (geom.Pose, error) {
	if i < 0 || i >= len(t.poses) {
		return geom.Pose{}, &BoundsError{Index: i, Length: len(t.poses)}
	}
	return t.poses[i], nil
}

// Poses returns a copy of all poses.
func (t *Trajectory) Poses() []geom.Pose {
	return append([]geom.Pose(nil), t.poses...)
}

// LoadTrajectory reads a trajectory file. See ParseTrajectory for the format.
func LoadTrajectory(fn string) (*Trajectory, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, &IOError{Path: fn, Err: err}
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	t, err := ParseTrajectory(f)
	if err != nil {
		var ioe *IOError
		if errors.As(err, &ioe) {
			ioe.Path = fn
			return nil, ioe
		}
		return nil, errors.Wrapf(err, "cannot load trajectory %s", fn)
	}
	return t, nil
}

// ParseTrajectory reads one pose per line: 12 whitespace separated numbers, the
// first three rows of a row-major 4x4 camera-to-world matrix. Blank lines are skipped.
// A failing reader gives an IOError.
// A missing trailing newline does not change the record count.
func ParseTrajectory(r io.Reader) (*Trajectory, error) {
	t := &Trajectory{}

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 12 {
			return nil, errors.Errorf("line %d: expected 12 values, got %d", lineNumber, len(fields))
		}

		vals := make([]float64, 12)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNumber)
			}
			vals[i] = v
		}

		p, err := geom.FromRows(vals)
		if err != nil {
			return nil, err
		}
		t.poses = append(t.poses, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, &IOError{Err: err}
	}
	return t, nil
}

// WriteTrajectory writes poses in the format ParseTrajectory reads.
func WriteTrajectory(w io.Writer, poses []geom.Pose) error {
	bw := bufio.NewWriter(w)
	for _, p := range poses {
		vals := p.Rows()
		for i, v := range vals {
			if i > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// PathLength is the distance travelled by the camera centre along the trajectory.
func (t *Trajectory) PathLength() float64 {
	total := 0.0
	for i := 1; i < len(t.poses); i++ {
		total += t.poses[i].Translation().Distance(t.poses[i-1].Translation())
	}
	return total
}
