package tracking

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"github.com/erh/vfusion/geom"
)

func TestParseTrajectoryLine(t *testing.T) {
	traj, err := ParseTrajectory(strings.NewReader("1 0 0 10  0 1 0 20  0 0 1 30\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, traj.Len(), test.ShouldEqual, 1)

	p, err := traj.At(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Rotation(), test.ShouldResemble, geom.Identity().Rotation())
	test.That(t, p.Translation(), test.ShouldResemble, r3.Vector{10, 20, 30})
	test.That(t, p[3], test.ShouldResemble, [4]float64{0, 0, 0, 1})

	scaled := p.ScaleTranslation(GroundTruthTranslationScale)
	test.That(t, scaled.Translation().X, test.ShouldAlmostEqual, 1.0)
	test.That(t, scaled.Translation().Y, test.ShouldAlmostEqual, 2.0)
	test.That(t, scaled.Translation().Z, test.ShouldAlmostEqual, 3.0)
	test.That(t, scaled[3], test.ShouldResemble, [4]float64{0, 0, 0, 1})
}

func TestParseTrajectoryNoTrailingNewline(t *testing.T) {
	in := "1 0 0 0 0 1 0 0 0 0 1 0\n" +
		"1 0 0 1 0 1 0 0 0 0 1 0\n" +
		"1 0 0 2 0 1 0 0 0 0 1 0"
	traj, err := ParseTrajectory(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, traj.Len(), test.ShouldEqual, 3)

	withNewline, err := ParseTrajectory(strings.NewReader(in + "\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(traj.Poses(), withNewline.Poses()), test.ShouldBeEmpty)
}

func TestParseTrajectoryBlankLinesAndTabs(t *testing.T) {
	in := "\n1\t0\t0\t0\t0\t1\t0\t0\t0\t0\t1\t0\n\n   \n1 0 0 5 0 1 0 0 0 0 1 0\n"
	traj, err := ParseTrajectory(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, traj.Len(), test.ShouldEqual, 2)
	p, err := traj.At(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Translation().X, test.ShouldEqual, 5.0)
}

func TestParseTrajectoryMalformed(t *testing.T) {
	_, err := ParseTrajectory(strings.NewReader("1 0 0 0 0 1 0 0 0 0 1\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 1")

	_, err = ParseTrajectory(strings.NewReader("1 0 0 0 0 1 0 0 0 0 1 0\n1 0 0 x 0 1 0 0 0 0 1 0\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2")
}

func TestTrajectoryBounds(t *testing.T) {
	traj := NewTrajectory([]geom.Pose{geom.Identity()})
	_, err := traj.At(1)
	var be *BoundsError
	test.That(t, errors.As(err, &be), test.ShouldBeTrue)
	test.That(t, be.Index, test.ShouldEqual, 1)
	test.That(t, be.Length, test.ShouldEqual, 1)

	_, err = traj.At(-1)
	test.That(t, errors.As(err, &be), test.ShouldBeTrue)
}

func TestTrajectoryIsImmutable(t *testing.T) {
	poses := []geom.Pose{geom.Identity()}
	traj := NewTrajectory(poses)
	poses[0][0][3] = 99

	out := traj.Poses()
	out[0][1][3] = 42

	p, err := traj.At(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, geom.Identity())
}

func TestLoadTrajectory(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "poses.txt")
	err := os.WriteFile(fn, []byte("1 0 0 0 0 1 0 0 0 0 1 0\n1 0 0 1 0 1 0 0 0 0 1 0\n"), 0o644)
	test.That(t, err, test.ShouldBeNil)

	traj, err := LoadTrajectory(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, traj.Len(), test.ShouldEqual, 2)

	_, err = LoadTrajectory(filepath.Join(t.TempDir(), "nope.txt"))
	var ioe *IOError
	test.That(t, errors.As(err, &ioe), test.ShouldBeTrue)
	test.That(t, errors.Is(err, os.ErrNotExist), test.ShouldBeTrue)
}

func TestLoadTrajectoryReadFailure(t *testing.T) {
	// a directory opens fine but can't be read
	dir := t.TempDir()
	_, err := LoadTrajectory(dir)
	var ioe *IOError
	test.That(t, errors.As(err, &ioe), test.ShouldBeTrue)
	test.That(t, ioe.Path, test.ShouldEqual, dir)

	_, err = ParseTrajectory(iotest.ErrReader(errors.New("unplugged")))
	test.That(t, errors.As(err, &ioe), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unplugged")

	// malformed content is not an IO problem
	fn := filepath.Join(dir, "bad.txt")
	test.That(t, os.WriteFile(fn, []byte("1 2 3\n"), 0o644), test.ShouldBeNil)
	_, err = LoadTrajectory(fn)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &ioe), test.ShouldBeFalse)
}

func TestWriteTrajectory(t *testing.T) {
	poses := []geom.Pose{
		geom.FromAxisAngle(r3.Vector{X: .3, Z: -.1}, r3.Vector{X: 1.5, Y: -2, Z: 1e-7}),
		geom.Identity().WithTranslation(r3.Vector{Z: 3}),
	}
	var buf bytes.Buffer
	test.That(t, WriteTrajectory(&buf, poses), test.ShouldBeNil)
	test.That(t, strings.Count(buf.String(), "\n"), test.ShouldEqual, 2)

	traj, err := ParseTrajectory(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(poses, traj.Poses()), test.ShouldBeEmpty)
	test.That(t, NewTrajectory(poses).PathLength(), test.ShouldAlmostEqual, r3.Vector{X: 1.5, Y: -2, Z: 3 - 1e-7}.Norm())
}
