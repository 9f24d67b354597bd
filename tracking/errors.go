package tracking

import "fmt"

// IOError is returned when a trajectory file cannot be opened or read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cannot read trajectory: %v", e.Err)
	}
	return fmt.Sprintf("cannot read trajectory %q: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// BoundsError is returned when a trajectory is indexed past its end.
type BoundsError struct {
	Index  int
	Length int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("trajectory index %d out of range [0, %d)", e.Index, e.Length)
}
