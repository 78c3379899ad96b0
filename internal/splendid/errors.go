package splendid

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyExists is returned when a controller is requested while another one is live.
	ErrAlreadyExists = errors.New("controller already exists, only one instance allowed")
	// ErrHardwareUnavailable is returned when the vendor channel cannot be opened.
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	// ErrHardwareRead is returned when a slider read fails or yields an impossible value.
	ErrHardwareRead = errors.New("hardware read failed")
	// ErrHardwareWrite is returned when a slider write fails.
	ErrHardwareWrite = errors.New("hardware write failed")
	// ErrInvalidParameter is returned when a caller supplied value is out of its domain.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrClosed is returned by a controller after Close.
	ErrClosed = errors.New("controller closed")
)

// ParameterError describes a value that fell outside its closed interval.
type ParameterError struct {
	Name  string
	Value int
	Min   int
	Max   int
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid %s %d (expected %d-%d)", e.Name, e.Value, e.Min, e.Max)
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// checkRange returns a *ParameterError if v is not in [lo, hi].
func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ParameterError{Name: name, Value: v, Min: lo, Max: hi}
	}
	return nil
}

// SliderError reports a failed read or write at the accessor boundary.
//
// For writes issued as part of a multi-slider mode change, Applied lists the
// writes that the accessor accepted before the failure. The hardware may be
// left in that partially applied state; the snapshot is not updated.
type SliderError struct {
	Op      string // "read" or "write"
	Slider  Slider
	Value   int
	Applied []SliderWrite
	Err     error
}

func (e *SliderError) Error() string {
	var b strings.Builder
	if e.Op == opWrite {
		fmt.Fprintf(&b, "write %s=%d", e.Slider, e.Value)
	} else {
		fmt.Fprintf(&b, "read %s", e.Slider)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Applied) > 0 {
		parts := make([]string, 0, len(e.Applied))
		for _, w := range e.Applied {
			parts = append(parts, w.String())
		}
		fmt.Fprintf(&b, " (already applied: %s)", strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *SliderError) Unwrap() error {
	return e.Err
}

func (e *SliderError) Is(target error) bool {
	switch target {
	case ErrHardwareRead:
		return e.Op == opRead
	case ErrHardwareWrite:
		return e.Op == opWrite
	}
	return false
}

const (
	opRead  = "read"
	opWrite = "write"
)
