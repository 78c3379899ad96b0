package core

import (
	"sync"
	"time"

	"splendid-controller/internal/splendid"
)

// State holds the agent's view of the display and what the agent is doing with it.
type State struct {
	mu             sync.RWMutex
	display        splendid.ControllerState
	synced         bool
	lastSync       time.Time
	lastError      string
	runningRoutine string
}

// Snapshot is a point-in-time copy of State, safe to serialize.
type Snapshot struct {
	Display        splendid.ControllerState `json:"display"`
	DimmingPercent int                      `json:"dimming_percent"`
	Mode           string                   `json:"mode"`
	Synced         bool                     `json:"synced"`
	LastSync       time.Time                `json:"last_sync,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
	RunningRoutine string                   `json:"running_routine"`
}

// NewState creates a State starting from the controller defaults.
func NewState() *State {
	return &State{display: splendid.DefaultState()}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Display:        s.display,
		DimmingPercent: s.display.DimmingPercent(),
		Mode:           ModeName(s.display),
		Synced:         s.synced,
		LastSync:       s.lastSync,
		LastError:      s.lastError,
		RunningRoutine: s.runningRoutine,
	}
}

// Display returns the mirrored controller state.
func (s *State) Display() splendid.ControllerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// SetDisplay replaces the mirrored controller state and clears the last error.
func (s *State) SetDisplay(cs splendid.ControllerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display = cs
	s.lastError = ""
}

// MarkSynced records a successful full read from hardware.
func (s *State) MarkSynced(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = true
	s.lastSync = at
}

// SetError records the last failed operation. A nil error clears it.
func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastError = ""
		return
	}
	s.lastError = err.Error()
}

// SetRunningRoutine updates the name of the running routine ("" when idle).
func (s *State) SetRunningRoutine(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningRoutine = name
}

// RunningRoutine returns the running routine name.
func (s *State) RunningRoutine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runningRoutine
}

// ModeName is the user-facing name of the active mode: the colour mode, or
// "ereading" while the grayscale overlay is on.
func ModeName(cs splendid.ControllerState) string {
	if cs.IsMonochrome {
		return splendid.KindEReading.String()
	}
	return cs.ModeID.String()
}
