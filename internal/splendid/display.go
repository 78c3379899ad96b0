// Package splendid controls the Splendid colour and dimming profiles of a
// laptop panel through the vendor's pre-installed service.
//
// A Controller owns the vendor channel (an Accessor) for its whole lifetime
// and keeps a snapshot of every slider. Only one Controller may be live per
// Slot; New uses the process-wide slot. MockController implements the same
// Display contract in memory for tests and dry runs.
package splendid

// Display is the contract shared by Controller and MockController.
type Display interface {
	// GetState returns a copy of the current snapshot.
	GetState() ControllerState
	// CurrentMode returns the active mode as described by the snapshot.
	CurrentMode() Mode
	// SyncAllSliders reads every slider from hardware.
	SyncAllSliders() error
	// RefreshSliders reads the sliders relevant to the active mode.
	RefreshSliders() error
	SetMode(mode Mode) error
	ToggleEReading() error
	// SetDimming takes native units [40,100].
	SetDimming(level int) error
	// SetDimmingPercent takes a percentage [0,100].
	SetDimmingPercent(percent int) error
}

var (
	_ Display = (*Controller)(nil)
	_ Display = (*MockController)(nil)
)
