package splendid

import (
	"fmt"
	"sync"
)

// MockController is an in-memory Display with no vendor channel. Hardware
// operations always succeed; parameter validation matches Controller.
type MockController struct {
	mu    sync.Mutex
	state ControllerState
}

// NewMock returns a mock starting from DefaultState.
func NewMock() *MockController {
	return &MockController{state: DefaultState()}
}

// NewMockWithState returns a mock starting from state.
func NewMockWithState(state ControllerState) *MockController {
	return &MockController{state: state}
}

func (m *MockController) GetState() ControllerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockController) CurrentMode() Mode {
	return modeOf(m.GetState())
}

func (m *MockController) SyncAllSliders() error { return nil }
func (m *MockController) RefreshSliders() error { return nil }

func (m *MockController) SetMode(mode Mode) error {
	if mode == nil {
		return fmt.Errorf("%w: nil mode", ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = mode.applyTo(m.state)
	return nil
}

func (m *MockController) ToggleEReading() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.IsMonochrome = !m.state.IsMonochrome
	return nil
}

func (m *MockController) SetDimming(level int) error {
	if err := checkRange("dimming level", level, DimmingMin, DimmingMax); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Dimming = level
	return nil
}

func (m *MockController) SetDimmingPercent(percent int) error {
	if err := checkRange("dimming percent", percent, PercentMin, PercentMax); err != nil {
		return err
	}
	return m.SetDimming(PercentToDimming(percent))
}
