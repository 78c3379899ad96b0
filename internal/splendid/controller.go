package splendid

import (
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Slot is the ownership flag that allows at most one live Controller.
type Slot struct {
	held atomic.Bool
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Held reports whether a controller currently owns the slot.
func (s *Slot) Held() bool {
	return s.held.Load()
}

var processSlot Slot

// New acquires the process-wide slot and opens the vendor channel.
func New(open Opener) (*Controller, error) {
	return processSlot.Acquire(open)
}

// Acquire claims the slot and opens the vendor channel. It fails with
// ErrAlreadyExists while another controller holds the slot and with
// ErrHardwareUnavailable if open fails; in the latter case the slot is free again.
func (s *Slot) Acquire(open Opener) (*Controller, error) {
	if !s.held.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExists
	}
	if open == nil {
		s.held.Store(false)
		return nil, fmt.Errorf("%w: no opener", ErrHardwareUnavailable)
	}

	acc, err := open()
	if err != nil {
		s.held.Store(false)
		return nil, fmt.Errorf("%w: %w", ErrHardwareUnavailable, err)
	}
	if acc == nil {
		s.held.Store(false)
		return nil, fmt.Errorf("%w: opener returned no accessor", ErrHardwareUnavailable)
	}

	c := &Controller{
		slot:  s,
		acc:   acc,
		state: DefaultState(),
		log:   log.WithField("component", "splendid"),
	}
	c.log.Debug("controller acquired")
	return c, nil
}

// Controller owns the vendor channel and the latest snapshot.
//
// A Controller is not safe for concurrent use; callers sharing one must
// serialize their calls.
type Controller struct {
	slot   *Slot
	acc    Accessor
	state  ControllerState
	closed bool
	log    *log.Entry
}

// Close releases the vendor channel and the slot. Calling Close more than once is a no-op.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.acc.Close()
	c.slot.held.Store(false)
	c.log.Debug("controller released")
	if err != nil {
		return fmt.Errorf("close accessor: %w", err)
	}
	return nil
}

// GetState returns a copy of the snapshot.
func (c *Controller) GetState() ControllerState {
	return c.state
}

// CurrentMode returns the active mode according to the snapshot.
func (c *Controller) CurrentMode() Mode {
	return modeOf(c.state)
}

// SyncAllSliders reads every slider and replaces the snapshot. If any read
// fails the snapshot is left unchanged.
func (c *Controller) SyncAllSliders() error {
	if c.closed {
		return ErrClosed
	}
	c.log.Debug("syncing all sliders")

	next, err := c.readInto(c.state, AllSliders)
	if err != nil {
		return err
	}
	c.state = next
	c.log.WithFields(log.Fields{
		"mode":      next.ModeID,
		"dimming":   next.Dimming,
		"percent":   DimmingToPercent(next.Dimming),
		"manual":    next.ManualSlider,
		"eyecare":   next.EyeCareLevel,
		"grayscale": next.EReadingGrayscale,
		"temp":      next.EReadingTemp,
		"mono":      next.IsMonochrome,
	}).Debug("sync complete")
	return nil
}

// RefreshSliders re-reads mode, dimming and monochrome plus the parameter
// sliders of whatever mode turns out to be active.
func (c *Controller) RefreshSliders() error {
	if c.closed {
		return ErrClosed
	}

	next, err := c.readInto(c.state, []Slider{SliderMode, SliderDimming, SliderMonochrome})
	if err != nil {
		return err
	}

	var extra []Slider
	switch next.ModeID {
	case ModeManual:
		extra = append(extra, SliderManualTemperature)
	case ModeEyeCare:
		extra = append(extra, SliderEyeCareLevel)
	}
	if next.IsMonochrome {
		extra = append(extra, SliderEReadingGrayscale, SliderEReadingTemperature)
	}
	if next, err = c.readInto(next, extra); err != nil {
		return err
	}

	c.state = next
	c.log.WithField("sliders", 3+len(extra)).Debug("refresh complete")
	return nil
}

// readInto reads sliders into a copy of base.
func (c *Controller) readInto(base ControllerState, sliders []Slider) (ControllerState, error) {
	next := base
	for _, s := range sliders {
		v, err := c.acc.ReadSlider(s)
		if err == nil {
			err = checkSlider(s, v)
		}
		if err != nil {
			c.log.WithError(err).WithField("slider", s).Debug("slider read failed")
			return base, &SliderError{Op: opRead, Slider: s, Value: v, Err: err}
		}
		next = next.withSlider(s, v)
	}
	return next, nil
}

// SetMode writes the mode's sliders in order. On failure the snapshot is not
// updated and the returned *SliderError lists the writes that already landed.
func (c *Controller) SetMode(mode Mode) error {
	if c.closed {
		return ErrClosed
	}
	if mode == nil {
		return fmt.Errorf("%w: nil mode", ErrInvalidParameter)
	}

	if err := c.write(mode.Writes()); err != nil {
		return err
	}
	c.state = mode.applyTo(c.state)
	c.log.WithField("mode", mode).Info("mode set")
	return nil
}

// ToggleEReading flips the grayscale overlay.
func (c *Controller) ToggleEReading() error {
	if c.closed {
		return ErrClosed
	}

	target := 1
	if c.state.IsMonochrome {
		target = 0
	}
	if err := c.write([]SliderWrite{{SliderMonochrome, target}}); err != nil {
		return err
	}
	c.state.IsMonochrome = target == 1
	c.log.WithField("ereading", c.state.IsMonochrome).Info("e-reading toggled")
	return nil
}

// SetDimming sets the dimming in native units [40,100].
func (c *Controller) SetDimming(level int) error {
	if c.closed {
		return ErrClosed
	}
	if err := checkRange("dimming level", level, DimmingMin, DimmingMax); err != nil {
		return err
	}

	if err := c.write([]SliderWrite{{SliderDimming, level}}); err != nil {
		return err
	}
	c.state.Dimming = level
	c.log.WithField("level", level).Debug("dimming set")
	return nil
}

// SetDimmingPercent sets the dimming from a percentage [0,100].
func (c *Controller) SetDimmingPercent(percent int) error {
	if err := checkRange("dimming percent", percent, PercentMin, PercentMax); err != nil {
		return err
	}
	return c.SetDimming(PercentToDimming(percent))
}

func (c *Controller) write(writes []SliderWrite) error {
	for i, w := range writes {
		if err := c.acc.WriteSlider(w.Slider, w.Value); err != nil {
			applied := append([]SliderWrite(nil), writes[:i]...)
			c.log.WithError(err).WithFields(log.Fields{
				"slider":  w.Slider,
				"value":   w.Value,
				"applied": len(applied),
			}).Warn("slider write failed")
			return &SliderError{Op: opWrite, Slider: w.Slider, Value: w.Value, Applied: applied, Err: err}
		}
	}
	return nil
}
