package splendid

import "fmt"

// Domains of the slider values.
const (
	DimmingMin      = 40
	DimmingMax      = 100
	PercentMin      = 0
	PercentMax      = 100
	TemperatureMin  = 0
	TemperatureMax  = 100
	EyeCareLevelMin = 0
	EyeCareLevelMax = 4
	GrayscaleMin    = 0
	GrayscaleMax    = 4
)

// ControllerState is a point-in-time copy of every slider value.
type ControllerState struct {
	ModeID            ModeID `json:"mode_id"`
	IsMonochrome      bool   `json:"is_monochrome"`
	Dimming           int    `json:"dimming"`
	ManualSlider      int    `json:"manual_slider"`
	EyeCareLevel      int    `json:"eyecare_level"`
	EReadingGrayscale int    `json:"ereading_grayscale"`
	EReadingTemp      int    `json:"ereading_temp"`
}

// DefaultState is the snapshot a controller starts from before its first sync.
func DefaultState() ControllerState {
	return ControllerState{
		ModeID:            ModeNormal,
		IsMonochrome:      false,
		Dimming:           70,
		ManualSlider:      50,
		EyeCareLevel:      2,
		EReadingGrayscale: 3,
		EReadingTemp:      50,
	}
}

// Validate checks every field against its domain.
func (s ControllerState) Validate() error {
	if !s.ModeID.Valid() {
		return fmt.Errorf("%w: unknown mode id %d", ErrInvalidParameter, s.ModeID)
	}
	checks := []error{
		checkRange("dimming level", s.Dimming, DimmingMin, DimmingMax),
		checkRange("manual temperature", s.ManualSlider, TemperatureMin, TemperatureMax),
		checkRange("eye care level", s.EyeCareLevel, EyeCareLevelMin, EyeCareLevelMax),
		checkRange("e-reading grayscale", s.EReadingGrayscale, GrayscaleMin, GrayscaleMax),
		checkRange("e-reading temperature", s.EReadingTemp, TemperatureMin, TemperatureMax),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// DimmingPercent is the user-facing dimming of the snapshot.
func (s ControllerState) DimmingPercent() int {
	return DimmingToPercent(s.Dimming)
}

// withSlider returns a copy of s with one slider value replaced.
func (s ControllerState) withSlider(sl Slider, v int) ControllerState {
	switch sl {
	case SliderMode:
		s.ModeID = ModeID(v)
	case SliderDimming:
		s.Dimming = v
	case SliderManualTemperature:
		s.ManualSlider = v
	case SliderEyeCareLevel:
		s.EyeCareLevel = v
	case SliderEReadingGrayscale:
		s.EReadingGrayscale = v
	case SliderEReadingTemperature:
		s.EReadingTemp = v
	case SliderMonochrome:
		s.IsMonochrome = v != 0
	}
	return s
}
