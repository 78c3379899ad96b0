package splendid

import (
	"fmt"
	"strings"
)

// Slider addresses one hardware-exposed value of the Splendid feature.
type Slider int

const (
	SliderMode Slider = iota + 1
	SliderDimming
	SliderManualTemperature
	SliderEyeCareLevel
	SliderEReadingGrayscale
	SliderEReadingTemperature
	SliderMonochrome
)

// AllSliders lists every slider in the order a full sync reads them.
var AllSliders = []Slider{
	SliderMode,
	SliderDimming,
	SliderMonochrome,
	SliderManualTemperature,
	SliderEyeCareLevel,
	SliderEReadingGrayscale,
	SliderEReadingTemperature,
}

var sliderNames = map[Slider]string{
	SliderMode:                "mode",
	SliderDimming:             "dimming",
	SliderManualTemperature:   "manual_temperature",
	SliderEyeCareLevel:        "eyecare_level",
	SliderEReadingGrayscale:   "ereading_grayscale",
	SliderEReadingTemperature: "ereading_temperature",
	SliderMonochrome:          "monochrome",
}

func (s Slider) String() string {
	if name, ok := sliderNames[s]; ok {
		return name
	}
	return fmt.Sprintf("slider(%d)", int(s))
}

// ParseSlider returns the slider with the given name.
func ParseSlider(name string) (Slider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range sliderNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown slider %q", name)
}

// SliderWrite is a single (slider, value) pair sent to the accessor.
type SliderWrite struct {
	Slider Slider `json:"slider"`
	Value  int    `json:"value"`
}

func (w SliderWrite) String() string {
	return fmt.Sprintf("%s=%d", w.Slider, w.Value)
}

// Accessor is the vendor channel that actually reads and writes sliders.
// Implementations own any blocking, timeout or rate limiting behaviour.
type Accessor interface {
	ReadSlider(s Slider) (int, error)
	WriteSlider(s Slider, value int) error
	Close() error
}

// Opener opens the vendor channel.
type Opener func() (Accessor, error)

// checkSlider validates a raw slider value against the slider's domain.
func checkSlider(s Slider, v int) error {
	switch s {
	case SliderMode:
		if !ModeID(v).Valid() {
			return fmt.Errorf("unknown mode id %d", v)
		}
		return nil
	case SliderDimming:
		return checkRange("dimming level", v, DimmingMin, DimmingMax)
	case SliderManualTemperature:
		return checkRange("manual temperature", v, TemperatureMin, TemperatureMax)
	case SliderEyeCareLevel:
		return checkRange("eye care level", v, EyeCareLevelMin, EyeCareLevelMax)
	case SliderEReadingGrayscale:
		return checkRange("e-reading grayscale", v, GrayscaleMin, GrayscaleMax)
	case SliderEReadingTemperature:
		return checkRange("e-reading temperature", v, TemperatureMin, TemperatureMax)
	case SliderMonochrome:
		return checkRange("monochrome", v, 0, 1)
	}
	return fmt.Errorf("unknown slider %d", int(s))
}
