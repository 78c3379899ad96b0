package splendid

import (
	"fmt"
	"strings"
)

// ModeID is the numeric identifier the vendor channel uses for a colour mode.
type ModeID int

const (
	ModeNormal  ModeID = 1
	ModeVivid   ModeID = 2
	ModeManual  ModeID = 6
	ModeEyeCare ModeID = 7
)

// Valid reports whether id is one of the four known mode ids.
func (id ModeID) Valid() bool {
	switch id {
	case ModeNormal, ModeVivid, ModeManual, ModeEyeCare:
		return true
	}
	return false
}

func (id ModeID) String() string {
	switch id {
	case ModeNormal:
		return "normal"
	case ModeVivid:
		return "vivid"
	case ModeManual:
		return "manual"
	case ModeEyeCare:
		return "eyecare"
	}
	return fmt.Sprintf("mode(%d)", int(id))
}

// Kind names a Mode variant.
type Kind int

const (
	KindNormal Kind = iota + 1
	KindVivid
	KindManual
	KindEyeCare
	KindEReading
)

var kindNames = map[Kind]string{
	KindNormal:   "normal",
	KindVivid:    "vivid",
	KindManual:   "manual",
	KindEyeCare:  "eyecare",
	KindEReading: "ereading",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the canonical names plus a few spellings used by the vendor UI.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "normal":
		return KindNormal, nil
	case "vivid":
		return KindVivid, nil
	case "manual":
		return KindManual, nil
	case "eyecare", "eye_care", "eye-care":
		return KindEyeCare, nil
	case "ereading", "e_reading", "e-reading", "monochrome":
		return KindEReading, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, name)
}

// Kinds lists every mode variant in display order.
func Kinds() []Kind {
	return []Kind{KindNormal, KindVivid, KindManual, KindEyeCare, KindEReading}
}

// Mode is a display configuration. The set of variants is closed; values are
// validated when constructed, so any Mode can be applied as is.
type Mode interface {
	Kind() Kind
	// Writes returns the ordered slider writes that activate the mode.
	Writes() []SliderWrite
	String() string

	// applyTo returns the snapshot after a successful activation.
	applyTo(s ControllerState) ControllerState
}

// NormalMode is the default colour profile.
type NormalMode struct{}

// Normal returns the Normal mode.
func Normal() NormalMode { return NormalMode{} }

func (NormalMode) Kind() Kind     { return KindNormal }
func (NormalMode) String() string { return "normal" }

func (NormalMode) Writes() []SliderWrite {
	return []SliderWrite{{SliderMode, int(ModeNormal)}}
}

func (NormalMode) applyTo(s ControllerState) ControllerState {
	s.ModeID = ModeNormal
	s.IsMonochrome = false
	return s
}

// VividMode boosts saturation.
type VividMode struct{}

// Vivid returns the Vivid mode.
func Vivid() VividMode { return VividMode{} }

func (VividMode) Kind() Kind     { return KindVivid }
func (VividMode) String() string { return "vivid" }

func (VividMode) Writes() []SliderWrite {
	return []SliderWrite{{SliderMode, int(ModeVivid)}}
}

func (VividMode) applyTo(s ControllerState) ControllerState {
	s.ModeID = ModeVivid
	s.IsMonochrome = false
	return s
}

// ManualMode sets a user chosen colour temperature.
type ManualMode struct {
	value int
}

// NewManualMode validates value against [0,100].
func NewManualMode(value int) (ManualMode, error) {
	if err := checkRange("manual temperature", value, TemperatureMin, TemperatureMax); err != nil {
		return ManualMode{}, err
	}
	return ManualMode{value: value}, nil
}

func (m ManualMode) Value() int     { return m.value }
func (ManualMode) Kind() Kind       { return KindManual }
func (m ManualMode) String() string { return fmt.Sprintf("manual(%d)", m.value) }

func (m ManualMode) Writes() []SliderWrite {
	return []SliderWrite{
		{SliderManualTemperature, m.value},
		{SliderMode, int(ModeManual)},
	}
}

func (m ManualMode) applyTo(s ControllerState) ControllerState {
	s.ModeID = ModeManual
	s.ManualSlider = m.value
	s.IsMonochrome = false
	return s
}

// EyeCareMode reduces blue light.
type EyeCareMode struct {
	level int
}

// NewEyeCareMode validates level against [0,4].
func NewEyeCareMode(level int) (EyeCareMode, error) {
	if err := checkRange("eye care level", level, EyeCareLevelMin, EyeCareLevelMax); err != nil {
		return EyeCareMode{}, err
	}
	return EyeCareMode{level: level}, nil
}

func (m EyeCareMode) Level() int     { return m.level }
func (EyeCareMode) Kind() Kind       { return KindEyeCare }
func (m EyeCareMode) String() string { return fmt.Sprintf("eyecare(%d)", m.level) }

func (m EyeCareMode) Writes() []SliderWrite {
	return []SliderWrite{
		{SliderEyeCareLevel, m.level},
		{SliderMode, int(ModeEyeCare)},
	}
}

func (m EyeCareMode) applyTo(s ControllerState) ControllerState {
	s.ModeID = ModeEyeCare
	s.EyeCareLevel = m.level
	s.IsMonochrome = false
	return s
}

// EReadingMode is the grayscale overlay. It has no mode id of its own: the
// colour mode underneath stays selected and comes back when the overlay is
// switched off.
type EReadingMode struct {
	grayscale int
	temp      int
}

// NewEReadingMode validates grayscale against [0,4] and temp against [0,100].
func NewEReadingMode(grayscale, temp int) (EReadingMode, error) {
	if err := checkRange("e-reading grayscale", grayscale, GrayscaleMin, GrayscaleMax); err != nil {
		return EReadingMode{}, err
	}
	if err := checkRange("e-reading temperature", temp, TemperatureMin, TemperatureMax); err != nil {
		return EReadingMode{}, err
	}
	return EReadingMode{grayscale: grayscale, temp: temp}, nil
}

func (m EReadingMode) Grayscale() int   { return m.grayscale }
func (m EReadingMode) Temperature() int { return m.temp }
func (EReadingMode) Kind() Kind         { return KindEReading }

func (m EReadingMode) String() string {
	return fmt.Sprintf("ereading(%d,%d)", m.grayscale, m.temp)
}

func (m EReadingMode) Writes() []SliderWrite {
	return []SliderWrite{
		{SliderEReadingGrayscale, m.grayscale},
		{SliderEReadingTemperature, m.temp},
		{SliderMonochrome, 1},
	}
}

func (m EReadingMode) applyTo(s ControllerState) ControllerState {
	s.EReadingGrayscale = m.grayscale
	s.EReadingTemp = m.temp
	s.IsMonochrome = true
	return s
}

// ModeFromState rebuilds a mode of the given kind from the parameters stored
// in a snapshot.
func ModeFromState(kind Kind, s ControllerState) (Mode, error) {
	switch kind {
	case KindNormal:
		return Normal(), nil
	case KindVivid:
		return Vivid(), nil
	case KindManual:
		return NewManualMode(s.ManualSlider)
	case KindEyeCare:
		return NewEyeCareMode(s.EyeCareLevel)
	case KindEReading:
		return NewEReadingMode(s.EReadingGrayscale, s.EReadingTemp)
	}
	return nil, fmt.Errorf("%w: unknown mode kind %d", ErrInvalidParameter, int(kind))
}

// ParseMode builds a mode from its name and positional parameters. Missing
// parameters are taken from base.
//
//	manual <value>
//	eyecare <level>
//	ereading <grayscale> <temp>
func ParseMode(name string, base ControllerState, params ...int) (Mode, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}

	want := map[Kind]int{KindManual: 1, KindEyeCare: 1, KindEReading: 2}[kind]
	if len(params) > want {
		return nil, fmt.Errorf("%w: mode %s takes at most %d parameters, got %d", ErrInvalidParameter, kind, want, len(params))
	}

	switch kind {
	case KindManual:
		if len(params) > 0 {
			base.ManualSlider = params[0]
		}
	case KindEyeCare:
		if len(params) > 0 {
			base.EyeCareLevel = params[0]
		}
	case KindEReading:
		if len(params) > 0 {
			base.EReadingGrayscale = params[0]
		}
		if len(params) > 1 {
			base.EReadingTemp = params[1]
		}
	}
	return ModeFromState(kind, base)
}

// modeOf returns the active mode described by a snapshot.
func modeOf(s ControllerState) Mode {
	kind := KindNormal
	switch {
	case s.IsMonochrome:
		kind = KindEReading
	case s.ModeID == ModeVivid:
		kind = KindVivid
	case s.ModeID == ModeManual:
		kind = KindManual
	case s.ModeID == ModeEyeCare:
		kind = KindEyeCare
	}
	m, err := ModeFromState(kind, s)
	if err != nil {
		return Normal()
	}
	return m
}
