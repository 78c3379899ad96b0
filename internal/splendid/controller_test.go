package splendid

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBus = errors.New("bus gone")

// fakeAccessor is an in-memory vendor channel that records every call.
type fakeAccessor struct {
	mu      sync.Mutex
	values  map[Slider]int
	reads   []Slider
	writes  []SliderWrite
	failOn  map[Slider]error
	closed  int
	closeFn func() error
}

func newFakeAccessor() *fakeAccessor {
	return &fakeAccessor{
		values: map[Slider]int{
			SliderMode:                int(ModeEyeCare),
			SliderDimming:             85,
			SliderManualTemperature:   40,
			SliderEyeCareLevel:        3,
			SliderEReadingGrayscale:   1,
			SliderEReadingTemperature: 20,
			SliderMonochrome:          0,
		},
		failOn: map[Slider]error{},
	}
}

func (f *fakeAccessor) ReadSlider(s Slider) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, s)
	if err := f.failOn[s]; err != nil {
		return 0, err
	}
	return f.values[s], nil
}

func (f *fakeAccessor) WriteSlider(s Slider, v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[s]; err != nil {
		return err
	}
	f.writes = append(f.writes, SliderWrite{s, v})
	f.values[s] = v
	return nil
}

func (f *fakeAccessor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func openFake(f *fakeAccessor) Opener {
	return func() (Accessor, error) { return f, nil }
}

func newTestController(t *testing.T) (*Controller, *fakeAccessor) {
	t.Helper()
	f := newFakeAccessor()
	c, err := NewSlot().Acquire(openFake(f))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, f
}

func TestAcquire_SingleInstance(t *testing.T) {
	slot := NewSlot()

	c, err := slot.Acquire(openFake(newFakeAccessor()))
	require.NoError(t, err)
	assert.True(t, slot.Held())

	_, err = slot.Acquire(openFake(newFakeAccessor()))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, c.Close())
	assert.False(t, slot.Held())

	c2, err := slot.Acquire(openFake(newFakeAccessor()))
	require.NoError(t, err)
	require.NoError(t, c2.Close())
}

func TestAcquire_ConcurrentCallersGetOne(t *testing.T) {
	slot := NewSlot()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*Controller
		losers  int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := slot.Acquire(openFake(newFakeAccessor()))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyExists)
				losers++
				return
			}
			winners = append(winners, c)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 15, losers)
	require.NoError(t, winners[0].Close())
}

func TestAcquire_UnavailableReleasesSlot(t *testing.T) {
	slot := NewSlot()

	_, err := slot.Acquire(func() (Accessor, error) { return nil, errBus })
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
	assert.ErrorIs(t, err, errBus)
	assert.False(t, slot.Held())

	_, err = slot.Acquire(nil)
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
	assert.False(t, slot.Held())

	c, err := slot.Acquire(openFake(newFakeAccessor()))
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestNew_UsesProcessSlot(t *testing.T) {
	c, err := New(openFake(newFakeAccessor()))
	require.NoError(t, err)

	_, err = New(openFake(newFakeAccessor()))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, c.Close())
	assert.False(t, processSlot.Held())
}

func TestClose_Idempotent(t *testing.T) {
	f := newFakeAccessor()
	c, err := NewSlot().Acquire(openFake(f))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, f.closed)

	assert.ErrorIs(t, c.SyncAllSliders(), ErrClosed)
	assert.ErrorIs(t, c.SetMode(Vivid()), ErrClosed)
	assert.ErrorIs(t, c.SetDimming(50), ErrClosed)
	assert.ErrorIs(t, c.ToggleEReading(), ErrClosed)
}

func TestClose_AccessorErrorStillReleases(t *testing.T) {
	slot := NewSlot()
	f := newFakeAccessor()
	f.closeFn = func() error { return errBus }

	c, err := slot.Acquire(openFake(f))
	require.NoError(t, err)

	assert.ErrorIs(t, c.Close(), errBus)
	assert.False(t, slot.Held())
}

func TestController_StartsFromDefaultState(t *testing.T) {
	c, f := newTestController(t)
	assert.Equal(t, DefaultState(), c.GetState())
	assert.Empty(t, f.reads, "no hardware traffic before the first sync")
}

func TestSyncAllSliders(t *testing.T) {
	c, f := newTestController(t)

	require.NoError(t, c.SyncAllSliders())
	assert.Equal(t, AllSliders, f.reads)
	assert.Equal(t, ControllerState{
		ModeID:            ModeEyeCare,
		IsMonochrome:      false,
		Dimming:           85,
		ManualSlider:      40,
		EyeCareLevel:      3,
		EReadingGrayscale: 1,
		EReadingTemp:      20,
	}, c.GetState())
	assert.Equal(t, KindEyeCare, c.CurrentMode().Kind())
}

func TestSyncAllSliders_FailureKeepsSnapshot(t *testing.T) {
	c, f := newTestController(t)
	f.failOn[SliderEyeCareLevel] = errBus

	err := c.SyncAllSliders()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHardwareRead)
	assert.ErrorIs(t, err, errBus)

	var serr *SliderError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SliderEyeCareLevel, serr.Slider)

	assert.Equal(t, DefaultState(), c.GetState(), "sliders read before the failure are not committed")
}

func TestSyncAllSliders_OutOfRangeValue(t *testing.T) {
	c, f := newTestController(t)
	f.values[SliderMode] = 4

	err := c.SyncAllSliders()
	assert.ErrorIs(t, err, ErrHardwareRead)
	assert.Equal(t, DefaultState(), c.GetState())

	f.values[SliderMode] = int(ModeNormal)
	f.values[SliderDimming] = 10
	assert.ErrorIs(t, c.SyncAllSliders(), ErrHardwareRead)
}

func TestRefreshSliders_ReadsActiveModeParameters(t *testing.T) {
	tests := []struct {
		name  string
		mode  ModeID
		mono  int
		reads []Slider
	}{
		{"normal", ModeNormal, 0, []Slider{SliderMode, SliderDimming, SliderMonochrome}},
		{"vivid", ModeVivid, 0, []Slider{SliderMode, SliderDimming, SliderMonochrome}},
		{"manual", ModeManual, 0, []Slider{SliderMode, SliderDimming, SliderMonochrome, SliderManualTemperature}},
		{"eyecare", ModeEyeCare, 0, []Slider{SliderMode, SliderDimming, SliderMonochrome, SliderEyeCareLevel}},
		{"ereading over normal", ModeNormal, 1, []Slider{
			SliderMode, SliderDimming, SliderMonochrome,
			SliderEReadingGrayscale, SliderEReadingTemperature,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newTestController(t)
			f.values[SliderMode] = int(tt.mode)
			f.values[SliderMonochrome] = tt.mono

			require.NoError(t, c.RefreshSliders())
			assert.Equal(t, tt.reads, f.reads)

			s := c.GetState()
			assert.Equal(t, tt.mode, s.ModeID)
			assert.Equal(t, tt.mono == 1, s.IsMonochrome)
			assert.Equal(t, 85, s.Dimming)
		})
	}
}

func TestRefreshSliders_KeepsUnreadFields(t *testing.T) {
	c, f := newTestController(t)
	f.values[SliderMode] = int(ModeVivid)
	f.values[SliderManualTemperature] = 99

	require.NoError(t, c.RefreshSliders())
	assert.Equal(t, DefaultState().ManualSlider, c.GetState().ManualSlider)
}

func TestRefreshSliders_FailureKeepsSnapshot(t *testing.T) {
	c, f := newTestController(t)
	f.values[SliderMode] = int(ModeManual)
	f.failOn[SliderManualTemperature] = errBus

	assert.ErrorIs(t, c.RefreshSliders(), ErrHardwareRead)
	assert.Equal(t, DefaultState(), c.GetState())
}

func TestSetMode_WriteOrder(t *testing.T) {
	c, f := newTestController(t)

	m, err := NewEyeCareMode(4)
	require.NoError(t, err)
	require.NoError(t, c.SetMode(m))

	assert.Equal(t, []SliderWrite{{SliderEyeCareLevel, 4}, {SliderMode, 7}}, f.writes)
	s := c.GetState()
	assert.Equal(t, ModeEyeCare, s.ModeID)
	assert.Equal(t, 4, s.EyeCareLevel)
	assert.Equal(t, KindEyeCare, c.CurrentMode().Kind())
}

func TestSetMode_NilIsInvalid(t *testing.T) {
	c, f := newTestController(t)
	assert.ErrorIs(t, c.SetMode(nil), ErrInvalidParameter)
	assert.Empty(t, f.writes)
}

func TestSetMode_PartialFailure(t *testing.T) {
	c, f := newTestController(t)
	f.failOn[SliderMode] = errBus

	m, err := NewManualMode(25)
	require.NoError(t, err)

	err = c.SetMode(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHardwareWrite)
	assert.NotErrorIs(t, err, ErrHardwareRead)

	var serr *SliderError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SliderMode, serr.Slider)
	assert.Equal(t, []SliderWrite{{SliderManualTemperature, 25}}, serr.Applied)
	assert.Contains(t, err.Error(), "already applied: manual_temperature=25")

	assert.Equal(t, DefaultState(), c.GetState(), "snapshot is not updated on failure")
}

func TestSetMode_EReadingKeepsColourMode(t *testing.T) {
	c, f := newTestController(t)
	require.NoError(t, c.SetMode(Vivid()))

	m, err := NewEReadingMode(2, 80)
	require.NoError(t, err)
	require.NoError(t, c.SetMode(m))

	s := c.GetState()
	assert.Equal(t, ModeVivid, s.ModeID)
	assert.True(t, s.IsMonochrome)
	assert.Equal(t, KindEReading, c.CurrentMode().Kind())
	assert.Equal(t, SliderWrite{SliderMonochrome, 1}, f.writes[len(f.writes)-1])

	require.NoError(t, c.ToggleEReading())
	assert.Equal(t, KindVivid, c.CurrentMode().Kind(), "toggling off restores the colour mode")
}

func TestToggleEReading(t *testing.T) {
	c, f := newTestController(t)

	require.NoError(t, c.ToggleEReading())
	assert.True(t, c.GetState().IsMonochrome)
	require.NoError(t, c.ToggleEReading())
	assert.False(t, c.GetState().IsMonochrome)

	assert.Equal(t, []SliderWrite{{SliderMonochrome, 1}, {SliderMonochrome, 0}}, f.writes)
}

func TestToggleEReading_FailureKeepsSnapshot(t *testing.T) {
	c, f := newTestController(t)
	f.failOn[SliderMonochrome] = errBus

	assert.ErrorIs(t, c.ToggleEReading(), ErrHardwareWrite)
	assert.False(t, c.GetState().IsMonochrome)
}

func TestSetDimming(t *testing.T) {
	c, f := newTestController(t)

	require.NoError(t, c.SetDimming(40))
	require.NoError(t, c.SetDimming(100))
	assert.Equal(t, 100, c.GetState().Dimming)

	for _, level := range []int{39, 101, 0} {
		err := c.SetDimming(level)
		assert.ErrorIs(t, err, ErrInvalidParameter, "level %d", level)
	}
	assert.Equal(t, []SliderWrite{{SliderDimming, 40}, {SliderDimming, 100}}, f.writes)
}

func TestSetDimmingPercent(t *testing.T) {
	c, f := newTestController(t)

	require.NoError(t, c.SetDimmingPercent(50))
	assert.Equal(t, 70, c.GetState().Dimming)
	assert.Equal(t, 50, c.GetState().DimmingPercent())

	require.NoError(t, c.SetDimmingPercent(0))
	assert.Equal(t, 40, c.GetState().Dimming)

	assert.ErrorIs(t, c.SetDimmingPercent(101), ErrInvalidParameter)
	assert.ErrorIs(t, c.SetDimmingPercent(-1), ErrInvalidParameter)
	assert.Len(t, f.writes, 2)
}
