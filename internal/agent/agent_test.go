package agent

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splendid-controller/internal/config"
	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

// brokenDimming rejects every dimming write as a hardware failure.
type brokenDimming struct {
	*splendid.MockController
}

func (b brokenDimming) SetDimmingPercent(int) error {
	return fmt.Errorf("dimming: %w", splendid.ErrHardwareWrite)
}

// slowSync holds the initial sync long enough for Shutdown to race it.
type slowSync struct {
	*splendid.MockController
	entered  chan struct{}
	once     sync.Once
	syncing  atomic.Bool
	closed   atomic.Bool
	closedIn atomic.Bool
}

func (s *slowSync) SyncAllSliders() error {
	s.syncing.Store(true)
	defer s.syncing.Store(false)
	s.once.Do(func() { close(s.entered) })
	time.Sleep(300 * time.Millisecond)
	return s.MockController.SyncAllSliders()
}

func (s *slowSync) Close() error {
	s.closedIn.Store(s.syncing.Load())
	s.closed.Store(true)
	return nil
}

func newTestAgent(t *testing.T, display splendid.Display) *Agent {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Server:        config.ServerConfig{Port: "0"},
		RoutinesDir:   filepath.Join(dir, "routines"),
		SchedulesFile: filepath.Join(dir, "schedules.json"),
	}
	a, err := NewAgent(cfg, display)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a
}

func run(a *Agent, typ core.CommandType, payload map[string]interface{}) error {
	cmd := core.Command{Type: typ, Payload: payload, Reply: make(chan error, 1)}
	a.handleCommand(cmd)
	return <-cmd.Reply
}

func waitEvent(t *testing.T, sub core.Subscriber, typ core.EventType) core.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return core.Event{}
		}
	}
}

func TestOpenDisplay_Mock(t *testing.T) {
	d, err := OpenDisplay(config.DeviceConfig{Mock: true})
	require.NoError(t, err)
	assert.IsType(t, &splendid.MockController{}, d)
}

func TestNewAgent_NilDisplay(t *testing.T) {
	_, err := NewAgent(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestSetMode(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())
	sub := a.eventBus.Subscribe(core.StateChangedEvent)

	require.NoError(t, run(a, core.CmdSetMode, map[string]interface{}{"mode": "eyecare", "level": float64(3)}))

	ev := waitEvent(t, sub, core.StateChangedEvent)
	cs := ev.Payload.(splendid.ControllerState)
	assert.Equal(t, splendid.ModeEyeCare, cs.ModeID)
	assert.Equal(t, 3, cs.EyeCareLevel)
	assert.Equal(t, cs, a.state.Display())
}

func TestSetMode_MissingParamsKeepCurrent(t *testing.T) {
	base := splendid.DefaultState()
	base.EReadingGrayscale = 1
	base.EReadingTemp = 80

	mode, err := modeFromPayload(map[string]interface{}{"mode": "ereading", "temp": float64(20)}, base)
	require.NoError(t, err)
	er := mode.(splendid.EReadingMode)
	assert.Equal(t, 1, er.Grayscale())
	assert.Equal(t, 20, er.Temperature())

	mode, err = modeFromPayload(map[string]interface{}{"mode": "manual"}, base)
	require.NoError(t, err)
	assert.Equal(t, base.ManualSlider, mode.(splendid.ManualMode).Value())

	_, err = modeFromPayload(map[string]interface{}{"mode": "eyecare", "level": float64(5)}, base)
	assert.ErrorIs(t, err, splendid.ErrInvalidParameter)

	_, err = modeFromPayload(map[string]interface{}{}, base)
	assert.ErrorIs(t, err, splendid.ErrInvalidParameter)
}

func TestDimmingCommands(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())

	require.NoError(t, run(a, core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(0)}))
	assert.Equal(t, 40, a.state.Display().Dimming)

	require.NoError(t, run(a, core.CmdSetDimming, map[string]interface{}{"value": float64(55)}))
	assert.Equal(t, 55, a.state.Display().Dimming)

	require.NoError(t, run(a, core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(95)}))
	require.NoError(t, run(a, core.CmdStepDimming, map[string]interface{}{"delta": float64(10)}))
	assert.Equal(t, 100, a.state.Display().Dimming)

	require.NoError(t, run(a, core.CmdStepDimming, map[string]interface{}{"delta": float64(-200)}))
	assert.Equal(t, 40, a.state.Display().Dimming)
}

func TestStepPercent(t *testing.T) {
	assert.Equal(t, 60, stepPercent(50, 10))
	assert.Equal(t, 100, stepPercent(95, 10))
	assert.Equal(t, 0, stepPercent(5, -10))
}

func TestSetEReading_OnlyTogglesWhenDifferent(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())

	require.NoError(t, run(a, core.CmdSetEReading, map[string]interface{}{"on": true}))
	assert.True(t, a.state.Display().IsMonochrome)
	require.NoError(t, run(a, core.CmdSetEReading, map[string]interface{}{"on": true}))
	assert.True(t, a.state.Display().IsMonochrome)

	require.NoError(t, run(a, core.CmdToggleEReading, nil))
	assert.False(t, a.state.Display().IsMonochrome)
	assert.Equal(t, "normal", a.state.Snapshot().Mode)
}

func TestSync_MarksSynced(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())
	assert.False(t, a.state.Snapshot().Synced)

	require.NoError(t, run(a, core.CmdSync, nil))
	snap := a.state.Snapshot()
	assert.True(t, snap.Synced)
	assert.False(t, snap.LastSync.IsZero())
}

func TestCommandFailure(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())
	sub := a.eventBus.Subscribe(core.CommandFailedEvent)

	err := run(a, core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(101)})
	assert.ErrorIs(t, err, splendid.ErrInvalidParameter)

	ev := waitEvent(t, sub, core.CommandFailedEvent)
	failure := ev.Payload.(core.CommandFailure)
	assert.Equal(t, core.CmdSetDimmingPercent, failure.Type)
	assert.Equal(t, err.Error(), failure.Error)
	assert.Equal(t, err.Error(), a.state.Snapshot().LastError)

	require.NoError(t, run(a, core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(50)}))
	assert.Empty(t, a.state.Snapshot().LastError)
}

func TestHardwareFailure_KeepsMirror(t *testing.T) {
	a := newTestAgent(t, brokenDimming{splendid.NewMock()})
	before := a.state.Display()

	err := run(a, core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(50)})
	assert.ErrorIs(t, err, splendid.ErrHardwareWrite)
	assert.Equal(t, before, a.state.Display())
}

func TestUnknownCommand(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())
	err := run(a, core.CommandType("setPower"), nil)
	assert.ErrorIs(t, err, core.ErrUnknownCommand)
}

func TestSchedules(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())
	sub := a.eventBus.Subscribe(core.SchedulesChangedEvent)

	require.NoError(t, run(a, core.CmdAddSchedule, map[string]interface{}{"spec": "0 22 * * *", "command": "mode eyecare 3"}))
	waitEvent(t, sub, core.SchedulesChangedEvent)
	all := a.scheduler.GetAll()
	require.Len(t, all, 1)

	err := run(a, core.CmdAddSchedule, map[string]interface{}{"spec": "0 22 * * *", "command": "power on"})
	assert.Error(t, err)

	require.NoError(t, run(a, core.CmdRemoveSchedule, map[string]interface{}{"id": fmt.Sprint(all[0].ID)}))
	waitEvent(t, sub, core.SchedulesChangedEvent)
	assert.Empty(t, a.scheduler.GetAll())
}

func TestRoutineFiles(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())
	sub := a.eventBus.Subscribe(core.RoutinesChangedEvent, core.RoutineCodeEvent)

	code := "set_dimming(30)"
	require.NoError(t, run(a, core.CmdSaveRoutineCode, map[string]interface{}{"name": "dim.lua", "code": code}))
	waitEvent(t, sub, core.RoutinesChangedEvent)

	require.NoError(t, run(a, core.CmdGetRoutineCode, map[string]interface{}{"name": "dim.lua"}))
	ev := waitEvent(t, sub, core.RoutineCodeEvent)
	assert.Equal(t, core.RoutineCode{Name: "dim.lua", Code: code}, ev.Payload)

	require.NoError(t, run(a, core.CmdDeleteRoutine, map[string]interface{}{"name": "dim.lua"}))
	waitEvent(t, sub, core.RoutinesChangedEvent)

	list, err := a.luaEngine.GetRoutineList()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManualChangeStopsRoutine(t *testing.T) {
	a := newTestAgent(t, splendid.NewMock())

	require.NoError(t, a.luaEngine.SaveRoutineCode("loop.lua", "while not should_stop() do sleep(10) end"))
	require.NoError(t, run(a, core.CmdRunRoutine, map[string]interface{}{"name": "loop.lua"}))
	require.Eventually(t, func() bool { return a.luaEngine.Running() == "loop.lua" }, 2*time.Second, 10*time.Millisecond)

	fromRoutine := core.Command{
		Type:        core.CmdSetDimmingPercent,
		Payload:     map[string]interface{}{"value": float64(20)},
		Reply:       make(chan error, 1),
		FromRoutine: true,
	}
	a.handleCommand(fromRoutine)
	require.NoError(t, <-fromRoutine.Reply)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "loop.lua", a.luaEngine.Running())

	require.NoError(t, run(a, core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(80)}))
	assert.Eventually(t, func() bool { return a.luaEngine.Running() == "" }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_WaitsForCommandLoop(t *testing.T) {
	display := &slowSync{MockController: splendid.NewMock(), entered: make(chan struct{})}
	a := newTestAgent(t, display)

	done := make(chan struct{})
	go func() {
		a.Run()
		close(done)
	}()

	select {
	case <-display.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial sync never started")
	}

	require.NoError(t, a.Shutdown())
	assert.True(t, display.closed.Load())
	assert.False(t, display.closedIn.Load(), "display closed while the command loop was syncing")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run still running after Shutdown returned")
	}
	assert.True(t, a.state.Snapshot().Synced, "initial sync should complete before close")
}

func TestRun_AfterShutdown(t *testing.T) {
	display := &slowSync{MockController: splendid.NewMock(), entered: make(chan struct{})}
	a := newTestAgent(t, display)
	require.NoError(t, a.Shutdown())

	a.Run()

	select {
	case <-display.entered:
		t.Fatal("sync ran after shutdown")
	default:
	}
}
