package agent

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

// handleCommand runs cmd on the command loop, records the outcome and replies.
func (a *Agent) handleCommand(cmd core.Command) {
	entry := a.log.WithFields(log.Fields{"type": cmd.Type, "payload": cmd.Payload})
	entry.Debug("handling command")

	err := a.execute(cmd)
	a.metrics.ObserveCommand(string(cmd.Type), err)
	if err != nil {
		entry.WithError(err).Warn("command failed")
		a.state.SetError(err)
		a.eventBus.Publish(core.Event{
			Type:    core.CommandFailedEvent,
			Payload: core.CommandFailure{Type: cmd.Type, Error: err.Error()},
		})
	}

	if cmd.Reply != nil {
		cmd.Reply <- err
	}
}

func (a *Agent) execute(cmd core.Command) error {
	switch cmd.Type {
	case core.CmdSetMode:
		mode, err := modeFromPayload(cmd.Payload, a.display.GetState())
		if err != nil {
			return err
		}
		return a.changeDisplay(cmd, func() error { return a.display.SetMode(mode) })

	case core.CmdSetDimming:
		level, err := core.RequireInt(cmd.Payload, "value")
		if err != nil {
			return err
		}
		return a.changeDisplay(cmd, func() error { return a.display.SetDimming(level) })

	case core.CmdSetDimmingPercent:
		percent, err := core.RequireInt(cmd.Payload, "value")
		if err != nil {
			return err
		}
		return a.changeDisplay(cmd, func() error { return a.display.SetDimmingPercent(percent) })

	case core.CmdStepDimming:
		delta, err := core.RequireInt(cmd.Payload, "delta")
		if err != nil {
			return err
		}
		percent := stepPercent(a.display.GetState().DimmingPercent(), delta)
		return a.changeDisplay(cmd, func() error { return a.display.SetDimmingPercent(percent) })

	case core.CmdToggleEReading:
		return a.changeDisplay(cmd, a.display.ToggleEReading)

	case core.CmdSetEReading:
		on, err := core.BoolParam(cmd.Payload, "on")
		if err != nil {
			return err
		}
		if a.display.GetState().IsMonochrome == on {
			return nil
		}
		return a.changeDisplay(cmd, a.display.ToggleEReading)

	case core.CmdSync:
		err := a.display.SyncAllSliders()
		if err == nil {
			a.state.MarkSynced(time.Now())
		}
		a.publishState()
		return err

	case core.CmdRefresh:
		err := a.display.RefreshSliders()
		a.publishState()
		return err

	case core.CmdRunRoutine:
		name, err := core.StringParam(cmd.Payload, "name")
		if err != nil {
			return err
		}
		return a.luaEngine.RunRoutine(name)

	case core.CmdStopRoutine:
		a.luaEngine.StopCurrentRoutine()
		return nil

	case core.CmdAddSchedule:
		spec, err := core.StringParam(cmd.Payload, "spec")
		if err != nil {
			return err
		}
		command, err := core.StringParam(cmd.Payload, "command")
		if err != nil {
			return err
		}
		if _, err := a.scheduler.Add(spec, command); err != nil {
			return err
		}
		a.eventBus.Publish(core.Event{Type: core.SchedulesChangedEvent})
		return nil

	case core.CmdRemoveSchedule:
		id, err := core.RequireInt(cmd.Payload, "id")
		if err != nil {
			return err
		}
		if err := a.scheduler.Remove(id); err != nil {
			return err
		}
		a.eventBus.Publish(core.Event{Type: core.SchedulesChangedEvent})
		return nil

	case core.CmdGetRoutineCode:
		name, err := core.StringParam(cmd.Payload, "name")
		if err != nil {
			return err
		}
		code, err := a.luaEngine.GetRoutineCode(name)
		if err != nil {
			return err
		}
		a.eventBus.Publish(core.Event{Type: core.RoutineCodeEvent, Payload: core.RoutineCode{Name: name, Code: code}})
		return nil

	case core.CmdSaveRoutineCode:
		name, err := core.StringParam(cmd.Payload, "name")
		if err != nil {
			return err
		}
		code, _ := cmd.Payload["code"].(string)
		if err := a.luaEngine.SaveRoutineCode(name, code); err != nil {
			return err
		}
		a.eventBus.Publish(core.Event{Type: core.RoutinesChangedEvent})
		return nil

	case core.CmdDeleteRoutine:
		name, err := core.StringParam(cmd.Payload, "name")
		if err != nil {
			return err
		}
		if err := a.luaEngine.DeleteRoutine(name); err != nil {
			return err
		}
		a.eventBus.Publish(core.Event{Type: core.RoutinesChangedEvent})
		return nil
	}
	return fmt.Errorf("%w: %q", core.ErrUnknownCommand, cmd.Type)
}

// changeDisplay applies a user-visible display change. A change requested
// from outside the running routine stops that routine first. After a partial
// write the sliders are read back so the mirror matches the panel.
func (a *Agent) changeDisplay(cmd core.Command, op func() error) error {
	if !cmd.FromRoutine {
		if running := a.luaEngine.Running(); running != "" {
			a.log.WithField("routine", running).Info("manual change, stopping routine")
			a.luaEngine.StopCurrentRoutine()
		}
	}

	before := a.display.GetState()
	err := op()
	var se *splendid.SliderError
	if errors.As(err, &se) && len(se.Applied) > 0 {
		if rerr := a.display.RefreshSliders(); rerr != nil {
			a.log.WithError(rerr).Warn("read-back after partial write failed")
		}
	}
	if err == nil || a.display.GetState() != before {
		a.publishState()
	}
	return err
}

// modeFromPayload builds the requested mode. Parameters missing from the
// payload keep their values from base.
func modeFromPayload(payload map[string]interface{}, base splendid.ControllerState) (splendid.Mode, error) {
	name, err := core.StringParam(payload, "mode")
	if err != nil {
		return nil, err
	}
	kind, err := splendid.ParseKind(name)
	if err != nil {
		return nil, err
	}

	fields := map[string]*int{
		"value":     &base.ManualSlider,
		"level":     &base.EyeCareLevel,
		"grayscale": &base.EReadingGrayscale,
		"temp":      &base.EReadingTemp,
	}
	for _, key := range core.ModeParams[kind] {
		v, ok, err := core.IntParam(payload, key)
		if err != nil {
			return nil, err
		}
		if ok {
			*fields[key] = v
		}
	}
	return splendid.ModeFromState(kind, base)
}

// stepPercent moves percent by delta, clamped to [0,100].
func stepPercent(percent, delta int) int {
	return max(splendid.PercentMin, min(splendid.PercentMax, percent+delta))
}
