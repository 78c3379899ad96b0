package lua

import (
	"context"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

// registerGoFunctions exposes the display API to the given Lua state.
func (e *Engine) registerGoFunctions(L *lua.LState, ctx context.Context) {
	fns := map[string]lua.LGFunction{
		"set_mode":          func(L *lua.LState) int { return e.luaSetMode(L, ctx) },
		"set_dimming":       func(L *lua.LState) int { return e.luaSetDimming(L, ctx) },
		"set_dimming_level": func(L *lua.LState) int { return e.luaSetDimmingLevel(L, ctx) },
		"toggle_ereading":   func(L *lua.LState) int { return e.luaToggleEReading(L, ctx) },
		"set_ereading":      func(L *lua.LState) int { return e.luaSetEReading(L, ctx) },
		"sync":              func(L *lua.LState) int { return e.luaSync(L, ctx) },
		"get_state":         e.luaGetState,
		"fade_dimming":      func(L *lua.LState) int { return e.luaFadeDimming(L, ctx) },
		"sleep":             func(L *lua.LState) int { return luaSleep(L, ctx) },
		"should_stop":       func(L *lua.LState) int { return luaShouldStop(L, ctx) },
		"print":             e.luaPrint,
	}
	for name, fn := range fns {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// call dispatches cmd on behalf of the script and raises a Lua error on failure.
func (e *Engine) call(L *lua.LState, ctx context.Context, cmd core.Command) {
	cmd.FromRoutine = true
	if err := e.dispatch(ctx, cmd); err != nil {
		L.RaiseError("%s: %v", cmd.Type, err)
	}
}

func (e *Engine) luaPrint(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.log.Info(strings.Join(parts, "\t"))
	return 0
}

// set_mode(name, ...) with the parameters of the mode in order.
func (e *Engine) luaSetMode(L *lua.LState, ctx context.Context) int {
	name := L.CheckString(1)
	kind, err := splendid.ParseKind(name)
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	keys := core.ModeParams[kind]
	if L.GetTop()-1 > len(keys) {
		L.ArgError(len(keys)+2, "too many parameters for mode "+kind.String())
		return 0
	}
	payload := map[string]interface{}{"mode": kind.String()}
	for i, key := range keys {
		if L.GetTop() < i+2 {
			break
		}
		payload[key] = float64(L.CheckInt(i + 2))
	}

	e.call(L, ctx, core.Command{Type: core.CmdSetMode, Payload: payload})
	return 0
}

// set_dimming(percent)
func (e *Engine) luaSetDimming(L *lua.LState, ctx context.Context) int {
	percent := L.CheckInt(1)
	e.call(L, ctx, core.Command{
		Type:    core.CmdSetDimmingPercent,
		Payload: map[string]interface{}{"value": float64(percent)},
	})
	return 0
}

// set_dimming_level(level) in native units.
func (e *Engine) luaSetDimmingLevel(L *lua.LState, ctx context.Context) int {
	level := L.CheckInt(1)
	e.call(L, ctx, core.Command{
		Type:    core.CmdSetDimming,
		Payload: map[string]interface{}{"value": float64(level)},
	})
	return 0
}

func (e *Engine) luaToggleEReading(L *lua.LState, ctx context.Context) int {
	e.call(L, ctx, core.Command{Type: core.CmdToggleEReading})
	return 0
}

func (e *Engine) luaSetEReading(L *lua.LState, ctx context.Context) int {
	on := L.ToBool(1)
	e.call(L, ctx, core.Command{
		Type:    core.CmdSetEReading,
		Payload: map[string]interface{}{"on": on},
	})
	return 0
}

func (e *Engine) luaSync(L *lua.LState, ctx context.Context) int {
	e.call(L, ctx, core.Command{Type: core.CmdSync})
	return 0
}

// get_state() returns a table mirroring the agent's snapshot.
func (e *Engine) luaGetState(L *lua.LState) int {
	s := splendid.DefaultState()
	if e.state != nil {
		s = e.state()
	}

	t := L.NewTable()
	L.SetField(t, "mode", lua.LString(core.ModeName(s)))
	L.SetField(t, "mode_id", lua.LNumber(s.ModeID))
	L.SetField(t, "dimming", lua.LNumber(s.DimmingPercent()))
	L.SetField(t, "dimming_level", lua.LNumber(s.Dimming))
	L.SetField(t, "manual", lua.LNumber(s.ManualSlider))
	L.SetField(t, "eyecare", lua.LNumber(s.EyeCareLevel))
	L.SetField(t, "grayscale", lua.LNumber(s.EReadingGrayscale))
	L.SetField(t, "temp", lua.LNumber(s.EReadingTemp))
	L.SetField(t, "ereading", lua.LBool(s.IsMonochrome))
	L.Push(t)
	return 1
}

// fade_dimming(from, to, ms) walks the dimming percentage one step at a time.
func (e *Engine) luaFadeDimming(L *lua.LState, ctx context.Context) int {
	from, to := L.CheckInt(1), L.CheckInt(2)
	duration := time.Duration(L.CheckInt(3)) * time.Millisecond
	for i, p := range []int{from, to} {
		if p < splendid.PercentMin || p > splendid.PercentMax {
			L.ArgError(i+1, "dimming percent must be 0-100")
			return 0
		}
	}

	step := 1
	if to < from {
		step = -1
	}
	steps := (to - from) * step
	var pause time.Duration
	if steps > 0 {
		pause = duration / time.Duration(steps)
	}

	for p := from; ; p += step {
		e.call(L, ctx, core.Command{
			Type:    core.CmdSetDimmingPercent,
			Payload: map[string]interface{}{"value": float64(p)},
		})
		if p == to {
			return 0
		}
		if cancellableSleep(ctx, pause) {
			return 0
		}
	}
}

// cancellableSleep sleeps for d and reports whether ctx was cancelled first.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	}
}

func luaSleep(L *lua.LState, ctx context.Context) int {
	cancellableSleep(ctx, time.Duration(L.CheckInt(1))*time.Millisecond)
	return 0
}

func luaShouldStop(L *lua.LState, ctx context.Context) int {
	L.Push(lua.LBool(ctx.Err() != nil))
	return 1
}
