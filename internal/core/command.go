package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"splendid-controller/internal/splendid"
)

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	CmdSetMode           CommandType = "setMode"
	CmdSetDimming        CommandType = "setDimming"
	CmdSetDimmingPercent CommandType = "setDimmingPercent"
	CmdStepDimming       CommandType = "stepDimming"
	CmdToggleEReading    CommandType = "toggleEReading"
	CmdSetEReading       CommandType = "setEReading"
	CmdSync              CommandType = "sync"
	CmdRefresh           CommandType = "refresh"
	CmdRunRoutine        CommandType = "runRoutine"
	CmdStopRoutine       CommandType = "stopRoutine"
	CmdAddSchedule       CommandType = "addSchedule"
	CmdRemoveSchedule    CommandType = "removeSchedule"
	CmdGetRoutineCode    CommandType = "getRoutineCode"
	CmdSaveRoutineCode   CommandType = "saveRoutineCode"
	CmdDeleteRoutine     CommandType = "deleteRoutine"
)

// ErrUnknownCommand is returned for command text or types the agent does not understand.
var ErrUnknownCommand = errors.New("unknown command")

// Command is the envelope for incoming requests to change state or perform actions.
//
// Payload values follow JSON decoding: numbers are float64. Reply, if set,
// receives exactly one value once the command has been handled.
type Command struct {
	Type    CommandType
	Payload map[string]interface{}
	Reply   chan error

	// FromRoutine marks commands issued by the running routine itself; they
	// do not interrupt it.
	FromRoutine bool
}

// CommandChannel is the single channel that the core Agent listens to for commands.
type CommandChannel chan Command

// ModeParams lists the payload keys of each mode's parameters, in ParseMode order.
var ModeParams = map[splendid.Kind][]string{
	splendid.KindManual:   {"value"},
	splendid.KindEyeCare:  {"level"},
	splendid.KindEReading: {"grayscale", "temp"},
}

// Dispatch sends cmd to ch and waits for the agent's reply.
func Dispatch(ctx context.Context, ch CommandChannel, cmd Command) error {
	cmd.Reply = make(chan error, 1)
	select {
	case ch <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseCommand parses the textual command grammar shared by schedules, MQTT
// and the CLI:
//
//	mode normal|vivid
//	mode manual <value>
//	mode eyecare <level>
//	mode ereading [<grayscale> <temp>]
//	dimming <percent>
//	dimming +N|-N
//	dimming level <level>
//	ereading on|off|toggle
//	sync
//	refresh
//	routine stop
//	routine <name>
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty", ErrUnknownCommand)
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case "mode":
		return parseModeCommand(args)
	case "dimming", "brightness":
		return parseDimmingCommand(args)
	case "ereading", "e-reading":
		return parseEReadingCommand(args)
	case "sync", "refresh":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", verb)
		}
		if verb == "sync" {
			return Command{Type: CmdSync}, nil
		}
		return Command{Type: CmdRefresh}, nil
	case "routine":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: routine <name>|stop")
		}
		if args[0] == "stop" {
			return Command{Type: CmdStopRoutine}, nil
		}
		// Routine names keep their case.
		name := strings.Fields(text)[1]
		return Command{Type: CmdRunRoutine, Payload: map[string]interface{}{"name": name}}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
}

func parseModeCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("usage: mode <name> [params]")
	}
	kind, err := splendid.ParseKind(args[0])
	if err != nil {
		return Command{}, err
	}

	params := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.Atoi(a)
		if err != nil {
			return Command{}, fmt.Errorf("%w: mode parameter %q is not a number", splendid.ErrInvalidParameter, a)
		}
		params = append(params, v)
	}
	if _, err := splendid.ParseMode(kind.String(), splendid.DefaultState(), params...); err != nil {
		return Command{}, err
	}

	payload := map[string]interface{}{"mode": kind.String()}
	for i, v := range params {
		payload[ModeParams[kind][i]] = float64(v)
	}
	return Command{Type: CmdSetMode, Payload: payload}, nil
}

func parseDimmingCommand(args []string) (Command, error) {
	switch {
	case len(args) == 2 && args[0] == "level":
		level, err := strconv.Atoi(args[1])
		if err != nil {
			return Command{}, fmt.Errorf("%w: dimming level %q", splendid.ErrInvalidParameter, args[1])
		}
		if level < splendid.DimmingMin || level > splendid.DimmingMax {
			return Command{}, &splendid.ParameterError{Name: "dimming level", Value: level, Min: splendid.DimmingMin, Max: splendid.DimmingMax}
		}
		return Command{Type: CmdSetDimming, Payload: map[string]interface{}{"value": float64(level)}}, nil

	case len(args) == 1:
		arg := strings.TrimSuffix(args[0], "%")
		v, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, fmt.Errorf("%w: dimming %q", splendid.ErrInvalidParameter, args[0])
		}
		if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
			if v < -splendid.PercentMax || v > splendid.PercentMax {
				return Command{}, &splendid.ParameterError{Name: "dimming step", Value: v, Min: -splendid.PercentMax, Max: splendid.PercentMax}
			}
			return Command{Type: CmdStepDimming, Payload: map[string]interface{}{"delta": float64(v)}}, nil
		}
		if v < splendid.PercentMin || v > splendid.PercentMax {
			return Command{}, &splendid.ParameterError{Name: "dimming percent", Value: v, Min: splendid.PercentMin, Max: splendid.PercentMax}
		}
		return Command{Type: CmdSetDimmingPercent, Payload: map[string]interface{}{"value": float64(v)}}, nil
	}
	return Command{}, fmt.Errorf("usage: dimming <percent>|+N|-N|level <level>")
}

func parseEReadingCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{Type: CmdToggleEReading}, nil
	}
	if len(args) == 1 {
		switch args[0] {
		case "toggle":
			return Command{Type: CmdToggleEReading}, nil
		case "on", "true", "1":
			return Command{Type: CmdSetEReading, Payload: map[string]interface{}{"on": true}}, nil
		case "off", "false", "0":
			return Command{Type: CmdSetEReading, Payload: map[string]interface{}{"on": false}}, nil
		}
	}
	return Command{}, fmt.Errorf("usage: ereading on|off|toggle")
}
