// Package lua runs user routines that drive the display from Lua scripts.
package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

// Dispatcher delivers a command to the agent and waits for the result.
type Dispatcher func(ctx context.Context, cmd core.Command) error

// StateFunc returns the agent's current view of the display.
type StateFunc func() splendid.ControllerState

// cmdType defines the type of engine command.
type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdStop
)

type engineCmd struct {
	kind cmdType
	name string
	code string
}

// stopTimeout bounds how long a stop waits for the running script to return.
const stopTimeout = 2 * time.Second

// Engine runs at most one routine at a time on a single worker goroutine.
type Engine struct {
	dispatch    Dispatcher
	state       StateFunc
	routinesDir string
	eventBus    *core.EventBus
	log         *log.Entry

	cmdChan chan engineCmd
	mu      sync.Mutex
	running string
}

// NewEngine creates a new Lua engine and starts its background worker.
func NewEngine(dispatch Dispatcher, state StateFunc, routinesDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		dispatch:    dispatch,
		state:       state,
		routinesDir: routinesDir,
		eventBus:    eb,
		log:         log.WithField("component", "lua"),
		cmdChan:     make(chan engineCmd, 10),
	}
	go e.runLoop()
	return e
}

// runLoop processes engine commands sequentially. Every command first stops
// the running script.
func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-scriptDone:
			case <-time.After(stopTimeout):
				e.log.Warn("timeout waiting for routine to stop")
			}
			currentCancel = nil
			scriptDone = nil
		}

		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			defer close(done)
			e.execute(ctx, cmd)
		}(cmd, ctx, scriptDone)
	}
}

// StopCurrentRoutine stops the running routine, if any.
func (e *Engine) StopCurrentRoutine() {
	select {
	case e.cmdChan <- engineCmd{kind: cmdStop}:
	default:
		e.log.Warn("command queue full, could not send stop")
	}
}

// RunRoutine queues the routine file for execution.
func (e *Engine) RunRoutine(name string) error {
	path, err := e.RoutinePath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("routine %s: %w", name, err)
	}
	select {
	case e.cmdChan <- engineCmd{kind: cmdRunFile, name: name, code: path}:
		return nil
	default:
		return errors.New("routine queue is full")
	}
}

// Running returns the name of the running routine, "" when idle.
func (e *Engine) Running() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) setRunning(name string) {
	e.mu.Lock()
	e.running = name
	e.mu.Unlock()
	if e.eventBus != nil {
		e.eventBus.Publish(core.Event{Type: core.RoutineChangedEvent, Payload: name})
	}
}

func (e *Engine) execute(ctx context.Context, cmd engineCmd) {
	entry := e.log.WithField("routine", cmd.name)
	entry.Info("starting routine")
	e.setRunning(cmd.name)
	defer func() {
		e.setRunning("")
		entry.Info("routine finished")
	}()

	err := e.run(ctx, func(L *lua.LState) error { return L.DoFile(cmd.code) })
	if err != nil {
		if ctx.Err() != nil {
			entry.Info("routine cancelled")
			return
		}
		entry.WithError(err).Warn("routine failed")
	}
}

// run executes Lua code on a fresh state bound to ctx.
func (e *Engine) run(ctx context.Context, executor func(*lua.LState) error) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerGoFunctions(L, ctx)
	return executor(L)
}

// runString executes code synchronously.
func (e *Engine) runString(ctx context.Context, code string) error {
	if err := e.run(ctx, func(L *lua.LState) error { return L.DoString(code) }); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}
