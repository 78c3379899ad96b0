// Package agent wires the display controller to its transports and runs the
// single command loop that serializes every display call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/config"
	"splendid-controller/internal/core"
	"splendid-controller/internal/lua"
	"splendid-controller/internal/metrics"
	"splendid-controller/internal/mqtt"
	"splendid-controller/internal/rpc"
	"splendid-controller/internal/scheduler"
	"splendid-controller/internal/server"
	"splendid-controller/internal/splendid"
)

const shutdownTimeout = 5 * time.Second

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup
	log    *log.Entry

	// mu orders the command loop's registration in wg against cancel.
	mu sync.Mutex

	state          *core.State
	eventBus       *core.EventBus
	commandChannel core.CommandChannel

	display    splendid.Display
	luaEngine  *lua.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client
	metrics    *metrics.Metrics
}

// OpenDisplay returns the in-memory mock when cfg.Mock is set, otherwise a
// controller bound to the vendor service over D-Bus.
func OpenDisplay(cfg config.DeviceConfig) (splendid.Display, error) {
	if cfg.Mock {
		log.WithField("component", "agent").Info("using mock display")
		return splendid.NewMock(), nil
	}
	return splendid.New(rpc.Opener(rpc.Config{
		Bus:         cfg.Bus,
		Destination: cfg.Destination,
		ObjectPath:  cfg.ObjectPath,
		Interface:   cfg.Interface,
		CallTimeout: cfg.CallTimeoutDuration(),
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	}))
}

// NewAgent builds every component around display. The agent owns display and
// closes it on Shutdown.
func NewAgent(cfg *config.Config, display splendid.Display) (*Agent, error) {
	if display == nil {
		return nil, errors.New("agent: nil display")
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		log:            log.WithField("component", "agent"),
		state:          core.NewState(),
		eventBus:       core.NewEventBus(),
		commandChannel: make(core.CommandChannel, 20),
		display:        display,
		metrics:        metrics.New(),
	}
	a.state.SetDisplay(display.GetState())

	a.luaEngine = lua.NewEngine(a.dispatch, a.state.Display, cfg.RoutinesDir, a.eventBus)
	a.scheduler = scheduler.NewScheduler(a.commandChannel, cfg.SchedulesFile)

	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		metricsHandler = a.metrics.Handler()
	}
	a.server = server.NewServer(a.state, a.eventBus, a.commandChannel, a.luaEngine, a.scheduler, server.Options{
		Port:           cfg.Server.Port,
		StaticFilesDir: cfg.Server.WebFilesDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metricsHandler,
	})

	a.mqttClient = mqtt.NewClient(cfg.MQTT, a.state, a.eventBus, a.commandChannel)

	return a, nil
}

// dispatch sends cmd to the command loop and waits for the result.
func (a *Agent) dispatch(ctx context.Context, cmd core.Command) error {
	return core.Dispatch(ctx, a.commandChannel, cmd)
}

// Run starts every component and blocks in the command loop until Shutdown.
func (a *Agent) Run() {
	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.listenEvents()
	}()

	if a.mqttClient != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mqttClient.Run(a.ctx)
		}()
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				a.log.WithError(err).Error("mqtt setup failed")
			}
		}()
	}

	a.server.Start(a.ctx)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("http server failed")
		}
	}()

	a.scheduler.Start()

	if interval := a.config.Device.RefreshIntervalDuration(); interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.refreshLoop(interval)
		}()
	}

	// A failed initial sync leaves the defaults in place; the next refresh or
	// an explicit sync retries.
	a.handleCommand(core.Command{Type: core.CmdSync})
	if a.ctx.Err() != nil {
		a.log.Info("command loop stopped before ready")
		return
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.WithError(err).Warn("systemd notify failed")
	} else if ok {
		a.log.Debug("systemd notified")
	}

	a.log.WithField("port", a.config.Server.Port).Info("agent ready")
	for {
		select {
		case <-a.ctx.Done():
			a.log.Info("command loop stopped")
			return
		case cmd := <-a.commandChannel:
			a.handleCommand(cmd)
		}
	}
}

// refreshLoop queues a refresh on every tick so the mirror picks up changes
// made by vendor hotkeys. Ticks are skipped while the command queue is full.
func (a *Agent) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			select {
			case a.commandChannel <- core.Command{Type: core.CmdRefresh}:
			default:
			}
		}
	}
}

func (a *Agent) listenEvents() {
	sub := a.eventBus.Subscribe(core.RoutineChangedEvent)
	defer a.eventBus.Unsubscribe(sub, core.RoutineChangedEvent)

	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-sub:
			name, _ := event.Payload.(string)
			a.state.SetRunningRoutine(name)
		}
	}
}

// publishState mirrors the display snapshot and announces it.
func (a *Agent) publishState() {
	cs := a.display.GetState()
	a.state.SetDisplay(cs)
	a.metrics.ObserveState(cs, a.state.Snapshot().Synced)
	a.eventBus.Publish(core.Event{Type: core.StateChangedEvent, Payload: cs})
}

// Shutdown stops every component, waits for the command loop to finish its
// current command and then closes the display.
func (a *Agent) Shutdown() error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.scheduler.Stop()
	a.luaEngine.StopCurrentRoutine()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("http server shutdown failed")
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}

	a.mu.Lock()
	a.cancel()
	a.mu.Unlock()
	a.wg.Wait()

	if closer, ok := a.display.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close display: %w", err)
		}
	}
	return nil
}
