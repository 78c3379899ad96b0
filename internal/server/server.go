package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/core"
	"splendid-controller/internal/scheduler"
)

// commandTimeout bounds how long a client request waits for the agent.
const commandTimeout = 15 * time.Second

// RoutineLister lists the routine files.
type RoutineLister interface {
	GetRoutineList() ([]string, error)
}

// ScheduleLister lists the configured schedules.
type ScheduleLister interface {
	GetAll() []scheduler.Schedule
}

// Options configures the HTTP surface.
type Options struct {
	Port           string
	StaticFilesDir string
	AllowedOrigins []string
	// Metrics is served at /metrics when set.
	Metrics http.Handler
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub *Hub

	state     *core.State
	eventBus  *core.EventBus
	commands  core.CommandChannel
	routines  RoutineLister
	schedules ScheduleLister

	opts       Options
	router     chi.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	log        *log.Entry
}

// NewServer creates a new server instance. Call Start before serving.
func NewServer(state *core.State, eb *core.EventBus, commands core.CommandChannel, routines RoutineLister, schedules ScheduleLister, opts Options) *Server {
	s := &Server{
		Hub:       NewHub(),
		state:     state,
		eventBus:  eb,
		commands:  commands,
		routines:  routines,
		schedules: schedules,
		opts:      opts,
		log:       log.WithField("component", "server"),
	}

	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	})
	r.Use(c.Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Post("/mode", s.handleSetMode)
		r.Post("/dimming", s.handleSetDimming)
		r.Post("/ereading", s.handleSetEReading)
		r.Post("/sync", s.handleSync)

		r.Get("/schedules", s.handleListSchedules)
		r.Post("/schedules", s.handleAddSchedule)
		r.Delete("/schedules/{id}", s.handleRemoveSchedule)

		r.Get("/routines", s.handleListRoutines)
		r.Post("/routines/stop", s.handleStopRoutine)
		r.Post("/routines/{name}/run", s.handleRunRoutine)
	})

	if s.opts.StaticFilesDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.StaticFilesDir)))
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and forwards bus events to websocket clients until ctx ends.
func (s *Server) Start(ctx context.Context) {
	go s.Hub.Run(ctx)
	go s.forwardEvents(ctx)
}

func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("http server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	s.log.WithField("origin", origin).Warn("websocket connection blocked: origin not allowed")
	return false
}

// forwardEvents turns bus events into websocket broadcasts.
func (s *Server) forwardEvents(ctx context.Context) {
	types := []core.EventType{
		core.StateChangedEvent,
		core.RoutineChangedEvent,
		core.CommandFailedEvent,
		core.SchedulesChangedEvent,
		core.RoutinesChangedEvent,
		core.RoutineCodeEvent,
	}
	sub := s.eventBus.Subscribe(types...)
	defer s.eventBus.Unsubscribe(sub, types...)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			if msg, ok := s.messageFor(event); ok {
				s.Hub.Broadcast(msg)
			}
		}
	}
}

func (s *Server) messageFor(event core.Event) (Message, bool) {
	switch event.Type {
	case core.StateChangedEvent:
		return NewMessage(MsgDeviceState, s.state.Snapshot()), true
	case core.RoutineChangedEvent:
		name, _ := event.Payload.(string)
		return NewMessage(MsgRoutineStatus, map[string]string{"running": name}), true
	case core.CommandFailedEvent:
		return NewMessage(MsgError, event.Payload), true
	case core.SchedulesChangedEvent:
		return NewMessage(MsgScheduleList, s.schedules.GetAll()), true
	case core.RoutinesChangedEvent:
		routines, err := s.routines.GetRoutineList()
		if err != nil {
			s.log.WithError(err).Warn("cannot list routines")
			return Message{}, false
		}
		return NewMessage(MsgRoutineList, routines), true
	case core.RoutineCodeEvent:
		return NewMessage(MsgRoutineCode, event.Payload), true
	}
	return Message{}, false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	initial := []Message{
		NewMessage(MsgDeviceState, s.state.Snapshot()),
		NewMessage(MsgRoutineStatus, map[string]string{"running": s.state.RunningRoutine()}),
		NewMessage(MsgScheduleList, s.schedules.GetAll()),
	}
	if routines, err := s.routines.GetRoutineList(); err == nil {
		initial = append(initial, NewMessage(MsgRoutineList, routines))
	}
	for _, msg := range initial {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return
		}
	}

	s.Hub.register <- conn
	defer func() { s.Hub.unregister <- conn }()

	for {
		var in Command
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
		if in.Type == "" {
			continue
		}
		// Failures reach every client through CommandFailedEvent.
		go s.dispatch(core.Command{Type: core.CommandType(in.Type), Payload: in.Payload})
	}
}

func (s *Server) dispatch(cmd core.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := core.Dispatch(ctx, s.commands, cmd); err != nil {
		s.log.WithError(err).WithField("type", cmd.Type).Debug("websocket command failed")
	}
}
