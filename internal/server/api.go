package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/core"
	"splendid-controller/internal/lua"
	"splendid-controller/internal/scheduler"
	"splendid-controller/internal/splendid"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"synced": snap.Synced,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleSetMode accepts {"mode": "eyecare", "level": 2}. Missing parameters
// keep their current values.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, core.Command{Type: core.CmdSetMode, Payload: body})
}

// handleSetDimming accepts exactly one of {"percent"}, {"level"} or {"delta"}.
func (s *Server) handleSetDimming(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var cmd core.Command
	for _, c := range []struct {
		key string
		typ core.CommandType
		arg string
	}{
		{"percent", core.CmdSetDimmingPercent, "value"},
		{"level", core.CmdSetDimming, "value"},
		{"delta", core.CmdStepDimming, "delta"},
	} {
		v, ok := body[c.key]
		if !ok {
			continue
		}
		if cmd.Type != "" {
			writeError(w, fmt.Errorf("%w: only one of percent, level or delta may be set", splendid.ErrInvalidParameter))
			return
		}
		cmd = core.Command{Type: c.typ, Payload: map[string]interface{}{c.arg: v}}
	}
	if cmd.Type == "" {
		writeError(w, fmt.Errorf("%w: one of percent, level or delta is required", splendid.ErrInvalidParameter))
		return
	}
	s.execute(w, r, cmd)
}

// handleSetEReading sets the overlay with {"on": bool} and toggles it otherwise.
func (s *Server) handleSetEReading(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := body["on"]; ok {
		s.execute(w, r, core.Command{Type: core.CmdSetEReading, Payload: body})
		return
	}
	s.execute(w, r, core.Command{Type: core.CmdToggleEReading})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, core.Command{Type: core.CmdSync})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schedules.GetAll())
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dispatchRequest(r, core.Command{Type: core.CmdAddSchedule, Payload: body}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.schedules.GetAll())
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	cmd := core.Command{
		Type:    core.CmdRemoveSchedule,
		Payload: map[string]interface{}{"id": chi.URLParam(r, "id")},
	}
	if err := s.dispatchRequest(r, cmd); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	routines, err := s.routines.GetRoutineList()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"routines": routines,
		"running":  s.state.RunningRoutine(),
	})
}

func (s *Server) handleRunRoutine(w http.ResponseWriter, r *http.Request) {
	cmd := core.Command{
		Type:    core.CmdRunRoutine,
		Payload: map[string]interface{}{"name": chi.URLParam(r, "name")},
	}
	if err := s.dispatchRequest(r, cmd); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStopRoutine(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatchRequest(r, core.Command{Type: core.CmdStopRoutine}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// execute dispatches a display command and answers with the resulting snapshot.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd core.Command) {
	if err := s.dispatchRequest(r, cmd); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) dispatchRequest(r *http.Request, cmd core.Command) error {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	return core.Dispatch(ctx, s.commands, cmd)
}

// decodeBody reads a JSON object. An empty body decodes to an empty map.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if r.Body == nil {
		return body, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: request body: %v", splendid.ErrInvalidParameter, err)
	}
	return body, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, splendid.ErrInvalidParameter),
		errors.Is(err, core.ErrUnknownCommand),
		errors.Is(err, scheduler.ErrInvalidSchedule),
		errors.Is(err, lua.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, splendid.ErrHardwareRead), errors.Is(err, splendid.ErrHardwareWrite):
		return http.StatusBadGateway
	case errors.Is(err, splendid.ErrHardwareUnavailable), errors.Is(err, splendid.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}

// requestLogger logs each request through logrus.
func requestLogger(entry *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			entry.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
