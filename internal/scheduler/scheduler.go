package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/core"
)

var (
	// ErrNotFound is returned when removing an unknown schedule.
	ErrNotFound = errors.New("schedule not found")
	// ErrInvalidSchedule is returned by Add for a bad cron spec or command.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// dispatchTimeout bounds how long a fired job waits for the agent.
const dispatchTimeout = 30 * time.Second

// ScheduleEntry defines the structure for a saved schedule.
type ScheduleEntry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// Schedule is a live entry as shown to clients.
type Schedule struct {
	ID      int       `json:"id"`
	Spec    string    `json:"spec"`
	Command string    `json:"command"`
	Next    time.Time `json:"next,omitempty"`
}

// Scheduler fires textual commands on cron specs and persists them to a JSON file.
type Scheduler struct {
	cron           *cron.Cron
	store          map[cron.EntryID]ScheduleEntry
	commandChannel core.CommandChannel
	mu             sync.RWMutex
	schedulesFile  string
	log            *log.Entry
}

// NewScheduler creates a scheduler and loads the saved entries.
func NewScheduler(cmdChan core.CommandChannel, schedulesFile string) *Scheduler {
	logger := log.WithField("component", "scheduler")
	cronLog := cron.PrintfLogger(logger)

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		store:          make(map[cron.EntryID]ScheduleEntry),
		commandChannel: cmdChan,
		schedulesFile:  schedulesFile,
		log:            logger,
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("cron scheduler started")
}

// Stop halts the ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron scheduler stopped")
}

// Add validates spec and command, registers the job and saves the file.
func (s *Scheduler) Add(spec, command string) (int, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return 0, fmt.Errorf("%w: cron spec %q: %v", ErrInvalidSchedule, spec, err)
	}
	if _, err := core.ParseCommand(command); err != nil {
		return 0, fmt.Errorf("%w: command %q: %w", ErrInvalidSchedule, command, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.execute(command) })
	if err != nil {
		return 0, fmt.Errorf("add schedule: %w", err)
	}
	s.store[id] = ScheduleEntry{Spec: spec, Command: command}
	if err := s.save(); err != nil {
		s.cron.Remove(id)
		delete(s.store, id)
		return 0, err
	}
	s.log.WithFields(log.Fields{"id": id, "spec": spec, "command": command}).Info("schedule added")
	return int(id), nil
}

// Remove deletes a job and saves the file.
func (s *Scheduler) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	if _, ok := s.store[entryID]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	if err := s.save(); err != nil {
		return err
	}
	s.log.WithField("id", id).Info("schedule removed")
	return nil
}

// GetAll returns the schedules ordered by id.
func (s *Scheduler) GetAll() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Schedule, 0, len(s.store))
	for id, e := range s.store {
		out = append(out, Schedule{
			ID:      int(id),
			Spec:    e.Spec,
			Command: e.Command,
			Next:    s.cron.Entry(id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) execute(command string) {
	entry := s.log.WithField("command", command)
	cmd, err := core.ParseCommand(command)
	if err != nil {
		entry.WithError(err).Warn("skipping invalid scheduled command")
		return
	}

	entry.Info("executing scheduled command")
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := core.Dispatch(ctx, s.commandChannel, cmd); err != nil {
		entry.WithError(err).Warn("scheduled command failed")
	}
}

// save writes the entries in id order. Callers hold mu.
func (s *Scheduler) save() error {
	ids := make([]cron.EntryID, 0, len(s.store))
	for id := range s.store {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]ScheduleEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, s.store[id])
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	if err := os.WriteFile(s.schedulesFile, data, 0o644); err != nil {
		return fmt.Errorf("write schedules file: %w", err)
	}
	return nil
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("cannot read schedules file")
		}
		return
	}

	var entries []ScheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.WithError(err).Warn("cannot decode schedules file")
		return
	}

	s.log.WithFields(log.Fields{"count": len(entries), "file": s.schedulesFile}).Info("loading schedules")
	for _, entry := range entries {
		jobEntry := entry
		if _, err := core.ParseCommand(jobEntry.Command); err != nil {
			s.log.WithError(err).WithField("command", jobEntry.Command).Warn("dropping saved schedule")
			continue
		}
		id, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry.Command) })
		if err != nil {
			s.log.WithError(err).WithField("spec", jobEntry.Spec).Warn("dropping saved schedule")
			continue
		}
		s.store[id] = jobEntry
	}
}
