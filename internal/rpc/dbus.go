// Package rpc implements the Splendid vendor channel over D-Bus.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"splendid-controller/internal/splendid"
)

const (
	BusSystem  = "system"
	BusSession = "session"
)

// Config describes where the vendor service lives and how hard it may be driven.
type Config struct {
	Bus         string
	Destination string
	ObjectPath  string
	Interface   string
	CallTimeout time.Duration
	RateLimit   float64
	RateBurst   int
}

// ErrServiceNotRunning is returned by the opener when no process owns the vendor name.
var ErrServiceNotRunning = errors.New("vendor service is not running")

// caller is the subset of dbus.BusObject the accessor needs.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Accessor reads and writes Splendid sliders through the vendor service.
type Accessor struct {
	obj     caller
	iface   string
	timeout time.Duration
	limiter *rate.Limiter
	closeFn func() error
	log     *log.Entry
}

// Opener returns a splendid.Opener that connects to the configured bus.
func Opener(cfg Config) splendid.Opener {
	return func() (splendid.Accessor, error) {
		acc, err := Open(cfg)
		if err != nil {
			return nil, err
		}
		return acc, nil
	}
}

// Open connects to the bus and checks that the vendor service is present.
func Open(cfg Config) (*Accessor, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch cfg.Bus {
	case BusSession:
		conn, err = dbus.ConnectSessionBus()
	case BusSystem, "":
		conn, err = dbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", cfg.Bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", cfg.Bus, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()

	var owned bool
	err = conn.BusObject().
		CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, cfg.Destination).
		Store(&owned)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("query owner of %s: %w", cfg.Destination, err)
	}
	if !owned {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrServiceNotRunning, cfg.Destination)
	}

	obj := conn.Object(cfg.Destination, dbus.ObjectPath(cfg.ObjectPath))
	a := newAccessor(obj, cfg, conn.Close)
	a.log.WithFields(log.Fields{
		"bus":         cfg.Bus,
		"destination": cfg.Destination,
		"path":        cfg.ObjectPath,
	}).Info("connected to vendor service")
	return a, nil
}

func newAccessor(obj caller, cfg Config, closeFn func() error) *Accessor {
	limit, burst := rate.Limit(cfg.RateLimit), cfg.RateBurst
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Accessor{
		obj:     obj,
		iface:   cfg.Interface,
		timeout: cfg.timeout(),
		limiter: rate.NewLimiter(limit, burst),
		closeFn: closeFn,
		log:     log.WithField("component", "rpc"),
	}
}

func (c Config) timeout() time.Duration {
	if c.CallTimeout <= 0 {
		return 2 * time.Second
	}
	return c.CallTimeout
}

// ReadSlider calls GetSlider(name) on the vendor interface.
func (a *Accessor) ReadSlider(s splendid.Slider) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	var v int32
	if err := a.obj.CallWithContext(ctx, a.method("GetSlider"), 0, s.String()).Store(&v); err != nil {
		return 0, fmt.Errorf("GetSlider(%s): %w", s, err)
	}
	a.log.WithFields(log.Fields{"slider": s, "value": v}).Trace("slider read")
	return int(v), nil
}

// WriteSlider calls SetSlider(name, value) on the vendor interface. Writes
// are paced by the configured rate limit.
func (a *Accessor) WriteSlider(s splendid.Slider, value int) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", s, err)
	}
	call := a.obj.CallWithContext(ctx, a.method("SetSlider"), 0, s.String(), int32(value))
	if call.Err != nil {
		return fmt.Errorf("SetSlider(%s, %d): %w", s, value, call.Err)
	}
	a.log.WithFields(log.Fields{"slider": s, "value": value}).Trace("slider written")
	return nil
}

// Close closes the bus connection.
func (a *Accessor) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func (a *Accessor) method(name string) string {
	return a.iface + "." + name
}
