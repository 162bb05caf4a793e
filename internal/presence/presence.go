// Package presence tracks which drivers are online and where they are.
// Entries decay: a driver who stops sending heartbeats drops out of the
// available pool once the freshness window elapses.
package presence

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/pricing"
)

// Status is the self-declared or dispatch-assigned state of a driver.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusOffline || s == StatusBusy
}

// Driver is one presence entry.
type Driver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Score     float64   `json:"score"`
	LastSeen  time.Time `json:"last_seen"`
}

// Fresh reports whether the entry was refreshed within window of now.
func (d Driver) Fresh(now time.Time, window time.Duration) bool {
	return !d.LastSeen.IsZero() && now.Sub(d.LastSeen) <= window
}

// Position returns the last GPS fix, if any.
func (d Driver) Position() (pricing.Point, bool) {
	if d.Latitude == nil || d.Longitude == nil {
		return pricing.Point{}, false
	}
	return pricing.Point{Lat: *d.Latitude, Lng: *d.Longitude}, true
}

// ErrNotFound is returned for drivers with no live presence entry.
var ErrNotFound = errors.New("driver presence not found")

// Registry stores driver presence.
type Registry interface {
	// Heartbeat records d. An empty status keeps the previous one, or
	// online for a new entry.
	Heartbeat(ctx context.Context, d Driver) error
	Get(ctx context.Context, id string) (Driver, error)
	// Available lists fresh, online drivers ordered by id.
	Available(ctx context.Context) ([]Driver, error)
	SetStatus(ctx context.Context, id string, status Status) error
}

// Module provides the presence registry to Fx.
var Module = fx.Provide(NewRegistry)

// NewRegistry shares presence through redis when the cache runs on redis and
// keeps it in process otherwise.
func NewRegistry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) Registry {
	window := cfg.Dispatch.FreshnessWindow
	if cfg.Cache.Driver == "redis" {
		return NewRedisRegistry(cache.NewRedisClient(lc, cfg.Cache.Redis, logger), window)
	}
	if logger != nil {
		logger.Info("driver presence kept in process memory")
	}
	return NewMemoryRegistry(window)
}

func merge(prev *Driver, next Driver, now time.Time) Driver {
	if next.Status == "" {
		next.Status = StatusOnline
		if prev != nil && prev.Status != "" {
			next.Status = prev.Status
		}
	}
	if prev != nil {
		if next.Name == "" {
			next.Name = prev.Name
		}
		if next.Latitude == nil || next.Longitude == nil {
			next.Latitude, next.Longitude = prev.Latitude, prev.Longitude
		}
	}
	if next.LastSeen.IsZero() {
		next.LastSeen = now
	}
	next.LastSeen = next.LastSeen.UTC()
	return next
}

func sortByID(drivers []Driver) {
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].ID < drivers[j].ID })
}
