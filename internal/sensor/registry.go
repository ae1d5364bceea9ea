package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches sensor places in memory for the ingest hot path.
//
// The cache is populated by RefreshCache and kept in sync by CreatePlace and
// DeletePlace. A lookup that misses the cache falls through to the
// repository, so places written by another process are still found.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[placeKey]Place
	byID    map[int64]placeKey
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[placeKey]Place),
		byID:   make(map[int64]placeKey),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all places from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	places, err := r.repo.ListPlaces(ctx)
	if err != nil {
		return fmt.Errorf("loading sensor places: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[placeKey]Place, len(places))
	r.byID = make(map[int64]placeKey, len(places))
	for i := range places {
		r.putLocked(places[i])
	}

	r.logger.Info("sensor place cache refreshed", "count", len(places))
	return nil
}

// LookupSection returns the section fed by deviceID's input at address.
// ok is false when the input is not placed.
func (r *Registry) LookupSection(ctx context.Context, deviceID string, address uint8) (string, bool, error) {
	key := placeKey{deviceID: deviceID, pin: address}

	r.cacheMu.RLock()
	p, hit := r.cache[key]
	r.cacheMu.RUnlock()
	if hit {
		return p.Section, true, nil
	}

	section, err := r.repo.FindSection(ctx, deviceID, address)
	if errors.Is(err, ErrPlaceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return section, true, nil
}

// Places returns the cached places ordered by section, device and pin.
func (r *Registry) Places() []Place {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	places := make([]Place, 0, len(r.cache))
	for _, p := range r.cache {
		places = append(places, p)
	}
	sort.Slice(places, func(i, j int) bool {
		a, b := places[i], places[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.PinParamID < b.PinParamID
	})
	return places
}

// CreatePlace validates and stores p, then caches it.
func (r *Registry) CreatePlace(ctx context.Context, p *Place) error {
	if err := ValidatePlace(p); err != nil {
		return err
	}
	if err := r.repo.CreatePlace(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.putLocked(*p)
	r.cacheMu.Unlock()

	r.logger.Info("sensor place created",
		"id", p.ID, "device_id", p.DeviceID, "pin", p.PinName, "section", p.Section)
	return nil
}

// DeletePlace removes a place and evicts it from the cache.
func (r *Registry) DeletePlace(ctx context.Context, id int64) error {
	removed, err := r.repo.DeletePlace(ctx, id)
	if err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, removed.key())
	delete(r.byID, id)
	r.cacheMu.Unlock()

	r.logger.Info("sensor place deleted", "id", id, "device_id", removed.DeviceID, "section", removed.Section)
	return nil
}

func (r *Registry) putLocked(p Place) {
	if old, ok := r.byID[p.ID]; ok {
		delete(r.cache, old)
	}
	r.cache[p.key()] = p
	r.byID[p.ID] = p.key()
}
