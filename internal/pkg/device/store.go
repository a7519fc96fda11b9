package device

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/metrics"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

// Observer receives every new snapshot. Implementations must not assume
// deduplication; re-applying an identical update notifies again.
type Observer interface {
	SnapshotUpdated(snapshot model.Snapshot)
}

// Store is the single authoritative in-memory state of one sauna. Updates
// from every source merge field-by-field in arrival order; the last write
// wins regardless of true wall-clock freshness. A stale poll response can
// therefore overwrite a newer push. That matches the backend's
// eventually-consistent behaviour and is deliberate.
type Store struct {
	logger *zap.Logger

	mu        sync.RWMutex
	snapshot  model.Snapshot
	observers []Observer
}

func NewStore(deviceID, displayName string) *Store {
	return &Store{
		logger: zap.L(),
		snapshot: model.Snapshot{
			ID:          deviceID,
			DisplayName: displayName,
		},
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Subscribe registers an observer. Duplicate subscribes are a no-op.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observers {
		if existing == o {
			return
		}
	}
	s.observers = append(s.observers, o)
}

func (s *Store) Unsubscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// ApplyUpdate merges the present fields of u into the snapshot, stamps the
// update time and source, and synchronously notifies every observer with the
// new snapshot. Returns the names of fields whose value changed. The lock is
// released before observers run.
func (s *Store) ApplyUpdate(u model.PartialUpdate, source model.UpdateSource) []string {
	s.mu.Lock()
	changed := s.merge(u)
	s.snapshot.Source = source
	if u.Timestamp != nil {
		s.snapshot.UpdatedAt = u.Timestamp.Time()
	} else {
		s.snapshot.UpdatedAt = time.Now()
	}
	snapshot := s.snapshot
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	metrics.SnapshotUpdates.WithLabelValues(source.String()).Inc()
	metrics.LastUpdateTimestamp.Set(float64(snapshot.UpdatedAt.Unix()))
	if len(changed) > 0 {
		s.logger.Debug("snapshot updated",
			zap.String("device_id", snapshot.ID),
			zap.String("source", source.String()),
			zap.Strings("changed", changed))
	}

	for _, o := range observers {
		s.notify(o, snapshot)
	}
	return changed
}

// notify shields the store from observer panics; one failing observer must
// not block the rest or corrupt the snapshot.
func (s *Store) notify(o Observer, snapshot model.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked", zap.Any("panic", r))
		}
	}()
	o.SnapshotUpdated(snapshot)
}

func (s *Store) merge(u model.PartialUpdate) []string {
	changed := []string{}
	mark := func(name string, dirty bool) {
		if dirty {
			changed = append(changed, name)
		}
	}
	if u.DisplayName != nil {
		mark("displayName", s.snapshot.DisplayName != *u.DisplayName)
		s.snapshot.DisplayName = *u.DisplayName
	}
	if u.Active != nil {
		mark("active", s.snapshot.Active != u.Active.Bool())
		s.snapshot.Active = u.Active.Bool()
	}
	if u.Light != nil {
		mark("light", s.snapshot.LightsOn != u.Light.Bool())
		s.snapshot.LightsOn = u.Light.Bool()
	}
	if u.Fan != nil {
		mark("fan", s.snapshot.FanOn != u.Fan.Bool())
		s.snapshot.FanOn = u.Fan.Bool()
	}
	if u.SteamEn != nil {
		mark("steamEn", s.snapshot.SteamEnabled != u.SteamEn.Bool())
		s.snapshot.SteamEnabled = u.SteamEn.Bool()
	}
	if u.SteamOn != nil {
		mark("steamOn", s.snapshot.SteamOn != u.SteamOn.Bool())
		s.snapshot.SteamOn = u.SteamOn.Bool()
	}
	if u.TargetTemp != nil {
		mark("targetTemp", s.snapshot.TargetTemp != *u.TargetTemp)
		s.snapshot.TargetTemp = *u.TargetTemp
	}
	if u.TargetRH != nil {
		mark("targetRh", s.snapshot.TargetRH != *u.TargetRH)
		s.snapshot.TargetRH = *u.TargetRH
	}
	if u.Temperature != nil {
		mark("temperature", s.snapshot.Temperature != *u.Temperature)
		s.snapshot.Temperature = *u.Temperature
	}
	if u.Humidity != nil {
		mark("humidity", s.snapshot.Humidity != *u.Humidity)
		s.snapshot.Humidity = *u.Humidity
	}
	if u.RemainingTime != nil {
		mark("remainingTime", s.snapshot.RemainingTime != *u.RemainingTime)
		s.snapshot.RemainingTime = *u.RemainingTime
	}
	if u.HeatUpTime != nil {
		mark("heatUpTime", s.snapshot.HeatUpTime != *u.HeatUpTime)
		s.snapshot.HeatUpTime = *u.HeatUpTime
	}
	if u.StatusCodes != nil {
		mark("statusCodes", s.snapshot.StatusCodes != *u.StatusCodes)
		s.snapshot.StatusCodes = *u.StatusCodes
	}
	return changed
}
