package device

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type dataFetcher interface {
	GetDeviceData(ctx context.Context, deviceID string) (*model.PartialUpdate, error)
}

type subscriber interface {
	Run(ctx context.Context) error
	Stop()
}

// Manager owns everything belonging to one sauna: the state store, the
// command dispatcher, the subscription channels and the periodic re-poll.
// Its exported surface is what bridges (Home Assistant, the HTTP API, a test
// harness) consume.
type Manager struct {
	device       model.Device
	store        *Store
	dispatcher   *Dispatcher
	fetcher      dataFetcher
	subs         []subscriber
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewManager(device model.Device, store *Store, dispatcher *Dispatcher, fetcher dataFetcher, pollInterval time.Duration, subs ...subscriber) *Manager {
	return &Manager{
		device:       device,
		store:        store,
		dispatcher:   dispatcher,
		fetcher:      fetcher,
		subs:         subs,
		pollInterval: pollInterval,
		logger:       zap.L().With(zap.String("device_id", device.ID)),
	}
}

func (m *Manager) Device() model.Device {
	return m.device
}

// Run blocks until ctx is cancelled. Subscription loops are cancelled with
// the context; accepted commands are drained before returning.
func (m *Manager) Run(ctx context.Context) error {
	m.dispatcher.Start()
	defer m.dispatcher.Stop()

	eg, ctx := errgroup.WithContext(ctx)
	for _, sub := range m.subs {
		sub := sub
		eg.Go(func() error {
			defer sub.Stop()
			return sub.Run(ctx)
		})
	}
	eg.Go(func() error {
		return m.pollLoop(ctx)
	})
	return eg.Wait()
}

// pollLoop refreshes the snapshot from the query transport: once at startup
// and then at the configured interval, covering gaps while a subscription is
// reconnecting. Failures are logged; the last known snapshot stays.
func (m *Manager) pollLoop(ctx context.Context) error {
	m.poll(ctx)
	if m.pollInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.poll(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	update, err := m.fetcher.GetDeviceData(ctx, m.device.ID)
	if err != nil {
		m.logger.Warn("poll failed", zap.Error(err))
		return
	}
	m.store.ApplyUpdate(*update, model.SourcePoll)
}

// Snapshot returns the current known device state.
func (m *Manager) Snapshot() model.Snapshot {
	return m.store.Snapshot()
}

// Subscribe registers a snapshot observer.
func (m *Manager) Subscribe(o Observer) {
	m.store.Subscribe(o)
}

func (m *Manager) Unsubscribe(o Observer) {
	m.store.Unsubscribe(o)
}

// The setters below are fire-and-forget: the local snapshot changes
// immediately and the mutation is confirmed asynchronously.

func (m *Manager) SetActive(on bool) {
	m.dispatcher.Dispatch(model.PartialUpdate{Active: model.Bool(on)})
}

func (m *Manager) SetTargetTemperature(temp float64) {
	m.dispatcher.Dispatch(model.PartialUpdate{TargetTemp: model.Float(temp)})
}

func (m *Manager) SetTargetHumidity(rh float64) {
	m.dispatcher.Dispatch(model.PartialUpdate{TargetRH: model.Float(rh)})
}

func (m *Manager) SetLights(on bool) {
	m.dispatcher.Dispatch(model.PartialUpdate{Light: model.Bool(on)})
}

func (m *Manager) SetFan(on bool) {
	m.dispatcher.Dispatch(model.PartialUpdate{Fan: model.Bool(on)})
}

func (m *Manager) SetSteamer(on bool) {
	m.dispatcher.Dispatch(model.PartialUpdate{SteamEn: model.Bool(on)})
}
