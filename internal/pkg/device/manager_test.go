package device

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type mockFetcher struct {
	calls  atomic.Int32
	update model.PartialUpdate
}

func (f *mockFetcher) GetDeviceData(_ context.Context, _ string) (*model.PartialUpdate, error) {
	f.calls.Add(1)
	u := f.update
	return &u, nil
}

type mockSubscriber struct {
	stopped atomic.Bool
}

func (s *mockSubscriber) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *mockSubscriber) Stop() {
	s.stopped.Store(true)
}

func TestManagerPollsIntoStore(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	fetcher := &mockFetcher{update: model.PartialUpdate{Temperature: model.Float(55)}}
	mut := newMockMutator()
	mgr := NewManager(model.Device{ID: "sauna-1"}, store, NewDispatcher(store, mut, "sauna-1"), fetcher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fetcher.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond, "initial poll plus at least one tick")

	s := mgr.Snapshot()
	assert.Equal(t, 55.0, s.Temperature)
	assert.Equal(t, model.SourcePoll, s.Source)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestManagerStopsSubscribersOnCancel(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	sub := &mockSubscriber{}
	mut := newMockMutator()
	mgr := NewManager(model.Device{ID: "sauna-1"}, store, NewDispatcher(store, mut, "sauna-1"), &mockFetcher{}, 0, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, sub.stopped.Load())
}

func TestManagerSettersDispatchMutations(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	mut := newMockMutator()
	mgr := NewManager(model.Device{ID: "sauna-1"}, store, NewDispatcher(store, mut, "sauna-1"), &mockFetcher{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	mgr.SetTargetTemperature(80)
	waitFor(t, mut.applied)

	require.Equal(t, 1, mut.count())
	require.NotNil(t, mut.payloads[0].TargetTemp)
	assert.Equal(t, 80.0, *mut.payloads[0].TargetTemp)
	assert.Equal(t, 80.0, mgr.Snapshot().TargetTemp)

	cancel()
	<-done
}
