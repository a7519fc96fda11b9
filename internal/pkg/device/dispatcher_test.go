package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/harvia-integration/internal/pkg/harvia"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type mockMutator struct {
	mu       sync.Mutex
	payloads []model.PartialUpdate
	// MutateFunc overrides the default success result.
	MutateFunc func(payload model.PartialUpdate) harvia.MutationResult
	applied    chan struct{}
}

func newMockMutator() *mockMutator {
	return &mockMutator{applied: make(chan struct{}, 64)}
}

func (m *mockMutator) Mutate(_ context.Context, _ string, payload model.PartialUpdate) harvia.MutationResult {
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	defer func() { m.applied <- struct{}{} }()
	if m.MutateFunc != nil {
		return m.MutateFunc(payload)
	}
	return harvia.MutationResult{OK: true, Attempts: 1}
}

func (m *mockMutator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mutation")
	}
}

func TestDispatchAppliesOptimisticallyBeforeNetwork(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	mut := newMockMutator()
	gate := make(chan struct{})
	mut.MutateFunc = func(model.PartialUpdate) harvia.MutationResult {
		<-gate // hold the mutation in flight
		return harvia.MutationResult{OK: true, Attempts: 1}
	}

	d := NewDispatcher(store, mut, "sauna-1")
	d.Start()

	d.Dispatch(model.PartialUpdate{Active: model.Bool(true)})

	// local state reflects the change while the mutation is still blocked
	s := store.Snapshot()
	assert.True(t, s.Active)
	assert.Equal(t, model.SourceLocal, s.Source)

	close(gate)
	waitFor(t, mut.applied)
	d.Stop()
}

func TestDispatchSubmitsMutationWithPayload(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	mut := newMockMutator()
	d := NewDispatcher(store, mut, "sauna-1")
	d.Start()

	d.Dispatch(model.PartialUpdate{TargetTemp: model.Float(90)})
	waitFor(t, mut.applied)
	d.Stop()

	require.Equal(t, 1, mut.count())
	require.NotNil(t, mut.payloads[0].TargetTemp)
	assert.Equal(t, 90.0, *mut.payloads[0].TargetTemp)
}

func TestFailedMutationLeavesOptimisticState(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	mut := newMockMutator()
	mut.MutateFunc = func(model.PartialUpdate) harvia.MutationResult {
		return harvia.MutationResult{OK: false, Attempts: 3, Err: harvia.ErrEmptyResult}
	}

	d := NewDispatcher(store, mut, "sauna-1")
	d.Start()
	d.Dispatch(model.PartialUpdate{Light: model.Bool(true)})
	waitFor(t, mut.applied)
	d.Stop()

	// no rollback: reconciliation is the next poll's job
	assert.True(t, store.Snapshot().LightsOn)
}

func TestStopDrainsAcceptedCommands(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	mut := newMockMutator()
	d := NewDispatcher(store, mut, "sauna-1")
	d.Start()

	for i := 0; i < 10; i++ {
		d.Dispatch(model.PartialUpdate{TargetTemp: model.Float(float64(60 + i))})
	}
	d.Stop()

	assert.Equal(t, 10, mut.count(), "every accepted command runs before Stop returns")
}

func TestDispatchAfterStopIsDropped(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	mut := newMockMutator()
	d := NewDispatcher(store, mut, "sauna-1")
	d.Start()
	d.Stop()

	require.NotPanics(t, func() {
		d.Dispatch(model.PartialUpdate{Fan: model.Bool(true)})
	})
	assert.Equal(t, 0, mut.count())
	// the optimistic write still lands; only the network side is gone
	assert.True(t, store.Snapshot().FanOn)
}
