package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type recordingObserver struct {
	snapshots []model.Snapshot
}

func (r *recordingObserver) SnapshotUpdated(s model.Snapshot) {
	r.snapshots = append(r.snapshots, s)
}

type panickingObserver struct{}

func (panickingObserver) SnapshotUpdated(model.Snapshot) {
	panic("observer gone wrong")
}

func TestApplyUpdateMergesOnlyPresentFields(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	store.ApplyUpdate(model.PartialUpdate{
		Active:      model.Bool(true),
		TargetTemp:  model.Float(85),
		Temperature: model.Float(40),
	}, model.SourcePoll)

	// a sparse update must leave the other fields alone
	changed := store.ApplyUpdate(model.PartialUpdate{Temperature: model.Float(62)}, model.SourcePush)
	assert.Equal(t, []string{"temperature"}, changed)

	s := store.Snapshot()
	assert.True(t, s.Active)
	assert.Equal(t, 85.0, s.TargetTemp)
	assert.Equal(t, 62.0, s.Temperature)
	assert.Equal(t, model.SourcePush, s.Source)
}

func TestApplyUpdateStampsTimestampFromUpdate(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := model.FlexTime(at)

	store.ApplyUpdate(model.PartialUpdate{Active: model.Bool(true), Timestamp: &ts}, model.SourcePush)
	assert.Equal(t, at, store.Snapshot().UpdatedAt)
}

func TestIdenticalUpdateNotifiesAgain(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	obs := &recordingObserver{}
	store.Subscribe(obs)

	update := model.PartialUpdate{Active: model.Bool(true)}
	changed := store.ApplyUpdate(update, model.SourcePush)
	assert.Equal(t, []string{"active"}, changed)

	changed = store.ApplyUpdate(update, model.SourcePush)
	assert.Empty(t, changed, "re-applying the same value changes nothing")
	assert.Len(t, obs.snapshots, 2, "observers hear every update, deduplicated or not")
}

func TestDuplicateSubscribeIsNoop(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	obs := &recordingObserver{}
	store.Subscribe(obs)
	store.Subscribe(obs)

	store.ApplyUpdate(model.PartialUpdate{Active: model.Bool(true)}, model.SourcePoll)
	assert.Len(t, obs.snapshots, 1)

	store.Unsubscribe(obs)
	store.ApplyUpdate(model.PartialUpdate{Active: model.Bool(false)}, model.SourcePoll)
	assert.Len(t, obs.snapshots, 1)
}

func TestObserverPanicIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := NewStore("sauna-1", "Cabin")
	store.logger = zap.New(core)
	store.Subscribe(panickingObserver{})

	store.ApplyUpdate(model.PartialUpdate{Active: model.Bool(true)}, model.SourcePush)

	require.Equal(t, 1, logs.FilterMessage("observer panicked").Len())
}

func TestObserverPanicDoesNotPoisonTheStore(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	obs := &recordingObserver{}
	store.Subscribe(panickingObserver{})
	store.Subscribe(obs)

	require.NotPanics(t, func() {
		store.ApplyUpdate(model.PartialUpdate{Active: model.Bool(true)}, model.SourcePush)
	})
	assert.Len(t, obs.snapshots, 1, "later observers still run after a panic")
	assert.True(t, store.Snapshot().Active)
}

func TestObserverSeesConsistentSnapshotCopy(t *testing.T) {
	store := NewStore("sauna-1", "Cabin")
	obs := &recordingObserver{}
	store.Subscribe(obs)

	store.ApplyUpdate(model.PartialUpdate{TargetTemp: model.Float(70)}, model.SourceLocal)
	store.ApplyUpdate(model.PartialUpdate{TargetTemp: model.Float(90)}, model.SourceLocal)

	require.Len(t, obs.snapshots, 2)
	assert.Equal(t, 70.0, obs.snapshots[0].TargetTemp, "earlier snapshot copy must not see later writes")
	assert.Equal(t, 90.0, obs.snapshots[1].TargetTemp)
}
