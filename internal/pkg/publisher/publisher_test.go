package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type capturingPublisher struct {
	mu         sync.Mutex
	writes     [][]Datapoint
	registered []string
}

func (p *capturingPublisher) Write(_ context.Context, data []Datapoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, data)
	return nil
}

func (p *capturingPublisher) RegisterDevice(device *model.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, device.ID)
	return nil
}

func (p *capturingPublisher) all() []Datapoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []Datapoint{}
	for _, w := range p.writes {
		out = append(out, w...)
	}
	return out
}

func install(t *testing.T, name string) *capturingPublisher {
	t.Helper()
	p := &capturingPublisher{}
	require.NoError(t, RegisterPublisher(name, p))
	t.Cleanup(func() {
		delete(registeredPublishers, name)
	})
	return p
}

func TestRegisterPublisherRejectsDuplicates(t *testing.T) {
	install(t, "dup-test")
	assert.Error(t, RegisterPublisher("dup-test", &capturingPublisher{}))
}

func TestRegisterDeviceFansOut(t *testing.T) {
	p := install(t, "register-test")
	dev := model.Device{ID: "sauna-reg", DisplayName: "Cabin"}

	require.NoError(t, RegisterDevice(&dev))
	assert.Equal(t, []string{"sauna-reg"}, p.registered)
}

func TestPublishSnapshotDedupsUnchangedValues(t *testing.T) {
	p := install(t, "dedup-test")
	dev := model.Device{ID: "sauna-dedup", DisplayName: "Backyard"}
	snapshot := model.Snapshot{
		Active:      true,
		Temperature: 60,
		StatusCodes: "000",
		UpdatedAt:   time.Now(),
	}

	require.NoError(t, PublishSnapshot(context.Background(), dev, snapshot))
	first := len(p.all())
	assert.Greater(t, first, 0, "initial publish carries every sensor")

	// identical snapshot publishes nothing new
	require.NoError(t, PublishSnapshot(context.Background(), dev, snapshot))
	assert.Equal(t, first, len(p.all()))

	// a single changed field publishes only that datapoint
	snapshot.Temperature = 72
	require.NoError(t, PublishSnapshot(context.Background(), dev, snapshot))
	added := p.all()[first:]
	require.Len(t, added, 1)
	assert.Equal(t, "temperature", added[0].Slug)
	assert.Equal(t, "72", added[0].Value)
}

func TestFlattenDerivesDoorState(t *testing.T) {
	points := flatten(model.Snapshot{StatusCodes: "090", Active: true})

	bySlug := map[string]Datapoint{}
	for _, p := range points {
		bySlug[p.Slug] = p
	}
	assert.Equal(t, "ON", bySlug["door_open"].Value)
	assert.Equal(t, "ON", bySlug["power"].Value)
	assert.Equal(t, "OFF", bySlug["lights"].Value)
	assert.Equal(t, "°C", bySlug["temperature"].Unit)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "backyard_sauna_abc_123", slugify("Backyard Sauna ABC-123"))
}
