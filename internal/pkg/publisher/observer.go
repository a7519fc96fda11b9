package publisher

import (
	"context"
	"time"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

const publishTimeout = time.Second * 15

// SnapshotBridge plugs the state store's observer callback into the
// publisher registry.
type SnapshotBridge struct {
	device model.Device
}

func NewSnapshotBridge(device model.Device) *SnapshotBridge {
	return &SnapshotBridge{device: device}
}

func (b *SnapshotBridge) SnapshotUpdated(s model.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_ = PublishSnapshot(ctx, b.device, s)
}
