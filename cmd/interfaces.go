package cmd

import (
	"context"

	"github.com/anicoll/harvia-integration/internal/pkg/device"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

// SaunaService defines the interface that cmd.run expects from a device manager.
type SaunaService interface {
	Run(ctx context.Context) error
	Device() model.Device
	Snapshot() model.Snapshot
	Subscribe(o device.Observer)
	// Methods needed by server.New(mgr)
	SetActive(on bool)
	SetTargetTemperature(value float64)
	SetTargetHumidity(value float64)
	SetLights(on bool)
	SetFan(on bool)
	SetSteamer(on bool)
}
