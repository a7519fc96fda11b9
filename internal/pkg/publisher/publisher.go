package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

var (
	registeredPublishers = make(map[string]publisher)
	sensors              sync.Map
)

type publisher interface {
	// Write publishes datapoints to the backing adapter.
	Write(ctx context.Context, data []Datapoint) error
	RegisterDevice(device *model.Device) error
}

// Datapoint is one sensor value flattened out of a snapshot.
type Datapoint struct {
	Identifier string
	Name       string
	Slug       string
	Value      string
	Unit       string
	Timestamp  time.Time
}

func RegisterPublisher(name string, p publisher) error {
	if _, ok := registeredPublishers[name]; ok {
		return errAlreadyRegistered
	}
	registeredPublishers[name] = p
	return nil
}

// RegisterDevice announces a device to every registered adapter.
func RegisterDevice(device *model.Device) error {
	for name, p := range registeredPublishers {
		if err := p.RegisterDevice(device); err != nil {
			zap.L().Error("failed to register device", zap.Error(err), zap.String("publisher", name))
			continue
		}
		zap.L().Debug("registered device", zap.String("device", device.ID), zap.String("publisher", name))
	}
	return nil
}

// PublishSnapshot flattens a snapshot into datapoints and writes the ones
// whose value changed since the previous publish. Adapter failures are
// logged per publisher and never propagate to the state store.
func PublishSnapshot(ctx context.Context, device model.Device, snapshot model.Snapshot) error {
	identifier := slugify(fmt.Sprintf("%s %s", device.DisplayName, device.ID))
	data := make([]Datapoint, 0, 12)
	for _, point := range flatten(snapshot) {
		if !shouldUpdate(identifier, point.Slug, point.Value) {
			continue
		}
		point.Identifier = identifier
		point.Timestamp = snapshot.UpdatedAt
		data = append(data, point)
	}
	if len(data) == 0 {
		return nil
	}
	for name, p := range registeredPublishers {
		if err := p.Write(ctx, data); err != nil {
			zap.L().Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		zap.L().Debug("published datapoints", zap.Int("count", len(data)), zap.String("publisher", name))
	}
	return nil
}

func flatten(s model.Snapshot) []Datapoint {
	onOff := func(v bool) string {
		if v {
			return "ON"
		}
		return "OFF"
	}
	num := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return []Datapoint{
		{Name: "Temperature", Slug: "temperature", Value: num(s.Temperature), Unit: "°C"},
		{Name: "Humidity", Slug: "humidity", Value: num(s.Humidity), Unit: "%"},
		{Name: "Target Temperature", Slug: "target_temperature", Value: num(s.TargetTemp), Unit: "°C"},
		{Name: "Target Humidity", Slug: "target_humidity", Value: num(s.TargetRH), Unit: "%"},
		{Name: "Remaining Time", Slug: "remaining_time", Value: num(s.RemainingTime), Unit: "min"},
		{Name: "Power", Slug: model.PowerBinarySensor.String(), Value: onOff(s.Active)},
		{Name: "Lights", Slug: model.LightsBinarySensor.String(), Value: onOff(s.LightsOn)},
		{Name: "Fan", Slug: model.FanBinarySensor.String(), Value: onOff(s.FanOn)},
		{Name: "Steam", Slug: model.SteamBinarySensor.String(), Value: onOff(s.SteamEnabled)},
		{Name: "Door Open", Slug: model.DoorBinarySensor.String(), Value: onOff(s.DoorOpen())},
	}
}

func slugify(name string) string {
	return strings.Replace(slug.Make(name), "-", "_", -1)
}

func shouldUpdate(identifier, slugName, newValue string) bool {
	key := fmt.Sprintf("%s_%s", identifier, slugName)
	oldValue, exists := sensors.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	if !exists {
		zap.L().Info("configured sensor", zap.String("device", identifier), zap.String("sensor", slugName), zap.String("value", newValue))
	}
	sensors.Store(key, newValue)
	return true
}
