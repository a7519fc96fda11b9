package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
	"github.com/anicoll/harvia-integration/internal/pkg/publisher"
)

var configuredDevices = map[string]struct{}{}

func (s *service) Write(ctx context.Context, data []publisher.Datapoint) error {
	for _, d := range data {
		if err := s.publishDatapoint(d); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDevice publishes a Home Assistant discovery config per sensor the
// sauna exposes. Repeat registrations for a known device are no-ops.
func (s *service) RegisterDevice(device *model.Device) error {
	if _, exists := configuredDevices[device.ID]; exists {
		return nil
	}
	for _, msg := range discoveryMessages(device) {
		component := "sensor"
		if model.BinarySensors.HasSlug(msg.ID[strings.LastIndex(msg.ID, "/")+1:]) {
			component = "binary_sensor"
		}
		topic := fmt.Sprintf("homeassistant/%s/%s/config", component, msg.ID)
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		token := s.client.Publish(topic, 1, true, payload)
		if err := token.Error(); err != nil {
			return err
		}
		token.WaitTimeout(time.Second * 5)
	}
	configuredDevices[device.ID] = struct{}{}
	return nil
}

func (s *service) publishDatapoint(d publisher.Datapoint) error {
	isBinary := model.BinarySensors.HasSlug(d.Slug)
	component := "sensor"
	if isBinary {
		component = "binary_sensor"
	}
	topic := fmt.Sprintf("homeassistant/%s/%s/%s/state", component, d.Identifier, d.Slug)

	payload := map[string]string{
		"value": d.Value,
	}
	if !isBinary {
		payload["unit_of_measurement"] = d.Unit
	}

	publishData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 0, false, publishData)
	res := token.WaitTimeout(time.Second * 10)
	if res {
		return nil
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

func discoveryMessages(device *model.Device) []model.RegisterMessage {
	name := fmt.Sprintf("%s %s", device.DisplayName, device.ID)
	// Must match the identifier the publisher stamps on datapoints, or the
	// discovery state topics point nowhere.
	slugIdentifier := strings.Replace(slug.Make(name), "-", "_", -1)

	sensorSlugs := []struct {
		slug string
		name string
		unit string
	}{
		{"temperature", "Temperature", "°C"},
		{"humidity", "Humidity", "%"},
		{"target_temperature", "Target Temperature", "°C"},
		{"target_humidity", "Target Humidity", "%"},
		{"remaining_time", "Remaining Time", "min"},
		{model.PowerBinarySensor.String(), "Power", ""},
		{model.LightsBinarySensor.String(), "Lights", ""},
		{model.FanBinarySensor.String(), "Fan", ""},
		{model.SteamBinarySensor.String(), "Steam", ""},
		{model.DoorBinarySensor.String(), "Door Open", ""},
	}

	msgs := make([]model.RegisterMessage, 0, len(sensorSlugs))
	for _, sensor := range sensorSlugs {
		component := "sensor"
		if model.BinarySensors.HasSlug(sensor.slug) {
			component = "binary_sensor"
		}
		msgs = append(msgs, model.RegisterMessage{
			Tilda:      fmt.Sprintf("homeassistant/%s/%s/%s", component, slugIdentifier, sensor.slug),
			Name:       fmt.Sprintf("%s %s", name, sensor.name),
			ID:         fmt.Sprintf("%s/%s", slugIdentifier, sensor.slug),
			StateTopic: "~/state",
			Unit:       sensor.unit,
			Device: model.RegisterDevice{
				Name:         name,
				Identifiers:  []string{slugIdentifier},
				Model:        device.Type,
				Manufacturer: "Harvia",
			},
		})
	}
	return msgs
}
