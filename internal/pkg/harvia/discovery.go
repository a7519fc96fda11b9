package harvia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/endpoints"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

// queryVariant is one strategy in an ordered fallback chain. A variant either
// produces a usable value, reports ErrEmptyResult, or fails outright; none of
// those outcomes stops the chain from trying the next one.
type queryVariant[T any] struct {
	name string
	run  func(ctx context.Context, deviceID string) (T, error)
}

// firstNonEmpty tries variants in order and returns the first usable value.
// When every variant comes up empty the zero value is returned with
// ErrEmptyResult.
func firstNonEmpty[T any](ctx context.Context, logger *zap.Logger, deviceID string, variants []queryVariant[T]) (T, error) {
	var zero T
	for _, v := range variants {
		out, err := v.run(ctx, deviceID)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrEmptyResult) {
			logger.Debug("query variant empty", zap.String("variant", v.name))
			continue
		}
		logger.Warn("query variant failed", zap.String("variant", v.name), zap.Error(err))
	}
	return zero, ErrEmptyResult
}

// ListDevices discovers the user's devices, walking the vendor's query
// generations oldest-app-first. When every variant is empty and a static
// device id is configured, exactly one synthesized descriptor is returned.
func (c *Client) ListDevices(ctx context.Context) ([]model.Device, error) {
	variants := []queryVariant[[]model.Device]{
		{name: "getDeviceTree", run: c.devicesFromTree},
		{name: "listDevices", run: c.devicesFromList},
		{name: "getUserData", run: c.devicesFromUserData},
	}
	devices, err := firstNonEmpty(ctx, c.logger, "", variants)
	if err == nil {
		return devices, nil
	}
	if c.staticDeviceID != "" {
		c.logger.Info("discovery empty, using configured device id",
			zap.String("device_id", c.staticDeviceID))
		return []model.Device{{
			ID:          c.staticDeviceID,
			DisplayName: fmt.Sprintf("Sauna %s", c.staticDeviceID),
		}}, nil
	}
	return []model.Device{}, nil
}

func (c *Client) devicesFromTree(ctx context.Context, _ string) ([]model.Device, error) {
	res, err := c.Call(ctx, endpoints.ChannelDevice, Request{
		OperationName: "Query",
		Query:         queryDeviceTree,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Field("getDeviceTree")
	if !ok {
		return nil, ErrEmptyResult
	}
	// The tree arrives as a JSON string of a JSON array.
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		inner = string(raw)
	}
	var roots []deviceTreeNode
	if err := json.Unmarshal([]byte(inner), &roots); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unusable device tree: %v", err)}
	}
	if len(roots) == 0 {
		return nil, ErrEmptyResult
	}
	devices := make([]model.Device, 0, len(roots[0].Children))
	for _, child := range roots[0].Children {
		if child.Info.Name == "" {
			continue
		}
		devices = append(devices, model.Device{
			ID:          child.Info.Name,
			DisplayName: fmt.Sprintf("Sauna %s", child.Info.Name),
		})
	}
	if len(devices) == 0 {
		return nil, ErrEmptyResult
	}
	return devices, nil
}

func (c *Client) devicesFromList(ctx context.Context, _ string) ([]model.Device, error) {
	res, err := c.Call(ctx, endpoints.ChannelDevice, Request{Query: queryListDevices})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Field("listDevices")
	if !ok {
		return nil, ErrEmptyResult
	}
	listed := listDevicesItems{}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unusable listDevices payload: %v", err)}
	}
	if len(listed.Items) == 0 {
		return nil, ErrEmptyResult
	}
	devices := make([]model.Device, 0, len(listed.Items))
	for _, item := range listed.Items {
		name := item.DisplayName
		if name == "" {
			name = fmt.Sprintf("Sauna %s", item.ID)
		}
		devices = append(devices, model.Device{
			ID:          item.ID,
			DisplayName: name,
			Type:        item.Type,
		})
	}
	return devices, nil
}

func (c *Client) devicesFromUserData(ctx context.Context, _ string) ([]model.Device, error) {
	data, err := c.userData(ctx)
	if err != nil {
		return nil, err
	}
	if len(data.Devices) == 0 {
		return nil, ErrEmptyResult
	}
	devices := make([]model.Device, 0, len(data.Devices))
	for _, id := range data.Devices {
		devices = append(devices, model.Device{
			ID:          id,
			DisplayName: fmt.Sprintf("Sauna %s", id),
		})
	}
	return devices, nil
}
