package harvia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/endpoints"
	"github.com/anicoll/harvia-integration/internal/pkg/metrics"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

const (
	mutationAttempts = 3
	// FallbackReceiverID is used as the subscription receiver when the
	// organization lookup fails. Observed stable across accounts.
	FallbackReceiverID = "5d34705e-278d-4de7-84b2-4b515db39c55"
)

type session interface {
	IDToken(ctx context.Context) (string, error)
	Reauthenticate(ctx context.Context) error
}

type directory interface {
	Resolve(ctx context.Context, channel string) (endpoints.Document, error)
}

// Client is the query transport: signed request/response calls to the
// resolved channel endpoints, plus the retrying mutation path.
type Client struct {
	dir        directory
	session    session
	httpClient *http.Client
	logger     *zap.Logger
	// staticDeviceID synthesizes a device when discovery finds nothing.
	staticDeviceID string
	// retryBase is the first mutation retry delay; doubles per attempt.
	retryBase time.Duration
}

func NewClient(dir directory, sess session, staticDeviceID string) *Client {
	return &Client{
		dir:            dir,
		session:        sess,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         zap.L(),
		staticDeviceID: staticDeviceID,
		retryBase:      time.Second,
	}
}

// Call resolves the channel endpoint, signs the request with the current id
// token and returns the parsed body. Vendor errors inside the body are the
// caller's to interpret.
func (c *Client) Call(ctx context.Context, channel string, req Request) (*Response, error) {
	doc, err := c.dir.Resolve(ctx, channel)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	token, err := c.session.IDToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("authorization", token)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer res.Body.Close()

	parsed := &Response{}
	if err := json.NewDecoder(res.Body).Decode(parsed); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode %s response: %w", channel, err)}
	}
	if len(parsed.Errors) > 0 {
		c.logger.Debug("response carries errors",
			zap.String("channel", channel),
			zap.String("error_type", parsed.Errors[0].ErrorType),
			zap.String("message", parsed.Errors[0].Message))
	}
	return parsed, nil
}

// Mutate submits an UpdateDevice mutation with a bounded retry policy: up to
// three attempts, delay doubling from the base, re-authentication between
// attempts when the response says unauthorized. The terminal outcome is
// returned as data; nothing is raised past this boundary.
func (c *Client) Mutate(ctx context.Context, deviceID string, payload model.PartialUpdate) MutationResult {
	req := Request{
		Query: mutationUpdateDevice,
		Variables: map[string]any{
			"deviceId": deviceID,
			"input":    payload,
		},
	}

	delay := c.retryBase
	var lastErr error
	for attempt := 1; attempt <= mutationAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return MutationResult{OK: false, Attempts: attempt - 1, Err: ctx.Err()}
			}
			delay *= 2
		}
		metrics.MutationAttempts.Inc()

		res, err := c.Call(ctx, endpoints.ChannelDevice, req)
		if err != nil {
			lastErr = err
			c.logger.Warn("mutation attempt failed",
				zap.String("device_id", deviceID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if res.Unauthorized() {
			lastErr = &ProtocolError{Reason: "mutation rejected as unauthorized"}
			c.logger.Warn("mutation unauthorized, re-authenticating",
				zap.String("device_id", deviceID),
				zap.Int("attempt", attempt))
			if err := c.session.Reauthenticate(ctx); err != nil {
				c.logger.Error("re-authentication failed", zap.Error(err))
			}
			continue
		}
		if len(res.Errors) > 0 {
			lastErr = &ProtocolError{Reason: res.Errors[0].Message}
			continue
		}
		return MutationResult{OK: true, Attempts: attempt}
	}
	metrics.MutationFailures.Inc()
	return MutationResult{OK: false, Attempts: mutationAttempts, Err: lastErr}
}

// GetDeviceData fetches the latest known data for one device, trying the
// query variants in order.
func (c *Client) GetDeviceData(ctx context.Context, deviceID string) (*model.PartialUpdate, error) {
	variants := []queryVariant[*model.PartialUpdate]{
		{name: "getLatestDeviceData", run: c.latestDeviceData},
		{name: "getDeviceState", run: c.deviceStateData},
	}
	update, err := firstNonEmpty(ctx, c.logger, deviceID, variants)
	if err != nil {
		return nil, err
	}
	return update, nil
}

func (c *Client) latestDeviceData(ctx context.Context, deviceID string) (*model.PartialUpdate, error) {
	res, err := c.Call(ctx, endpoints.ChannelData, Request{
		Query:     queryLatestDeviceData,
		Variables: map[string]any{"deviceId": deviceID},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Field("getLatestDeviceData")
	if !ok {
		return nil, ErrEmptyResult
	}
	update := &model.PartialUpdate{}
	if err := json.Unmarshal(raw, update); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unusable getLatestDeviceData payload: %v", err)}
	}
	if update.IsEmpty() {
		return nil, ErrEmptyResult
	}
	return update, nil
}

// deviceStateData reads the device shadow; reported state arrives as a JSON
// string inside the JSON body.
func (c *Client) deviceStateData(ctx context.Context, deviceID string) (*model.PartialUpdate, error) {
	res, err := c.Call(ctx, endpoints.ChannelDevice, Request{
		Query:     queryDeviceState,
		Variables: map[string]any{"deviceId": deviceID},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Field("getDeviceState")
	if !ok {
		return nil, ErrEmptyResult
	}
	state := deviceState{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unusable getDeviceState payload: %v", err)}
	}
	if state.Reported == "" {
		return nil, ErrEmptyResult
	}
	update := &model.PartialUpdate{}
	if err := json.Unmarshal([]byte(state.Reported), update); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unusable reported state: %v", err)}
	}
	return update, nil
}

// OrganizationID resolves the receiver identifier subscriptions are keyed on.
// Any failure falls back to the known-good static identifier.
func (c *Client) OrganizationID(ctx context.Context) string {
	data, err := c.userData(ctx)
	if err != nil || data.OrganizationID == "" {
		c.logger.Warn("organization lookup failed, using fallback receiver", zap.Error(err))
		return FallbackReceiverID
	}
	return data.OrganizationID
}

func (c *Client) userData(ctx context.Context) (*userData, error) {
	res, err := c.Call(ctx, endpoints.ChannelUsers, Request{Query: queryUserData})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Field("getUserData")
	if !ok {
		return nil, ErrEmptyResult
	}
	// The field is a JSON string wrapping the actual object.
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		// Some deployments return the object directly.
		inner = string(raw)
	}
	data := &userData{}
	if err := json.Unmarshal([]byte(inner), data); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unusable getUserData payload: %v", err)}
	}
	return data, nil
}
