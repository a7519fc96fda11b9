package subscription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/metrics"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
	"github.com/anicoll/harvia-integration/pkg/sockets"
)

type State string

func (s State) String() string {
	return string(s)
}

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "awaiting_handshake_ack"
	StateRegistering  State = "registering_subscription"
	StateActive       State = "active"
	StateClosing      State = "closing"
	StateStopped      State = "stopped"
)

const (
	subProtocol = "graphql-ws"
	userAgent   = "aws-amplify/2.0.5 react-native"

	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectDelay   = 5 * time.Second
)

var (
	errUnauthorizedFrame = errors.New("subscription rejected as unauthorized")
	errConnectionClosed  = errors.New("connection closed")
)

type session interface {
	IDToken(ctx context.Context) (string, error)
	Reauthenticate(ctx context.Context) error
}

type directory interface {
	WebsocketEndpoint(ctx context.Context, channel string) (wssURL, host string, err error)
}

type receiverSource interface {
	OrganizationID(ctx context.Context) string
}

type updateSink interface {
	ApplyUpdate(u model.PartialUpdate, source model.UpdateSource) []string
}

// DialFunc builds a connection wired to the given callbacks. Injectable so
// tests can substitute transports.
type DialFunc func(onMessage func([]byte, sockets.Connection), onError func(error)) sockets.Connection

// Client keeps one subscription channel registered against the realtime
// endpoint for the life of the process, reconnecting on every failure.
type Client struct {
	channel  Channel
	deviceID string
	session  session
	dir      directory
	receiver receiverSource
	store    updateSink
	logger   *zap.Logger
	dial     DialFunc

	handshakeTimeout time.Duration
	reconnectDelay   time.Duration

	mu             sync.Mutex
	state          State
	stopping       bool
	conn           sockets.Connection
	connectionID   string
	subscriptionID string
}

func New(channel Channel, deviceID string, sess session, dir directory, recv receiverSource, store updateSink, opts ...func(*Client)) *Client {
	c := &Client{
		channel:          channel,
		deviceID:         deviceID,
		session:          sess,
		dir:              dir,
		receiver:         recv,
		store:            store,
		logger:           zap.L().With(zap.String("channel", channel.Name)),
		handshakeTimeout: defaultHandshakeTimeout,
		reconnectDelay:   defaultReconnectDelay,
		state:            StateDisconnected,
	}
	c.dial = func(onMessage func([]byte, sockets.Connection), onError func(error)) sockets.Connection {
		return sockets.New(sockets.OnMessage(onMessage), sockets.OnError(onError))
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithDialer substitutes the transport factory.
func WithDialer(dial DialFunc) func(*Client) {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithReconnectDelay shortens the error backoff.
func WithReconnectDelay(d time.Duration) func(*Client) {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

// WithHandshakeTimeout bounds the wait for connection_ack.
func WithHandshakeTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		c.handshakeTimeout = d
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Run loops the connect/subscribe/receive cycle until Stop or context
// cancellation. There is no upper bound on reconnect attempts.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.isStopping() {
			c.setState(StateStopped)
			return nil
		}
		err := c.runOnce(ctx)
		if c.isStopping() || errors.Is(err, context.Canceled) {
			c.setState(StateStopped)
			return nil
		}
		if err != nil {
			c.logger.Warn("subscription failed, reconnecting",
				zap.Error(err),
				zap.Duration("delay", c.reconnectDelay))
		}
		c.setState(StateDisconnected)
		metrics.WebsocketReconnects.WithLabelValues(c.channel.Name).Inc()
		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			c.setState(StateStopped)
			return nil
		}
	}
}

type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (c *Client) runOnce(ctx context.Context) error {
	frames := make(chan frame, 32)
	errs := make(chan error, 4)

	conn := c.dial(func(data []byte, _ sockets.Connection) {
		f := frame{}
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", zap.ByteString("frame", data))
			return
		}
		select {
		case frames <- f:
		default:
			c.logger.Warn("frame buffer full, dropping", zap.String("type", f.Type))
		}
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	c.setState(StateConnecting)
	wssURL, host, err := c.signedURL(ctx)
	if err != nil {
		return err
	}
	if err := conn.Dial(ctx, wssURL, subProtocol); err != nil {
		return err
	}
	if err := c.sendJSON(conn, frame{Type: "connection_init"}); err != nil {
		return err
	}

	c.setState(StateHandshaking)
	if err := c.awaitHandshakeAck(ctx, frames, errs); err != nil {
		return err
	}

	c.setState(StateRegistering)
	if err := c.register(ctx, conn, host); err != nil {
		return err
	}
	if err := c.awaitRegistrationAck(ctx, frames, errs); err != nil {
		return err
	}

	c.setState(StateActive)
	c.logger.Info("subscription active",
		zap.String("connection_id", c.connectionID),
		zap.String("subscription_id", c.subscriptionID))
	for {
		select {
		case f := <-frames:
			if err := c.handleFrame(ctx, f); err != nil {
				return err
			}
		case err := <-errs:
			return fmt.Errorf("%w: %v", errConnectionClosed, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// signedURL builds the realtime URL carrying the base64 authorization header
// payload and the empty-object payload parameter.
func (c *Client) signedURL(ctx context.Context) (string, string, error) {
	wssURL, host, err := c.dir.WebsocketEndpoint(ctx, c.channel.Name)
	if err != nil {
		return "", "", err
	}
	token, err := c.session.IDToken(ctx)
	if err != nil {
		return "", "", err
	}
	header, err := json.Marshal(map[string]string{
		"Authorization":    token,
		"host":             host,
		"x-amz-user-agent": userAgent,
	})
	if err != nil {
		return "", "", err
	}
	encoded := base64.StdEncoding.EncodeToString(header)
	return wssURL + "?header=" + url.QueryEscape(encoded) + "&payload=e30=", host, nil
}

func (c *Client) awaitHandshakeAck(ctx context.Context, frames chan frame, errs chan error) error {
	deadline := time.NewTimer(c.handshakeTimeout)
	defer deadline.Stop()
	for {
		select {
		case f := <-frames:
			switch f.Type {
			case "connection_ack":
				ack := struct {
					ConnectionID string `json:"connectionId"`
				}{}
				_ = json.Unmarshal(f.Payload, &ack)
				c.mu.Lock()
				c.connectionID = ack.ConnectionID
				c.mu.Unlock()
				return nil
			case "connection_error":
				return c.classifyErrorFrame(ctx, f, true)
			default:
				c.logger.Debug("frame before handshake ack", zap.String("type", f.Type))
			}
		case err := <-errs:
			return fmt.Errorf("%w: %v", errConnectionClosed, err)
		case <-deadline.C:
			return fmt.Errorf("no connection_ack within %s", c.handshakeTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) register(ctx context.Context, conn sockets.Connection, host string) error {
	token, err := c.session.IDToken(ctx)
	if err != nil {
		return err
	}
	receiver := c.receiver.OrganizationID(ctx)

	// The start payload's data field is a JSON string, not an object.
	data, err := json.Marshal(map[string]any{
		"query":     c.channel.query,
		"variables": map[string]any{"receiver": receiver},
	})
	if err != nil {
		return err
	}

	subID := uuid.NewString()
	c.mu.Lock()
	c.subscriptionID = subID
	c.mu.Unlock()

	start := map[string]any{
		"id":   subID,
		"type": "start",
		"payload": map[string]any{
			"data": string(data),
			"extensions": map[string]any{
				"authorization": map[string]string{
					"Authorization":    token,
					"host":             host,
					"x-amz-user-agent": userAgent,
				},
			},
		},
	}
	body, err := json.Marshal(start)
	if err != nil {
		return err
	}
	return conn.Send(sockets.Msg{Body: body})
}

// awaitRegistrationAck accepts either an explicit start_ack or a keep-alive
// as confirmation. The backend is observed to sometimes skip the explicit
// ack; waiting on it alone produced false negatives against production.
func (c *Client) awaitRegistrationAck(ctx context.Context, frames chan frame, errs chan error) error {
	deadline := time.NewTimer(c.handshakeTimeout)
	defer deadline.Stop()
	for {
		select {
		case f := <-frames:
			switch f.Type {
			case "start_ack", "ka":
				return nil
			case "error", "connection_error":
				return c.classifyErrorFrame(ctx, f, true)
			default:
				c.logger.Debug("frame before start ack", zap.String("type", f.Type))
			}
		case err := <-errs:
			return fmt.Errorf("%w: %v", errConnectionClosed, err)
		case <-deadline.C:
			return fmt.Errorf("no subscription confirmation within %s", c.handshakeTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, f frame) error {
	switch f.Type {
	case "ka":
		return nil
	case "data":
		c.routeData(f.Payload)
		return nil
	case "error", "connection_error":
		// Authorization failures force a reconnect with fresh tokens; the
		// rest are logged and ignored.
		if err := c.classifyErrorFrame(ctx, f, false); err != nil {
			return err
		}
		return nil
	case "complete":
		c.logger.Debug("subscription completed by server")
		return nil
	default:
		c.logger.Warn("unhandled frame type", zap.String("type", f.Type))
		return nil
	}
}

type errorFramePayload struct {
	Errors []struct {
		Message   string `json:"message"`
		ErrorType string `json:"errorType"`
	} `json:"errors"`
}

// classifyErrorFrame re-authenticates and errors on authorization failures.
// When strict is set, every error frame aborts the current connection.
func (c *Client) classifyErrorFrame(ctx context.Context, f frame, strict bool) error {
	payload := errorFramePayload{}
	_ = json.Unmarshal(f.Payload, &payload)
	for _, e := range payload.Errors {
		if e.ErrorType == "Unauthorized" || e.ErrorType == "UnauthorizedException" {
			c.logger.Warn("unauthorized on subscription, re-authenticating", zap.String("message", e.Message))
			if err := c.session.Reauthenticate(ctx); err != nil {
				c.logger.Error("re-authentication failed", zap.Error(err))
			}
			return errUnauthorizedFrame
		}
	}
	if strict {
		return fmt.Errorf("error frame during setup: %s", string(f.Payload))
	}
	c.logger.Warn("error frame ignored", zap.ByteString("payload", f.Payload))
	return nil
}

// routeData decodes a push frame and merges it into the store when it belongs
// to this client's device. Mismatched device ids are dropped without logging.
func (c *Client) routeData(payload json.RawMessage) {
	envelope := struct {
		Data map[string]json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.logger.Warn("undecodable data frame", zap.Error(err))
		return
	}
	raw, ok := envelope.Data[c.channel.operation]
	if !ok {
		c.logger.Debug("data frame without expected operation", zap.String("operation", c.channel.operation))
		return
	}

	var update *model.PartialUpdate
	var err error
	switch c.channel.operation {
	case DataChannel.operation:
		update, err = decodeDataUpdate(raw, c.deviceID)
	default:
		update, err = decodeStateUpdate(raw)
	}
	if err != nil {
		c.logger.Warn("dropping unusable update", zap.Error(err))
		return
	}
	if update == nil {
		return
	}
	if update.DeviceID != nil && *update.DeviceID != c.deviceID {
		return
	}
	c.store.ApplyUpdate(*update, model.SourcePush)
}

// decodeDataUpdate unwraps onDataUpdates: the item's data field is a JSON
// string of the actual measurement set.
func decodeDataUpdate(raw json.RawMessage, deviceID string) (*model.PartialUpdate, error) {
	wrapper := struct {
		Item struct {
			DeviceID  string          `json:"deviceId"`
			Data      string          `json:"data"`
			Timestamp *model.FlexTime `json:"timestamp"`
		} `json:"item"`
	}{}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Item.DeviceID != "" && wrapper.Item.DeviceID != deviceID {
		return nil, nil
	}
	update := &model.PartialUpdate{}
	if wrapper.Item.Data != "" {
		if err := json.Unmarshal([]byte(wrapper.Item.Data), update); err != nil {
			return nil, err
		}
	}
	if wrapper.Item.DeviceID != "" {
		update.DeviceID = &wrapper.Item.DeviceID
	}
	if update.Timestamp == nil {
		update.Timestamp = wrapper.Item.Timestamp
	}
	return update, nil
}

// decodeStateUpdate unwraps onStateUpdated: reported shadow state as a JSON
// string.
func decodeStateUpdate(raw json.RawMessage) (*model.PartialUpdate, error) {
	wrapper := struct {
		Reported  string          `json:"reported"`
		Timestamp *model.FlexTime `json:"timestamp"`
	}{}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Reported == "" {
		return nil, nil
	}
	update := &model.PartialUpdate{}
	if err := json.Unmarshal([]byte(wrapper.Reported), update); err != nil {
		return nil, err
	}
	if update.Timestamp == nil {
		update.Timestamp = wrapper.Timestamp
	}
	return update, nil
}

// Stop sends a best-effort stop frame, closes the socket and prevents any
// further reconnect. Idempotent; never races an in-flight reconnect because
// the run loop re-checks the stopping flag before and after each cycle.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.state = StateClosing
	conn := c.conn
	subID := c.subscriptionID
	c.mu.Unlock()

	if conn != nil && conn.IsConnected() {
		if subID != "" {
			body, err := json.Marshal(frame{ID: subID, Type: "stop"})
			if err == nil {
				_ = conn.Send(sockets.Msg{Body: body})
			}
		}
		_ = conn.Close()
	}
}

func (c *Client) sendJSON(conn sockets.Connection, f frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Send(sockets.Msg{Body: body})
}
