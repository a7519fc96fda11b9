package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Channel is a logical backend resource with its own endpoint URL and
// query/subscription shapes.
const (
	ChannelUsers  = "users"
	ChannelDevice = "device"
	ChannelEvents = "events"
	ChannelData   = "data"
)

var channels = []string{ChannelUsers, ChannelDevice, ChannelEvents, ChannelData}

// Document is the endpoint descriptor served by the cloud directory. Only the
// users document carries the identity-pool fields.
type Document struct {
	Endpoint       string `json:"endpoint"`
	Region         string `json:"region"`
	UserPoolID     string `json:"userPoolId"`
	ClientID       string `json:"clientId"`
	IdentityPoolID string `json:"identityPoolId"`
}

var appsyncRegex = regexp.MustCompile(`^https://(.+)\.appsync-api\.(.+)/graphql$`)

// Directory resolves logical channel names to concrete endpoints. The full
// set is fetched on first access and treated as immutable for the process
// lifetime.
type Directory struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]Document
}

func New(baseURL string) *Directory {
	return &Directory{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zap.L(),
	}
}

// Resolve returns the endpoint document for a channel, fetching the directory
// on first use.
func (d *Directory) Resolve(ctx context.Context, channel string) (Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache == nil {
		if err := d.fetchAll(ctx); err != nil {
			return Document{}, err
		}
	}
	doc, ok := d.cache[channel]
	if !ok {
		return Document{}, fmt.Errorf("unknown channel %q", channel)
	}
	return doc, nil
}

func (d *Directory) fetchAll(ctx context.Context) error {
	cache := make(map[string]Document, len(channels))
	for _, channel := range channels {
		url := fmt.Sprintf("%s/%s/endpoint", d.baseURL, channel)
		d.logger.Debug("fetching endpoint", zap.String("url", url))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		res, err := d.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch endpoint %s: %w", channel, err)
		}
		doc := Document{}
		err = json.NewDecoder(res.Body).Decode(&doc)
		_ = res.Body.Close()
		if err != nil {
			return fmt.Errorf("decode endpoint %s: %w", channel, err)
		}
		cache[channel] = doc
	}
	d.cache = cache
	d.logger.Info("endpoints fetched", zap.Int("count", len(cache)))
	return nil
}

// WebsocketEndpoint rewrites a channel's GraphQL endpoint into its realtime
// counterpart and returns the wss URL together with the original API host,
// which the subscription handshake signs against.
func (d *Directory) WebsocketEndpoint(ctx context.Context, channel string) (wssURL, host string, err error) {
	doc, err := d.Resolve(ctx, channel)
	if err != nil {
		return "", "", err
	}
	m := appsyncRegex.FindStringSubmatch(doc.Endpoint)
	if m == nil {
		return "", "", fmt.Errorf("endpoint %q is not an appsync url", doc.Endpoint)
	}
	wssURL = fmt.Sprintf("wss://%s.appsync-realtime-api.%s/graphql", m[1], m[2])
	host = fmt.Sprintf("%s.appsync-api.%s", m[1], m[2])
	return wssURL, host, nil
}
