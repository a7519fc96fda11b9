package harvia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/harvia-integration/internal/pkg/endpoints"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type stubSession struct {
	reauths atomic.Int32
}

func (s *stubSession) IDToken(_ context.Context) (string, error) {
	return "id-token", nil
}

func (s *stubSession) Reauthenticate(_ context.Context) error {
	s.reauths.Add(1)
	return nil
}

type stubDirectory struct {
	endpoint string
}

func (d stubDirectory) Resolve(_ context.Context, _ string) (endpoints.Document, error) {
	return endpoints.Document{Endpoint: d.endpoint}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *stubSession) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sess := &stubSession{}
	c := NewClient(stubDirectory{endpoint: srv.URL}, sess, "")
	c.retryBase = 10 * time.Millisecond
	return c, sess
}

func graphqlErrors(w http.ResponseWriter, errorType, message string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   nil,
		"errors": []map[string]string{{"errorType": errorType, "message": message}},
	})
}

func TestMutateSucceedsFirstAttempt(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := Request{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "id-token", r.Header.Get("authorization"))
		assert.Contains(t, req.Query, "UpdateDevice")
		assert.Equal(t, "sauna-1", req.Variables["deviceId"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"requestStateChange": map[string]any{"deviceId": "sauna-1"}},
		})
	})

	result := c.Mutate(context.Background(), "sauna-1", model.PartialUpdate{Active: model.Bool(true)})
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.Err)
}

func TestMutateRetriesWithBackoffThenSucceeds(t *testing.T) {
	calls := atomic.Int32{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			graphqlErrors(w, "InternalError", "backend unavailable")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"requestStateChange": map[string]any{}}})
	})

	start := time.Now()
	result := c.Mutate(context.Background(), "sauna-1", model.PartialUpdate{Light: model.Bool(true)})
	elapsed := time.Since(start)

	assert.True(t, result.OK)
	assert.Equal(t, 3, result.Attempts)
	// base delay before attempt 2 plus doubled delay before attempt 3
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestMutateGivesUpAfterThreeAttempts(t *testing.T) {
	calls := atomic.Int32{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		graphqlErrors(w, "InternalError", "backend unavailable")
	})

	result := c.Mutate(context.Background(), "sauna-1", model.PartialUpdate{Fan: model.Bool(false)})
	assert.False(t, result.OK)
	assert.Equal(t, 3, result.Attempts)
	assert.Error(t, result.Err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMutateReauthenticatesOnUnauthorized(t *testing.T) {
	calls := atomic.Int32{}
	c, sess := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			graphqlErrors(w, "UnauthorizedException", "Unauthorized")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"requestStateChange": map[string]any{}}})
	})

	result := c.Mutate(context.Background(), "sauna-1", model.PartialUpdate{Active: model.Bool(false)})
	assert.True(t, result.OK)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int32(1), sess.reauths.Load())
}

func TestGetDeviceDataFallsBackToDeviceShadow(t *testing.T) {
	reported := `{"active":1,"targetTemp":85,"statusCodes":"090"}`
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := Request{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch {
		case strings.Contains(req.Query, "getLatestDeviceData"):
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"getLatestDeviceData": nil}})
		case strings.Contains(req.Query, "getDeviceState"):
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"getDeviceState": map[string]any{
				"deviceId": "sauna-1",
				"reported": reported,
			}}})
		default:
			t.Fatalf("unexpected query: %s", req.Query)
		}
	})

	update, err := c.GetDeviceData(context.Background(), "sauna-1")
	require.NoError(t, err)
	require.NotNil(t, update.Active)
	assert.True(t, update.Active.Bool())
	assert.Equal(t, 85.0, *update.TargetTemp)
	assert.Equal(t, "090", *update.StatusCodes)
}

func TestGetDeviceDataAllVariantsEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	})

	_, err := c.GetDeviceData(context.Background(), "sauna-1")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestOrganizationIDFallsBackToStaticReceiver(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		graphqlErrors(w, "InternalError", "nope")
	})

	assert.Equal(t, FallbackReceiverID, c.OrganizationID(context.Background()))
}

func TestOrganizationIDFromUserData(t *testing.T) {
	inner, _ := json.Marshal(map[string]any{"organizationId": "org-42"})
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		// the payload is a JSON string wrapping the object
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"getUserData": string(inner)}})
	})

	assert.Equal(t, "org-42", c.OrganizationID(context.Background()))
}
