package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type mockSauna struct {
	snapshot model.Snapshot

	active     *bool
	lights     *bool
	fan        *bool
	steamer    *bool
	targetTemp *float64
	targetRH   *float64
}

func (m *mockSauna) Snapshot() model.Snapshot       { return m.snapshot }
func (m *mockSauna) SetActive(on bool)              { m.active = &on }
func (m *mockSauna) SetLights(on bool)              { m.lights = &on }
func (m *mockSauna) SetFan(on bool)                 { m.fan = &on }
func (m *mockSauna) SetSteamer(on bool)             { m.steamer = &on }
func (m *mockSauna) SetTargetTemperature(v float64) { m.targetTemp = &v }
func (m *mockSauna) SetTargetHumidity(v float64)    { m.targetRH = &v }

func newTestServer(t *testing.T, sauna *mockSauna) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(sauna).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestGetDeviceIncludesDerivedDoorState(t *testing.T) {
	sauna := &mockSauna{snapshot: model.Snapshot{
		ID:          "sauna-1",
		Active:      true,
		Temperature: 62,
		StatusCodes: "090",
	}}
	srv := newTestServer(t, sauna)

	res, err := http.Get(srv.URL + "/device")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := map[string]any{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "sauna-1", body["id"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, 62.0, body["temperature"])
	assert.Equal(t, true, body["doorOpen"])
}

func TestToggleEndpointsAccept(t *testing.T) {
	sauna := &mockSauna{}
	srv := newTestServer(t, sauna)

	res, err := http.Post(srv.URL+"/device/power", "application/json", strings.NewReader(`{"on":true}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.NotNil(t, sauna.active)
	assert.True(t, *sauna.active)

	res, err = http.Post(srv.URL+"/device/light", "application/json", strings.NewReader(`{"on":false}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.NotNil(t, sauna.lights)
	assert.False(t, *sauna.lights)
}

func TestLevelEndpointsAccept(t *testing.T) {
	sauna := &mockSauna{}
	srv := newTestServer(t, sauna)

	res, err := http.Post(srv.URL+"/device/temperature", "application/json", strings.NewReader(`{"value":85}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.NotNil(t, sauna.targetTemp)
	assert.Equal(t, 85.0, *sauna.targetTemp)

	res, err = http.Post(srv.URL+"/device/humidity", "application/json", strings.NewReader(`{"value":40}`))
	require.NoError(t, err)
	res.Body.Close()
	require.NotNil(t, sauna.targetRH)
	assert.Equal(t, 40.0, *sauna.targetRH)
}

func TestMalformedPayloadRejected(t *testing.T) {
	sauna := &mockSauna{}
	srv := newTestServer(t, sauna)

	res, err := http.Post(srv.URL+"/device/power", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Nil(t, sauna.active)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &mockSauna{})
	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t, &mockSauna{})
	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
