package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

type saunaService interface {
	Snapshot() model.Snapshot
	SetActive(on bool)
	SetTargetTemperature(value float64)
	SetTargetHumidity(value float64)
	SetLights(on bool)
	SetFan(on bool)
	SetSteamer(on bool)
}

type togglePayload struct {
	On bool `json:"on"`
}

type levelPayload struct {
	Value float64 `json:"value"`
}

type server struct {
	sauna  saunaService
	logger *zap.Logger
}

func New(sauna saunaService) *server {
	return &server{sauna: sauna, logger: zap.L()}
}

// Router exposes the control surface plus health and metrics endpoints.
func (s *server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/device", s.GetDevice)
	r.Post("/device/power", s.toggle("power", s.sauna.SetActive))
	r.Post("/device/light", s.toggle("light", s.sauna.SetLights))
	r.Post("/device/fan", s.toggle("fan", s.sauna.SetFan))
	r.Post("/device/steamer", s.toggle("steamer", s.sauna.SetSteamer))
	r.Post("/device/temperature", s.level("temperature", s.sauna.SetTargetTemperature))
	r.Post("/device/humidity", s.level("humidity", s.sauna.SetTargetHumidity))
	return r
}

func (s *server) GetDevice(w http.ResponseWriter, r *http.Request) {
	snapshot := s.sauna.Snapshot()
	out := struct {
		model.Snapshot
		DoorOpen bool `json:"doorOpen"`
	}{Snapshot: snapshot, DoorOpen: snapshot.DoorOpen()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error("failed to encode snapshot", zap.Error(err))
	}
}

func (s *server) toggle(name string, set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := unmarshalPayload[togglePayload](r)
		if err != nil {
			handleError(w, http.StatusBadRequest, err)
			return
		}
		set(req.On)
		s.logger.Info("command accepted", zap.String("control", name), zap.Bool("on", req.On))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("accepted"))
	}
}

func (s *server) level(name string, set func(float64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := unmarshalPayload[levelPayload](r)
		if err != nil {
			handleError(w, http.StatusBadRequest, err)
			return
		}
		set(req.Value)
		s.logger.Info("command accepted", zap.String("control", name), zap.Float64("value", req.Value))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("accepted"))
	}
}

func handleError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	w.Write([]byte(err.Error()))
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
