package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sproutling/waterd/db"
	"github.com/sproutling/waterd/internal/apperr"
	"github.com/sproutling/waterd/internal/model"
	"github.com/sproutling/waterd/internal/stats"
	"github.com/sproutling/waterd/internal/watering"
)

type Server struct {
	db         *sql.DB
	agg        *stats.Aggregator
	controller *watering.Controller
	loc        *time.Location
	httpServer *http.Server
}

type SensorDataRequest struct {
	Humidity   *int  `json:"humidity"`
	RelayState *bool `json:"relay_state"`
}

type ToggleRequest struct {
	Action string `json:"action"`
}

type RelayStateRequest struct {
	State    *bool `json:"state"`
	Humidity *int  `json:"humidity"`
}

type StatusResponse struct {
	RelayState       bool       `json:"relay_state"`
	Humidity         *int       `json:"humidity"`
	TodayToggleCount int        `json:"today_toggle_count"`
	Watering         bool       `json:"watering"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
}

type RelayResponse struct {
	RelayState bool `json:"relay_state"`
}

type TodayStatsResponse struct {
	AvgHumidity     float64 `json:"avg_humidity"`
	ActivationCount int     `json:"activation_count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func NewServer(database *sql.DB, agg *stats.Aggregator, controller *watering.Controller, loc *time.Location) *Server {
	return &Server{
		db:         database,
		agg:        agg,
		controller: controller,
		loc:        loc,
	}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	log.Info().Str("address", addr).Msg("Starting REST API server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the route table wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/sensor-data", s.handleSensorData)
	mux.HandleFunc("/toggle-relay", s.handleToggleRelay)
	mux.HandleFunc("/relay-state", s.handleRelayState)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/today-stats", s.handleTodayStats)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/analytics", s.handleAnalytics)
	mux.HandleFunc("/auto-watering", s.handleAutoWatering)
	mux.HandleFunc("/logs", s.handleLogs)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SensorDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Humidity == nil {
		s.writeFieldError(w, http.StatusBadRequest, "humidity is required", "humidity")
		return
	}
	relayState := false
	if req.RelayState != nil {
		relayState = *req.RelayState
	}

	started, err := s.controller.HandleReading(*req.Humidity, relayState)
	if err != nil {
		s.writeAppError(w, err, "Failed to record sensor reading")
		return
	}
	if started {
		log.Debug().Int("humidity", *req.Humidity).Msg("Reading triggered auto watering")
	}

	status, err := s.buildStatus()
	if err != nil {
		s.writeAppError(w, err, "Failed to build status")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleToggleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ToggleRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
	}

	state, err := s.controller.ManualToggle(req.Action)
	if err != nil {
		s.writeAppError(w, err, "Failed to toggle relay")
		return
	}
	s.writeJSON(w, http.StatusOK, RelayResponse{RelayState: state})
}

func (s *Server) handleRelayState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RelayStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.State == nil {
		s.writeFieldError(w, http.StatusBadRequest, "state is required", "state")
		return
	}

	state, err := s.controller.SyncState(*req.State, req.Humidity)
	if err != nil {
		s.writeAppError(w, err, "Failed to sync relay state")
		return
	}
	s.writeJSON(w, http.StatusOK, RelayResponse{RelayState: state})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := s.buildStatus()
	if err != nil {
		s.writeAppError(w, err, "Failed to build status")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	avg, err := s.agg.DailyAverageHumidity(time.Now().In(s.loc))
	if err != nil {
		s.writeAppError(w, err, "Failed to compute daily average")
		return
	}
	count, err := s.agg.TodayToggleCount()
	if err != nil {
		s.writeAppError(w, err, "Failed to compute toggle count")
		return
	}
	s.writeJSON(w, http.StatusOK, TodayStatsResponse{AvgHumidity: avg, ActivationCount: count})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := queryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		s.writeAppError(w, err, "Invalid limit")
		return
	}

	events, err := db.LatestEvents(s.db, limit)
	if err != nil {
		s.writeAppError(w, err, "Failed to query history")
		return
	}
	if events == nil {
		events = []model.SensorEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days, err := queryInt(r, "days", 7, 1, 30)
	if err != nil {
		s.writeAppError(w, err, "Invalid days")
		return
	}

	summaries, err := s.agg.Analytics(days)
	if err != nil {
		s.writeAppError(w, err, "Failed to compute analytics")
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleAutoWatering(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.controller.Settings())
	case http.MethodPost:
		var patch watering.SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		updated, err := s.controller.UpdateSettings(patch)
		if err != nil {
			s.writeAppError(w, err, "Failed to update settings")
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := queryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		s.writeAppError(w, err, "Invalid limit")
		return
	}
	category := model.LogCategory(r.URL.Query().Get("category"))

	entries, err := db.LatestLogEntries(s.db, limit, category)
	if err != nil {
		s.writeAppError(w, err, "Failed to query system log")
		return
	}
	if entries == nil {
		entries = []model.SystemLogEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) buildStatus() (StatusResponse, error) {
	latest, err := s.agg.LatestEvent()
	if err != nil {
		return StatusResponse{}, err
	}
	count, err := s.agg.TodayToggleCount()
	if err != nil {
		return StatusResponse{}, err
	}

	status := StatusResponse{
		TodayToggleCount: count,
		Watering:         s.controller.EpisodeActive(),
	}
	if latest != nil {
		status.RelayState = latest.RelayState
		humidity := latest.Humidity
		status.Humidity = &humidity
		ts := latest.Timestamp
		status.LastUpdated = &ts
	}
	return status, nil
}

func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validationf(name, "must be an integer")
	}
	if v < min || v > max {
		return 0, apperr.Validationf(name, "must be within [%d,%d], got %d", min, max, v)
	}
	return v, nil
}

func (s *Server) writeAppError(w http.ResponseWriter, err error, logMsg string) {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		s.writeFieldError(w, http.StatusBadRequest, ve.Message, ve.Field)
		return
	}
	var ce *apperr.ConflictError
	if errors.As(err, &ce) {
		s.writeError(w, http.StatusConflict, ce.Message)
		return
	}
	log.Error().Err(err).Msg(logMsg)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func (s *Server) writeFieldError(w http.ResponseWriter, statusCode int, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Field: field})
}
