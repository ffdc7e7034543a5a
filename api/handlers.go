package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

type errorBody struct {
	Erro string `json:"erro"`
}

type recentResponse struct {
	Total  int                    `json:"total"`
	Events []model.TelemetryEvent `json:"events"`
}

type vehicleStatsResponse struct {
	VehicleID  string                  `json:"vehicle_id"`
	Statistics model.VehicleStatistics `json:"statistics"`
}

type vehiclesResponse struct {
	Total    int                       `json:"total"`
	Vehicles []model.VehicleStatistics `json:"vehicles"`
}

type alertsResponse struct {
	TotalAlerts int `json:"total_alerts"`
	Alerts      any `json:"alerts"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, errorBody{Erro: reason})
}

// writeStoreError maps a query failure to a status code.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}
	evs, err := s.svc.RecentEvents(r.Context(), limit, strings.TrimSpace(r.URL.Query().Get("vehicle_id")))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if evs == nil {
		evs = []model.TelemetryEvent{}
	}
	writeJSON(w, http.StatusOK, recentResponse{Total: len(evs), Events: evs})
}

func (s *Server) handleVehicleStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.svc.VehicleStatistics(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown vehicle: "+id)
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicleStatsResponse{VehicleID: id, Statistics: st})
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.Vehicles(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if all == nil {
		all = []model.VehicleStatistics{}
	}
	writeJSON(w, http.StatusOK, vehiclesResponse{Total: len(all), Vehicles: all})
}

func (s *Server) handleFleetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.FleetSummary(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.svc.Alerts(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alertsResponse{TotalAlerts: len(alerts), Alerts: alerts})
}
