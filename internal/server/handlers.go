package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/logging"
)

// commandTimeout bounds a capability write including its controller exchange
const commandTimeout = 15 * time.Second

// maxBodyBytes caps capability write bodies
const maxBodyBytes = 4096

// SetRequest is the body of a capability write
type SetRequest struct {
	Value any `json:"value"`
}

// CapabilityResponse is returned when reading a single capability
type CapabilityResponse struct {
	ID         string `json:"id"`
	Capability string `json:"capability"`
	Value      any    `json:"value"`
}

// SnapshotResponse is the last cached pair of snapshots for a controller
type SnapshotResponse struct {
	Address    string               `json:"address"`
	SystemInfo dtvclient.SystemInfo `json:"system_info"`
	Values     dtvclient.Values     `json:"values"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string   `json:"error"`
	Type  string   `json:"type,omitempty"`
	Hints []string `json:"hints,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListControllers(w http.ResponseWriter, _ *http.Request) {
	known := s.controllers.KnownControllers()
	if known == nil {
		known = []hub.KnownController{}
	}
	writeJSON(w, http.StatusOK, known)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	info, values, ok := s.controllers.Snapshot(address)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no snapshot for " + address})
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Address:    address,
		SystemInfo: info,
		Values:     values,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	list := s.devices.List()
	views := make([]devices.View, 0, len(list))
	for _, d := range list {
		views = append(views, devices.Describe(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.devices.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, devices.ErrDeviceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, devices.Describe(d))
}

func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capability := chi.URLParam(r, "capability")

	d, ok := s.devices.Get(id)
	if !ok {
		writeError(w, devices.ErrDeviceNotFound)
		return
	}
	value, ok := d.State()[capability]
	if !ok {
		writeError(w, devices.ErrUnknownCapability)
		return
	}
	writeJSON(w, http.StatusOK, CapabilityResponse{ID: id, Capability: capability, Value: value})
}

func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capability := chi.URLParam(r, "capability")

	var req SetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := s.devices.Set(ctx, id, capability, req.Value); err != nil {
		logging.Warn("Capability write failed",
			zap.String("device", id),
			zap.String("capability", capability),
			zap.Any("value", req.Value),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	d, ok := s.devices.Get(id)
	if !ok {
		writeError(w, devices.ErrDeviceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, devices.Describe(d))
}

// statusFor maps device and controller errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, devices.ErrUnknownCapability):
		return http.StatusBadRequest
	case dtvclient.IsValidationError(err):
		return http.StatusBadRequest
	case dtvclient.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case dtvclient.IsCommandRejected(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var devErr *dtvclient.DeviceError
	if errors.As(err, &devErr) {
		resp.Type = devErr.Type.String()
		resp.Hints = dtvclient.TroubleshootingHint(err)
	}
	writeJSON(w, statusFor(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to encode response", zap.Error(err))
	}
}
