package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pierrec/lz4/v4"

	"vex/pkg/coordinator"
)

const lz4ContentType = "application/x-lz4-json"

func (s *Server) registerReplicaRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/replica/batch", s.handlePushBatch)
	mux.HandleFunc("GET /v1/replica/batch", s.handlePullBatch)
	mux.HandleFunc("PUT /v1/replica/vectors/{id}", s.handleReplicaWrite)
	mux.HandleFunc("DELETE /v1/replica/vectors/{id}", s.handleReplicaDelete)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/instances", s.handleRegister)
	mux.HandleFunc("GET /v1/instances", s.handleListInstances)
	mux.HandleFunc("DELETE /v1/instances/{id}", s.handleUnregister)
	mux.HandleFunc("GET /v1/instances/{id}/status", s.handleInstanceStatus)
	mux.HandleFunc("POST /v1/instances/{id}/sync", s.handleSyncInstance)
	mux.HandleFunc("POST /v1/sync", s.handleSyncAll)
	mux.HandleFunc("POST /v1/vectors", s.handleBroadcastInsert)
	mux.HandleFunc("DELETE /v1/vectors/{id}", s.handleBroadcastDelete)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("PUT /v1/config", s.handleUpdateConfig)
}

// --- replica surface ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePushBatch(w http.ResponseWriter, r *http.Request) {
	var req coordinator.PushRequest
	if err := readLZ4JSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ack, err := s.coord.ApplyRemoteBatch(r.Context(), req)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handlePullBatch(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := s.coord.ReadLocalBatch(r.Context(), cursor, limit)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	body, err := compressJSON(page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", lz4ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleReplicaWrite(w http.ResponseWriter, r *http.Request) {
	var item coordinator.VectorData
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item.ID = r.PathValue("id")
	if err := s.coord.ApplyRemoteWrite(r.Context(), item); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReplicaDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ApplyRemoteDelete(r.Context(), r.PathValue("id")); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- admin surface ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var inst coordinator.DatabaseInstance
	if err := json.NewDecoder(r.Body).Decode(&inst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coord.RegisterInstance(inst); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.GetInstances())
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.UnregisterInstance(r.PathValue("id")); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInstanceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.GetInstanceStatus(r.PathValue("id"))
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]coordinator.InstanceStatus{"status": status})
}

// syncRequest is the admin API's view of SyncOptions plus the direction.
type syncRequest struct {
	Direction       string                         `json:"direction,omitempty"`
	Resolution      coordinator.ConflictResolution `json:"resolution,omitempty"`
	BatchSize       int                            `json:"batch_size,omitempty"`
	TimeoutMs       int64                          `json:"timeout_ms,omitempty"`
	ForceFullSync   bool                           `json:"force_full_sync,omitempty"`
	NamespaceFilter string                         `json:"namespace_filter,omitempty"`
}

func (sr syncRequest) options() coordinator.SyncOptions {
	return coordinator.SyncOptions{
		Resolution:      sr.Resolution,
		BatchSize:       sr.BatchSize,
		Timeout:         time.Duration(sr.TimeoutMs) * time.Millisecond,
		ForceFullSync:   sr.ForceFullSync,
		NamespaceFilter: sr.NamespaceFilter,
	}
}

func (s *Server) handleSyncInstance(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	id := r.PathValue("id")

	var (
		res coordinator.SyncResult
		err error
	)
	if req.Direction == "from" {
		res, err = s.coord.SyncFromInstance(r.Context(), id, req.options())
	} else {
		res, err = s.coord.SyncToInstance(r.Context(), id, req.options())
	}
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	results, err := s.coord.SyncAll(r.Context(), req.options())
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type insertRequest struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleBroadcastInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" || len(req.Vector) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("id and vector are required"))
		return
	}
	if err := s.coord.BroadcastInsert(r.Context(), req.ID, req.Vector, req.Metadata); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (s *Server) handleBroadcastDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.BroadcastDelete(r.Context(), r.PathValue("id")); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.GetStats(r.Context())
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.GetConfig())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg coordinator.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coord.UpdateConfig(cfg); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.GetConfig())
}

// --- helpers ---

func readLZ4JSON(r *http.Request, v any) error {
	if r.Header.Get("Content-Type") == lz4ContentType {
		return json.NewDecoder(lz4.NewReader(r.Body)).Decode(v)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func compressJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeCoordError maps the coordinator's sentinel errors to HTTP statuses.
func writeCoordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrInstanceNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coordinator.ErrDuplicateInstance),
		errors.Is(err, coordinator.ErrInstanceBusy),
		errors.Is(err, coordinator.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, coordinator.ErrInstanceOffline):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, coordinator.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, coordinator.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
