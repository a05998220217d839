package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/onesmart-bridge/internal/bridge"
	"github.com/nerrad567/onesmart-bridge/internal/history"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxQueryParamLen    = 100
)

// handleCacheSnapshot returns every cache entry keyed by cache key.
func (s *Server) handleCacheSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Cache().Snapshot())
}

// handleCacheEntry returns one cache entry, or the value at ?path= inside it.
func (s *Server) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := onesmart.CacheKey(strings.Trim(chi.URLParam(r, "*"), "/"))
	path := r.URL.Query().Get("path")

	v, ok := s.gw.Cache().Lookup(key, path)
	if !ok {
		writeNotFound(w, fmt.Sprintf("cache entry %q not found", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"path":  path,
		"value": v,
	})
}

// handleListEntities returns descriptors with their current state,
// optionally filtered by ?platform=.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	platform := onesmart.Platform(r.URL.Query().Get("platform"))
	if platform != "" && !knownPlatform(platform) {
		writeBadRequest(w, fmt.Sprintf("unknown platform %q", platform))
		return
	}

	disc := s.gw.Discovery()
	var descs []onesmart.Descriptor
	if platform != "" {
		descs = disc.Entities(platform)
	} else {
		descs = disc.Descriptors()
	}

	cache := s.gw.Cache()
	out := make([]bridge.DescriptorMessage, 0, len(descs))
	for _, d := range descs {
		out = append(out, bridge.Describe(d, cache))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
		"failed":   disc.Failed(),
	})
}

func knownPlatform(p onesmart.Platform) bool {
	for _, known := range onesmart.Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// handleGetEntity returns one descriptor with its current state.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	desc, ok := s.gw.Discovery().Descriptor(id)
	if !ok {
		writeNotFound(w, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, bridge.Describe(desc, s.gw.Cache()))
}

// commandRequest is the body of POST /entities/{id}/commands.
type commandRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Value   any    `json:"value"`
}

// handleEntityCommand runs a descriptor command through the dispatcher.
func (s *Server) handleEntityCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ack := s.dispatcher.Dispatch(r.Context(), bridge.CommandMessage{
		ID:           req.ID,
		DescriptorID: chi.URLParam(r, "id"),
		Command:      req.Command,
		Value:        req.Value,
		Source:       history.SourceAPI,
	})
	writeJSON(w, ackHTTPStatus(ack), ack)
}

// ackHTTPStatus maps an acknowledgement to a response status.
func ackHTTPStatus(ack bridge.AckMessage) int {
	switch ack.Status {
	case bridge.AckAccepted:
		return http.StatusOK
	case bridge.AckQueued:
		return http.StatusAccepted
	}
	if ack.Error == nil {
		return http.StatusInternalServerError
	}
	switch ack.Error.Code {
	case bridge.ErrCodeNotConfigured:
		return http.StatusNotFound
	case bridge.ErrCodeInvalidCommand, bridge.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case bridge.ErrCodeQueueFull, bridge.ErrCodeBridgeError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// refreshRequest is the body of POST /refresh.
type refreshRequest struct {
	Key string `json:"key"`
}

// handleRefresh queues an update flag.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	flag, err := s.dispatcher.Refresh(req.Key)
	if err != nil {
		if errors.Is(err, onesmart.ErrInvalidFlag) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to queue refresh")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": flag.String()})
}

// handleDeviceHistory returns recorded apparatus readings for a device.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}
	deviceID := chi.URLParam(r, "id")
	if deviceID == "" || len(deviceID) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.history.GetReadings(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("failed to read history", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if readings == nil {
		readings = []history.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"readings":  readings,
		"count":     len(readings),
	})
}

// handleListCommands returns recent commands, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	commands, err := s.history.ListCommands(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	if commands == nil {
		commands = []history.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

// parseHistoryLimit validates the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// sortedKeys returns the cache keys of a snapshot in order.
func sortedKeys(m map[onesmart.CacheKey]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}
