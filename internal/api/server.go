package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sewerwatch/internal/alerts"
	"sewerwatch/internal/analytics"
	"sewerwatch/internal/config"
	"sewerwatch/internal/fanout"
	"sewerwatch/internal/model"
	"sewerwatch/internal/registry"
	"sewerwatch/internal/storage"
)

const maxCriticalLimit = 1000

type Server struct {
	cfg      *config.Manager
	store    storage.Store
	registry *registry.Registry
	recent   *alerts.Store
	hub      *fanout.Hub
	logger   *slog.Logger
	version  string
}

func Start(ctx context.Context, cfg *config.Manager, store storage.Store, reg *registry.Registry, recent *alerts.Store, hub *fanout.Hub, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		store:    store,
		registry: reg,
		recent:   recent,
		hub:      hub,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/manholes", server.handleManholes)
	mux.HandleFunc("/manholes/", server.handleManholeByID)
	mux.HandleFunc("/manholes/zone/", server.handleManholesByZone)
	mux.HandleFunc("/manholes/near", server.handleManholesNear)
	mux.HandleFunc("/readings/", server.handleReadingsByManhole)
	mux.HandleFunc("/alerts/critical", server.handleCriticalAlerts)
	mux.HandleFunc("/alerts/recent", server.handleRecentAlerts)
	mux.HandleFunc("/analytics", server.handleAnalytics)
	mux.HandleFunc("/config/thresholds", server.handleThresholds)
	mux.HandleFunc("/ws", server.handleWS)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := s.registry.SystemStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute system status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"data":    status,
	})
}

func (s *Server) handleManholes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.registry.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list manholes")
			return
		}
		if len(list) == 0 {
			writeError(w, http.StatusNotFound, "no manholes found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"count":   len(list),
			"data":    list,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var req struct {
			Code          string    `json:"code"`
			Location      []float64 `json:"location"`
			Elevation     *float64  `json:"elevation"`
			Zone          string    `json:"zone"`
			Status        string    `json:"status"`
			CoverStatus   string    `json:"cover_status"`
			OverflowLevel string    `json:"overflow_level"`
			Connections   []string  `json:"connections"`
			Notes         string    `json:"notes"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Code == "" || len(req.Location) != 2 || req.Elevation == nil {
			writeError(w, http.StatusBadRequest, "code, location coordinates, and elevation are required")
			return
		}
		m, err := s.registry.Create(r.Context(), registry.CreateInput{
			Code:          req.Code,
			Longitude:     req.Location[0],
			Latitude:      req.Location[1],
			Elevation:     *req.Elevation,
			Zone:          req.Zone,
			Status:        req.Status,
			CoverStatus:   req.CoverStatus,
			OverflowLevel: req.OverflowLevel,
			Connections:   req.Connections,
			Notes:         req.Notes,
		})
		if err != nil {
			if errors.Is(err, registry.ErrCodeExists) {
				writeError(w, http.StatusBadRequest, "manhole with this code already exists")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to create manhole")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"message": "manhole created successfully",
			"data":    m,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleManholeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/manholes/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	m, found, err := s.registry.ResolveByExternalID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch manhole")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "manhole not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": m})
}

func (s *Server) handleManholesByZone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	zone := strings.TrimPrefix(r.URL.Path, "/manholes/zone/")
	if zone == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	list, err := s.registry.ByZone(r.Context(), zone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list manholes")
		return
	}
	if len(list) == 0 {
		writeError(w, http.StatusNotFound, "no manholes found in this zone")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(list),
		"data":    list,
	})
}

func (s *Server) handleManholesNear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	radius, errRadius := strconv.ParseFloat(q.Get("radius"), 64)
	if errLng != nil || errLat != nil || errRadius != nil {
		writeError(w, http.StatusBadRequest, "longitude, latitude, and radius are required")
		return
	}
	list, err := s.registry.Near(r.Context(), lng, lat, radius)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to run proximity query")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(list),
		"data":    list,
	})
}

func (s *Server) handleReadingsByManhole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	manholeID := strings.TrimPrefix(r.URL.Path, "/readings/")
	if manholeID == "" || strings.Contains(manholeID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := storage.ReadingFilter{Limit: limit}
	timeRange := q.Get("timeRange")
	if timeRange == "" {
		timeRange = "24"
	}
	if hours, err := strconv.Atoi(timeRange); err == nil && hours > 0 {
		filter.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}
	if v := q.Get("status"); v != "" {
		filter.Status = model.ReadingStatus(v)
	}
	readings, err := s.store.ReadingsByManhole(r.Context(), manholeID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(readings),
		"data":    readings,
	})
}

func (s *Server) handleCriticalAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	hours := 24
	if v := q.Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive number")
			return
		}
		hours = n
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxCriticalLimit {
			writeError(w, http.StatusBadRequest, "limit must be a positive number and not exceed 1000")
			return
		}
		limit = n
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.store.CriticalReadings(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve critical alerts")
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "no critical alerts found in the specified time frame")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(readings),
		"data":    readings,
	})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.ReadingEvent
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.recent.Since(ts)
	} else {
		list = s.recent.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(list),
		"data":    list,
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	query, err := analytics.ParseQuery(q.Get("metric"), q.Get("period"), q.Get("groupBy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now().UTC().Add(-query.Window)
	samples, err := s.store.MetricSamples(r.Context(), query.Metric, start, q.Get("manholeId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate analytics")
		return
	}
	buckets, err := analytics.Aggregate(samples, query.Interval)
	if err != nil {
		if errors.Is(err, analytics.ErrNoData) {
			writeError(w, http.StatusNotFound, "no data found for the specified parameters")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to generate analytics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"period": map[string]any{
			"value": query.PeriodValue,
			"unit":  query.PeriodUnit,
			"start": start,
			"end":   time.Now().UTC(),
		},
		"metric":  query.Metric,
		"groupBy": string(query.Interval),
		"count":   len(buckets),
		"data":    buckets,
	})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    s.cfg.Get().Thresholds,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var thresholds model.ThresholdConfig
		if err := json.Unmarshal(body, &thresholds); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if thresholds.MaxDistance <= 0 || thresholds.MaxGas <= 0 {
			writeError(w, http.StatusBadRequest, "maxDistance and maxGas must be positive")
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Thresholds = thresholds
		if err := s.cfg.Update(&next); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update thresholds")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": thresholds})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	fanout.ServeWS(s.hub, s.logger, w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
