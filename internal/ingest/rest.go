package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sewerwatch/internal/config"
	"sewerwatch/internal/model"
	"sewerwatch/internal/normalize"
)

type restServer struct {
	out    chan<- model.InboundMessage
	logger *slog.Logger
}

// StartREST exposes an HTTP ingest endpoint accepting one reading envelope
// or an array of them, for gateways that speak HTTP instead of a broker.
func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.InboundMessage, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &restServer{out: out, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/readings", server.handleReadings)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *restServer) handleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted := 0
	failed := 0
	if trim[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trim, &raws); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, raw := range raws {
			if s.accept(r.Context(), raw) {
				accepted++
			} else {
				failed++
			}
		}
	} else {
		if s.accept(r.Context(), trim) {
			accepted++
		} else {
			failed++
		}
	}

	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (s *restServer) accept(ctx context.Context, raw []byte) bool {
	msg, err := normalize.DecodeMessage(raw)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("malformed rest payload rejected", "err", err)
		}
		return false
	}
	msg.ReceivedVia = "rest"
	return SendNonBlocking(ctx, s.out, msg, s.logger)
}
