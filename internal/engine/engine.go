package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sewerwatch/internal/alerts"
	"sewerwatch/internal/config"
	"sewerwatch/internal/model"
	"sewerwatch/internal/normalize"
	"sewerwatch/internal/registry"
	"sewerwatch/internal/storage"
)

// Broadcaster is the fan-out surface the pipeline publishes enriched
// readings to.
type Broadcaster interface {
	BroadcastReading(ev model.ReadingEvent)
}

// Engine is the ingestion pipeline: it turns decoded inbound messages into
// persisted, classified readings and hands them to the fan-out layer.
// Persistence and broadcast are independently fallible; the reading is
// written first, the broadcast follows regardless of subscriber state.
type Engine struct {
	logger   *slog.Logger
	cfg      *config.Manager
	store    storage.Store
	registry *registry.Registry
	hub      Broadcaster
	recent   *alerts.Store
}

func NewEngine(cfg *config.Manager, logger *slog.Logger, store storage.Store, reg *registry.Registry, hub Broadcaster, recent *alerts.Store) *Engine {
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		registry: reg,
		hub:      hub,
		recent:   recent,
	}
}

// Start consumes inbound messages until the context is cancelled. A single
// consumer keeps per-asset processing in arrival order.
func (e *Engine) Start(ctx context.Context, in <-chan model.InboundMessage) {
	go func() {
		for {
			select {
			case msg := <-in:
				if _, err := e.ProcessMessage(ctx, msg); err != nil {
					if e.logger != nil {
						e.logger.Warn("reading dropped", "manhole_id", msg.ManholeID, "err", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessMessage runs one message through the pipeline: resolve the asset,
// apply effective thresholds, classify, persist, conditionally mark the
// asset, broadcast. A message for an unknown asset is still persisted as an
// orphan reading; only the asset mutation is skipped.
func (e *Engine) ProcessMessage(ctx context.Context, msg model.InboundMessage) (model.Reading, error) {
	if msg.ManholeID == "" || msg.Sensors == nil {
		return model.Reading{}, fmt.Errorf("incomplete message: manholeId and sensors are required")
	}
	cfg := e.cfg.Get()

	_, found, err := e.registry.ResolveByExternalID(ctx, msg.ManholeID)
	if err != nil {
		// Lookup failure is treated like an unresolvable asset: the reading
		// is still worth keeping.
		if e.logger != nil {
			e.logger.Warn("asset lookup failed", "manhole_id", msg.ManholeID, "err", err)
		}
		found = false
	}

	thresholds := cfg.Thresholds
	if msg.Thresholds != nil {
		thresholds = *msg.Thresholds
	}

	var alertTypes []model.AlertKind
	var status model.ReadingStatus
	if cfg.Ingest.TrustClientAlerts && msg.AlertTypes != nil {
		alertTypes = msg.AlertTypes
		status = model.StatusNormal
		if len(alertTypes) > 0 {
			status = model.StatusCritical
		}
	} else {
		alertTypes, status = Evaluate(*msg.Sensors, thresholds)
	}

	now := time.Now().UTC()
	observed := now
	if msg.Timestamp != "" {
		if ts, err := normalize.ParseTimestamp(msg.Timestamp); err == nil {
			observed = ts
		} else if e.logger != nil {
			e.logger.Warn("bad message timestamp, using arrival time", "manhole_id", msg.ManholeID, "err", err)
		}
	}
	calibration := now
	if msg.LastCalibration != "" {
		if ts, err := normalize.ParseTimestamp(msg.LastCalibration); err == nil {
			calibration = ts
		}
	}

	reading := model.Reading{
		ID:              uuid.NewString(),
		ManholeID:       msg.ManholeID,
		Sensors:         *msg.Sensors,
		Thresholds:      thresholds,
		LastCalibration: calibration,
		AlertTypes:      alertTypes,
		Status:          status,
		Timestamp:       observed,
	}

	if err := e.store.SaveReading(ctx, reading); err != nil {
		return model.Reading{}, fmt.Errorf("persist reading: %w", err)
	}

	if status == model.StatusCritical && found {
		// Best effort: the reading is already persisted and a failed asset
		// update is not rolled back.
		if err := e.registry.ApplyCriticalStatus(ctx, msg.ManholeID); err != nil {
			if e.logger != nil {
				e.logger.Warn("asset status update failed", "manhole_id", msg.ManholeID, "err", err)
			}
		}
	}

	event := model.ReadingEvent{
		ManholeID:  reading.ManholeID,
		Sensors:    reading.Sensors,
		Status:     reading.Status,
		AlertTypes: reading.AlertTypes,
		Timestamp:  reading.Timestamp,
	}
	if status == model.StatusCritical && e.recent != nil {
		e.recent.Add(event)
	}
	if e.hub != nil {
		e.hub.BroadcastReading(event)
	}

	if e.logger != nil {
		e.logger.Info("reading recorded",
			"manhole_id", reading.ManholeID,
			"status", reading.Status,
			"alerts", reading.AlertTypes,
		)
	}
	return reading, nil
}
