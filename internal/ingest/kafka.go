package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"sewerwatch/internal/config"
	"sewerwatch/internal/model"
	"sewerwatch/internal/normalize"
)

// StartKafka consumes the same JSON envelope from a Kafka topic, for
// deployments where sensor gateways publish to a broker cluster instead of
// MQTT.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.InboundMessage, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			msg, err := normalize.DecodeMessage(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("malformed kafka payload discarded", "err", err)
				}
				continue
			}
			msg.ReceivedVia = "kafka"
			SendNonBlocking(ctx, out, msg, logger)
		}
	}()
}
