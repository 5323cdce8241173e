package ingest

import (
	"context"
	"log/slog"

	"sewerwatch/internal/model"
)

// SendNonBlocking hands a decoded message to the pipeline without blocking
// the transport: when the channel is full the message is dropped and logged.
func SendNonBlocking(ctx context.Context, out chan<- model.InboundMessage, msg model.InboundMessage, logger *slog.Logger) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("ingest channel full, dropping message", "manhole_id", msg.ManholeID)
		}
		return false
	}
}
