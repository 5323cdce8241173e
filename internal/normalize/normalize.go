package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sewerwatch/internal/model"
)

// DecodeMessage parses one inbound transport payload. The envelope must
// carry a manhole identifier and at least one sensor block; everything else
// is optional.
func DecodeMessage(data []byte) (model.InboundMessage, error) {
	var msg model.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.InboundMessage{}, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(msg.ManholeID) == "" {
		return model.InboundMessage{}, errors.New("manholeId is required")
	}
	if msg.Sensors == nil {
		return model.InboundMessage{}, errors.New("sensor data is required")
	}
	msg.ManholeID = strings.TrimSpace(msg.ManholeID)
	return msg, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp formats sensor nodes are known to
// send: RFC3339 variants, date-time strings and unix seconds/milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
