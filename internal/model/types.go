package model

import "time"

type ReadingStatus string

const (
	StatusNormal   ReadingStatus = "normal"
	StatusCritical ReadingStatus = "critical"

	// ManholeNeedsAttention is the asset state derived from a critical reading.
	ManholeNeedsAttention = "needs_attention"
)

type AlertKind string

const (
	AlertSewageHigh AlertKind = "sewage_high"
	AlertGasLeak    AlertKind = "gas_leak"
	AlertBlockage   AlertKind = "blockage"
	AlertLowBattery AlertKind = "low_battery"
)

// SensorSnapshot is one batch of measurements from a manhole sensor node.
// Not every sensor reports every cycle, so all fields are optional.
type SensorSnapshot struct {
	SewageLevel  *float64 `json:"sewageLevel,omitempty"`
	MethaneLevel *float64 `json:"methaneLevel,omitempty"`
	FlowRate     *float64 `json:"flowRate,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
}

// ThresholdConfig holds the trigger boundaries in effect for a reading.
// MaxDistance is the sewage level limit in cm, MaxGas the methane limit in
// ppm, MinFlow the minimum flow rate in m/s.
type ThresholdConfig struct {
	MaxDistance float64 `json:"maxDistance" yaml:"max_distance"`
	MaxGas      float64 `json:"maxGas" yaml:"max_gas"`
	MinFlow     float64 `json:"minFlow" yaml:"min_flow"`
}

// Reading is one persisted sensor observation. Readings are append-only:
// once saved they are never updated or deleted. ManholeID is the asset's
// external string identifier, not its database key.
type Reading struct {
	ID              string          `json:"id"`
	ManholeID       string          `json:"manholeId"`
	Sensors         SensorSnapshot  `json:"sensors"`
	Thresholds      ThresholdConfig `json:"thresholds"`
	LastCalibration time.Time       `json:"lastCalibration"`
	AlertTypes      []AlertKind     `json:"alertTypes"`
	Status          ReadingStatus   `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Manhole is a monitored drainage access point. ID is the internal
// sequential identifier ("1", "2", ...) and Code the stable human-readable
// code ("MH-001"); both are unique.
type Manhole struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Longitude      float64    `json:"longitude"`
	Latitude       float64    `json:"latitude"`
	Elevation      float64    `json:"elevation"`
	Zone           string     `json:"zone"`
	Status         string     `json:"status"`
	CoverStatus    string     `json:"cover_status"`
	OverflowLevel  string     `json:"overflow_level"`
	Connections    []string   `json:"connections"`
	Notes          string     `json:"notes"`
	LastInspection *time.Time `json:"lastInspection,omitempty"`
}

// InboundMessage is the wire envelope published by sensor nodes. Thresholds,
// LastCalibration, Timestamp and AlertTypes are optional; AlertTypes is only
// honored when the pipeline is explicitly configured to trust it.
type InboundMessage struct {
	ManholeID       string           `json:"manholeId"`
	Sensors         *SensorSnapshot  `json:"sensors"`
	Thresholds      *ThresholdConfig `json:"thresholds,omitempty"`
	LastCalibration string           `json:"lastCalibration,omitempty"`
	Timestamp       string           `json:"timestamp,omitempty"`
	AlertTypes      []AlertKind      `json:"alertTypes,omitempty"`

	// ReceivedVia names the transport the message arrived on; not part of
	// the wire envelope.
	ReceivedVia string `json:"-"`
}

// ReadingEvent is the payload broadcast to live subscribers for each
// persisted reading.
type ReadingEvent struct {
	ManholeID  string         `json:"manholeId"`
	Sensors    SensorSnapshot `json:"sensors"`
	Status     ReadingStatus  `json:"status"`
	AlertTypes []AlertKind    `json:"alertTypes"`
	Timestamp  time.Time      `json:"timestamp"`
}

// MetricSample is one non-null value of a single metric, used by the
// analytics aggregator.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SystemStatus is the fleet-wide health rollup.
type SystemStatus struct {
	TotalManholes      int `json:"totalManholes"`
	MonitoredManholes  int `json:"monitoredManholes"`
	CriticalIssues     int `json:"criticalIssues"`
	MaintenanceOngoing int `json:"maintenanceOngoing"`
	SystemHealth       int `json:"systemHealth"`
}
