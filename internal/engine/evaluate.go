package engine

import "sewerwatch/internal/model"

// BatteryFloor is the fixed low-battery cutoff in percent. Unlike the other
// rules it is not configurable per reading.
const BatteryFloor = 70.0

// Evaluate classifies one sensor snapshot against the thresholds in effect.
// Each rule is evaluated independently; a missing measurement never triggers
// its rule. The status is critical iff at least one alert triggered.
// Pure and deterministic, so it is reusable for live ingestion and replay.
func Evaluate(sensors model.SensorSnapshot, thresholds model.ThresholdConfig) ([]model.AlertKind, model.ReadingStatus) {
	var alerts []model.AlertKind
	if sensors.SewageLevel != nil && *sensors.SewageLevel > thresholds.MaxDistance {
		alerts = append(alerts, model.AlertSewageHigh)
	}
	if sensors.MethaneLevel != nil && *sensors.MethaneLevel > thresholds.MaxGas {
		alerts = append(alerts, model.AlertGasLeak)
	}
	if sensors.FlowRate != nil && *sensors.FlowRate < thresholds.MinFlow {
		alerts = append(alerts, model.AlertBlockage)
	}
	if sensors.BatteryLevel != nil && *sensors.BatteryLevel < BatteryFloor {
		alerts = append(alerts, model.AlertLowBattery)
	}
	if len(alerts) == 0 {
		return nil, model.StatusNormal
	}
	return alerts, model.StatusCritical
}
