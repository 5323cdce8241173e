package engine

import (
	"testing"

	"sewerwatch/internal/model"
)

func f64(v float64) *float64 { return &v }

func defaultThresholds() model.ThresholdConfig {
	return model.ThresholdConfig{MaxDistance: 90, MaxGas: 1000, MinFlow: 5}
}

func TestEvaluateAllNormal(t *testing.T) {
	sensors := model.SensorSnapshot{
		SewageLevel:  f64(85),
		MethaneLevel: f64(300),
		FlowRate:     f64(15.5),
		BatteryLevel: f64(78),
	}
	alerts, status := Evaluate(sensors, defaultThresholds())
	if len(alerts) != 0 {
		t.Fatalf("unexpected alerts: %v", alerts)
	}
	if status != model.StatusNormal {
		t.Fatalf("expected normal, got %s", status)
	}
}

func TestEvaluateSewageHigh(t *testing.T) {
	alerts, status := Evaluate(model.SensorSnapshot{SewageLevel: f64(95)}, defaultThresholds())
	if !hasAlert(alerts, model.AlertSewageHigh) {
		t.Fatalf("expected sewage_high, got %v", alerts)
	}
	if status != model.StatusCritical {
		t.Fatalf("expected critical, got %s", status)
	}
}

func TestEvaluateGasLeak(t *testing.T) {
	alerts, _ := Evaluate(model.SensorSnapshot{MethaneLevel: f64(1200)}, defaultThresholds())
	if !hasAlert(alerts, model.AlertGasLeak) {
		t.Fatalf("expected gas_leak, got %v", alerts)
	}
}

func TestEvaluateBlockage(t *testing.T) {
	alerts, _ := Evaluate(model.SensorSnapshot{FlowRate: f64(2)}, defaultThresholds())
	if !hasAlert(alerts, model.AlertBlockage) {
		t.Fatalf("expected blockage, got %v", alerts)
	}
}

func TestEvaluateLowBattery(t *testing.T) {
	alerts, _ := Evaluate(model.SensorSnapshot{BatteryLevel: f64(42)}, defaultThresholds())
	if !hasAlert(alerts, model.AlertLowBattery) {
		t.Fatalf("expected low_battery, got %v", alerts)
	}
}

func TestEvaluateBoundariesDoNotTrigger(t *testing.T) {
	// Comparisons are strict: at the boundary no rule fires.
	sensors := model.SensorSnapshot{
		SewageLevel:  f64(90),
		MethaneLevel: f64(1000),
		FlowRate:     f64(5),
		BatteryLevel: f64(70),
	}
	alerts, status := Evaluate(sensors, defaultThresholds())
	if len(alerts) != 0 {
		t.Fatalf("boundary values triggered: %v", alerts)
	}
	if status != model.StatusNormal {
		t.Fatalf("expected normal, got %s", status)
	}
}

func TestEvaluateMissingSensorsNeverTrigger(t *testing.T) {
	alerts, status := Evaluate(model.SensorSnapshot{}, defaultThresholds())
	if len(alerts) != 0 || status != model.StatusNormal {
		t.Fatalf("empty snapshot classified critical: %v %s", alerts, status)
	}
}

func TestEvaluateMultipleAlerts(t *testing.T) {
	sensors := model.SensorSnapshot{
		SewageLevel:  f64(120),
		MethaneLevel: f64(1500),
		FlowRate:     f64(1),
		BatteryLevel: f64(10),
	}
	alerts, status := Evaluate(sensors, defaultThresholds())
	if len(alerts) != 4 {
		t.Fatalf("expected 4 alerts, got %v", alerts)
	}
	if status != model.StatusCritical {
		t.Fatalf("expected critical, got %s", status)
	}
}

func TestEvaluateCustomThresholds(t *testing.T) {
	thresholds := model.ThresholdConfig{MaxDistance: 50, MaxGas: 200, MinFlow: 10}
	alerts, _ := Evaluate(model.SensorSnapshot{SewageLevel: f64(60), FlowRate: f64(8)}, thresholds)
	if !hasAlert(alerts, model.AlertSewageHigh) || !hasAlert(alerts, model.AlertBlockage) {
		t.Fatalf("custom thresholds not applied: %v", alerts)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	sensors := model.SensorSnapshot{SewageLevel: f64(95), FlowRate: f64(1)}
	first, _ := Evaluate(sensors, defaultThresholds())
	second, _ := Evaluate(sensors, defaultThresholds())
	if len(first) != len(second) {
		t.Fatalf("non-deterministic result: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("alert order changed: %v vs %v", first, second)
		}
	}
}

func hasAlert(alerts []model.AlertKind, target model.AlertKind) bool {
	for _, a := range alerts {
		if a == target {
			return true
		}
	}
	return false
}
