package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"sewerwatch/internal/alerts"
	"sewerwatch/internal/config"
	"sewerwatch/internal/model"
	"sewerwatch/internal/registry"
	"sewerwatch/internal/storage"
)

type fakeStore struct {
	readings  []model.Reading
	manholes  map[string]*model.Manhole
	marked    []string
	saveErr   error
	lookupErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{manholes: map[string]*model.Manhole{}}
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *fakeStore) ReadingsByManhole(ctx context.Context, manholeID string, f storage.ReadingFilter) ([]model.Reading, error) {
	return nil, nil
}

func (s *fakeStore) CriticalReadings(ctx context.Context, since time.Time, limit int) ([]model.Reading, error) {
	return nil, nil
}

func (s *fakeStore) MetricSamples(ctx context.Context, metric string, since time.Time, manholeID string) ([]model.MetricSample, error) {
	return nil, nil
}

func (s *fakeStore) CreateManhole(ctx context.Context, m model.Manhole) error {
	s.manholes[m.ID] = &m
	return nil
}

func (s *fakeStore) ManholeByID(ctx context.Context, id string) (*model.Manhole, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.manholes[id], nil
}

func (s *fakeStore) ManholeByCode(ctx context.Context, code string) (*model.Manhole, error) {
	for _, m := range s.manholes {
		if m.Code == code {
			return m, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListManholes(ctx context.Context) ([]model.Manhole, error) {
	var out []model.Manhole
	for _, m := range s.manholes {
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeStore) ManholesByZone(ctx context.Context, zone string) ([]model.Manhole, error) {
	return nil, nil
}

func (s *fakeStore) MaxManholeID(ctx context.Context) (int, error) { return len(s.manholes), nil }

func (s *fakeStore) MarkNeedsAttention(ctx context.Context, id string, ts time.Time) error {
	s.marked = append(s.marked, id)
	return nil
}

type fakeHub struct {
	events []model.ReadingEvent
}

func (h *fakeHub) BroadcastReading(ev model.ReadingEvent) {
	h.events = append(h.events, ev)
}

func newEngineForTest(store *fakeStore, hub *fakeHub, mutate func(*config.Config)) *Engine {
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	manager := config.NewStaticManager(cfg)
	return NewEngine(manager, nil, store, registry.New(store), hub, alerts.NewStore(100))
}

func knownManhole(store *fakeStore, id string) {
	store.manholes[id] = &model.Manhole{ID: id, Code: "MH-" + id, Status: "functional"}
}

func TestProcessNormalReading(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	knownManhole(store, "1")
	eng := newEngineForTest(store, hub, nil)

	msg := model.InboundMessage{
		ManholeID: "1",
		Sensors:   &model.SensorSnapshot{SewageLevel: f64(40), FlowRate: f64(10)},
	}
	reading, err := eng.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reading.Status != model.StatusNormal {
		t.Fatalf("expected normal, got %s", reading.Status)
	}
	if len(store.readings) != 1 {
		t.Fatalf("expected 1 persisted reading, got %d", len(store.readings))
	}
	if len(hub.events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(hub.events))
	}
	if len(store.marked) != 0 {
		t.Fatalf("normal reading mutated asset state")
	}
}

func TestProcessCriticalMarksAsset(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	knownManhole(store, "7")
	eng := newEngineForTest(store, hub, nil)

	msg := model.InboundMessage{
		ManholeID: "7",
		Sensors:   &model.SensorSnapshot{MethaneLevel: f64(1500)},
	}
	reading, err := eng.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reading.Status != model.StatusCritical {
		t.Fatalf("expected critical, got %s", reading.Status)
	}
	if len(store.marked) != 1 || store.marked[0] != "7" {
		t.Fatalf("expected asset 7 marked, got %v", store.marked)
	}
	if len(hub.events) != 1 || hub.events[0].Status != model.StatusCritical {
		t.Fatalf("critical event not broadcast")
	}
}

func TestProcessOrphanReadingPersisted(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	eng := newEngineForTest(store, hub, nil)

	msg := model.InboundMessage{
		ManholeID: "unknown",
		Sensors:   &model.SensorSnapshot{SewageLevel: f64(120)},
	}
	reading, err := eng.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("orphan reading rejected: %v", err)
	}
	if reading.Status != model.StatusCritical {
		t.Fatalf("expected critical, got %s", reading.Status)
	}
	if len(store.readings) != 1 {
		t.Fatalf("orphan reading not persisted")
	}
	if len(store.marked) != 0 {
		t.Fatalf("asset mutation attempted for unknown manhole")
	}
}

func TestProcessLookupFailureStillPersists(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("db down")
	hub := &fakeHub{}
	eng := newEngineForTest(store, hub, nil)

	msg := model.InboundMessage{
		ManholeID: "1",
		Sensors:   &model.SensorSnapshot{SewageLevel: f64(120)},
	}
	if _, err := eng.ProcessMessage(context.Background(), msg); err != nil {
		t.Fatalf("lookup failure dropped reading: %v", err)
	}
	if len(store.readings) != 1 {
		t.Fatalf("reading not persisted on lookup failure")
	}
	if len(store.marked) != 0 {
		t.Fatalf("asset mutated despite failed lookup")
	}
}

func TestProcessPersistFailureNoBroadcast(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	hub := &fakeHub{}
	knownManhole(store, "1")
	eng := newEngineForTest(store, hub, nil)

	msg := model.InboundMessage{
		ManholeID: "1",
		Sensors:   &model.SensorSnapshot{SewageLevel: f64(120)},
	}
	if _, err := eng.ProcessMessage(context.Background(), msg); err == nil {
		t.Fatalf("expected error on persist failure")
	}
	if len(hub.events) != 0 {
		t.Fatalf("broadcast happened despite persist failure")
	}
	if len(store.marked) != 0 {
		t.Fatalf("asset mutated despite persist failure")
	}
}

func TestProcessIncompleteMessageRejected(t *testing.T) {
	store := newFakeStore()
	eng := newEngineForTest(store, &fakeHub{}, nil)

	if _, err := eng.ProcessMessage(context.Background(), model.InboundMessage{ManholeID: "1"}); err == nil {
		t.Fatalf("message without sensors accepted")
	}
	if _, err := eng.ProcessMessage(context.Background(), model.InboundMessage{Sensors: &model.SensorSnapshot{}}); err == nil {
		t.Fatalf("message without manholeId accepted")
	}
	if len(store.readings) != 0 {
		t.Fatalf("invalid message persisted")
	}
}

func TestProcessMessageThresholdOverride(t *testing.T) {
	store := newFakeStore()
	knownManhole(store, "1")
	eng := newEngineForTest(store, &fakeHub{}, nil)

	msg := model.InboundMessage{
		ManholeID:  "1",
		Sensors:    &model.SensorSnapshot{SewageLevel: f64(60)},
		Thresholds: &model.ThresholdConfig{MaxDistance: 50, MaxGas: 1000, MinFlow: 5},
	}
	reading, err := eng.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reading.Status != model.StatusCritical {
		t.Fatalf("message thresholds not applied")
	}
	if reading.Thresholds.MaxDistance != 50 {
		t.Fatalf("persisted thresholds not the effective ones")
	}
}

func TestProcessTrustedClientAlerts(t *testing.T) {
	store := newFakeStore()
	knownManhole(store, "1")
	eng := newEngineForTest(store, &fakeHub{}, func(c *config.Config) {
		c.Ingest.TrustClientAlerts = true
	})

	// Sensors alone would classify normal; the supplied list wins.
	msg := model.InboundMessage{
		ManholeID:  "1",
		Sensors:    &model.SensorSnapshot{SewageLevel: f64(40)},
		AlertTypes: []model.AlertKind{model.AlertGasLeak},
	}
	reading, err := eng.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reading.Status != model.StatusCritical || !hasAlert(reading.AlertTypes, model.AlertGasLeak) {
		t.Fatalf("client alerts not trusted: %s %v", reading.Status, reading.AlertTypes)
	}
}

func TestProcessMessageTimestampParsed(t *testing.T) {
	store := newFakeStore()
	knownManhole(store, "1")
	eng := newEngineForTest(store, &fakeHub{}, nil)

	msg := model.InboundMessage{
		ManholeID: "1",
		Sensors:   &model.SensorSnapshot{SewageLevel: f64(40)},
		Timestamp: "2026-03-01T12:00:00Z",
	}
	reading, err := eng.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !reading.Timestamp.Equal(want) {
		t.Fatalf("timestamp not honored: %v", reading.Timestamp)
	}
}
