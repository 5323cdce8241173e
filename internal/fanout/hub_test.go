package fanout

import (
	"encoding/json"
	"testing"
	"time"

	"sewerwatch/internal/model"
)

func testClient(h *Hub, buffer int) *Client {
	return &Client{hub: h, send: make(chan []byte, buffer)}
}

func testEvent(manholeID string) model.ReadingEvent {
	level := 42.0
	return model.ReadingEvent{
		ManholeID: manholeID,
		Sensors:   model.SensorSnapshot{SewageLevel: &level},
		Status:    model.StatusNormal,
		Timestamp: time.Now().UTC(),
	}
}

func TestBroadcastNoSubscribers(t *testing.T) {
	h := NewHub(nil, 4, 10)
	// Must not panic or block.
	h.BroadcastReading(testEvent("1"))
	if h.Count() != 0 {
		t.Fatalf("phantom subscriber: %d", h.Count())
	}
}

func TestRegisterReceivesSnapshot(t *testing.T) {
	h := NewHub(nil, 4, 10)
	h.BroadcastReading(testEvent("1"))
	h.BroadcastReading(testEvent("2"))

	c := testClient(h, 4)
	h.Register(c)
	select {
	case data := <-c.send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad snapshot payload: %v", err)
		}
		if ev.Event != "snapshot" {
			t.Fatalf("expected snapshot event, got %q", ev.Event)
		}
		payload, ok := ev.Payload.([]any)
		if !ok || len(payload) != 2 {
			t.Fatalf("snapshot should carry 2 readings: %v", ev.Payload)
		}
	default:
		t.Fatalf("no snapshot delivered on register")
	}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	h := NewHub(nil, 4, 10)
	a := testClient(h, 4)
	b := testClient(h, 4)
	h.Register(a)
	h.Register(b)
	drain(a)
	drain(b)

	h.BroadcastReading(testEvent("7"))

	for _, c := range []*Client{a, b} {
		select {
		case data := <-c.send:
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if ev.Event != "sensor-data" {
				t.Fatalf("expected sensor-data, got %q", ev.Event)
			}
		default:
			t.Fatalf("subscriber missed broadcast")
		}
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := NewHub(nil, 1, 10)
	slow := testClient(h, 1)
	h.Register(slow)
	// Snapshot already fills the one-slot buffer; the next broadcast cannot
	// be delivered and must evict the subscriber.
	h.BroadcastReading(testEvent("1"))
	if h.Count() != 0 {
		t.Fatalf("slow subscriber kept: %d", h.Count())
	}
	// Channel is closed on eviction.
	for range slow.send {
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	h := NewHub(nil, 4, 10)
	c := testClient(h, 4)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	if h.Count() != 0 {
		t.Fatalf("subscriber still registered")
	}
}

func TestLatestStoreKeepsOnePerManhole(t *testing.T) {
	s := NewLatestStore(10)
	first := testEvent("1")
	second := testEvent("1")
	second.Status = model.StatusCritical
	s.Update(first)
	s.Update(second)
	all := s.All()
	if len(all) != 1 {
		t.Fatalf("expected one entry, got %d", len(all))
	}
	if all[0].Status != model.StatusCritical {
		t.Fatalf("latest event not kept")
	}
}

func TestLatestStoreEvictsOldest(t *testing.T) {
	s := NewLatestStore(2)
	s.Update(testEvent("1"))
	time.Sleep(2 * time.Millisecond)
	s.Update(testEvent("2"))
	time.Sleep(2 * time.Millisecond)
	s.Update(testEvent("3"))
	all := s.All()
	if len(all) != 2 {
		t.Fatalf("limit not enforced: %d", len(all))
	}
	for _, ev := range all {
		if ev.ManholeID == "1" {
			t.Fatalf("oldest entry not evicted")
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
