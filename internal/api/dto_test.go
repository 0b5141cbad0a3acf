package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"license-triage/backend/internal/store"
)

func TestTriageRequestBindsFullPayload(t *testing.T) {
	body := `{
		"fragment_id": "frag-9",
		"detected_license": "MIT License",
		"confidence": 0.87,
		"decision": "accept",
		"reviewer": "dana",
		"note": "matches the header",
		"timestamp": "2026-08-01T10:30:00Z"
	}`

	var req TriageRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Confidence != 0.87 {
		t.Fatalf("expected confidence 0.87 got %v", req.Confidence)
	}
	if req.Timestamp == nil {
		t.Fatal("timestamp should bind")
	}
	want := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	if !req.Timestamp.Equal(want) {
		t.Fatalf("expected %v got %v", want, *req.Timestamp)
	}
}

func TestTriageFromModelKeepsRuling(t *testing.T) {
	decided := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	dto := TriageFromModel(store.TriageDecision{
		ID:              3,
		FragmentID:      "frag-9",
		DetectedLicense: "MIT License",
		Confidence:      0.8704,
		Decision:        "accept",
		Reviewer:        "dana",
		DecidedAt:       decided,
	})

	if dto.Confidence != 0.87 {
		t.Fatalf("expected rounded confidence 0.87 got %v", dto.Confidence)
	}
	if !dto.DecidedAt.Equal(decided) {
		t.Fatalf("expected decided at %v got %v", decided, dto.DecidedAt)
	}

	payload, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"confidence", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("triage response missing %q field: %s", key, payload)
		}
	}
}

func TestSendTaskDelivers(t *testing.T) {
	ch := make(chan store.BatchWorkItem, 1)
	if !sendTask(context.Background(), ch, store.BatchWorkItem{FragmentID: "row-1"}) {
		t.Fatal("buffered send should succeed")
	}
	if got := <-ch; got.FragmentID != "row-1" {
		t.Fatalf("expected row-1 got %q", got.FragmentID)
	}
}

func TestSendTaskStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan store.BatchWorkItem) // never drained, like workers after exit

	done := make(chan bool, 1)
	go func() {
		done <- sendTask(ctx, ch, store.BatchWorkItem{FragmentID: "row-1"})
	}()
	cancel()

	select {
	case sent := <-done:
		if sent {
			t.Fatal("send should abort on cancelled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send still blocked after cancellation")
	}
}
