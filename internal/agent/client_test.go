package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/outbox"
)

func testIdentityEvent() attendance.IdentityEvent {
	detectedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return attendance.IdentityEvent{
		RoomID:         "room-a",
		StudentID:      "s1",
		Day:            attendance.DayOf(detectedAt),
		DetectedAt:     detectedAt,
		MatchScore:     0.95,
		IdempotencyKey: "k1",
	}
}

func TestClient_SendEvent_Success(t *testing.T) {
	var got attendance.IdentityEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode event: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := client.SendEvent(context.Background(), testIdentityEvent()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got.IdempotencyKey != "k1" {
		t.Errorf("expected idempotency key k1, got %q", got.IdempotencyKey)
	}
}

func TestClient_SendEvent_ClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown room"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.SendEvent(context.Background(), testIdentityEvent())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !outbox.IsPermanent(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}

func TestClient_SendEvent_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.SendEvent(context.Background(), testIdentityEvent())
	if err == nil {
		t.Fatal("expected an error")
	}
	if outbox.IsPermanent(err) {
		t.Errorf("expected a transient error, got permanent: %v", err)
	}
}

func TestClient_SendEvent_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.SendEvent(context.Background(), testIdentityEvent())
	if err == nil {
		t.Fatal("expected an error")
	}
	if outbox.IsPermanent(err) {
		t.Errorf("expected a transient error, got permanent: %v", err)
	}
}

func TestClient_FetchRoster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/students" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("room_id") != "room-a" || q.Get("embeddings") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]attendance.Student{
			{ID: "s1", Name: "Ada", Embedding: []float32{1, 0, 0}},
			{ID: "s2", Name: "Grace"},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	entries, err := client.FetchRoster(context.Background(), "room-a")
	if err != nil {
		t.Fatalf("failed to fetch roster: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 matchable entry, got %d", len(entries))
	}
	if entries[0].StudentID != "s1" {
		t.Errorf("expected s1, got %s", entries[0].StudentID)
	}
}
