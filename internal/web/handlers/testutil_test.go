package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"classtrack/internal/attendance"
	"classtrack/internal/ledger"
	"classtrack/internal/store/memory"
)

// testFixture wires a ledger service over an in-memory store with one room
// and one student enrolled.
func testFixture(t *testing.T) (*ledger.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := ledger.NewService(store)

	room := &attendance.Room{ID: "room-a", Name: "Room A", IsActive: true}
	if err := store.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("failed to seed room: %v", err)
	}
	student := &attendance.Student{ID: "s1", Name: "Ada", RoomID: "room-a"}
	if err := store.CreateStudent(context.Background(), student); err != nil {
		t.Fatalf("failed to seed student: %v", err)
	}
	return svc, store
}

// jsonRequest creates a request with a JSON-encoded body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// testEvent builds a valid identity event for the seeded fixture.
func testEvent(studentID string, detectedAt time.Time) attendance.IdentityEvent {
	ev := attendance.IdentityEvent{
		RoomID:     "room-a",
		StudentID:  studentID,
		DetectedAt: detectedAt,
		MatchScore: 0.93,
	}
	ev.IdempotencyKey = attendance.IdempotencyKey(ev.RoomID, ev.StudentID,
		attendance.DayOf(detectedAt), attendance.WindowIndex(detectedAt, 5*time.Minute))
	return ev
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}
