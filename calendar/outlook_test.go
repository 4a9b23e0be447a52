package calendar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kimipdb306/scout-tdl/domain"
)

func testItem() *domain.Item {
	return &domain.Item{
		ID:          "item_1717300000000",
		Title:       "ship release",
		Status:      domain.StatusInProgress,
		Priority:    domain.PriorityTop,
		DueDate:     "2025-06-01",
		Description: "cut and tag",
		CreatedAt:   time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC),
	}
}

func TestOutlookAddEvent(t *testing.T) {
	var gotPath, gotAuth string
	var gotEvent map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotEvent)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"AAMkAD-123"}`))
	}))
	defer srv.Close()

	o := NewOutlook("token-abc", srv.URL)
	id, err := o.AddEvent(context.Background(), testItem(), "scout")
	if err != nil {
		t.Fatalf("add event: %v", err)
	}
	if id != "AAMkAD-123" {
		t.Fatalf("unexpected external id: %s", id)
	}
	if gotPath != "POST /me/events" {
		t.Fatalf("unexpected request: %s", gotPath)
	}
	if gotAuth != "Bearer token-abc" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotEvent["subject"] != "[TDL-TOP_PRIORITY] ship release" {
		t.Fatalf("unexpected subject: %v", gotEvent["subject"])
	}
	start, _ := gotEvent["start"].(map[string]any)
	if start["dateTime"] != "2025-06-01T09:00:00" {
		t.Fatalf("unexpected start: %v", start)
	}
}

func TestOutlookAddEventRequiresToken(t *testing.T) {
	o := NewOutlook("", "")
	if _, err := o.AddEvent(context.Background(), testItem(), "scout"); err == nil {
		t.Fatal("expected not-authenticated error")
	}
}

func TestOutlookAddEventSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOutlook("token", srv.URL)
	_, err := o.AddEvent(context.Background(), testItem(), "scout")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestOutlookUpdateEvent(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	o := NewOutlook("token", srv.URL)
	if err := o.UpdateEvent(context.Background(), testItem(), "scout", "AAMkAD-123"); err != nil {
		t.Fatalf("update event: %v", err)
	}
	if gotPath != "PATCH /me/events/AAMkAD-123" {
		t.Fatalf("unexpected request: %s", gotPath)
	}
}

func TestOutlookRemoveEvent(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	o := NewOutlook("token", srv.URL)
	if err := o.RemoveEvent(context.Background(), "item_1", "AAMkAD-123"); err != nil {
		t.Fatalf("remove event: %v", err)
	}
	if gotPath != "DELETE /me/events/AAMkAD-123" {
		t.Fatalf("unexpected request: %s", gotPath)
	}
}

func TestOutlookRemoveEventSkipsUntracked(t *testing.T) {
	o := NewOutlook("token", "http://127.0.0.1:1") // must never be dialed
	if err := o.RemoveEvent(context.Background(), "item_1", ""); err != nil {
		t.Fatalf("untracked remove should be a no-op, got %v", err)
	}
}

func TestOutlookRemoveEventToleratesGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOutlook("token", srv.URL)
	if err := o.RemoveEvent(context.Background(), "item_1", "AAMkAD-123"); err != nil {
		t.Fatalf("removing an already-deleted event should succeed, got %v", err)
	}
}
