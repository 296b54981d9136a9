package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"agent-console/internal/calls"
	"agent-console/internal/fault"
)

func TestNextContact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agent/queue/next" || r.URL.Query().Get("campaign_id") != "camp-1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("expected a request id")
		}
		_, _ = w.Write([]byte(`{"contact":{"id":"c-1","name":"Jana","phone":"+420111","priority":"callback"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	got, err := c.NextContact(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := &calls.Contact{ID: "c-1", Name: "Jana", Phone: "+420111", Priority: calls.PriorityCallback}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("contact mismatch (-want +got):\n%s", diff)
	}
}

func TestNextContact_EmptyQueue(t *testing.T) {
	for _, body := range []string{`{"empty":true}`, ``} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if body == "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_, _ = w.Write([]byte(body))
		}))
		got, err := New(srv.URL, "").NextContact(context.Background(), "camp-1")
		srv.Close()
		if err != nil || got != nil {
			t.Fatalf("body %q: expected empty queue, got %+v err=%v", body, got, err)
		}
	}
}

func TestSaveOutcome_SendsIdempotencyKeyAndPayload(t *testing.T) {
	cb := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)
	out := calls.CallOutcome{
		CallID:                "call-9",
		Outcome:               calls.OutcomeCallback,
		Notes:                 "later",
		CallDurationSeconds:   42,
		RecordDurationSeconds: 95,
		CallbackDate:          &cb,
		Timezone:              "UTC",
	}

	var got calls.CallOutcome
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/agent/calls/call-9/outcome" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if k := r.Header.Get("Idempotency-Key"); k != "call-9" {
			t.Errorf("expected idempotency key call-9, got %q", k)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := New(srv.URL, "").SaveOutcome(context.Background(), out); err != nil {
		t.Fatalf("save: %v", err)
	}
	if diff := cmp.Diff(out, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OpenCallRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Kind != calls.CallKindBridge || req.ContactID != "c-1" || req.Phone != "+420111" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"call_id":"call-1","start_time":"2026-10-16T10:00:00Z","transport_session_id":"CA123"}`))
	}))
	defer srv.Close()

	rec, err := New(srv.URL, "").OpenCall(context.Background(), OpenCallRequest{ContactID: "c-1", Kind: calls.CallKindBridge, Phone: "+420111"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if rec.CallID != "call-1" || rec.TransportSessionID != "CA123" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestOpenCall_MissingCallIDIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").OpenCall(context.Background(), OpenCallRequest{ContactID: "c-1", Kind: calls.CallKindLocal})
	if !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestErrorsAreNetworkFaultsWithStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue locked", http.StatusConflict)
	}))
	defer srv.Close()

	err := New(srv.URL, "").StartWork(context.Background())
	if !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("expected network fault, got %v", err)
	}
	if StatusOf(err) != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", StatusOf(err))
	}
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "").QueueStatus(context.Background(), "camp-1")
	if !errors.Is(err, fault.ErrNetwork) || StatusOf(err) != 0 {
		t.Fatalf("expected network fault without status, got %v", err)
	}
}
