package control

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func startEndpoint(t *testing.T, token string) (*Endpoint, context.CancelFunc) {
	t.Helper()
	e := New(token, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Serve(ctx) }()

	select {
	case <-e.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("endpoint never became ready")
	}
	return e, cancel
}

func postReload(t *testing.T, port int, key string) *http.Response {
	t.Helper()
	url := fmt.Sprintf("http://127.0.0.1:%d/reload?key=%s", port, key)
	resp, err := http.Post(url, "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /reload: %v", err)
	}
	return resp
}

// S5: a reload without the correct token is rejected and produces no
// generation change (here: nothing lands on the Reloads channel).
func TestReloadRejectedWithoutValidToken(t *testing.T) {
	e, cancel := startEndpoint(t, "correct-token")
	defer cancel()

	resp := postReload(t, e.Port(), "wrong-token")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	select {
	case <-e.Reloads():
		t.Fatalf("expected no reload event for an unauthenticated request")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReloadAcceptedWithValidToken(t *testing.T) {
	e, cancel := startEndpoint(t, "correct-token")
	defer cancel()

	resp := postReload(t, e.Port(), "correct-token")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	select {
	case <-e.Reloads():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a reload event")
	}
}

// Property: reload events coalesce — two rapid requests produce at
// most one pending reload until it is drained.
func TestReloadRequestsCoalesce(t *testing.T) {
	e, cancel := startEndpoint(t, "tok")
	defer cancel()

	postReload(t, e.Port(), "tok")
	postReload(t, e.Port(), "tok")

	select {
	case <-e.Reloads():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected first reload event")
	}
	select {
	case <-e.Reloads():
		t.Fatalf("expected coalesced requests to produce only one pending reload")
	case <-time.After(100 * time.Millisecond):
	}
}

// Property: requests from non-loopback peers are rejected regardless
// of token correctness.
func TestReloadRejectsNonLoopbackPeer(t *testing.T) {
	e := New("tok", nil)
	req := httptest.NewRequest(http.MethodPost, "/reload?key=tok", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()

	e.handleReload(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	select {
	case <-e.Reloads():
		t.Fatalf("expected no reload event for a non-loopback request")
	default:
	}
}

func TestReloadAcceptsHeaderToken(t *testing.T) {
	e := New("tok", nil)
	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("X-Tuick-Reload-Key", "tok")
	rec := httptest.NewRecorder()

	e.handleReload(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}
