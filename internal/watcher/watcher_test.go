package watcher

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tuick/internal/clock"
)

func TestArgsIncludesEventStreamFlags(t *testing.T) {
	d := &Driver{Config: Config{Exts: []string{"py"}, Paths: []string{"src"}}}
	args := d.args()
	joined := strings.Join(args, " ")
	for _, want := range []string{"--postpone", "--only-emit-events", "--emit-events-to=stdio", "--no-meta", "--exts py", "--watch src"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}

func TestScanEventsFiresOncePerBlankSeparatedBlock(t *testing.T) {
	input := "write:a.py\nwrite:b.py\n\ncreate:c.py\n"
	events := 0
	scanEvents(strings.NewReader(input), func() { events++ })
	if events != 2 {
		t.Fatalf("events = %d, want 2 (one per block, including the unterminated trailing block)", events)
	}
}

func TestScanEventsIgnoresBlankOnlyInput(t *testing.T) {
	events := 0
	scanEvents(strings.NewReader("\n\n\n"), func() { events++ })
	if events != 0 {
		t.Fatalf("events = %d, want 0", events)
	}
}

func TestNotifyWithoutDebouncePostsImmediately(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	port := srv.Listener.Addr().(*net.TCPAddr).Port
	d := &Driver{Config: Config{Port: port, Key: "tok"}}
	client := &NotifyClient{HTTPClient: srv.Client()}

	d.notify(context.Background(), client)
	d.notify(context.Background(), client)

	if got := posts.Load(); got != 2 {
		t.Fatalf("posts = %d, want 2 (no debounce configured)", got)
	}
}

func TestNotifyDebouncesRapidEvents(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	port := srv.Listener.Addr().(*net.TCPAddr).Port
	fake := clock.Fake(time.Unix(0, 0))
	d := &Driver{
		Config: Config{Port: port, Key: "tok", Debounce: 50 * time.Millisecond},
		Clock:  fake,
	}
	client := &NotifyClient{HTTPClient: srv.Client()}

	// Three events in quick succession, each resetting the debounce
	// timer, must collapse into exactly one post once the clock
	// advances past the debounce window.
	d.notify(context.Background(), client)
	d.notify(context.Background(), client)
	d.notify(context.Background(), client)

	fake.Advance(50 * time.Millisecond)

	if got := posts.Load(); got != 1 {
		t.Fatalf("posts = %d, want 1 (rapid events should debounce)", got)
	}
}

func TestPostReloadSendsTokenAndPath(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := &NotifyClient{HTTPClient: srv.Client()}
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	if err := client.PostReload(context.Background(), port, "tok"); err != nil {
		t.Fatalf("PostReload: %v", err)
	}
	if gotPath != "/reload" {
		t.Errorf("path = %q, want /reload", gotPath)
	}
	if gotKey != "tok" {
		t.Errorf("key = %q, want tok", gotKey)
	}
}

func TestPostReloadReturnsErrorOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := &NotifyClient{HTTPClient: srv.Client()}
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	if err := client.PostReload(context.Background(), port, "wrong"); err == nil {
		t.Fatalf("expected error on 403 response")
	}
}
