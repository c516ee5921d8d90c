package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/medifind/horosafe"
)

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{WithRate(0, 1), WithRetry(2, time.Millisecond)}
	f, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestFetch_RotatesUserAgents(t *testing.T) {
	// WHAT: Consecutive requests use the configured User-Agents in turn.
	// WHY: Providers throttle clients that present a single fingerprint.
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.UserAgent())
		mu.Unlock()
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, WithUserAgents("ua-a", "ua-b"))
	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	want := []string{"ua-a", "ua-b", "ua-a"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", seen, want)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	// WHAT: A 503 followed by a 200 yields the 200 body.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("got %q, want %q", body, "ok")
	}
	if calls.Load() != 2 {
		t.Errorf("got %d calls, want 2", calls.Load())
	}
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	// WHAT: A 404 is returned after a single attempt and wraps ErrStatus.
	// WHY: Retrying a missing page only burns the source's time budget.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("got %v, want ErrStatus", err)
	}
	if calls.Load() != 1 {
		t.Errorf("got %d calls, want 1", calls.Load())
	}
}

func TestFetch_BodyCap(t *testing.T) {
	// WHAT: Bodies larger than the cap are rejected without retry.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, WithMaxBytes(16)).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, horosafe.ErrResponseTooLarge) {
		t.Fatalf("got %v, want ErrResponseTooLarge", err)
	}
	if calls.Load() != 1 {
		t.Errorf("got %d calls, want 1", calls.Load())
	}
}

func TestFetch_KeepsCookies(t *testing.T) {
	// WHAT: A cookie set by the first response is sent on the next request.
	// WHY: Some providers serve results only after a session cookie is set.
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			got.Store(c.Value)
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if v, _ := got.Load().(string); v != "abc" {
		t.Errorf("got cookie %q, want %q", v, "abc")
	}
}

func TestFetch_RejectsUnsafeScheme(t *testing.T) {
	// WHAT: Non-HTTP URLs are refused before any I/O.
	_, err := newTestFetcher(t).Fetch(context.Background(), "file:///etc/passwd")
	if !errors.Is(err, horosafe.ErrUnsafeScheme) {
		t.Errorf("got %v, want ErrUnsafeScheme", err)
	}
}

func TestFetch_PacingHonoursContext(t *testing.T) {
	// WHAT: A request waiting on the per-host limiter gives up when ctx ends.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, WithRate(0.01, 1))
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := f.Fetch(ctx, srv.URL); err == nil {
		t.Fatal("expected pacing error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("pacing ignored ctx: took %v", time.Since(start))
	}
}
