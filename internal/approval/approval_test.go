package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrComputeCachesApprovedForSession(t *testing.T) {
	s := New()
	key := ShellKey("ls", "/tmp", false)

	var asks int32
	ask := func(ctx context.Context) (Decision, error) {
		atomic.AddInt32(&asks, 1)
		return ApprovedForSession, nil
	}

	for i := 0; i < 3; i++ {
		dec, err := s.GetOrCompute(context.Background(), key, ask)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if dec != ApprovedForSession {
			t.Fatalf("decision = %s, want approved_for_session", dec)
		}
	}

	if asks != 1 {
		t.Fatalf("ask invoked %d times, want exactly 1 after caching", asks)
	}
}

func TestGetOrComputeDoesNotCacheApproved(t *testing.T) {
	s := New()
	key := ShellKey("ls", "/tmp", false)

	var asks int32
	ask := func(ctx context.Context) (Decision, error) {
		atomic.AddInt32(&asks, 1)
		return Approved, nil
	}

	for i := 0; i < 3; i++ {
		dec, err := s.GetOrCompute(context.Background(), key, ask)
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if dec != Approved {
			t.Fatalf("decision = %s, want approved", dec)
		}
	}

	if asks != 3 {
		t.Fatalf("ask invoked %d times, want 3 (approved is never cached)", asks)
	}
}

func TestGetOrComputeDoesNotCacheDenied(t *testing.T) {
	s := New()
	key := ShellKey("rm -rf /", "/tmp", true)

	var asks int32
	ask := func(ctx context.Context) (Decision, error) {
		atomic.AddInt32(&asks, 1)
		return Denied, nil
	}

	if _, err := s.GetOrCompute(context.Background(), key, ask); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if _, err := s.GetOrCompute(context.Background(), key, ask); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	if asks != 2 {
		t.Fatalf("ask invoked %d times, want 2 (denied re-asks)", asks)
	}
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	s := New()
	key := ShellKey("npm install", "/repo", false)

	var asks int32
	release := make(chan struct{})
	ask := func(ctx context.Context) (Decision, error) {
		atomic.AddInt32(&asks, 1)
		<-release
		return ApprovedForSession, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]Decision, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			dec, err := s.GetOrCompute(context.Background(), key, ask)
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
			results[i] = dec
		}(i)
	}

	// Give every goroutine a chance to block on the in-flight ask before
	// releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if asks != 1 {
		t.Fatalf("ask invoked %d times concurrently, want exactly 1", asks)
	}
	for i, dec := range results {
		if dec != ApprovedForSession {
			t.Fatalf("result[%d] = %s, want approved_for_session", i, dec)
		}
	}
}

func TestForgetClearsCache(t *testing.T) {
	s := New()
	key := ShellKey("ls", "/tmp", false)

	_, _ = s.GetOrCompute(context.Background(), key, func(ctx context.Context) (Decision, error) {
		return ApprovedForSession, nil
	})
	if _, ok := s.Peek(key); !ok {
		t.Fatalf("expected cached decision before Forget")
	}

	s.Forget(key)
	if _, ok := s.Peek(key); ok {
		t.Fatalf("expected no cached decision after Forget")
	}
}

func TestDecisionAllowed(t *testing.T) {
	cases := map[Decision]bool{
		Approved:           true,
		ApprovedForSession: true,
		Denied:             false,
		Abort:              false,
	}
	for dec, want := range cases {
		if got := dec.Allowed(); got != want {
			t.Fatalf("%s.Allowed() = %v, want %v", dec, got, want)
		}
	}
}
