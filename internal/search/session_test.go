package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bounteer/jobsync/internal/directus"
	"go.uber.org/zap"
)

type resultRecorder struct {
	mu        sync.Mutex
	delivered []Results
}

func (r *resultRecorder) add(res Results) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, res)
}

func (r *resultRecorder) terminalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, res := range r.delivered {
		if !res.Partial {
			n++
		}
	}
	return n
}

func (r *resultRecorder) last() (Results, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.delivered) == 0 {
		return Results{}, false
	}
	return r.delivered[len(r.delivered)-1], true
}

func TestSessionDeliversEmptyResultSet(t *testing.T) {
	backend := &fakeBackend{statuses: []string{"pending", "listed"}}

	rec := &resultRecorder{}
	session := NewSession(backend, zap.NewNop(), rec.add)
	defer session.Close()
	session.Poller().Interval = 10 * time.Millisecond

	id, err := session.Submit(context.Background(), &directus.SearchRequest{CompanyName: "Acme"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected a job id")
	}

	handle := session.Handle()
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not finish")
	}

	deadline := time.Now().Add(time.Second)
	for rec.terminalCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := rec.terminalCount(); got != 1 {
		t.Fatalf("expected exactly one terminal delivery, got %d", got)
	}

	last, ok := rec.last()
	if !ok {
		t.Fatal("expected a delivery")
	}
	if last.Candidates == nil || last.Candidates.Items == nil {
		t.Fatal("empty result set must be an empty list, not nil")
	}
	if last.Candidates.Len() != 0 {
		t.Fatalf("expected no candidates, got %d", last.Candidates.Len())
	}
}

func TestSessionRecordsAndClearsSubmissionError(t *testing.T) {
	backend := &fakeBackend{createErr: errors.New("bad request"), statuses: []string{"pending"}}

	session := NewSession(backend, zap.NewNop(), nil)
	defer session.Close()
	session.Poller().Interval = 10 * time.Millisecond

	if _, err := session.Submit(context.Background(), &directus.SearchRequest{}); err == nil {
		t.Fatal("expected submission error")
	}

	if msg := session.LastError(); !strings.HasPrefix(msg, "Failed to create search request") {
		t.Fatalf("unexpected error message: %q", msg)
	}

	backend.mu.Lock()
	backend.createErr = nil
	backend.mu.Unlock()

	if _, err := session.Submit(context.Background(), &directus.SearchRequest{}); err != nil {
		t.Fatalf("submit after recovery: %v", err)
	}

	if msg := session.LastError(); msg != "" {
		t.Fatalf("expected cleared error state, got %q", msg)
	}
}

func TestSessionSupersedesActiveJob(t *testing.T) {
	backend := &fakeBackend{statuses: []string{"pending"}}

	session := NewSession(backend, zap.NewNop(), nil)
	defer session.Close()
	session.Poller().Interval = 10 * time.Millisecond

	first, err := session.Submit(context.Background(), &directus.SearchRequest{CompanyName: "Acme"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	firstHandle := session.Handle()

	second, err := session.Submit(context.Background(), &directus.SearchRequest{CompanyName: "Globex"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if first == second {
		t.Fatal("each submission must create a new job")
	}

	select {
	case <-firstHandle.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded poll handle was not stopped")
	}

	if got := session.ActiveJobID(); got != second {
		t.Fatalf("expected active job %q, got %q", second, got)
	}
}

func TestSessionCloseStopsPolling(t *testing.T) {
	backend := &fakeBackend{statuses: []string{"pending"}}

	session := NewSession(backend, zap.NewNop(), nil)
	session.Poller().Interval = 10 * time.Millisecond

	if _, err := session.Submit(context.Background(), &directus.SearchRequest{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	handle := session.Handle()

	session.Close()

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("close did not stop the poll loop")
	}

	if _, err := session.Submit(context.Background(), &directus.SearchRequest{}); err == nil {
		t.Fatal("closed session must reject submissions")
	}
}

func TestFetcherNormalizesResultRecords(t *testing.T) {
	backend := &fakeBackend{
		results: []directus.Item{
			map[string]any{
				"id":     "c1",
				"name":   "Jane Doe",
				"score":  0.92,
				"skills": `["go","sql"]`,
			},
			map[string]any{
				"id":     "c2",
				"name":   "John Roe",
				"skills": []any{"rust"},
			},
		},
	}

	fetcher := NewFetcher(backend, zap.NewNop())
	candidates, err := fetcher.Fetch(context.Background(), "42")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if candidates.Len() != 2 {
		t.Fatalf("expected 2 candidates, got %d", candidates.Len())
	}

	first := candidates.FindByID("c1")
	if first == nil {
		t.Fatal("candidate c1 missing")
	}
	if first.Score != 0.92 {
		t.Fatalf("unexpected score: %v", first.Score)
	}
	if len(first.Skills) != 2 || first.Skills[0] != "go" {
		t.Fatalf("JSON-encoded skills not normalized: %v", first.Skills)
	}

	second := candidates.FindByID("c2")
	if second == nil {
		t.Fatal("candidate c2 missing")
	}
	if len(second.Skills) != 1 || second.Skills[0] != "rust" {
		t.Fatalf("array skills not normalized: %v", second.Skills)
	}
}

func TestCandidatesExclude(t *testing.T) {
	candidates := &Candidates{Items: []*Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}}

	removed := candidates.Exclude([]string{"b", "zzz"})
	if len(removed) != 1 || removed[0] != "b" {
		t.Fatalf("unexpected removed set: %v", removed)
	}
	if candidates.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", candidates.Len())
	}
	if candidates.FindByID("b") != nil {
		t.Fatal("excluded candidate still present")
	}
}

// gatedBackend holds CreateSearchRequest calls at a gate and records which
// job ids the poll loops query afterwards.
type gatedBackend struct {
	mu     sync.Mutex
	gate   chan struct{}
	nextID int
	polled map[string]int
}

func (b *gatedBackend) CreateSearchRequest(context.Context, *directus.SearchRequest) (string, error) {
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("job-%d", b.nextID)
	b.mu.Unlock()

	<-b.gate
	return id, nil
}

func (b *gatedBackend) SearchRequestStatus(_ context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polled[id]++
	return "pending", nil
}

func (b *gatedBackend) SearchResults(context.Context, string) ([]directus.Item, error) {
	return nil, nil
}

func (b *gatedBackend) resetPolled() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polled = map[string]int{}
}

func (b *gatedBackend) polledCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.polled))
	for id, n := range b.polled {
		out[id] = n
	}
	return out
}

func TestConcurrentSubmitsKeepSingleActivePollLoop(t *testing.T) {
	backend := &gatedBackend{gate: make(chan struct{}), polled: map[string]int{}}

	session := NewSession(backend, zap.NewNop(), nil)
	defer session.Close()
	session.Poller().Interval = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.Submit(context.Background(), &directus.SearchRequest{})
		}()
	}

	// Release every in-flight creation at once.
	close(backend.gate)
	wg.Wait()

	active := session.ActiveJobID()
	if active == "" {
		t.Fatal("expected an active job after both submissions")
	}

	// Whatever ticks the superseded loop got in before its Stop are fine;
	// from here on only the surviving loop may poll.
	time.Sleep(60 * time.Millisecond)
	backend.resetPolled()
	time.Sleep(100 * time.Millisecond)

	counts := backend.polledCounts()
	for id, n := range counts {
		if id != active && n > 0 {
			t.Fatalf("superseded job %s still polled %d times alongside active %s", id, n, active)
		}
	}
	if counts[active] == 0 {
		t.Fatalf("active job %s stopped polling: %v", active, counts)
	}
}
