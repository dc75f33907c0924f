package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/notify"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
	"github.com/mr1hm/go-quake-forecast/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var tickTime = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// mockEventRepo implements repository.EventWriter for testing
type mockEventRepo struct {
	mu       sync.Mutex
	events   map[string]*models.Event
	addCount atomic.Int64
	err      error
}

func newMockRepo() *mockEventRepo {
	return &mockEventRepo{
		events: make(map[string]*models.Event),
	}
}

func (m *mockEventRepo) UpsertIfAbsent(ctx context.Context, e *models.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, exists := m.events[e.ID]; exists {
		return false, nil
	}
	e.Severity = models.SeverityFor(e)
	m.events[e.ID] = e
	m.addCount.Add(1)
	return true, nil
}

// recordingNotifier counts notifications per event id.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Notify(_ context.Context, e *models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, e.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}

type feedFunc func(ctx context.Context) (Batch, error)

func (f feedFunc) Fetch(ctx context.Context) (Batch, error) { return f(ctx) }

func feature(id string, mag string, at time.Time) string {
	return fmt.Sprintf(`{"type":"Feature","id":%q,
		"properties":{"mag":%s,"place":"10km N of Somewhere","time":%d},
		"geometry":{"type":"Point","coordinates":[-117.5,35.7,8.2]}}`, id, mag, at.UnixMilli())
}

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestIngestor(t *testing.T, feed Feed, repo repository.EventWriter, n notify.Notifier) *Ingestor {
	t.Helper()
	ing, err := NewIngestor(feed, repo, n, 4, 16, 24*time.Hour, clockwork.NewFakeClockAt(tickTime), observability.NewMetricsForTesting())
	if err != nil {
		t.Fatalf("NewIngestor failed: %v", err)
	}
	return ing
}

func TestNewIngestor_RequiresMetrics(t *testing.T) {
	_, err := NewIngestor(feedFunc(func(context.Context) (Batch, error) { return Batch{}, nil }), newMockRepo(), nil, 1, 1, time.Hour, clockwork.NewRealClock(), nil)
	if err == nil {
		t.Fatal("expected an error for nil metrics")
	}
}

func TestIngestor_NewRecordsStoredAndNotifiedOnce(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[` +
		feature("ci001", "2.1", tickTime.Add(-time.Hour)) + `,` +
		feature("ci002", "null", tickTime.Add(-2*time.Hour)) + `,` +
		feature("ci003", "5.3", tickTime.Add(-3*time.Hour)) + `]}`
	srv := feedServer(t, body)

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	// ci003 is already known
	if _, err := db.UpsertIfAbsent(context.Background(), &models.Event{
		ID: "ci003", Magnitude: 5.3, Place: "known", Time: tickTime.Add(-3 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	n := &recordingNotifier{}
	ing := newTestIngestor(t, NewUSGSClient(srv.URL, 5*time.Second), db, n)

	res, err := ing.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if res.Fetched != 3 || res.Valid != 2 || res.Recent != 2 {
		t.Errorf("expected fetched=3 valid=2 recent=2, got %+v", res)
	}
	if res.Stored != 1 {
		t.Errorf("expected 1 new record, got %d", res.Stored)
	}
	if n.count() != 1 || n.ids[0] != "ci001" {
		t.Errorf("expected exactly one notification for ci001, got %v", n.ids)
	}

	stored, err := db.GetByID(context.Background(), "ci001")
	if err != nil || stored == nil {
		t.Fatalf("ci001 not stored: %v", err)
	}
	if stored.Severity != models.SeveritySafe || stored.Depth != 8.2 || stored.Longitude != -117.5 {
		t.Errorf("unexpected stored event: %+v", stored)
	}

	// A second tick over the same feed stores and notifies nothing
	res, err = ing.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if res.Stored != 0 || n.count() != 1 {
		t.Errorf("expected no new records on repeat, got stored=%d notifications=%d", res.Stored, n.count())
	}
}

func TestIngestor_LookbackWindow(t *testing.T) {
	body := `{"features":[` +
		feature("old", "4.0", tickTime.Add(-25*time.Hour)) + `,` +
		feature("new", "4.0", tickTime.Add(-23*time.Hour)) + `]}`
	srv := feedServer(t, body)

	repo := newMockRepo()
	ing := newTestIngestor(t, NewUSGSClient(srv.URL, 5*time.Second), repo, nil)

	res, err := ing.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Recent != 1 || res.Stored != 1 {
		t.Errorf("expected 1 recent record stored, got %+v", res)
	}
	if _, ok := repo.events["old"]; ok {
		t.Error("record outside lookback window was stored")
	}
}

func TestIngestor_FeedFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed payload", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"features": [`)
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			repo := newMockRepo()
			ing := newTestIngestor(t, NewUSGSClient(srv.URL, 100*time.Millisecond), repo, nil)

			_, err := ing.RunOnce(context.Background())
			if !errors.Is(err, ErrFeedFetchFailed) {
				t.Errorf("expected ErrFeedFetchFailed, got %v", err)
			}
			if repo.addCount.Load() != 0 {
				t.Errorf("expected no writes, got %d", repo.addCount.Load())
			}
		})
	}
}

func TestIngestor_StoreErrorsCounted(t *testing.T) {
	batch := Batch{Fetched: 2, Events: []models.Event{
		{ID: "a", Magnitude: 3, Time: tickTime},
		{ID: "b", Magnitude: 3, Time: tickTime},
	}}
	repo := newMockRepo()
	repo.err = errors.New("disk full")
	n := &recordingNotifier{}

	ing := newTestIngestor(t, feedFunc(func(context.Context) (Batch, error) { return batch, nil }), repo, n)
	res, err := ing.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if res.Failed != 2 || res.Stored != 0 || n.count() != 0 {
		t.Errorf("expected 2 failures and no notifications, got %+v notifications=%d", res, n.count())
	}
}

func TestIngestor_ConcurrentDuplicates(t *testing.T) {
	// The same ids arrive from several overlapping ticks at once
	events := make([]models.Event, 50)
	for i := range events {
		events[i] = models.Event{ID: fmt.Sprintf("dup_%d", i), Magnitude: 2.5, Time: tickTime}
	}
	feed := feedFunc(func(context.Context) (Batch, error) {
		return Batch{Fetched: len(events), Events: append([]models.Event(nil), events...)}, nil
	})

	repo := newMockRepo()
	n := &recordingNotifier{}
	ing := newTestIngestor(t, feed, repo, n)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ing.RunOnce(context.Background()); err != nil {
				t.Errorf("RunOnce failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := repo.addCount.Load(); got != 50 {
		t.Errorf("expected 50 unique records, got %d", got)
	}
	if n.count() != 50 {
		t.Errorf("expected 50 notifications, got %d", n.count())
	}
}

func TestManager_StartStop(t *testing.T) {
	var calls atomic.Int64
	feed := feedFunc(func(context.Context) (Batch, error) {
		calls.Add(1)
		return Batch{}, nil
	})

	mgr := NewManager(newTestIngestor(t, feed, newMockRepo(), nil), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())

	// Start should not block
	mgr.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	mgr.Stop()

	if calls.Load() != 1 {
		t.Errorf("expected the initial poll only, got %d", calls.Load())
	}
}

func TestManager_FailedTickDoesNotStopPolling(t *testing.T) {
	var calls atomic.Int64
	feed := feedFunc(func(context.Context) (Batch, error) {
		calls.Add(1)
		return Batch{}, ErrFeedFetchFailed
	})

	mgr := NewManager(newTestIngestor(t, feed, newMockRepo(), nil), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager.Stop() timed out - possible goroutine leak")
	}

	if calls.Load() < 3 {
		t.Errorf("expected polling to continue after failures, got %d calls", calls.Load())
	}
}

func TestParseFeed_RejectsForecastIDs(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[` +
		feature("ci001", "2.1", tickTime) + `,` +
		feature(models.ForecastID(tickTime), "4.0", tickTime) + `]}`

	batch, err := parseFeed(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseFeed failed: %v", err)
	}
	if batch.Fetched != 2 {
		t.Errorf("expected 2 fetched, got %d", batch.Fetched)
	}
	if len(batch.Events) != 1 || batch.Events[0].ID != "ci001" {
		t.Errorf("expected only ci001 to survive, got %+v", batch.Events)
	}
}
