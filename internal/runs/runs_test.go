package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
	"github.com/minukim/paysync/internal/ledger"
)

type fakeStore struct {
	mu      sync.Mutex
	account *domain.Account
	headers map[string]string
	saved   []string
}

func (s *fakeStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if s.account == nil || s.account.ID != id {
		return nil, ledger.ErrNotFound
	}
	return s.account, nil
}

func (s *fakeStore) Headers(ctx context.Context, accountID string) (map[string]string, error) {
	return s.headers, nil
}

func (s *fakeStore) Checkpoint(ctx context.Context, accountID, provider string) (*domain.Checkpoint, error) {
	return nil, nil
}

func (s *fakeStore) Save(ctx context.Context, accountID string, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, p.ExternalID)
	return nil
}

func (s *fakeStore) Purge(ctx context.Context, accountID, provider string) error {
	return nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakeProvider struct {
	listPageFunc    func(ctx context.Context, page collector.Page, token string) ([]collector.ListItem, error)
	fetchDetailFunc func(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error)
}

func (p *fakeProvider) ID() string { return "testprov" }

func (p *fakeProvider) Partitions(now time.Time) []int { return []int{0} }

func (p *fakeProvider) StopKey(cp domain.Checkpoint) string { return cp.LastExternalID }

func (p *fakeProvider) ResolveToken(ctx context.Context) (string, error) {
	return "tok-1", nil
}

func (p *fakeProvider) ListPage(ctx context.Context, page collector.Page, token string) ([]collector.ListItem, error) {
	return p.listPageFunc(ctx, page, token)
}

func (p *fakeProvider) FetchDetail(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error) {
	if p.fetchDetailFunc != nil {
		return p.fetchDetailFunc(ctx, item, token)
	}
	return &domain.Payment{ExternalID: item.ExternalID, Provider: "testprov", PaidAt: item.PaidAt}, nil
}

func onePageOf(n int) func(ctx context.Context, page collector.Page, token string) ([]collector.ListItem, error) {
	return func(ctx context.Context, page collector.Page, token string) ([]collector.ListItem, error) {
		if page.Index > 1 {
			return nil, nil
		}
		items := make([]collector.ListItem, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, collector.ListItem{ExternalID: fmt.Sprintf("P%d", i+1)})
		}
		return items, nil
	}
}

func newTestManager(provider collector.Provider) (*Manager, *fakeStore) {
	store := &fakeStore{
		account: &domain.Account{ID: "acc-1", Provider: domain.ProviderNaver},
		headers: map[string]string{"Cookie": "sid=1"},
	}
	m := NewManager(store, collector.Pacing{}, zerolog.Nop())
	m.newGateway = func() gateway.Doer { return nil }
	m.newProvider = func(providerID string, gw gateway.Doer, headers map[string]string, log zerolog.Logger) (collector.Provider, error) {
		return provider, nil
	}
	return m, store
}

func waitDone(t *testing.T, m *Manager, accountID string) RunStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Running(accountID) {
			return m.Status(accountID)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return RunStatus{}
}

func TestStart_RunsToCompletion(t *testing.T) {
	m, store := newTestManager(&fakeProvider{listPageFunc: onePageOf(2)})

	info, err := m.Start(context.Background(), "acc-1", "incremental")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.ID == "" || info.Provider != domain.ProviderNaver || info.Mode != "incremental" {
		t.Errorf("info = %+v", info)
	}

	st := waitDone(t, m, "acc-1")
	if st.Outcome != string(collector.StoppedNoMoreData) {
		t.Errorf("outcome = %q, want no-more-data", st.Outcome)
	}
	if st.RunID != info.ID {
		t.Errorf("RunID = %q, want %q", st.RunID, info.ID)
	}
	if st.Counters.Success != 2 {
		t.Errorf("success = %d, want 2", st.Counters.Success)
	}
	if store.savedCount() != 2 {
		t.Errorf("saved %d payments, want 2", store.savedCount())
	}
	if len(m.Events("acc-1")) == 0 {
		t.Error("no events recorded")
	}
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	provider := &fakeProvider{
		listPageFunc: onePageOf(2),
		fetchDetailFunc: func(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error) {
			once.Do(func() { close(started) })
			<-release
			return &domain.Payment{ExternalID: item.ExternalID, Provider: "testprov"}, nil
		},
	}
	m, _ := newTestManager(provider)

	if _, err := m.Start(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started

	if _, err := m.Start(context.Background(), "acc-1", ""); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	waitDone(t, m, "acc-1")

	// The slot frees once the run drains.
	if _, err := m.Start(context.Background(), "acc-1", ""); err != nil {
		t.Errorf("Start() after drain error = %v", err)
	}
	waitDone(t, m, "acc-1")
}

func TestRequestStop(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var fetchCalls int
	var mu sync.Mutex
	provider := &fakeProvider{
		listPageFunc: onePageOf(5),
		fetchDetailFunc: func(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error) {
			mu.Lock()
			fetchCalls++
			mu.Unlock()
			once.Do(func() { close(started) })
			<-release
			return &domain.Payment{ExternalID: item.ExternalID, Provider: "testprov"}, nil
		},
	}
	m, _ := newTestManager(provider)

	if _, err := m.Start(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started

	if err := m.RequestStop("acc-1"); err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}
	close(release)

	st := waitDone(t, m, "acc-1")
	if st.Outcome != string(collector.StoppedByCancellation) {
		t.Errorf("outcome = %q, want cancellation", st.Outcome)
	}
	mu.Lock()
	calls := fetchCalls
	mu.Unlock()
	// The in-flight fetch completes; no further item is fetched.
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}

	if err := m.RequestStop("acc-1"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("RequestStop() on idle = %v, want ErrNotRunning", err)
	}
}

func TestStart_UnknownAccount(t *testing.T) {
	m, _ := newTestManager(&fakeProvider{listPageFunc: onePageOf(0)})
	if _, err := m.Start(context.Background(), "ghost", ""); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Start() error = %v, want ErrNotFound", err)
	}
}

func TestStart_InvalidMode(t *testing.T) {
	m, _ := newTestManager(&fakeProvider{listPageFunc: onePageOf(0)})
	if _, err := m.Start(context.Background(), "acc-1", "turbo"); err == nil {
		t.Error("Start() error = nil, want mode error")
	}
}

func TestShutdown_DrainsActiveRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	provider := &fakeProvider{
		listPageFunc: onePageOf(5),
		fetchDetailFunc: func(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error) {
			once.Do(func() { close(started) })
			<-release
			return &domain.Payment{ExternalID: item.ExternalID, Provider: "testprov"}, nil
		},
	}
	m, _ := newTestManager(provider)

	if _, err := m.Start(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if m.Running("acc-1") {
		t.Error("run still active after Shutdown")
	}
	if got := len(m.Active()); got != 0 {
		t.Errorf("Active() = %d entries, want 0", got)
	}
}

func TestStatus_NeverRanAccount(t *testing.T) {
	m, _ := newTestManager(&fakeProvider{listPageFunc: onePageOf(0)})
	st := m.Status("acc-1")
	if st.Collecting {
		t.Error("idle account reported collecting")
	}
	if st.Phase != collector.PhaseIdle {
		t.Errorf("phase = %q, want idle", st.Phase)
	}
	if st.RunID != "" {
		t.Errorf("RunID = %q, want empty", st.RunID)
	}
	if got := m.Events("acc-1"); len(got) != 0 {
		t.Errorf("Events() = %d entries, want 0", len(got))
	}
}
