package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/core/state"
)

// ============================================================================
// Stubs
// ============================================================================

// scriptedSource replays a fixed list of results, then cancels the run.
type scriptedSource struct {
	mode    domain.IngestMode
	results []sourceResult
	cancel  context.CancelFunc
}

type sourceResult struct {
	block *domain.Block
	err   error
}

func (s *scriptedSource) Mode() domain.IngestMode { return s.mode }

func (s *scriptedSource) Next(ctx context.Context) (*domain.Block, error) {
	if len(s.results) == 0 {
		s.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.block, r.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	blocks []domain.Block
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, b domain.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = append(p.blocks, b)
	return p.err
}

type failingState struct{}

func (failingState) Update(domain.Block) error {
	return &state.AccessError{Op: "update", Cause: "boom"}
}

func newState(t *testing.T) *state.MonitorState {
	t.Helper()
	st, err := state.New(12)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return st
}

func latestOf(t *testing.T, st *state.MonitorState) *domain.Block {
	t.Helper()
	snap, err := st.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap.Latest
}

func block(n uint64, hash string) *domain.Block {
	b := domain.NewBlock(n, hashOf(hash), 1000+n)
	return &b
}

// ============================================================================
// Tests
// ============================================================================

func TestNewIngester_PushRequiresReconciler(t *testing.T) {
	_, err := NewIngester(Config{
		Source: NewPusher(make(chan domain.Block)),
		State:  newState(t),
	})
	if err == nil {
		t.Fatal("expected error for push mode without reconciler")
	}
}

func TestIngester_PollErrorSkipsCycle(t *testing.T) {
	st := newState(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{
		mode:   domain.IngestModePoll,
		cancel: cancel,
		results: []sourceResult{
			{block: block(1, "0x01")},
			{err: domain.NewProviderError("http", "eth_getBlockByNumber", errors.New("timeout"))},
			{block: nil},
		},
	}
	pub := &recordingPublisher{}

	ing, err := NewIngester(Config{Source: src, State: st, Publisher: pub})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}

	if err := ing.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := latestOf(t, st)
	if got == nil || got.Number != 1 {
		t.Fatalf("expected block 1 to survive failed cycles, got %+v", got)
	}
	if len(pub.blocks) != 1 {
		t.Errorf("expected one published block, got %d", len(pub.blocks))
	}
	if ing.Phase() != PhaseIdle {
		t.Errorf("expected loop to end idle, got %s", ing.Phase())
	}
}

func TestIngester_PushMismatchKeepsPrimary(t *testing.T) {
	st := newState(t)
	stream := make(chan domain.Block, 1)
	stream <- *block(7, "0x01")
	close(stream)

	secondary := &stubFetcher{byNumber: map[uint64]*domain.Block{7: block(7, "0x02")}}
	log, _ := captureLogger()

	ing, err := NewIngester(Config{
		Source:     NewPusher(stream),
		State:      st,
		Reconciler: NewReconciler(secondary, log),
		Logger:     log,
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}

	err = ing.Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	got := latestOf(t, st)
	if got == nil || got.Hash != hashOf("0x01") {
		t.Fatalf("expected primary hash to be stored, got %+v", got)
	}
}

func TestIngester_PushSecondaryMissingStillAccepts(t *testing.T) {
	st := newState(t)
	stream := make(chan domain.Block, 1)
	stream <- *block(8, "0x08")
	close(stream)

	log, _ := captureLogger()
	ing, err := NewIngester(Config{
		Source:     NewPusher(stream),
		State:      st,
		Reconciler: NewReconciler(&stubFetcher{}, log),
		Logger:     log,
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}

	_ = ing.Run(context.Background())

	if got := latestOf(t, st); got == nil || got.Number != 8 {
		t.Fatalf("expected block 8 to be accepted, got %+v", got)
	}
}

func TestIngester_PublishFailureIgnored(t *testing.T) {
	st := newState(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{
		mode:    domain.IngestModePoll,
		cancel:  cancel,
		results: []sourceResult{{block: block(3, "0x03")}},
	}

	ing, err := NewIngester(Config{
		Source:    src,
		State:     st,
		Publisher: &recordingPublisher{err: errors.New("redis down")},
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}

	if err := ing.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := latestOf(t, st); got == nil || got.Number != 3 {
		t.Fatalf("expected block 3, got %+v", got)
	}
}

func TestIngester_StateFailureIsFatal(t *testing.T) {
	src := &scriptedSource{
		mode:    domain.IngestModePoll,
		cancel:  func() {},
		results: []sourceResult{{block: block(1, "0x01")}},
	}

	ing, err := NewIngester(Config{Source: src, State: failingState{}})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}

	err = ing.Run(context.Background())
	if !errors.Is(err, state.ErrStateAccess) {
		t.Fatalf("expected ErrStateAccess, got %v", err)
	}
}

func TestIngester_CancelReturnsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ing, err := NewIngester(Config{
		Source:     NewPusher(make(chan domain.Block)),
		State:      newState(t),
		Reconciler: NewReconciler(&stubFetcher{}, nil),
	})
	if err != nil {
		t.Fatalf("NewIngester: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPoller_FirstCallImmediateThenWaits(t *testing.T) {
	fetcher := &stubFetcher{latest: block(1, "0x01")}
	sched := NewScheduler(12)
	waits := 0
	sched.after = func(time.Duration) <-chan time.Time {
		waits++
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	p := NewPoller(fetcher, sched)
	for i := 0; i < 3; i++ {
		if _, err := p.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	if fetcher.calls != 3 {
		t.Errorf("expected 3 fetches, got %d", fetcher.calls)
	}
	if waits != 2 {
		t.Errorf("expected 2 scheduler waits, got %d", waits)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(PhaseIdle, PhaseFetching) {
		t.Error("idle -> fetching should be valid")
	}
	if !CanTransition(PhaseFetching, PhaseIdle) {
		t.Error("fetching -> idle should be valid for skipped cycles")
	}
	if CanTransition(PhaseIdle, PhaseUpdated) {
		t.Error("idle -> updated should be invalid")
	}
	if CanTransition(PhaseReconciling, PhaseIdle) {
		t.Error("reconciling -> idle should be invalid")
	}
}
