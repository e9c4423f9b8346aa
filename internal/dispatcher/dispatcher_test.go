package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/queue/memory"
	"github.com/JakeFAU/target-scraper/internal/scraper"
	"github.com/JakeFAU/target-scraper/internal/worker"
)

type trackedFetcher struct {
	index  int
	closed atomic.Bool
}

func (f *trackedFetcher) Fetch(context.Context, scraper.FetchRequest) (scraper.FetchResponse, error) {
	return scraper.FetchResponse{}, nil
}

func (f *trackedFetcher) Close() { f.closed.Store(true) }

type recordingExecutor struct {
	mu   sync.Mutex
	seen map[int64]int
}

func (r *recordingExecutor) Execute(_ context.Context, fetcher scraper.Fetcher, jobID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[int64]int)
	}
	r.seen[jobID] = fetcher.(*trackedFetcher).index
	return nil
}

func (r *recordingExecutor) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestDispatcherRunsWorkersAndClosesFetchers(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(16)
	exec := &recordingExecutor{}
	var (
		mu       sync.Mutex
		fetchers []*trackedFetcher
	)
	factory := func(index int) Fetcher {
		mu.Lock()
		defer mu.Unlock()
		f := &trackedFetcher{index: index}
		fetchers = append(fetchers, f)
		return f
	}
	d, err := New(q, exec, factory, 3, worker.Config{}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, q.Enqueue(ctx, scraper.WorkItem{JobID: i}))
	}

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exec.len() == 10 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fetchers, 3)
	for _, f := range fetchers {
		require.True(t, f.closed.Load())
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	factory := func(int) Fetcher { return &trackedFetcher{} }

	_, err := New(nil, &recordingExecutor{}, factory, 1, worker.Config{}, nil)
	require.Error(t, err)
	_, err = New(q, nil, factory, 1, worker.Config{}, nil)
	require.Error(t, err)
	_, err = New(q, &recordingExecutor{}, nil, 1, worker.Config{}, nil)
	require.Error(t, err)
	_, err = New(q, &recordingExecutor{}, factory, 0, worker.Config{}, nil)
	require.ErrorContains(t, err, "worker count")
}
