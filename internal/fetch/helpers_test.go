package fetch

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/edgecache/internal/cache"
)

const (
	sampleHex  = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4"
	sampleName = "/" + sampleHex + ".mp3"
	originBase = "https://origin.example.com"
)

// scriptedFetcher 按调用顺序返回预设结果，并记录被请求的 URL。
type scriptedFetcher struct {
	mu      sync.Mutex
	calls   []string
	results []fetchResult
	// gate 非空时，每次 Fetch 会先通知 started，然后阻塞到 gate 关闭或 ctx 结束。
	gate    chan struct{}
	started chan string
}

type fetchResult struct {
	body []byte
	err  error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- url
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(f.results) == 0 {
		return []byte("payload"), nil
	}
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx].body, f.results[idx].err
}

func (f *scriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// sleepRecorder 记录请求的等待时长但不真正休眠。
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestCoordinator(t *testing.T, fetcher Fetcher, sleeper *sleepRecorder) (*Coordinator, cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), cache.Options{SyncWrites: true})
	require.NoError(t, err)

	origin, err := url.Parse(originBase)
	require.NoError(t, err)

	opts := Options{
		Scheme:     cache.NewScheme(cache.DefaultExtension),
		Store:      store,
		Origin:     origin,
		Fetcher:    fetcher,
		Attempts:   3,
		RetryDelay: 10 * time.Second,
		Metrics:    NewMetrics(nil),
	}
	if sleeper != nil {
		opts.Sleep = sleeper.Sleep
	}
	coordinator, err := NewCoordinator(opts)
	require.NoError(t, err)
	return coordinator, store
}

func mustKey(t *testing.T, raw string) cache.Key {
	t.Helper()
	key, ok := cache.NewScheme(cache.DefaultExtension).Parse(raw)
	require.True(t, ok, "parse %q", raw)
	return key
}

// stagingFiles 列出目录下残留的暂存文件。
func stagingFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			names = append(names, filepath.Join(dir, entry.Name()))
		}
	}
	return names
}
