package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/edgecache/internal/cache"
	"github.com/any-hub/edgecache/internal/logging"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 10 * time.Second
)

var (
	// ErrIneligible is returned for names outside the content-address scheme.
	ErrIneligible = errors.New("object name is not cache eligible")
	// ErrDuplicate signals that another fill for the same object is running.
	// It is not a failure: the running fill will publish the object.
	ErrDuplicate = errors.New("fill already in flight")
)

// FetchError carries the last cause of a fill that exhausted its attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fill %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher performs one origin GET and returns the complete body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options wires a Coordinator. Scheme, Store, Origin and Fetcher are required.
type Options struct {
	Scheme     cache.Scheme
	Store      cache.Store
	Origin     *url.URL
	Fetcher    Fetcher
	Registry   *Registry
	Attempts   int
	RetryDelay time.Duration
	Logger     *logrus.Logger
	Metrics    *Metrics
	Sleep      SleepFunc
}

// Coordinator performs deduplicated, retried, atomically published fills.
type Coordinator struct {
	scheme   cache.Scheme
	store    cache.Store
	origin   string
	fetcher  Fetcher
	registry *Registry
	attempts int
	delay    time.Duration
	logger   *logrus.Logger
	metrics  *Metrics
	sleep    SleepFunc
}

// NewCoordinator validates opts and fills in defaults: three attempts when
// Attempts is unset, 10s when RetryDelay is negative and a private Registry
// when none is injected.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("origin fetcher is required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin base url is required")
	}
	if opts.Scheme.Extension() == "" {
		return nil, errors.New("object naming scheme is required")
	}

	c := &Coordinator{
		scheme:   opts.Scheme,
		store:    opts.Store,
		origin:   strings.TrimRight(opts.Origin.String(), "/"),
		fetcher:  opts.Fetcher,
		registry: opts.Registry,
		attempts: opts.Attempts,
		delay:    opts.RetryDelay,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		sleep:    opts.Sleep,
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	if c.delay < 0 {
		c.delay = defaultRetryDelay
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c, nil
}

// Registry exposes the in-flight registry for diagnostics.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// OriginURL returns origin base + key path.
func (c *Coordinator) OriginURL(key cache.Key) string {
	return c.origin + key.Path()
}

// InFlight reports whether a fill for key is currently running.
func (c *Coordinator) InFlight(key cache.Key) bool {
	return c.registry.Contains(c.OriginURL(key))
}

// EnsureCached makes sure the object named by raw is published locally.
// It returns nil when the object is (now) on disk, ErrIneligible for names
// outside the scheme, ErrDuplicate when another fill holds the object, and a
// *FetchError once all attempts are exhausted. Safe for concurrent use.
func (c *Coordinator) EnsureCached(ctx context.Context, raw string) error {
	key, ok := c.scheme.Parse(raw)
	if !ok {
		c.logger.WithFields(logrus.Fields{"action": "fill", "path": raw}).Trace("fill_skip_ineligible")
		c.metrics.observeOutcome(outcomeIneligible)
		return ErrIneligible
	}

	originURL := c.OriginURL(key)
	fields := logging.FetchFields(key.Name(), originURL)

	if !c.registry.TryAcquire(originURL) {
		c.logger.WithFields(fields).Debug("fill_duplicate_ignored")
		c.metrics.observeOutcome(outcomeDuplicate)
		return ErrDuplicate
	}
	defer c.registry.Release(originURL)

	c.metrics.trackInFlight(1)
	defer c.metrics.trackInFlight(-1)

	if _, err := c.store.Stat(key); err == nil {
		c.logger.WithFields(fields).Debug("fill_skip_present")
		c.metrics.observeOutcome(outcomePresent)
		return nil
	}

	started := time.Now()
	err := c.fill(ctx, key, originURL, fields)
	c.metrics.observeDuration(time.Since(started).Seconds())
	if err != nil {
		c.metrics.observeOutcome(outcomeFailed)
		fields["error"] = err.Error()
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		c.logger.WithFields(fields).Error("fill_failed")
		return err
	}
	c.metrics.observeOutcome(outcomeSuccess)
	return nil
}

func (c *Coordinator) fill(ctx context.Context, key cache.Key, originURL string, fields logrus.Fields) error {
	if err := c.store.Prepare(key); err != nil {
		return &FetchError{URL: originURL, Attempts: 0, Err: err}
	}

	var lastErr error
	attempt := 0
	for attempt < c.attempts {
		attempt++
		started := time.Now()
		entry, err := c.attemptOnce(ctx, key, originURL)
		c.metrics.observeAttempt(err)
		if err == nil {
			c.metrics.observeBytes(entry.SizeBytes)
			c.logger.WithFields(fields).WithFields(logrus.Fields{
				"attempt":    attempt,
				"bytes":      entry.SizeBytes,
				"elapsed_ms": time.Since(started).Milliseconds(),
			}).Info("fill_saved")
			return nil
		}

		lastErr = err
		c.logger.WithFields(fields).WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      c.attempts,
			"error":   err.Error(),
		}).Warn("fill_attempt_failed")

		if attempt < c.attempts {
			if sleepErr := c.sleep(ctx, c.delay); sleepErr != nil {
				lastErr = fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
				break
			}
		}
	}
	return &FetchError{URL: originURL, Attempts: attempt, Err: lastErr}
}

// attemptOnce stages a sibling temp file, fetches the object and publishes
// it with a rename. The staging file is removed on every failure path.
func (c *Coordinator) attemptOnce(ctx context.Context, key cache.Key, originURL string) (*cache.Entry, error) {
	staged, err := c.store.Stage(key)
	if err != nil {
		return nil, err
	}
	defer staged.Discard()

	body, err := c.fetcher.Fetch(ctx, originURL)
	if err != nil {
		return nil, err
	}
	if _, err := staged.CopyFrom(ctx, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("write staging file: %w", err)
	}
	return staged.Commit()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
