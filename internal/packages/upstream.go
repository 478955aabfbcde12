package packages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	expirable "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"

	"github.com/badgesmith/badgesmith/internal/config"
	"github.com/badgesmith/badgesmith/internal/logging"
	"go.uber.org/zap"
)

const (
	userAgent = "badgesmith/1.0"
	// acquireWait bounds how long a saturated provider pool is waited on
	// before degrading, favoring latency over queueing.
	acquireWait = 200 * time.Millisecond
	// validatorTTL bounds how long conditional-GET validators and their
	// last known answer are retained.
	validatorTTL   = 24 * time.Hour
	maxBodyBytes   = 4 << 20
	initialBackoff = 200 * time.Millisecond
)

// versionsEntry is one cached upstream answer with its validators.
type versionsEntry struct {
	etag         string
	lastModified string
	versions     []string
}

// upstream is the shared HTTP machinery behind both providers: bounded
// concurrency, per-key breakers, conditional GETs, and bounded retry.
type upstream struct {
	provider   string
	client     *http.Client
	breakers   *BreakerSet
	sem        *semaphore.Weighted
	cache      *expirable.LRU[string, *versionsEntry]
	maxRetries int
}

func newUpstream(provider string, cfg config.UpstreamConfig) *upstream {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &upstream{
		provider:   provider,
		client:     &http.Client{Timeout: cfg.Timeout},
		breakers:   NewBreakerSet(cfg.FailureThreshold, cfg.BreakerCooldown),
		sem:        semaphore.NewWeighted(maxConcurrent),
		cache:      expirable.NewLRU[string, *versionsEntry](cacheSize, nil, validatorTTL),
		maxRetries: cfg.MaxRetries,
	}
}

// fetchVersions resolves the raw version list for key from url. The second
// return is true when the data was replayed from cache after a failure.
func (u *upstream) fetchVersions(ctx context.Context, key, url, token string, parse func([]byte) ([]string, error)) ([]string, bool, error) {
	cached, hasCached := u.cache.Get(key)

	acquireCtx, cancel := context.WithTimeout(ctx, acquireWait)
	err := u.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		return u.degrade(key, cached, hasCached, fmt.Errorf("provider pool saturated"))
	}
	defer u.sem.Release(1)

	breaker := u.breakers.Get(key)
	if ok, berr := breaker.Allow(); !ok {
		return u.degrade(key, cached, hasCached, berr)
	}

	var (
		notModified bool
		notFound    bool
		fresh       *versionsEntry
	)

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if hasCached {
			if cached.etag != "" {
				req.Header.Set("If-None-Match", cached.etag)
			}
			if cached.lastModified != "" {
				req.Header.Set("If-Modified-Since", cached.lastModified)
			}
		}

		resp, err := u.client.Do(req)
		if err != nil {
			return err // transient network error, retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return err
			}
			versions, err := parse(body)
			if err != nil {
				return backoff.Permanent(err)
			}
			fresh = &versionsEntry{
				etag:         resp.Header.Get("ETag"),
				lastModified: resp.Header.Get("Last-Modified"),
				versions:     versions,
			}
			return nil

		case resp.StatusCode == http.StatusNotModified:
			notModified = true
			return nil

		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("upstream %s returned %d", u.provider, resp.StatusCode)

		default:
			return backoff.Permanent(fmt.Errorf("upstream %s returned %d", u.provider, resp.StatusCode))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	retries := u.maxRetries
	if retries <= 0 {
		retries = 3
	}
	err = backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		breaker.RecordFailure()
		logging.Warn("upstream fetch failed",
			zap.String("provider", u.provider),
			zap.String("key", key),
			zap.Error(err),
		)
		return u.degrade(key, cached, hasCached, err)
	}

	breaker.RecordSuccess()

	switch {
	case notFound:
		return nil, false, ErrPackageNotFound
	case notModified && hasCached:
		return cached.versions, false, nil
	case fresh != nil:
		u.cache.Add(key, fresh)
		return fresh.versions, false, nil
	default:
		// 304 without a cache entry; validators were not sent, so this is
		// an upstream protocol violation.
		return nil, false, ErrUnavailable
	}
}

// degrade serves the last cached answer as stale, or Unavailable when the
// cache has nothing for the key.
func (u *upstream) degrade(key string, cached *versionsEntry, hasCached bool, cause error) ([]string, bool, error) {
	if hasCached {
		logging.Debug("serving stale upstream data",
			zap.String("provider", u.provider),
			zap.String("key", key),
			zap.Error(cause),
		)
		return cached.versions, true, nil
	}
	return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}

// BreakerStates exposes breaker states for metrics.
func (u *upstream) BreakerStates() map[string]string {
	return u.breakers.States()
}
