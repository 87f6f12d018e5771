package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
	"github.com/hive-corporation/riskwatch/internal/metrics"
)

// Health is the rolling health state of a connector.
type Health string

const (
	HealthHealthy  Health = "healthy"  // 0 consecutive errors
	HealthWarning  Health = "warning"  // under 3 consecutive errors
	HealthError    Health = "error"    // 3 or more consecutive errors
	HealthDisabled Health = "disabled"
)

var (
	// ErrConnectorDisabled is returned when Sync is called on a disabled connector.
	ErrConnectorDisabled = errors.New("connector is disabled")

	// ErrBreakerOpen is returned when the circuit breaker refuses a sync.
	// The connector stays in this state until Reset is called.
	ErrBreakerOpen = errors.New("connector circuit breaker is open")

	// ErrFeedUnavailable wraps a fetch failure that survived all retries.
	ErrFeedUnavailable = errors.New("feed unavailable")
)

// transientError marks a fetch failure worth retrying (5xx, 429, network).
// Non-transient failures become backoff.Permanent immediately.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the connector retry loop will back off and retry it.
func Transient(err error) error { return &transientError{err: err} }

// Connector wraps a FeedSource with the shared feed contract: enabled gate,
// minimum inter-sync interval, exponential-backoff retries, circuit breaker,
// and per-indicator validation and normalization. Concrete sources implement
// only FetchRaw and Parse.
type Connector struct {
	source  ports.FeedSource
	cfg     domain.FeedConfig
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry

	mu              sync.Mutex
	lastSync        time.Time
	consecutiveErrs int
	lastErr         error

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a connector around a source. The config is normalized in place.
func New(source ports.FeedSource, cfg domain.FeedConfig, log *logrus.Logger) *Connector {
	cfg.Normalize()
	if cfg.ID == "" {
		cfg.ID = source.Name()
	}

	c := &Connector{
		source: source,
		cfg:    cfg,
		log:    log.WithField("connector", cfg.ID),
		now:    time.Now,
		sleep:  sleepContext,
	}
	c.breaker = c.newBreaker()
	return c
}

func (c *Connector) newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        c.cfg.ID,
		MaxRequests: 1,
		Interval:    0, // don't reset counts automatically
		// The breaker is soft: once open it stays open until Reset is
		// called, so the timeout is effectively infinite.
		Timeout: 365 * 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(c.cfg.MaxErrors)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
				Warn("circuit breaker state change")
			if to == gobreaker.StateOpen {
				metrics.RecordBreakerOpen(name)
			}
		},
	})
}

// ID returns the connector identifier.
func (c *Connector) ID() string { return c.cfg.ID }

// Config returns a copy of the connector's feed configuration.
func (c *Connector) Config() domain.FeedConfig { return c.cfg }

// SetEnabled flips the enabled gate.
func (c *Connector) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Enabled = enabled
}

// Reset closes the circuit breaker and zeroes the error counters. This is the
// only way out of the error health state short of disabling the connector.
func (c *Connector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrs = 0
	c.lastErr = nil
	c.breaker = c.newBreaker()
	c.log.Info("connector reset")
}

// Health reports the rolling health of the connector.
func (c *Connector) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.cfg.Enabled:
		return HealthDisabled
	case c.consecutiveErrs >= c.cfg.MaxErrors:
		return HealthError
	case c.consecutiveErrs > 0:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// LastError returns the most recent sync error, if any.
func (c *Connector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Sync fetches, parses, validates and normalizes one batch of indicators.
// Calls inside the polling interval block until the interval has elapsed.
func (c *Connector) Sync(ctx context.Context) ([]domain.Indicator, error) {
	c.mu.Lock()
	if !c.cfg.Enabled {
		c.mu.Unlock()
		metrics.RecordSync(c.cfg.ID, "skipped")
		return nil, ErrConnectorDisabled
	}
	wait := c.cfg.PollingInterval - c.now().Sub(c.lastSync)
	c.mu.Unlock()

	if wait > 0 {
		c.log.WithField("wait", wait.String()).Debug("rate limited, delaying sync")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	timer := metrics.StartSyncTimer(c.cfg.ID)
	defer timer.ObserveDuration()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchAndParse(ctx)
	})

	c.mu.Lock()
	c.lastSync = c.now()
	if err != nil {
		c.consecutiveErrs++
		c.lastErr = err
	} else {
		c.consecutiveErrs = 0
		c.lastErr = nil
	}
	c.mu.Unlock()

	if err != nil {
		metrics.RecordSync(c.cfg.ID, "error")
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.RecordFeedError(c.cfg.ID, "breaker_open")
			return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, c.cfg.ID)
		}
		return nil, err
	}

	indicators := c.normalize(result.([]domain.Indicator))
	metrics.RecordSync(c.cfg.ID, "ok")
	metrics.RecordIndicators(c.cfg.ID, len(indicators))
	c.log.WithField("indicators", len(indicators)).Info("sync complete")
	return indicators, nil
}

// fetchAndParse runs the retried fetch plus parse under the configured timeout.
func (c *Connector) fetchAndParse(ctx context.Context) ([]domain.Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := c.fetchWithRetry(ctx)
	if err != nil {
		metrics.RecordFeedError(c.cfg.ID, "fetch")
		return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, c.cfg.ID, err)
	}

	indicators, err := c.source.Parse(raw)
	if err != nil {
		metrics.RecordFeedError(c.cfg.ID, "parse")
		return nil, fmt.Errorf("parse %s: %w", c.cfg.ID, err)
	}
	return indicators, nil
}

func (c *Connector) fetchWithRetry(ctx context.Context) ([]byte, error) {
	var raw []byte

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.RetryDelay
	expBackoff.Multiplier = 2.0
	expBackoff.RandomizationFactor = 0
	expBackoff.MaxElapsedTime = 0 // bounded by retry count and context only

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(c.cfg.RetryAttempts)), ctx)

	operation := func() error {
		var err error
		raw, err = c.source.FetchRaw(ctx)
		if err == nil {
			return nil
		}
		var te *transientError
		if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
			c.log.WithError(err).Warn("transient fetch failure, will retry")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return raw, nil
}

// normalize validates and finalizes parsed indicators, dropping invalid ones.
// A bad indicator never fails the batch.
func (c *Connector) normalize(in []domain.Indicator) []domain.Indicator {
	now := c.now()
	out := make([]domain.Indicator, 0, len(in))

	for _, ind := range in {
		if ind.Source == "" {
			ind.Source = c.source.Name()
		}
		if !domain.ValidateValue(ind.Value, ind.Type) {
			metrics.RecordDropped(c.cfg.ID, "invalid_value")
			c.log.WithFields(logrus.Fields{"type": ind.Type, "value": ind.Value}).
				Debug("dropping invalid indicator")
			continue
		}
		if len(c.cfg.FilterTags) > 0 && !hasAnyTag(ind, c.cfg.FilterTags) {
			metrics.RecordDropped(c.cfg.ID, "filtered")
			continue
		}
		ind.Finalize(now)
		// a URL indicator also yields its host, so infrastructure
		// clustering can link it against feeds reporting the bare address
		out = append(out, domain.ExtractComponents(ind)...)
	}
	return out
}

func hasAnyTag(ind domain.Indicator, tags []string) bool {
	for _, t := range tags {
		if ind.HasTag(t) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
