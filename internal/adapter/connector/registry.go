package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

// ErrUnknownConnector is returned for sync/reset requests naming a connector
// that was never registered. Caller-visible.
var ErrUnknownConnector = errors.New("unknown connector")

// Registry holds named connectors and fans syncs out across them. A failing
// or slow connector never blocks the others: each task runs in its own
// goroutine under its own timeout, and errors are captured per connector.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]*Connector
	order      []string

	workers int
	log     *logrus.Entry
}

// NewRegistry builds an empty registry. workers bounds SyncAll fan-out;
// values below 1 mean one goroutine per connector.
func NewRegistry(workers int, log *logrus.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]*Connector),
		workers:    workers,
		log:        log.WithField("component", "registry"),
	}
}

// BuildRegistry maps feed configuration onto source implementations and
// returns a populated registry. The daemon and riskctl both go through this,
// so a CLI sync hits exactly the sources the daemon would poll.
func BuildRegistry(cfgs []domain.FeedConfig, workers int, log *logrus.Logger) *Registry {
	registry := NewRegistry(workers, log)
	client := &http.Client{}

	for _, fc := range cfgs {
		var source ports.FeedSource
		switch {
		case fc.ID == "cisa-kev":
			source = NewKEVSource(client)
		case fc.ID == "nvd":
			source = NewNVDSource(client, fc.APIKey)
		case fc.ID == "alienvault-otx":
			source = NewOTXSource(client, fc.APIKey)
		case strings.HasPrefix(fc.ID, "taxii-"):
			// basic auth credentials carried as user:password
			username, password, _ := strings.Cut(fc.APIKey, ":")
			source = NewTAXIISource(client, fc.ID, fc.URL, username, password)
		default:
			if fc.URL == "" {
				log.WithField("connector", fc.ID).Warn("connector has no URL, skipping")
				continue
			}
			source = NewBlocklistSource(client, fc.ID, fc.URL, fc.FilterTags, domain.SeverityMedium)
		}
		registry.Register(New(source, fc, log))
	}

	return registry
}

// Register adds a connector under its ID. Re-registering replaces it.
func (r *Registry) Register(c *Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[c.ID()]; !exists {
		r.order = append(r.order, c.ID())
	}
	r.connectors[c.ID()] = c
}

// Get returns a registered connector by ID.
func (r *Registry) Get(id string) (*Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, id)
	}
	return c, nil
}

// IDs lists connector IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SyncOne syncs a single connector by ID.
func (r *Registry) SyncOne(ctx context.Context, id string) ([]domain.Indicator, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Sync(ctx)
}

// SyncAll fans out syncs across all connectors with a bounded worker pool and
// aggregates per-connector results. Cancelling ctx stops new tasks from being
// dispatched; in-flight syncs finish under their own timeouts.
func (r *Registry) SyncAll(ctx context.Context) []ports.SyncBatch {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	conns := make([]*Connector, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, r.connectors[id])
	}
	r.mu.RUnlock()

	workers := r.workers
	if workers < 1 || workers > len(conns) {
		workers = len(conns)
	}

	tasks := make(chan *Connector)
	results := make(chan ports.SyncBatch, len(conns))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range tasks {
				indicators, err := c.Sync(ctx)
				if err != nil {
					r.log.WithError(err).WithField("connector", c.ID()).
						Warn("connector sync failed")
				}
				results <- ports.SyncBatch{Connector: c.ID(), Indicators: indicators, Err: err}
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, c := range conns {
		select {
		case tasks <- c:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()
	close(results)

	out := make([]ports.SyncBatch, 0, dispatched)
	for res := range results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Connector < out[j].Connector })
	return out
}

// HealthSnapshot reports each connector's rolling health.
func (r *Registry) HealthSnapshot() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Health, len(r.connectors))
	for id, c := range r.connectors {
		out[id] = c.Health()
	}
	return out
}

// Reset closes the breaker of one connector.
func (r *Registry) Reset(id string) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	c.Reset()
	return nil
}
