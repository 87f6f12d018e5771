package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

func registryWith(t *testing.T, sources ...*stubSource) *Registry {
	t.Helper()
	reg := NewRegistry(2, testLogger())
	for _, src := range sources {
		reg.Register(newTestConnector(src, domain.FeedConfig{ID: src.name, Enabled: true}))
	}
	return reg
}

func TestSyncAllAggregatesPerConnector(t *testing.T) {
	good := &stubSource{
		name:    "feed-a",
		fetchFn: func(int) ([]byte, error) { return []byte("payload"), nil },
	}
	bad := &stubSource{
		name:    "feed-b",
		fetchFn: func(int) ([]byte, error) { return nil, errors.New("boom") },
	}
	reg := registryWith(t, good, bad)

	batches := reg.SyncAll(context.Background())
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	// sorted by connector id
	if batches[0].Connector != "feed-a" || batches[1].Connector != "feed-b" {
		t.Fatalf("batch order = %s, %s", batches[0].Connector, batches[1].Connector)
	}
	if batches[0].Err != nil || len(batches[0].Indicators) != 1 {
		t.Errorf("feed-a batch = %+v", batches[0])
	}
	if batches[1].Err == nil {
		t.Error("feed-b failure should be carried in its batch")
	}
}

func TestSyncOneUnknownConnector(t *testing.T) {
	reg := registryWith(t)
	if _, err := reg.SyncOne(context.Background(), "nope"); !errors.Is(err, ErrUnknownConnector) {
		t.Errorf("expected ErrUnknownConnector, got %v", err)
	}
}

func TestRegistryResetUnknownConnector(t *testing.T) {
	reg := registryWith(t)
	if err := reg.Reset("nope"); !errors.Is(err, ErrUnknownConnector) {
		t.Errorf("expected ErrUnknownConnector, got %v", err)
	}
}

func TestRegistryHealthSnapshot(t *testing.T) {
	good := &stubSource{
		name:    "feed-a",
		fetchFn: func(int) ([]byte, error) { return []byte("payload"), nil },
	}
	off := &stubSource{
		name:    "feed-b",
		fetchFn: func(int) ([]byte, error) { return []byte("payload"), nil },
	}
	reg := NewRegistry(0, testLogger())
	reg.Register(newTestConnector(good, domain.FeedConfig{ID: "feed-a", Enabled: true}))
	reg.Register(newTestConnector(off, domain.FeedConfig{ID: "feed-b", Enabled: false}))

	reg.SyncAll(context.Background())

	snapshot := reg.HealthSnapshot()
	if snapshot["feed-a"] != HealthHealthy {
		t.Errorf("feed-a health = %s, want healthy", snapshot["feed-a"])
	}
	if snapshot["feed-b"] != HealthDisabled {
		t.Errorf("feed-b health = %s, want disabled", snapshot["feed-b"])
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	first := &stubSource{
		name:    "feed-a",
		fetchFn: func(int) ([]byte, error) { return nil, errors.New("boom") },
	}
	second := &stubSource{
		name:    "feed-a",
		fetchFn: func(int) ([]byte, error) { return []byte("payload"), nil },
	}
	reg := registryWith(t, first)
	reg.Register(newTestConnector(second, domain.FeedConfig{ID: "feed-a", Enabled: true}))

	if got := reg.IDs(); len(got) != 1 {
		t.Fatalf("ids = %v, want single feed-a", got)
	}
	indicators, err := reg.SyncOne(context.Background(), "feed-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(indicators) != 1 {
		t.Errorf("got %d indicators from replacement connector, want 1", len(indicators))
	}
}

func TestBuildRegistryMapsSources(t *testing.T) {
	cfgs := []domain.FeedConfig{
		{ID: "cisa-kev", Enabled: true},
		{ID: "taxii-partner", URL: "https://taxii.example.com/taxii2/", APIKey: "analyst:s3cret", Enabled: true},
		{ID: "team-blocklist", URL: "https://feeds.example.com/block.txt", Enabled: true},
		{ID: "no-url-feed", Enabled: true},
	}
	reg := BuildRegistry(cfgs, 2, testLogger())

	ids := reg.IDs()
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want cisa-kev, taxii-partner and team-blocklist", ids)
	}
	if _, err := reg.Get("no-url-feed"); err == nil {
		t.Error("feed without a URL should have been skipped")
	}

	taxii, err := reg.Get("taxii-partner")
	if err != nil {
		t.Fatal(err)
	}
	src, ok := taxii.source.(*TAXIISource)
	if !ok {
		t.Fatalf("taxii-partner source = %T, want *TAXIISource", taxii.source)
	}
	if got := src.headers["Authorization"]; got != "Basic YW5hbHlzdDpzM2NyZXQ=" {
		t.Errorf("Authorization = %q, want basic auth for analyst:s3cret", got)
	}

	kev, err := reg.Get("cisa-kev")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := kev.source.(*KEVSource); !ok {
		t.Errorf("cisa-kev source = %T, want *KEVSource", kev.source)
	}
}
