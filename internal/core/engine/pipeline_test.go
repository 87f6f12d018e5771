package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hive-corporation/riskwatch/internal/adapter/repository"
	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

// fakeRegistry serves canned batches in place of live feed connectors.
type fakeRegistry struct {
	mu      sync.Mutex
	batches []ports.SyncBatch
	block   chan struct{}
}

func (f *fakeRegistry) SyncAll(ctx context.Context) []ports.SyncBatch {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func (f *fakeRegistry) SyncOne(ctx context.Context, id string) ([]domain.Indicator, error) {
	for _, b := range f.batches {
		if b.Connector == id {
			return b.Indicators, b.Err
		}
	}
	return nil, errors.New("unknown connector")
}

func newTestPipeline(feeds ports.FeedRegistry) (*Pipeline, *repository.MemoryRiskRepository, *repository.MemoryProcessingLog) {
	log := testLogger()
	risks := repository.NewMemoryRiskRepository()
	indicators := repository.NewMemoryIndicatorRepository()
	scores := repository.NewMemoryScoreRepository()
	clusters := repository.NewMemoryClusterRepository()
	procLog := repository.NewMemoryProcessingLog()

	pipeline := NewPipeline(
		feeds,
		NewRuleEngine(nil, log),
		NewLifecycle(risks, nil, nil, log),
		NewCorrelationEngine(clusters, nil, nil, log),
		NewScoringEngine(scores, nil, domain.OrganizationContext{}, log),
		risks,
		indicators,
		procLog,
		log,
	)
	return pipeline, risks, procLog
}

func syncedIndicator(value string, confidence int) domain.Indicator {
	ind := domain.Indicator{
		Type:       domain.Domain,
		Value:      value,
		Source:     "feed-a",
		Confidence: confidence,
	}
	ind.Finalize(time.Now())
	return ind
}

func TestPipelineCreatesRisksAboveFallbackFloor(t *testing.T) {
	feeds := &fakeRegistry{batches: []ports.SyncBatch{
		{Connector: "feed-a", Indicators: []domain.Indicator{
			syncedIndicator("evil.example.com", 70),
			syncedIndicator("benign-ish.example.com", 40),
		}},
	}}
	pipeline, risks, procLog := newTestPipeline(feeds)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if report.Synced != 2 || report.Created != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 2 synced, 1 created, 1 skipped", report)
	}
	if len(risks.All()) != 1 {
		t.Errorf("%d risks stored, want 1", len(risks.All()))
	}

	entries := procLog.Entries()
	if len(entries) != 2 {
		t.Fatalf("%d processing log entries, want 2", len(entries))
	}
}

func TestPipelineIngestIsIdempotent(t *testing.T) {
	feeds := &fakeRegistry{batches: []ports.SyncBatch{
		{Connector: "feed-a", Indicators: []domain.Indicator{
			syncedIndicator("evil.example.com", 70),
		}},
	}}
	pipeline, risks, _ := newTestPipeline(feeds)
	ctx := context.Background()

	if _, err := pipeline.Run(ctx); err != nil {
		t.Fatal(err)
	}
	second, err := pipeline.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if second.Created != 0 {
		t.Errorf("second run created %d risks, want 0", second.Created)
	}
	if second.Skipped != 1 {
		t.Errorf("unchanged sighting should be skipped, report = %+v", second)
	}
	all := risks.All()
	if len(all) != 1 {
		t.Fatalf("%d risks after two runs, want 1", len(all))
	}
	if len(all[0].IntelSources) != 1 {
		t.Errorf("duplicate sighting appended: %d sources", len(all[0].IntelSources))
	}
}

func TestPipelineMergeRaisesConfidence(t *testing.T) {
	feeds := &fakeRegistry{batches: []ports.SyncBatch{
		{Connector: "feed-a", Indicators: []domain.Indicator{
			syncedIndicator("evil.example.com", 70),
		}},
	}}
	pipeline, risks, _ := newTestPipeline(feeds)
	ctx := context.Background()

	if _, err := pipeline.Run(ctx); err != nil {
		t.Fatal(err)
	}

	feeds.mu.Lock()
	feeds.batches = []ports.SyncBatch{
		{Connector: "feed-a", Indicators: []domain.Indicator{
			syncedIndicator("evil.example.com", 90),
		}},
	}
	feeds.mu.Unlock()

	second, err := pipeline.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Updated != 1 {
		t.Errorf("higher-confidence resight should update, report = %+v", second)
	}

	all := risks.All()
	if all[0].ConfidenceScore != 0.90 {
		t.Errorf("confidence = %v, want raised to 0.90", all[0].ConfidenceScore)
	}
}

func TestPipelineRecordsConnectorErrors(t *testing.T) {
	feeds := &fakeRegistry{batches: []ports.SyncBatch{
		{Connector: "feed-a", Indicators: []domain.Indicator{syncedIndicator("evil.example.com", 70)}},
		{Connector: "feed-b", Err: errors.New("feed unavailable")},
	}}
	pipeline, _, _ := newTestPipeline(feeds)

	report, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// one connector down must not block the other
	if report.Created != 1 {
		t.Errorf("healthy connector should still create, report = %+v", report)
	}
	if report.ConnectorErrors["feed-b"] == "" {
		t.Error("failed connector missing from report")
	}
}

func TestPipelineSingleFlight(t *testing.T) {
	block := make(chan struct{})
	feeds := &fakeRegistry{block: block}
	pipeline, _, _ := newTestPipeline(feeds)

	done := make(chan error, 1)
	go func() {
		_, err := pipeline.Run(context.Background())
		done <- err
	}()

	// wait until the first run is inside SyncAll
	time.Sleep(20 * time.Millisecond)
	if _, err := pipeline.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("concurrent run should fail fast with ErrRunInProgress, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Errorf("first run failed: %v", err)
	}
}
