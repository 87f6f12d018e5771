package ports

// AttributionFeatures are the similarity signals an attribution model scores.
// All values are 0-1.
type AttributionFeatures struct {
	InfrastructureOverlap float64
	TechniqueSimilarity   float64
	TimingCorrelation     float64
}

// ScoringProvider is the pluggable stand-in for a trained attribution model.
// The default implementation is deterministic (fixed-weight linear blend); a
// real model can be injected without touching the correlation engine.
type ScoringProvider interface {
	// AttributionConfidence scores how strongly the features support
	// attributing a cluster to a known actor. Result is in [0,1].
	AttributionConfidence(f AttributionFeatures) float64

	// AnalysisConfidence reports the provider's own confidence in its
	// outputs, folded into score confidence levels. Result is in [0,1].
	AnalysisConfidence() float64
}
