package llm

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is a scripted Client for tests.
type FakeClient struct {
	mu sync.Mutex

	// EnrichFunc overrides EnrichTask when set.
	EnrichFunc func(req EnrichRequest) (*Enrichment, error)
	// TrajectoryFunc overrides AnalyzeAgentTrajectory when set.
	TrajectoryFunc func(req TrajectoryRequest) (*TrajectoryAnalysis, error)
	// CoherenceFunc overrides AnalyzeSystemCoherence when set.
	CoherenceFunc func(summaries []AgentSummary, goals string) (*CoherenceAnalysis, error)
	// EmbedFunc overrides Embed when set; the default is a hash embedding.
	EmbedFunc func(text string) ([]float32, error)

	// EnrichCalls counts EnrichTask invocations.
	EnrichCalls int
}

// EnrichTask returns the scripted enrichment or echoes the raw description.
func (f *FakeClient) EnrichTask(_ context.Context, req EnrichRequest) (*Enrichment, error) {
	f.mu.Lock()
	f.EnrichCalls++
	fn := f.EnrichFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &Enrichment{
		EnrichedDescription: "enriched: " + req.RawDescription,
		EstimatedComplexity: 10,
	}, nil
}

// AnalyzeAgentTrajectory returns the scripted analysis or a healthy default.
func (f *FakeClient) AnalyzeAgentTrajectory(_ context.Context, req TrajectoryRequest) (*TrajectoryAnalysis, error) {
	if f.TrajectoryFunc != nil {
		return f.TrajectoryFunc(req)
	}
	return &TrajectoryAnalysis{
		TrajectoryAligned: true,
		AlignmentScore:    1.0,
		TrajectorySummary: "working as expected",
	}, nil
}

// AnalyzeSystemCoherence returns the scripted analysis or a coherent default.
func (f *FakeClient) AnalyzeSystemCoherence(_ context.Context, summaries []AgentSummary, goals string) (*CoherenceAnalysis, error) {
	if f.CoherenceFunc != nil {
		return f.CoherenceFunc(summaries, goals)
	}
	return &CoherenceAnalysis{
		CoherenceScore: 1.0,
		SystemSummary:  fmt.Sprintf("%d agents coherent", len(summaries)),
	}, nil
}

// Embed returns the scripted vector or a deterministic hash embedding.
func (f *FakeClient) Embed(_ context.Context, text string) ([]float32, error) {
	if f.EmbedFunc != nil {
		return f.EmbedFunc(text)
	}
	return textToHashVector(text, hashDimensions), nil
}

// Verify FakeClient implements Client at compile time.
var _ Client = (*FakeClient)(nil)
