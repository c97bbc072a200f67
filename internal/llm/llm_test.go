package llm

import (
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"bare object", `{"enriched_description": "x", "estimated_complexity": 5}`, false},
		{"fenced", "Here you go:\n```json\n{\"enriched_description\": \"x\", \"estimated_complexity\": 5}\n```", false},
		{"prose around", "Sure. {\"enriched_description\": \"x\", \"estimated_complexity\": 5} Done.", false},
		{"no object", "I cannot answer that.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Enrichment
			err := decodeJSON(tt.input, &e)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (e.EnrichedDescription != "x" || e.EstimatedComplexity != 5) {
				t.Errorf("decoded %+v", e)
			}
		})
	}
}

func TestHashVectorDeterministic(t *testing.T) {
	a := textToHashVector("implement JWT login", hashDimensions)
	b := textToHashVector("implement JWT login", hashDimensions)
	if len(a) != hashDimensions {
		t.Fatalf("vector length = %d, want %d", len(a), hashDimensions)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("hash vector not deterministic at %d", i)
		}
	}
}

func TestHashVectorNormalized(t *testing.T) {
	v := textToHashVector("some nontrivial input text", hashDimensions)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("norm = %f, want ~1", norm)
	}
}

func TestHashVectorSimilarTextsCloser(t *testing.T) {
	a := textToHashVector("implement JWT login endpoint", hashDimensions)
	b := textToHashVector("implement JWT login endpoint with bearer token", hashDimensions)
	c := textToHashVector("tune database indexes for slow queries", hashDimensions)

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}
	if dot(a, b) <= dot(a, c) {
		t.Errorf("similar texts not closer: sim(a,b)=%f sim(a,c)=%f", dot(a, b), dot(a, c))
	}
}
