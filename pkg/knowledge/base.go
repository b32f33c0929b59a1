package knowledge

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/model"
)

// Fact is one curated statement with an optional stance toward the
// topics it covers.
type Fact struct {
	Text     string `json:"text"`
	Source   string `json:"source,omitempty"`
	URL      string `json:"url,omitempty"`
	Stance   string `json:"stance,omitempty"` // supporting | contradicting | neutral
	Category string `json:"category,omitempty"`
}

const (
	StanceSupporting    = "supporting"
	StanceContradicting = "contradicting"
)

// Evidence is a fact matched against a query, with its similarity score.
type Evidence struct {
	Text       string  `json:"text"`
	Source     string  `json:"source,omitempty"`
	URL        string  `json:"url,omitempty"`
	Stance     string  `json:"stance,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Base is a semantic-search knowledge base over curated facts, used to
// ground the verdict stage with supporting and contradicting evidence.
// Fact embeddings are computed once on first use.
type Base struct {
	gemini adapter.Gemini
	facts  []Fact

	mu   sync.Mutex
	vecs [][]float32
}

// New builds a knowledge base over an in-memory fact set.
func New(gemini adapter.Gemini, facts []Fact) *Base {
	return &Base{gemini: gemini, facts: facts}
}

// Load reads a facts file of the form {"facts": [...]}. A missing file
// yields an empty base rather than an error.
func Load(gemini adapter.Gemini, path string) (*Base, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(gemini, nil), nil
		}
		return nil, goerr.Wrap(err, "failed to read knowledge base", goerr.V("path", path))
	}

	var doc struct {
		Facts []Fact `json:"facts"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse knowledge base", goerr.V("path", path))
	}

	return New(gemini, doc.Facts), nil
}

// Size returns the number of loaded facts.
func (b *Base) Size() int {
	return len(b.facts)
}

func (b *Base) prime(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.vecs != nil || len(b.facts) == 0 {
		return nil
	}

	vecs := make([][]float32, 0, len(b.facts))
	for _, fact := range b.facts {
		vec, err := b.embed(ctx, fact.Text)
		if err != nil {
			return err
		}
		vecs = append(vecs, vec)
	}
	b.vecs = vecs
	return nil
}

func (b *Base) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.gemini.Embedding(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(model.ErrCollaboratorUnavailable, "embedding request failed")
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.Wrap(model.ErrCollaboratorUnavailable, "empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

// Search returns up to topK facts whose cosine similarity to the query
// meets the threshold, most similar first.
func (b *Base) Search(ctx context.Context, query string, topK int, threshold float64) ([]Evidence, error) {
	if len(b.facts) == 0 {
		return nil, nil
	}
	if err := b.prime(ctx); err != nil {
		return nil, err
	}

	queryVec, err := b.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches := make([]Evidence, 0, len(b.facts))
	for i, fact := range b.facts {
		score := cosine(queryVec, b.vecs[i])
		if score < threshold {
			continue
		}
		matches = append(matches, Evidence{
			Text:       fact.Text,
			Source:     fact.Source,
			URL:        fact.URL,
			Stance:     fact.Stance,
			Similarity: score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Categorize splits the facts relevant to a query into supporting and
// contradicting evidence. Facts without an explicit stance count as
// supporting.
func (b *Base) Categorize(ctx context.Context, query string, topK int) (supporting, contradicting []Evidence, err error) {
	matches, err := b.Search(ctx, query, topK, 0.3)
	if err != nil {
		return nil, nil, err
	}

	for _, ev := range matches {
		if ev.Stance == StanceContradicting {
			contradicting = append(contradicting, ev)
		} else {
			supporting = append(supporting, ev)
		}
	}
	return supporting, contradicting, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
