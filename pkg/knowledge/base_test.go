package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/arbiterhq/arbiter/pkg/knowledge"
)

// mockGemini serves canned embeddings keyed by input text.
type mockGemini struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return nil, goerr.New("not used")
}

func (m *mockGemini) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[text]
	if !ok {
		vec = []float32{0, 0, 1}
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: vec}},
	}, nil
}

func testFacts() []knowledge.Fact {
	return []knowledge.Fact{
		{Text: "solar costs fell 80% since 2010", Source: "IEA", Stance: knowledge.StanceSupporting},
		{Text: "grid storage remains expensive", Source: "NREL", Stance: knowledge.StanceContradicting},
		{Text: "wind capacity doubled", Source: "IRENA"},
	}
}

func testVectors() map[string][]float32 {
	return map[string][]float32{
		"solar costs fell 80% since 2010": {1, 0, 0},
		"grid storage remains expensive":  {0.7, 0.7, 0},
		"wind capacity doubled":           {0, 1, 0},
		"is solar cheap now":              {1, 0.05, 0},
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{vectors: testVectors()}
	kb := knowledge.New(gemini, testFacts())

	matches, err := kb.Search(ctx, "is solar cheap now", 10, 0.3)
	gt.NoError(t, err)
	gt.A(t, matches).Length(2)
	gt.Equal(t, matches[0].Text, "solar costs fell 80% since 2010")
	gt.Equal(t, matches[1].Text, "grid storage remains expensive")
	gt.True(t, matches[0].Similarity >= matches[1].Similarity)
}

func TestSearchThresholdAndTopK(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{vectors: testVectors()}
	kb := knowledge.New(gemini, testFacts())

	// topK = 1 keeps only the best match.
	matches, err := kb.Search(ctx, "is solar cheap now", 1, 0.3)
	gt.NoError(t, err)
	gt.A(t, matches).Length(1)
	gt.Equal(t, matches[0].Text, "solar costs fell 80% since 2010")

	// A high threshold keeps only the near-identical vector.
	matches, err = kb.Search(ctx, "is solar cheap now", 10, 0.99)
	gt.NoError(t, err)
	gt.A(t, matches).Length(1)
}

func TestEmbeddingsComputedOnce(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{vectors: testVectors()}
	kb := knowledge.New(gemini, testFacts())

	_, err := kb.Search(ctx, "is solar cheap now", 10, 0.3)
	gt.NoError(t, err)
	afterFirst := gemini.calls // 3 facts + 1 query

	_, err = kb.Search(ctx, "is solar cheap now", 10, 0.3)
	gt.NoError(t, err)
	gt.Equal(t, gemini.calls, afterFirst+1) // only the query is re-embedded
}

func TestCategorize(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{vectors: testVectors()}
	kb := knowledge.New(gemini, testFacts())

	supporting, contradicting, err := kb.Categorize(ctx, "is solar cheap now", 10)
	gt.NoError(t, err)
	gt.A(t, supporting).Length(1)
	gt.Equal(t, supporting[0].Text, "solar costs fell 80% since 2010")
	gt.A(t, contradicting).Length(1)
	gt.Equal(t, contradicting[0].Text, "grid storage remains expensive")
}

func TestSearchEmptyBase(t *testing.T) {
	ctx := context.Background()
	kb := knowledge.New(&mockGemini{}, nil)
	gt.Equal(t, kb.Size(), 0)

	matches, err := kb.Search(ctx, "anything", 10, 0.3)
	gt.NoError(t, err)
	gt.A(t, matches).Length(0)
}

func TestSearchPropagatesEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{err: goerr.New("quota exceeded")}
	kb := knowledge.New(gemini, testFacts())

	_, err := kb.Search(ctx, "query", 10, 0.3)
	gt.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facts.json")
	doc := `{"facts": [{"text": "solar costs fell", "source": "IEA", "stance": "supporting"}]}`
	gt.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	kb, err := knowledge.Load(&mockGemini{}, path)
	gt.NoError(t, err)
	gt.Equal(t, kb.Size(), 1)
}

func TestLoadMissingFileYieldsEmptyBase(t *testing.T) {
	kb, err := knowledge.Load(&mockGemini{}, filepath.Join(t.TempDir(), "nope.json"))
	gt.NoError(t, err)
	gt.Equal(t, kb.Size(), 0)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.json")
	gt.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := knowledge.Load(&mockGemini{}, path)
	gt.Error(t, err)
}
