package adapter_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/arbiterhq/arbiter/pkg/adapter"
)

func TestNewGeminiRequiresModels(t *testing.T) {
	ctx := context.Background()

	_, err := adapter.NewGemini(ctx, "test-project", "us-central1")
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("generative model is required")

	_, err = adapter.NewGemini(ctx, "test-project", "us-central1",
		adapter.WithGenerativeModel("gemini-2.5-flash"))
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("embedding model is required")
}
