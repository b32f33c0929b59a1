package verdict

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"slices"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/knowledge"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

//go:embed prompt/verdict.md
var verdictPromptRaw string

var verdictPromptTmpl = template.Must(template.New("verdict").Parse(verdictPromptRaw))

// Resolver determines the winning speaker of a transcript via Gemini,
// optionally grounding the judgment with knowledge base evidence.
type Resolver struct {
	gemini adapter.Gemini
	kb     *knowledge.Base

	evidenceTopK int
}

type ResolverOption func(*Resolver)

// WithKnowledgeBase attaches curated evidence to verdict prompts.
func WithKnowledgeBase(kb *knowledge.Base) ResolverOption {
	return func(r *Resolver) {
		r.kb = kb
	}
}

func NewResolver(gemini adapter.Gemini, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		gemini:       gemini,
		evidenceTopK: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve judges the transcript and returns a verdict whose winner is
// guaranteed to be one of the given speaker labels or "undetermined".
func (r *Resolver) Resolve(ctx context.Context, transcript string, speakers []string) (*model.Verdict, error) {
	var supporting, contradicting []knowledge.Evidence
	if r.kb != nil && r.kb.Size() > 0 {
		var err error
		supporting, contradicting, err = r.kb.Categorize(ctx, transcript, r.evidenceTopK)
		if err != nil {
			// Evidence is an enrichment; judge from the transcript alone.
			logging.From(ctx).Warn("knowledge base lookup failed, judging without evidence", "error", err)
			supporting, contradicting = nil, nil
		}
	}

	var buf bytes.Buffer
	if err := verdictPromptTmpl.Execute(&buf, map[string]any{
		"Transcript":    transcript,
		"Speakers":      speakers,
		"Supporting":    supporting,
		"Contradicting": contradicting,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute verdict prompt template")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"winner": {
					Type:        genai.TypeString,
					Description: "Winning speaker label, or 'undetermined'",
				},
				"confidence": {
					Type:        genai.TypeInteger,
					Description: "Confidence in the winner, 0-100",
				},
				"reasoning": {
					Type:        genai.TypeString,
					Description: "Explanation of the decision",
				},
			},
			Required: []string{"winner", "confidence", "reasoning"},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := r.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(model.ErrCollaboratorUnavailable, "verdict generation failed")
	}

	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	var out struct {
		Winner     string `json:"winner"`
		Confidence int    `json:"confidence"`
		Reasoning  string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, goerr.Wrap(model.ErrCollaboratorUnavailable, "verdict response is not valid JSON")
	}

	v := &model.Verdict{
		Winner:     out.Winner,
		Confidence: min(100, max(0, out.Confidence)),
		Reasoning:  out.Reasoning,
	}
	if v.Winner != model.WinnerUndetermined && !slices.Contains(speakers, v.Winner) {
		logging.From(ctx).Warn("verdict named an unknown speaker, marking undetermined", "winner", v.Winner)
		v.Winner = model.WinnerUndetermined
	}

	return v, nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.Wrap(model.ErrCollaboratorUnavailable, "empty response from gemini")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text, nil
		}
	}
	return "", goerr.Wrap(model.ErrCollaboratorUnavailable, "no text part in gemini response")
}
