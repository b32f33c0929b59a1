package verdict

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/model"
)

//go:embed prompt/title.md
var titlePromptRaw string

var titlePromptTmpl = template.Must(template.New("title").Parse(titlePromptRaw))

const maxTitleLen = 80

// Titler generates a short display title for a transcript.
type Titler struct {
	gemini adapter.Gemini
}

func NewTitler(gemini adapter.Gemini) *Titler {
	return &Titler{gemini: gemini}
}

func (t *Titler) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	var buf bytes.Buffer
	if err := titlePromptTmpl.Execute(&buf, map[string]any{
		"Transcript": transcript,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute title prompt template")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := t.gemini.GenerateContent(ctx, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return "", goerr.Wrap(model.ErrCollaboratorUnavailable, "title generation failed")
	}

	text, err := firstText(resp)
	if err != nil {
		return "", err
	}

	title := strings.Trim(strings.TrimSpace(text), `"'`)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	if title == "" {
		return "", goerr.Wrap(model.ErrCollaboratorUnavailable, "empty title from gemini")
	}

	return title, nil
}
