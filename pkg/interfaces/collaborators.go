package interfaces

import (
	"context"

	"github.com/arbiterhq/arbiter/pkg/model"
)

// Segment is one diarized, speaker-labeled span of a recording. Offsets
// are seconds from the start of the recording.
type Segment struct {
	Speaker     string
	StartOffset float64
	EndOffset   float64
}

// Diarizer segments raw audio into speaker-labeled spans. Failures are
// fatal to a pipeline run since no record is meaningful without speaker
// segmentation.
type Diarizer interface {
	Diarize(ctx context.Context, audio []byte, sampleRate int) ([]Segment, error)
}

// Transcriber converts one audio segment to text. It may return empty
// text for silence.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error)
}

// VerdictResolver determines the winning speaker from a rendered
// transcript. Unavailability is reported by wrapping
// model.ErrCollaboratorUnavailable; callers proceed without a verdict.
type VerdictResolver interface {
	Resolve(ctx context.Context, transcript string, speakers []string) (*model.Verdict, error)
}

// TitleGenerator produces a short human-readable title for a transcript.
// Never required for pipeline completion.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, transcript string) (string, error)
}
