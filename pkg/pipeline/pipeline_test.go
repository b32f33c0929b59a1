package pipeline_test

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/arbiterhq/arbiter/pkg/interfaces"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/pipeline"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/transport"
)

// Mock collaborators

type mockDiarizer struct {
	segments []interfaces.Segment
	err      error
}

func (m *mockDiarizer) Diarize(ctx context.Context, audio []byte, sampleRate int) ([]interfaces.Segment, error) {
	return m.segments, m.err
}

// orderedTranscriber returns canned texts in call order. The pipeline
// feeds segments chronologically, so call order matches segment order.
type orderedTranscriber struct {
	texts []string
	errAt int // 1-based call index that fails; 0 disables
	calls int
}

func (m *orderedTranscriber) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	m.calls++
	if m.errAt > 0 && m.calls == m.errAt {
		return "", goerr.Wrap(model.ErrCollaboratorUnavailable, "transcription backend down")
	}
	if m.calls <= len(m.texts) {
		return m.texts[m.calls-1], nil
	}
	return "", nil
}

type mockResolver struct {
	verdict *model.Verdict
	err     error
	called  bool
}

func (m *mockResolver) Resolve(ctx context.Context, transcript string, speakers []string) (*model.Verdict, error) {
	m.called = true
	return m.verdict, m.err
}

type mockTitler struct {
	title string
	err   error
}

func (m *mockTitler) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	return m.title, m.err
}

type mockSyncer struct {
	outcome transport.Outcome
	called  bool
}

func (m *mockSyncer) Send(ctx context.Context, rec *model.Record, audio []byte) transport.Outcome {
	m.called = true
	return m.outcome
}

// pcm builds a LINEAR16 mono buffer of the given duration.
func pcm(seconds float64, sampleRate int) []byte {
	n := int(seconds * float64(sampleRate))
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(i%251))
	}
	return buf
}

func twoSpeakerSegments() []interfaces.Segment {
	return []interfaces.Segment{
		{Speaker: "SPEAKER_00", StartOffset: 0.0, EndOffset: 4.8},
		{Speaker: "SPEAKER_01", StartOffset: 5.2, EndOffset: 9.5},
	}
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	diarizer := &mockDiarizer{segments: twoSpeakerSegments()}
	transcriber := &orderedTranscriber{texts: []string{"solar is cheaper now", "only with subsidies"}}
	resolver := &mockResolver{verdict: &model.Verdict{Winner: "SPEAKER_01", Confidence: 75, Reasoning: "stronger sourcing"}}
	titler := &mockTitler{title: "Solar Economics"}
	syncer := &mockSyncer{outcome: transport.Acked(false)}

	p := pipeline.New(st, diarizer, transcriber,
		pipeline.WithResolver(resolver),
		pipeline.WithTitler(titler),
		pipeline.WithSyncer(syncer),
	)

	startedAt := time.Date(2025, 11, 12, 18, 29, 45, 0, time.UTC)
	result, err := p.Run(ctx, pipeline.Capture{
		Audio:      pcm(10, 16000),
		SampleRate: 16000,
		StartedAt:  startedAt,
	})
	gt.NoError(t, err)

	rec := result.Record
	gt.Equal(t, rec.ID.String(), "20251112_182945")
	gt.Equal(t, rec.Title, "Solar Economics")
	gt.Equal(t, rec.Winner(), "SPEAKER_01")
	gt.Equal(t, rec.Verdict.Confidence, 75)
	gt.Equal(t, len(rec.Speakers), 2)
	gt.Equal(t, rec.Speakers["SPEAKER_00"].Utterances[0].StartOffset, 0.0)
	gt.Equal(t, rec.Speakers["SPEAKER_01"].Utterances[0].StartOffset, 5.2)
	gt.Equal(t, rec.Speakers["SPEAKER_00"].WordCount, 4)
	gt.S(t, rec.TranscriptText).Contains("SPEAKER_00: solar is cheaper now")
	gt.S(t, rec.TranscriptText).Contains("SPEAKER_01: only with subsidies")

	gt.True(t, syncer.called)
	gt.Equal(t, result.Sync.Status, transport.StatusAcked)

	// The record is durable before sync reports anything.
	stored, err := st.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.Equal(t, stored.ID, rec.ID)
}

func TestRunWithoutCollaborators(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	p := pipeline.New(st,
		&mockDiarizer{segments: twoSpeakerSegments()},
		&orderedTranscriber{texts: []string{"a", "b"}},
	)

	result, err := p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000})
	gt.NoError(t, err)
	gt.True(t, result.Record.Verdict == nil)
	gt.Equal(t, result.Record.Title, "")
	gt.Equal(t, result.Record.Winner(), model.WinnerUndetermined)
	gt.Equal(t, result.Sync.Status, transport.Status(""))
}

func TestRunDegradesWhenVerdictFails(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	resolver := &mockResolver{err: goerr.Wrap(model.ErrCollaboratorUnavailable, "api down")}
	titler := &mockTitler{err: goerr.Wrap(model.ErrCollaboratorUnavailable, "api down")}

	p := pipeline.New(st,
		&mockDiarizer{segments: twoSpeakerSegments()},
		&orderedTranscriber{texts: []string{"a", "b"}},
		pipeline.WithResolver(resolver),
		pipeline.WithTitler(titler),
	)

	result, err := p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000})
	gt.NoError(t, err)
	gt.True(t, resolver.called)
	gt.True(t, result.Record.Verdict == nil)
	gt.Equal(t, result.Record.Title, "")

	// Still persisted.
	gt.True(t, st.Exists(result.Record.ID))
}

func TestRunFailsOnDiarizationError(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := store.Open(ctx, root)
	gt.NoError(t, err)

	p := pipeline.New(st,
		&mockDiarizer{err: goerr.Wrap(model.ErrCollaboratorUnavailable, "speech api down")},
		&orderedTranscriber{},
	)

	startedAt := time.Date(2025, 11, 12, 18, 29, 45, 0, time.UTC)
	_, err = p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000, StartedAt: startedAt})
	gt.Error(t, err)

	stage, ok := pipeline.FailedStage(err)
	gt.True(t, ok)
	gt.Equal(t, stage, pipeline.StageDiarization)

	// No record is visible, but the raw audio is retained for retry.
	gt.A(t, st.List(ctx, store.ListOptions{})).Length(0)
	_, statErr := os.Stat(filepath.Join(root, ".pending", "20251112_182945.wav"))
	gt.NoError(t, statErr)
}

func TestRunFailsWhenNoSpeakersDetected(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	p := pipeline.New(st, &mockDiarizer{segments: nil}, &orderedTranscriber{})

	_, err = p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000})
	gt.Error(t, err)
	stage, ok := pipeline.FailedStage(err)
	gt.True(t, ok)
	gt.Equal(t, stage, pipeline.StageDiarization)
}

func TestRunKeepsEmptyUtteranceOnTranscriptionFailure(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	transcriber := &orderedTranscriber{texts: []string{"solar is cheaper now", "unused"}, errAt: 2}
	p := pipeline.New(st, &mockDiarizer{segments: twoSpeakerSegments()}, transcriber)

	result, err := p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000})
	gt.NoError(t, err)

	sp := result.Record.Speakers["SPEAKER_01"]
	gt.A(t, sp.Utterances).Length(1)
	gt.Equal(t, sp.Utterances[0].Text, "")
	gt.Equal(t, sp.WordCount, 0)

	// The failed span still appears in the transcript with its offset.
	gt.S(t, result.Record.TranscriptText).Contains("SPEAKER_01: \n")
}

func TestRunAllocatesSuffixOnSameSecondCollision(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	p := pipeline.New(st, &mockDiarizer{segments: twoSpeakerSegments()}, &orderedTranscriber{texts: []string{"a", "b"}})

	startedAt := time.Date(2025, 11, 12, 18, 29, 45, 0, time.UTC)
	capture := pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000, StartedAt: startedAt}

	first, err := p.Run(ctx, capture)
	gt.NoError(t, err)
	gt.Equal(t, first.Record.ID.String(), "20251112_182945")

	second, err := p.Run(ctx, capture)
	gt.NoError(t, err)
	gt.Equal(t, second.Record.ID.String(), "20251112_182945_2")

	third, err := p.Run(ctx, capture)
	gt.NoError(t, err)
	gt.Equal(t, third.Record.ID.String(), "20251112_182945_3")
}

func TestRunSyncUnreachableDoesNotFail(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	syncer := &mockSyncer{outcome: transport.Unreachable("connection refused")}
	p := pipeline.New(st,
		&mockDiarizer{segments: twoSpeakerSegments()},
		&orderedTranscriber{texts: []string{"a", "b"}},
		pipeline.WithSyncer(syncer),
	)

	result, err := p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000})
	gt.NoError(t, err)
	gt.Equal(t, result.Sync.Status, transport.StatusUnreachable)
	gt.True(t, st.Exists(result.Record.ID))
}

func TestRunRejectsEmptyCapture(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	p := pipeline.New(st, &mockDiarizer{}, &orderedTranscriber{})

	_, err = p.Run(ctx, pipeline.Capture{SampleRate: 16000})
	gt.Error(t, err)
	stage, ok := pipeline.FailedStage(err)
	gt.True(t, ok)
	gt.Equal(t, stage, pipeline.StageCapture)

	_, err = p.Run(ctx, pipeline.Capture{Audio: pcm(1, 16000)})
	gt.Error(t, err)
	stage, ok = pipeline.FailedStage(err)
	gt.True(t, ok)
	gt.Equal(t, stage, pipeline.StageCapture)
}

func TestRunRetainsAudioOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := store.Open(ctx, root)
	gt.NoError(t, err)

	startedAt := time.Date(2025, 11, 12, 18, 29, 45, 0, time.UTC)

	// Occupy the record's target path with a plain file so the publish
	// rename fails.
	blocker := filepath.Join(root, "arguments", "20251112_182945")
	gt.NoError(t, os.WriteFile(blocker, nil, 0o644))

	p := pipeline.New(st, &mockDiarizer{segments: twoSpeakerSegments()}, &orderedTranscriber{texts: []string{"a", "b"}})
	_, err = p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000, StartedAt: startedAt})
	gt.Error(t, err)

	stage, ok := pipeline.FailedStage(err)
	gt.True(t, ok)
	gt.Equal(t, stage, pipeline.StagePersist)
	gt.True(t, errors.Is(err, model.ErrStoreFailure))

	_, statErr := os.Stat(filepath.Join(root, ".pending", "20251112_182945.wav"))
	gt.NoError(t, statErr)
}

func TestStageHookObservesProgress(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	gt.NoError(t, err)

	var stages []pipeline.Stage
	p := pipeline.New(st,
		&mockDiarizer{segments: twoSpeakerSegments()},
		&orderedTranscriber{texts: []string{"a", "b"}},
		pipeline.WithStageHook(func(s pipeline.Stage) { stages = append(stages, s) }),
	)

	_, err = p.Run(ctx, pipeline.Capture{Audio: pcm(10, 16000), SampleRate: 16000})
	gt.NoError(t, err)
	gt.Equal(t, stages, []pipeline.Stage{
		pipeline.StageCapture,
		pipeline.StageDiarization,
		pipeline.StageTranscription,
		pipeline.StageFactCheck,
		pipeline.StagePersist,
	})
}
