package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/pkg/interfaces"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/transport"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

// Stage names the pipeline step that is running or that failed.
type Stage string

const (
	StageCapture       Stage = "capture"
	StageDiarization   Stage = "diarization"
	StageTranscription Stage = "transcription"
	StageFactCheck     Stage = "fact_check"
	StagePersist       Stage = "persist"
	StageSync          Stage = "sync"
)

// StageError is the terminal failure of a pipeline run. Everything
// upstream of persistence is recoverable: the raw audio is retained so
// the run can be retried from capture.
type StageError struct {
	Stage Stage
	cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.cause)
}

func (e *StageError) Unwrap() error {
	return e.cause
}

// FailedStage extracts the failing stage from a pipeline error.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Capture is one recorded audio buffer plus its capture metadata.
// Audio is LINEAR16 mono PCM.
type Capture struct {
	Audio           []byte
	SampleRate      int
	DurationSeconds float64
	StartedAt       time.Time
}

// Syncer replicates a persisted record to the archive device.
type Syncer interface {
	Send(ctx context.Context, rec *model.Record, audio []byte) transport.Outcome
}

// Result is the successful outcome of a run. Sync is best effort; its
// status is zero when no syncer is configured.
type Result struct {
	Record *model.Record
	Sync   transport.Outcome
}

// Pipeline converts one captured audio buffer into exactly one persisted
// record. Local durability is synchronous; replication is a best-effort
// tail that never affects the run's outcome.
type Pipeline struct {
	store       *store.Store
	diarizer    interfaces.Diarizer
	transcriber interfaces.Transcriber
	resolver    interfaces.VerdictResolver
	titler      interfaces.TitleGenerator
	syncer      Syncer

	verdictTimeout time.Duration
	titleTimeout   time.Duration
	stageHook      func(Stage)
}

type Option func(*Pipeline)

// WithResolver enables the fact-check stage. Without it records are
// persisted with no verdict.
func WithResolver(r interfaces.VerdictResolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// WithTitler enables title generation alongside the fact-check stage.
func WithTitler(t interfaces.TitleGenerator) Option {
	return func(p *Pipeline) {
		p.titler = t
	}
}

// WithSyncer enables best-effort replication after persistence.
func WithSyncer(s Syncer) Option {
	return func(p *Pipeline) {
		p.syncer = s
	}
}

// WithVerdictTimeout bounds the fact-check collaborator call.
func WithVerdictTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.verdictTimeout = d
	}
}

// WithTitleTimeout bounds the title collaborator call.
func WithTitleTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.titleTimeout = d
	}
}

// WithStageHook registers a callback invoked as each stage starts.
func WithStageHook(hook func(Stage)) Option {
	return func(p *Pipeline) {
		p.stageHook = hook
	}
}

func New(st *store.Store, diarizer interfaces.Diarizer, transcriber interfaces.Transcriber, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          st,
		diarizer:       diarizer,
		transcriber:    transcriber,
		verdictTimeout: 60 * time.Second,
		titleTimeout:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) enter(stage Stage) {
	if p.stageHook != nil {
		p.stageHook(stage)
	}
}

func (p *Pipeline) fail(ctx context.Context, stage Stage, id model.RecordID, c Capture, cause error) error {
	if len(c.Audio) > 0 && id != "" {
		if err := p.store.RetainAudio(ctx, id, c.Audio); err != nil {
			logging.From(ctx).Warn("failed to retain raw audio", "id", id, "error", err)
		}
	}
	return &StageError{Stage: stage, cause: cause}
}

// Run drives one capture through diarization, transcription, fact-check,
// and persistence. The fact-check and title stages may fail without
// failing the run; diarization and persistence failures are terminal.
func (p *Pipeline) Run(ctx context.Context, c Capture) (*Result, error) {
	logger := logging.From(ctx)

	p.enter(StageCapture)
	if len(c.Audio) == 0 {
		return nil, &StageError{Stage: StageCapture, cause: goerr.New("capture has no audio")}
	}
	if c.SampleRate <= 0 {
		return nil, &StageError{Stage: StageCapture, cause: goerr.New("capture has no sample rate")}
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = pcmDuration(len(c.Audio), c.SampleRate)
	}

	id := p.allocateID(c.StartedAt)
	logger.Info("pipeline run started", "id", id, "duration_sec", c.DurationSeconds)

	p.enter(StageDiarization)
	segments, err := p.diarizer.Diarize(ctx, c.Audio, c.SampleRate)
	if err != nil {
		return nil, p.fail(ctx, StageDiarization, id, c, err)
	}
	if len(segments) == 0 {
		return nil, p.fail(ctx, StageDiarization, id, c, goerr.New("diarization detected no speakers"))
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartOffset < segments[j].StartOffset
	})

	p.enter(StageTranscription)
	speakers := p.transcribeSegments(ctx, c, segments)

	transcript := model.RenderTranscript(speakers)

	p.enter(StageFactCheck)
	labels := make([]string, 0, len(speakers))
	for label := range speakers {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var vd *model.Verdict
	var title string
	g := new(errgroup.Group)
	if p.resolver != nil {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(ctx, p.verdictTimeout)
			defer cancel()
			v, err := p.resolver.Resolve(vctx, transcript, labels)
			if err != nil {
				// A stored transcript beats no record at all.
				logger.Warn("verdict unavailable, persisting without one", "id", id, "error", err)
				return nil
			}
			vd = v
			return nil
		})
	}
	if p.titler != nil {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, p.titleTimeout)
			defer cancel()
			t, err := p.titler.GenerateTitle(tctx, transcript)
			if err != nil {
				logger.Warn("title unavailable, persisting untitled", "id", id, "error", err)
				return nil
			}
			title = t
			return nil
		})
	}
	_ = g.Wait()

	rec := &model.Record{
		ID:              id,
		Title:           title,
		CreatedAt:       c.StartedAt,
		DurationSeconds: c.DurationSeconds,
		Speakers:        speakers,
		Verdict:         vd,
		RawAudioRef:     "audio.wav",
		TranscriptText:  transcript,
	}

	p.enter(StagePersist)
	if err := p.store.Put(ctx, rec, c.Audio); err != nil {
		return nil, p.fail(ctx, StagePersist, id, c, err)
	}
	logger.Info("record persisted", "id", id, "winner", rec.Winner())

	result := &Result{Record: rec}
	if p.syncer != nil {
		p.enter(StageSync)
		result.Sync = p.syncer.Send(ctx, rec, c.Audio)
		switch result.Sync.Status {
		case transport.StatusAcked:
			logger.Info("record synced to archive", "id", id, "duplicate", result.Sync.Duplicate)
		case transport.StatusUnreachable:
			logger.Info("archive offline, record kept local", "id", id)
		case transport.StatusFailed:
			logger.Warn("sync delivery failed", "id", id, "reason", result.Sync.Reason)
		}
	}

	return result, nil
}

// transcribeSegments fills per-speaker utterances. A failed segment
// renders as empty text rather than failing the whole recording.
func (p *Pipeline) transcribeSegments(ctx context.Context, c Capture, segments []interfaces.Segment) map[string]*model.Speaker {
	speakers := map[string]*model.Speaker{}
	for _, seg := range segments {
		chunk := slicePCM(c.Audio, c.SampleRate, seg.StartOffset, seg.EndOffset)

		text, err := p.transcriber.Transcribe(ctx, chunk, c.SampleRate)
		if err != nil {
			logging.From(ctx).Warn("segment transcription failed, keeping empty utterance",
				"speaker", seg.Speaker, "start_sec", seg.StartOffset, "error", err)
			text = ""
		}

		sp, ok := speakers[seg.Speaker]
		if !ok {
			sp = &model.Speaker{}
			speakers[seg.Speaker] = sp
		}
		sp.Utterances = append(sp.Utterances, model.Utterance{
			StartOffset: seg.StartOffset,
			Text:        text,
		})
		sp.WordCount += model.CountWords(text)
	}
	return speakers
}

// allocateID resolves same-second collisions with a deterministic
// numeric suffix against the local store.
func (p *Pipeline) allocateID(startedAt time.Time) model.RecordID {
	id := model.NewRecordID(startedAt)
	if !p.store.Exists(id) {
		return id
	}
	for n := 2; ; n++ {
		if candidate := id.WithSuffix(n); !p.store.Exists(candidate) {
			return candidate
		}
	}
}

// slicePCM cuts a time window out of a LINEAR16 mono buffer, clamped to
// the buffer and aligned to sample boundaries.
func slicePCM(audio []byte, sampleRate int, startSec, endSec float64) []byte {
	const bytesPerSample = 2
	toOffset := func(sec float64) int {
		off := int(sec*float64(sampleRate)) * bytesPerSample
		if off < 0 {
			off = 0
		}
		if off > len(audio) {
			off = len(audio)
		}
		return off - off%bytesPerSample
	}

	start, end := toOffset(startSec), toOffset(endSec)
	if start >= end {
		return nil
	}
	return audio[start:end]
}

func pcmDuration(byteLen, sampleRate int) float64 {
	return float64(byteLen) / float64(sampleRate*2)
}
