package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrDuplicateRecord         = goerr.New("record already exists")
	ErrRecordNotFound          = goerr.New("record not found")
	ErrCollaboratorUnavailable = goerr.New("collaborator unavailable")
	ErrStoreFailure            = goerr.New("store failure")
	ErrInvalidRecord           = goerr.New("invalid record")
)

// RecordID identifies a record by its recording start time at second
// resolution, e.g. "20251112_182945". Same-second collisions are
// disambiguated with a numeric suffix.
type RecordID string

const recordIDLayout = "20060102_150405"

// NewRecordID derives a record ID from the recording start time.
func NewRecordID(startedAt time.Time) RecordID {
	return RecordID(startedAt.Format(recordIDLayout))
}

// WithSuffix returns the n-th disambiguated ID for a same-second
// collision. n starts at 2, yielding e.g. "20251112_182945_2".
func (id RecordID) WithSuffix(n int) RecordID {
	return RecordID(fmt.Sprintf("%s_%d", id, n))
}

func (id RecordID) String() string {
	return string(id)
}

// Utterance is one diarized, transcribed span of speech. Text may be
// empty when transcription of the span failed.
type Utterance struct {
	StartOffset float64 `json:"start_offset"`
	Text        string  `json:"text"`
}

// Speaker holds the ordered utterances attributed to one diarization label.
type Speaker struct {
	Utterances []Utterance `json:"utterances"`
	WordCount  int         `json:"word_count"`
}

// WinnerUndetermined marks a verdict without a clear winning speaker,
// and is also reported when the verdict is absent entirely.
const WinnerUndetermined = "undetermined"

// Verdict is the fact-check outcome for one record.
type Verdict struct {
	Winner     string `json:"winner"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Record is one finalized, immutable stored debate. Once committed to a
// store it is never mutated, except for a one-time backfill of Title.
type Record struct {
	ID              RecordID            `json:"id"`
	Title           string              `json:"title,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	DurationSeconds float64             `json:"duration_seconds"`
	Speakers        map[string]*Speaker `json:"speakers"`
	Verdict         *Verdict            `json:"verdict,omitempty"`
	RawAudioRef     string              `json:"raw_audio_ref"`
	TranscriptText  string              `json:"transcript_text,omitempty"`
}

// SpeakerLabels returns the speaker label set in a stable order.
func (r *Record) SpeakerLabels() []string {
	labels := make([]string, 0, len(r.Speakers))
	for label := range r.Speakers {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Winner reports the winning speaker label, or WinnerUndetermined when
// the verdict is absent.
func (r *Record) Winner() string {
	if r.Verdict == nil || r.Verdict.Winner == "" {
		return WinnerUndetermined
	}
	return r.Verdict.Winner
}

// Validate checks the structural invariants required before persistence.
func (r *Record) Validate() error {
	if r.ID == "" {
		return goerr.Wrap(ErrInvalidRecord, "record ID is empty")
	}
	if r.CreatedAt.IsZero() {
		return goerr.Wrap(ErrInvalidRecord, "created_at is not set", goerr.V("id", r.ID))
	}
	if r.DurationSeconds <= 0 {
		return goerr.Wrap(ErrInvalidRecord, "duration must be positive", goerr.V("id", r.ID))
	}
	if len(r.Speakers) == 0 {
		return goerr.Wrap(ErrInvalidRecord, "record has no speakers", goerr.V("id", r.ID))
	}
	if r.Verdict != nil {
		if r.Verdict.Confidence < 0 || r.Verdict.Confidence > 100 {
			return goerr.Wrap(ErrInvalidRecord, "verdict confidence out of range",
				goerr.V("id", r.ID), goerr.V("confidence", r.Verdict.Confidence))
		}
		if r.Verdict.Winner != WinnerUndetermined {
			if _, ok := r.Speakers[r.Verdict.Winner]; !ok {
				return goerr.Wrap(ErrInvalidRecord, "verdict winner is not a known speaker",
					goerr.V("id", r.ID), goerr.V("winner", r.Verdict.Winner))
			}
		}
	}
	return nil
}

// IndexEntry is the lightweight projection of a Record kept in the
// store-wide index for fast listing.
type IndexEntry struct {
	ID          RecordID  `json:"id"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Winner      string    `json:"winner"`
	Confidence  int       `json:"confidence"`
	NumSpeakers int       `json:"num_speakers"`
}

// NewIndexEntry projects a record into its index form.
func NewIndexEntry(r *Record) IndexEntry {
	e := IndexEntry{
		ID:          r.ID,
		Title:       r.Title,
		CreatedAt:   r.CreatedAt,
		Winner:      r.Winner(),
		NumSpeakers: len(r.Speakers),
	}
	if r.Verdict != nil {
		e.Confidence = r.Verdict.Confidence
	}
	return e
}

// CountWords counts whitespace-separated words in a transcript fragment.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
