package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/arbiterhq/arbiter/pkg/model"
)

func TestNewRecordID(t *testing.T) {
	startedAt := time.Date(2025, 11, 12, 18, 29, 45, 0, time.UTC)
	id := model.NewRecordID(startedAt)
	gt.Equal(t, id.String(), "20251112_182945")

	gt.Equal(t, id.WithSuffix(2).String(), "20251112_182945_2")
	gt.Equal(t, id.WithSuffix(3).String(), "20251112_182945_3")
}

func testRecord() *model.Record {
	return &model.Record{
		ID:              "20251112_182945",
		CreatedAt:       time.Date(2025, 11, 12, 18, 29, 45, 0, time.UTC),
		DurationSeconds: 12.5,
		Speakers: map[string]*model.Speaker{
			"SPEAKER_00": {Utterances: []model.Utterance{{StartOffset: 0.0, Text: "solar is cheaper now"}}, WordCount: 4},
			"SPEAKER_01": {Utterances: []model.Utterance{{StartOffset: 5.2, Text: "only with subsidies"}}, WordCount: 3},
		},
		RawAudioRef: "audio.wav",
	}
}

func TestRecordValidate(t *testing.T) {
	t.Run("valid record passes", func(t *testing.T) {
		gt.NoError(t, testRecord().Validate())
	})

	t.Run("missing ID", func(t *testing.T) {
		rec := testRecord()
		rec.ID = ""
		gt.Error(t, rec.Validate())
	})

	t.Run("zero duration", func(t *testing.T) {
		rec := testRecord()
		rec.DurationSeconds = 0
		gt.Error(t, rec.Validate())
	})

	t.Run("no speakers", func(t *testing.T) {
		rec := testRecord()
		rec.Speakers = nil
		gt.Error(t, rec.Validate())
	})

	t.Run("winner must be a known speaker", func(t *testing.T) {
		rec := testRecord()
		rec.Verdict = &model.Verdict{Winner: "SPEAKER_09", Confidence: 80}
		gt.Error(t, rec.Validate())

		rec.Verdict.Winner = "SPEAKER_01"
		gt.NoError(t, rec.Validate())

		rec.Verdict.Winner = model.WinnerUndetermined
		gt.NoError(t, rec.Validate())
	})

	t.Run("confidence range", func(t *testing.T) {
		rec := testRecord()
		rec.Verdict = &model.Verdict{Winner: "SPEAKER_00", Confidence: 101}
		gt.Error(t, rec.Validate())

		rec.Verdict.Confidence = -1
		gt.Error(t, rec.Validate())

		rec.Verdict.Confidence = 100
		gt.NoError(t, rec.Validate())
	})
}

func TestRecordWinner(t *testing.T) {
	rec := testRecord()
	gt.Equal(t, rec.Winner(), model.WinnerUndetermined)

	rec.Verdict = &model.Verdict{Winner: "SPEAKER_01", Confidence: 75}
	gt.Equal(t, rec.Winner(), "SPEAKER_01")
}

func TestSpeakerLabels(t *testing.T) {
	rec := testRecord()
	gt.Equal(t, rec.SpeakerLabels(), []string{"SPEAKER_00", "SPEAKER_01"})
}

func TestRenderTranscript(t *testing.T) {
	speakers := map[string]*model.Speaker{
		"SPEAKER_01": {Utterances: []model.Utterance{
			{StartOffset: 5.2, Text: "only with subsidies"},
			{StartOffset: 15.0, Text: ""},
		}},
		"SPEAKER_00": {Utterances: []model.Utterance{
			{StartOffset: 0.0, Text: "solar is cheaper now"},
			{StartOffset: 10.8, Text: "not since 2020"},
		}},
	}

	got := model.RenderTranscript(speakers)
	want := "[   0.0s] SPEAKER_00: solar is cheaper now\n" +
		"[   5.2s] SPEAKER_01: only with subsidies\n" +
		"[  10.8s] SPEAKER_00: not since 2020\n" +
		"[  15.0s] SPEAKER_01: \n"
	gt.Equal(t, got, want)
}

func TestNewIndexEntry(t *testing.T) {
	rec := testRecord()
	rec.Title = "Solar Economics"
	rec.Verdict = &model.Verdict{Winner: "SPEAKER_00", Confidence: 62}

	e := model.NewIndexEntry(rec)
	gt.Equal(t, e.ID, rec.ID)
	gt.Equal(t, e.Title, "Solar Economics")
	gt.Equal(t, e.Winner, "SPEAKER_00")
	gt.Equal(t, e.Confidence, 62)
	gt.Equal(t, e.NumSpeakers, 2)

	rec.Verdict = nil
	e = model.NewIndexEntry(rec)
	gt.Equal(t, e.Winner, model.WinnerUndetermined)
	gt.Equal(t, e.Confidence, 0)
}

func TestCountWords(t *testing.T) {
	gt.Equal(t, model.CountWords("solar is cheaper now"), 4)
	gt.Equal(t, model.CountWords("  spaced   out  "), 2)
	gt.Equal(t, model.CountWords(""), 0)
}
