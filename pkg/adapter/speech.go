package adapter

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arbiterhq/arbiter/pkg/interfaces"
	"github.com/arbiterhq/arbiter/pkg/model"
)

// SpeechClient implements the diarization and transcription capabilities
// on top of the Cloud Speech-to-Text API. Audio is expected as LINEAR16
// mono PCM, the capture device's recording format.
type SpeechClient struct {
	client *speech.Client

	language    string
	minSpeakers int32
	maxSpeakers int32
}

type SpeechOption func(*SpeechClient)

func WithLanguage(lang string) SpeechOption {
	return func(s *SpeechClient) {
		s.language = lang
	}
}

func WithSpeakerRange(minCount, maxCount int) SpeechOption {
	return func(s *SpeechClient) {
		s.minSpeakers = int32(minCount)
		s.maxSpeakers = int32(maxCount)
	}
}

func NewSpeech(ctx context.Context, opts ...SpeechOption) (*SpeechClient, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create speech client")
	}

	s := &SpeechClient{
		client:      client,
		language:    "en-US",
		minSpeakers: 1,
		maxSpeakers: 2,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *SpeechClient) Close() error {
	return s.client.Close()
}

// Diarize segments the recording into speaker-labeled spans using
// word-level speaker tags. Consecutive words with the same tag are
// merged into one segment.
func (s *SpeechClient) Diarize(ctx context.Context, audio []byte, sampleRate int) ([]interfaces.Segment, error) {
	resp, err := s.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               s.language,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: true,
				MinSpeakerCount:          s.minSpeakers,
				MaxSpeakerCount:          s.maxSpeakers,
			},
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, classifyRPCError(err, "diarization request failed")
	}

	// With diarization enabled, the final result carries the complete
	// word list with speaker tags.
	words := diarizedWords(resp)

	var segments []interfaces.Segment
	for _, w := range words {
		start := w.GetStartTime().AsDuration().Seconds()
		end := w.GetEndTime().AsDuration().Seconds()
		label := speakerLabel(w.GetSpeakerTag())

		if n := len(segments); n > 0 && segments[n-1].Speaker == label {
			segments[n-1].EndOffset = end
			continue
		}
		segments = append(segments, interfaces.Segment{
			Speaker:     label,
			StartOffset: start,
			EndOffset:   end,
		})
	}

	return segments, nil
}

// Transcribe converts one audio segment to text. Silence yields empty text.
func (s *SpeechClient) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	resp, err := s.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               s.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", classifyRPCError(err, "transcription request failed")
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

func diarizedWords(resp *speechpb.RecognizeResponse) []*speechpb.WordInfo {
	results := resp.GetResults()
	if len(results) == 0 {
		return nil
	}
	alts := results[len(results)-1].GetAlternatives()
	if len(alts) == 0 {
		return nil
	}
	return alts[0].GetWords()
}

// speakerLabel maps 1-based diarization tags to "SPEAKER_00" style labels.
func speakerLabel(tag int32) string {
	if tag < 1 {
		tag = 1
	}
	return fmt.Sprintf("SPEAKER_%02d", tag-1)
}

// classifyRPCError marks transient RPC failures as collaborator
// unavailability so the pipeline can degrade instead of crashing.
func classifyRPCError(err error, msg string) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Canceled:
			return goerr.Wrap(model.ErrCollaboratorUnavailable, msg, goerr.V("code", st.Code().String()))
		}
	}
	return goerr.Wrap(err, msg)
}
