package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

const defaultSendTimeout = 15 * time.Second

// Sender delivers persisted records to a remote archive store over HTTP.
// Each delivery is one multipart request carrying the full record:
// metadata, rendered transcript, and the audio blob.
type Sender struct {
	client *resty.Client
}

type SenderOption func(*Sender)

// WithTimeout bounds each delivery attempt. After the timeout the
// attempt reports Unreachable instead of blocking the caller.
func WithTimeout(d time.Duration) SenderOption {
	return func(s *Sender) {
		s.client.SetTimeout(d)
	}
}

func NewSender(baseURL string, opts ...SenderOption) *Sender {
	s := &Sender{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultSendTimeout),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ackBody struct {
	Acked     bool   `json:"acked"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error,omitempty"`
}

// Send delivers one record. Connection failures and timeouts yield
// Unreachable; a duplicate on the receiving store is treated as Acked,
// since re-delivery after a dropped acknowledgment is expected.
func (s *Sender) Send(ctx context.Context, rec *model.Record, audio []byte) Outcome {
	metadata, err := json.Marshal(rec)
	if err != nil {
		return Failed(fmt.Sprintf("failed to marshal record: %v", err))
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"argument_id": rec.ID.String(),
		}).
		SetMultipartField("metadata", "metadata.json", "application/json", bytes.NewReader(metadata)).
		SetMultipartField("transcript", "transcript.txt", "text/plain", bytes.NewReader([]byte(rec.TranscriptText))).
		SetMultipartField("audio", "audio.wav", "application/octet-stream", bytes.NewReader(audio)).
		Post("/receive_results")
	if err != nil {
		logging.From(ctx).Info("archive device unreachable", "id", rec.ID, "error", err)
		return Unreachable(err.Error())
	}

	switch {
	case resp.IsSuccess():
		var ack ackBody
		if err := json.Unmarshal(resp.Body(), &ack); err != nil || !ack.Acked {
			return Failed(fmt.Sprintf("unexpected acknowledgment: %s", resp.Body()))
		}
		return Acked(ack.Duplicate)
	case resp.StatusCode() == http.StatusConflict:
		return Acked(true)
	default:
		return Failed(fmt.Sprintf("delivery rejected: status=%d body=%s", resp.StatusCode(), resp.Body()))
	}
}

// Exists probes whether the remote archive already holds a record. Used
// by the re-sync path to push only missing records.
func (s *Sender) Exists(ctx context.Context, id model.RecordID) (bool, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get("/arguments/" + id.String())
	if err != nil {
		return false, goerr.Wrap(err, "archive device unreachable", goerr.V("id", id))
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, goerr.New("unexpected status from archive",
			goerr.V("id", id), goerr.V("status", resp.StatusCode()))
	}
}
