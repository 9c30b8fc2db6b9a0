package jobs_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/taskhubio/taskhub/internal/domain/job"
	"github.com/taskhubio/taskhub/internal/jobs"
)

func TestDecodePayloadUserWelcome(t *testing.T) {
	payload := jobs.UserWelcomePayload{
		UserID:      "user-1",
		Email:       "a@x.com",
		RequestedAt: time.Now().UTC(),
	}

	raw, err := payload.JSON()
	if err != nil {
		t.Fatalf("JSON returned error: %v", err)
	}

	j := job.New(job.CreateRequest{Type: jobs.TypeUserWelcome, Payload: raw})

	decoded, err := jobs.DecodePayload(j)
	if err != nil {
		t.Fatalf("DecodePayload returned error: %v", err)
	}

	p, ok := decoded.(jobs.UserWelcomePayload)
	if !ok {
		t.Fatalf("decoded payload has type %T", decoded)
	}

	if p.UserID != "user-1" || p.Email != "a@x.com" {
		t.Fatalf("decoded payload mismatch: %+v", p)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		payload json.RawMessage
		wantErr error
	}{
		{
			name:    "unknown_type",
			jobType: "no.such.type",
			payload: json.RawMessage(`{}`),
			wantErr: jobs.ErrInvalidJobType,
		},
		{
			name:    "empty_payload",
			jobType: jobs.TypeTaskDigest,
			payload: nil,
			wantErr: jobs.ErrInvalidJobPayload,
		},
		{
			name:    "bad_json",
			jobType: jobs.TypeTaskDigest,
			payload: json.RawMessage(`{not json`),
			wantErr: jobs.ErrInvalidJobPayload,
		},
		{
			name:    "missing_fields",
			jobType: jobs.TypeUserWelcome,
			payload: json.RawMessage(`{"userId":""}`),
			wantErr: jobs.ErrInvalidJobPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := job.Job{Type: tt.jobType, Payload: tt.payload}

			_, err := jobs.DecodePayload(j)

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got err %v, want %v", err, tt.wantErr)
			}
		})
	}
}
