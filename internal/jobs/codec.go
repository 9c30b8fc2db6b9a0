package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskhubio/taskhub/internal/domain/job"
)

// DecodePayload unmarshals j.Payload into the typed payload struct for the
// job's type and applies minimal validation.
func DecodePayload(j job.Job) (any, error) {
	if !IsValidType(j.Type) {
		return nil, ErrInvalidJobType
	}
	if len(j.Payload) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch j.Type {
	case TypeUserWelcome:
		var p UserWelcomePayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		if err := validateUserWelcome(p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeTaskDigest:
		var p TaskDigestPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		if err := validateTaskDigest(p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, ErrInvalidJobType
	}
}

func validateUserWelcome(p UserWelcomePayload) error {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Email) == "" {
		return ErrInvalidJobPayload
	}
	return nil
}

func validateTaskDigest(p TaskDigestPayload) error {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Email) == "" {
		return ErrInvalidJobPayload
	}
	return nil
}
