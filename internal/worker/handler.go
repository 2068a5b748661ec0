package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// JobHandler runs every job of one type. Handle receives the JSON payload
// written by the matching Enqueue helper.
type JobHandler interface {
	Type() string
	Handle(ctx context.Context, payload []byte) error
}

// KnownJobTypes lists the job types this service enqueues.
var KnownJobTypes = []string{JobTypeBillingEmail, JobTypeArchiveWebhookEvent}

func isKnownJobType(jobType string) bool {
	return slices.Contains(KnownJobTypes, jobType)
}

// PermanentError marks a failure that a retry cannot fix, such as an
// undecodable payload or a customer that no longer exists. The job is moved
// to failed straight away instead of being rescheduled.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the worker does not retry the job.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// DecodePayload unmarshals a job payload. A payload that does not decode will
// never decode, so the error is permanent.
func DecodePayload[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	return v, nil
}
