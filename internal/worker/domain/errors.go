package domain

import "errors"

var (
	// ErrRunAlreadyClaimed means another worker moved the run out of PENDING first
	ErrRunAlreadyClaimed = errors.New("run already claimed or not in PENDING status")

	// ErrInvalidPayload is returned when a queue message or run payload is malformed
	ErrInvalidPayload = errors.New("invalid run payload")

	// ErrUnknownTask is returned when no handler is registered for a run's task name
	ErrUnknownTask = errors.New("unknown task")
)

// RetryableError marks a failure that happened before the run was claimed, so redelivery is safe
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// Disposition is what happens to a delivery after processing
type Disposition int

const (
	// Ack removes the delivery from the queue
	Ack Disposition = iota
	// Requeue puts the delivery back for another attempt
	Requeue
	// DeadLetter rejects the delivery without requeue so the broker routes it to the DLQ
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// Classify maps a processing result to a delivery disposition. A nil error and a run that was
// already claimed are both settled, retryable errors are requeued and everything else is
// dead-lettered.
func Classify(err error) Disposition {
	if err == nil || errors.Is(err, ErrRunAlreadyClaimed) {
		return Ack
	}
	if errors.Is(err, ErrInvalidPayload) {
		return DeadLetter
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return Requeue
	}
	return DeadLetter
}
