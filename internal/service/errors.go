package service

import (
	"errors"
	"fmt"
)

type ErrJobNotFound struct {
	error
	// Completed is set when the job is gone because it was completed.
	Completed bool
}

func NewErrJobNotFound(id string) *ErrJobNotFound {
	return &ErrJobNotFound{error: fmt.Errorf("job %s not found", id)}
}

func NewErrJobNumberNotFound(n int64) *ErrJobNotFound {
	return &ErrJobNotFound{error: fmt.Errorf("job #%d not found", n)}
}

func NewErrJobAlreadyCompleted(id string) *ErrJobNotFound {
	return &ErrJobNotFound{error: fmt.Errorf("job %s has already been completed", id), Completed: true}
}

type InvalidStateReason string

const (
	ReasonAlreadyClaimed InvalidStateReason = "already_claimed"
	ReasonNotClaimed     InvalidStateReason = "not_claimed"
	ReasonNoCoordinator  InvalidStateReason = "no_coordinator"
	ReasonClaimLost      InvalidStateReason = "claim_lost"
)

type ErrInvalidState struct {
	error
	Reason InvalidStateReason
}

func NewErrAlreadyClaimed(id string) *ErrInvalidState {
	return &ErrInvalidState{error: fmt.Errorf("job %s is already claimed", id), Reason: ReasonAlreadyClaimed}
}

func NewErrNotClaimed(id string) *ErrInvalidState {
	return &ErrInvalidState{error: fmt.Errorf("job %s is not claimed", id), Reason: ReasonNotClaimed}
}

func NewErrClaimLost(id string) *ErrInvalidState {
	return &ErrInvalidState{error: fmt.Errorf("job %s changed hands while its channel was created", id), Reason: ReasonClaimLost}
}

func NewErrNoCoordinator() *ErrInvalidState {
	return &ErrInvalidState{error: errors.New("no coordinator available"), Reason: ReasonNoCoordinator}
}

type ErrNotAuthorized struct {
	error
}

func NewErrNotAuthorized(actorID string, action string) *ErrNotAuthorized {
	return &ErrNotAuthorized{fmt.Errorf("user %s is not allowed to %s", actorID, action)}
}

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(format string, args ...any) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf(format, args...)}
}

func NewErrInvalidReward(points int64) *ErrInvalidInput {
	return NewErrInvalidInput("reward points must not be negative: %d", points)
}

// ErrStorage wraps any failure of the store that is not otherwise interpreted.
type ErrStorage struct {
	error
	cause error
}

func NewErrStorage(op string, err error) *ErrStorage {
	return &ErrStorage{error: fmt.Errorf("%s: storage failure: %w", op, err), cause: err}
}

func (e *ErrStorage) Unwrap() error {
	return e.cause
}

// ErrGateway wraps a failure of the chat platform.
type ErrGateway struct {
	error
	cause error
}

func NewErrGateway(op string, err error) *ErrGateway {
	return &ErrGateway{error: fmt.Errorf("%s: gateway failure: %w", op, err), cause: err}
}

func (e *ErrGateway) Unwrap() error {
	return e.cause
}
