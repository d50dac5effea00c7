package model

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound        = errors.New("publish task not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidPatch        = errors.New("patch does not fit the target status")
	ErrDeleteRefused       = errors.New("publish task can only be deleted while waiting for publish")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrCredentialConflict  = errors.New("credential changed concurrently")
	ErrLockNotAcquired     = errors.New("lock not acquired")
	ErrJobNotFound         = errors.New("job not found")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

type ErrorKind string

const (
	KindValidationRejected ErrorKind = "validation_rejected"
	KindAuthRejected       ErrorKind = "auth_rejected"
	KindCredentialExpired  ErrorKind = "credential_expired"
	KindQuotaExceeded      ErrorKind = "quota_exceeded"
	KindTransient          ErrorKind = "transient"
)

// PublishError is the typed failure of any publish stage.
type PublishError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *PublishError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *PublishError) Unwrap() error { return e.Err }

func NewPublishError(kind ErrorKind, stage, message string, err error) *PublishError {
	return &PublishError{Kind: kind, Stage: stage, Message: message, Err: err}
}

func ValidationRejected(stage, message string) *PublishError {
	return NewPublishError(KindValidationRejected, stage, message, nil)
}

func AuthRejected(stage, message string) *PublishError {
	return NewPublishError(KindAuthRejected, stage, message, nil)
}

func CredentialExpired(message string) *PublishError {
	return NewPublishError(KindCredentialExpired, "resolve", message, nil)
}

func QuotaExceeded(stage, message string) *PublishError {
	return NewPublishError(KindQuotaExceeded, stage, message, nil)
}

func Transient(stage string, err error) *PublishError {
	return NewPublishError(KindTransient, stage, "", err)
}

// KindOf returns the kind of a PublishError in err's chain. Untyped errors count as transient.
func KindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

func IsTerminal(err error) bool { return err != nil && KindOf(err) != KindTransient }

// UserMessage is the human readable text stored on a failed task.
func UserMessage(err error) string {
	var pe *PublishError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindAuthRejected, KindCredentialExpired:
			return "needs re-authorization: " + pe.Error()
		}
		return pe.Error()
	}
	return err.Error()
}
