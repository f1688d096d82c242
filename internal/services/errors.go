package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies an Error for transport mapping.
type Kind string

const (
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindExpired      Kind = "expired"
	KindCapacity     Kind = "capacity_exceeded"
	KindIntegrity    Kind = "integrity"
	KindInvalid      Kind = "invalid"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
	KindUpstream     Kind = "upstream"
	KindInternal     Kind = "internal"
)

// Error is the typed result every service returns for expected failures.
// Two errors match under errors.Is when their codes are equal, so the
// sentinels below can be compared against values carrying extra detail.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	RetryAfter int // seconds, rate_limited only
	Capacity   int // capacity_exceeded only

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrUserNotFound         = &Error{Kind: KindNotFound, Code: "user_not_found", Message: "User not found"}
	ErrMeetingNotFound      = &Error{Kind: KindNotFound, Code: "meeting_not_found", Message: "Meeting not found"}
	ErrRegistrationNotFound = &Error{Kind: KindNotFound, Code: "registration_not_found", Message: "Registration not found"}
	ErrCodeInvalid          = &Error{Kind: KindNotFound, Code: "code_invalid", Message: "Verification code is invalid or does not exist"}

	ErrCodeExpired = &Error{Kind: KindExpired, Code: "code_expired", Message: "Verification code has expired"}
	ErrCooldown    = &Error{Kind: KindRateLimited, Code: "cooldown", Message: "Verification code requested too recently"}
	ErrMeetingFull = &Error{Kind: KindCapacity, Code: "meeting_full", Message: "Meeting is full"}

	ErrAlreadyRegistered = &Error{Kind: KindConflict, Code: "already_registered", Message: "User is already registered for this meeting"}
	ErrAlreadyConfirmed  = &Error{Kind: KindConflict, Code: "already_confirmed", Message: "User is already confirmed for this meeting"}
	ErrAlreadyPending    = &Error{Kind: KindConflict, Code: "already_pending", Message: "User has already expressed interest in this meeting"}
	ErrAlreadyCancelled  = &Error{Kind: KindConflict, Code: "already_cancelled", Message: "Registration is already cancelled"}

	ErrDuplicateIdentity  = &Error{Kind: KindIntegrity, Code: "duplicate_identity", Message: "Phone number or email is already in use"}
	ErrRegistrationClosed = &Error{Kind: KindCapacity, Code: "registration_closed", Message: "Registration is closed"}

	ErrInvalidToken      = &Error{Kind: KindUnauthorized, Code: "invalid_token", Message: "Invalid or expired token"}
	ErrInvalidCredential = &Error{Kind: KindUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
	ErrPhoneMismatch     = &Error{Kind: KindUnauthorized, Code: "phone_mismatch", Message: "Phone token does not match phone number"}

	ErrChatUnavailable    = &Error{Kind: KindUnavailable, Code: "chat_unavailable", Message: "Chatbot is not configured"}
	ErrStorageUnavailable = &Error{Kind: KindUnavailable, Code: "storage_unavailable", Message: "Object storage is not configured"}
)

func cooldownError(remaining int) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Code:       ErrCooldown.Code,
		Message:    fmt.Sprintf("Please wait %d seconds before requesting a new code", remaining),
		RetryAfter: remaining,
	}
}

func fullError(capacity int) *Error {
	return &Error{
		Kind:     KindCapacity,
		Code:     ErrMeetingFull.Code,
		Message:  fmt.Sprintf("Meeting is full (capacity %d)", capacity),
		Capacity: capacity,
	}
}

func closedError(limit int) *Error {
	return &Error{
		Kind:     KindCapacity,
		Code:     ErrRegistrationClosed.Code,
		Message:  fmt.Sprintf("Registration is closed. Maximum capacity of %d users reached", limit),
		Capacity: limit,
	}
}

func invalidError(message string) *Error {
	return &Error{Kind: KindInvalid, Code: "invalid_input", Message: message}
}

func upstreamError(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: "upstream_failure", Message: message, Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: "Internal error", Err: err}
}

// asServiceError passes typed errors through and wraps anything else as
// internal.
func asServiceError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return internalError(err)
}

// isDuplicateKey reports unique-constraint violations from either driver.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
