// Package chaterr defines the failure taxonomy shared by the chat server and client.
//
// Callers branch on kind, never on message text:
//
//	AuthError        re-authenticate, do not retry the connection
//	TransientError   channel down; retried by the connection manager, retry after reconnect
//	ValidationError  rejected locally, never transmitted
//	RejectedError    business rejection from the server, not retried
//	ConflictError    conversation already exists; reuse ExistingID
package chaterr

import (
	"errors"
	"fmt"
)

// ErrConnectionExhausted is returned once the reconnect budget is spent.
var ErrConnectionExhausted = errors.New("connection exhausted: reconnect attempts used up")

type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: " + e.Reason + ": " + e.Err.Error()
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError means the channel is temporarily unavailable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": channel unavailable"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RejectedError is a server-side refusal, e.g. sending into a closed conversation.
type RejectedError struct {
	ConversationID string
	Reason         string
}

func (e *RejectedError) Error() string {
	if e.ConversationID == "" {
		return "rejected: " + e.Reason
	}
	return "rejected: conversation " + e.ConversationID + ": " + e.Reason
}

// ConflictError reports that the conversation being created already exists.
type ConflictError struct {
	ExistingID string
}

func (e *ConflictError) Error() string {
	return "conversation already exists: " + e.ExistingID
}

func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

// AsConflict returns the conflict carried by err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var target *ConflictError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
