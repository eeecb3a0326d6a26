// Package v1 defines the docrelay context protocol v1 contract.
//
// Every execution context (control surface, display surface) talks to the
// authority with these envelopes. The package is dependency-light so that
// clients and the server share one authoritative wire definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated by contexts.
const Subprotocol = "docrelay.v1"

// Envelope types (wire-stable).
const (
	// TypeHello registers a context with the authority (context -> authority).
	TypeHello = "hello"
	// TypeHelloAck returns the assigned context id (authority -> context).
	TypeHelloAck = "hello_ack"

	// TypeRequest carries one action request (context -> authority).
	TypeRequest = "request"
	// TypeResponse carries the single terminal response to a request (authority -> context).
	TypeResponse = "response"

	// TypeSessionChanged is the one-way storage-change notification (authority -> all contexts).
	TypeSessionChanged = "session_changed"
	// TypeSignInPrompt asks control surfaces to show a provider verification code (authority -> all contexts).
	TypeSignInPrompt = "sign_in_prompt"

	// TypeError reports a transport-level problem that is not tied to a request.
	TypeError = "error"
)

// Actions accepted inside a TypeRequest envelope.
const (
	ActionSignIn             = "signIn"
	ActionSignOut            = "signOut"
	ActionGetDocumentContent = "getDocumentContent"
	ActionSessionState       = "sessionState"
)

// Failure reasons carried in Response.Error.
const (
	ReasonNoCachedCredential      = "NoCachedCredential"
	ReasonInvalidCredential       = "InvalidCredential"
	ReasonValidationFailed        = "ValidationFailed"
	ReasonAlreadyInProgress       = "AlreadyInProgress"
	ReasonNotAuthenticated        = "NotAuthenticated"
	ReasonDocumentFetchFailed     = "DocumentFetchFailed"
	ReasonDocumentIDNotResolvable = "DocumentIdNotResolvable"
	ReasonUnknownAction           = "UnknownAction"
	ReasonInvalidPayload          = "InvalidPayload"
	ReasonInternalError           = "InternalError"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
//
// Action names inside requests are not checked here: an unknown action is a
// routed request that must still be answered with ReasonUnknownAction.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}

	switch e.Type {
	case "":
		return errors.New("missing field: type")
	case TypeRequest:
		if strings.TrimSpace(e.ID) == "" {
			return errors.New("missing field: id")
		}
		return nil
	case TypeHello,
		TypeHelloAck,
		TypeResponse,
		TypeSessionChanged,
		TypeSignInPrompt,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload identifies the kind of context connecting ("control", "display").
type HelloPayload struct {
	Kind string `json:"kind,omitempty"`
}

// HelloAckPayload carries the context id assigned by the authority.
type HelloAckPayload struct {
	ContextID string `json:"context_id"`
}

// RequestPayload is the body of a TypeRequest envelope.
type RequestPayload struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// GetDocumentContentData is the action input of ActionGetDocumentContent.
// URL is accepted when the requester only knows the page it is showing.
type GetDocumentContentData struct {
	DocumentID string `json:"documentId,omitempty"`
	URL        string `json:"url,omitempty"`
}

// User is the identity attached to a signed-in session.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ResponsePayload is the terminal answer to a request.
type ResponsePayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	User    *User  `json:"user,omitempty"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status,omitempty"`
}

// SessionChangedPayload is the observable part of the persisted session record.
type SessionChangedPayload struct {
	Status          string    `json:"status"`
	User            *User     `json:"user,omitempty"`
	LastValidatedAt time.Time `json:"last_validated_at,omitzero"`
	Version         int64     `json:"version"`
}

// SignInPromptPayload carries the provider verification step for an interactive sign-in.
type SignInPromptPayload struct {
	VerificationURL string    `json:"verification_url"`
	UserCode        string    `json:"user_code"`
	ExpiresAt       time.Time `json:"expires_at,omitzero"`
}

// ErrorPayload is a generic transport error payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
