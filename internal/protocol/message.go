// Package protocol defines the messages exchanged between mirror clients
// and the worker, and their newline-delimited JSON encoding.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

// Type is the message kind.
type Type string

const (
	// TypeConnect is the client handshake. It precedes every other message.
	TypeConnect Type = "connect"
	// TypeConnected is the worker handshake reply, sent once per connection.
	TypeConnected Type = "connected"
	// TypeValidateSession asks the worker to validate a session.
	TypeValidateSession Type = "validate-session"
	// TypeSessionValidated answers TypeValidateSession.
	TypeSessionValidated Type = "session-validated"
	// TypeTransaction runs one operation on the data partition.
	TypeTransaction Type = "transaction"
	// TypeTransactionResult answers TypeTransaction.
	TypeTransactionResult Type = "transaction-result"
	// TypeDisconnect ends the connection. It has no response.
	TypeDisconnect Type = "disconnect"
)

// Message is a single protocol message. Fields not used by a message type
// are left empty and omitted on the wire.
type Message struct {
	Type Type `json:"type"`

	// ID correlates a request with its response. Request ids start at 1.
	ID uint64 `json:"id,omitempty"`

	// SupportsPersistence is the capability flag of TypeConnected.
	SupportsPersistence bool `json:"supportsPersistence,omitempty"`

	// Session is omitted when unset and JSON null for the null session.
	Session domain.Session `json:"session,omitzero"`

	Method string          `json:"method,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a failed request's error code and message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Err rebuilds the domain error the worker reported.
func (e *ErrorBody) Err() error {
	if e == nil {
		return nil
	}
	return &domain.DomainError{Code: e.Code, Message: e.Message}
}

// NewErrorBody converts err for the wire. Errors without a domain code are
// reported as domain.ErrInternal.
func NewErrorBody(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		msg := de.Message
		if de.Details != "" {
			msg = fmt.Sprintf("%s: %s", de.Message, de.Details)
		}
		return &ErrorBody{Code: de.Code, Message: msg}
	}
	return &ErrorBody{Code: domain.ErrInternal.Code, Message: err.Error()}
}

// Connect returns the client handshake.
func Connect() *Message {
	return &Message{Type: TypeConnect}
}

// Connected returns the worker handshake carrying the capability flag.
func Connected(supportsPersistence bool) *Message {
	return &Message{Type: TypeConnected, SupportsPersistence: supportsPersistence}
}

// ValidateSession returns a validate-session request.
func ValidateSession(id uint64, session domain.Session) *Message {
	return &Message{Type: TypeValidateSession, ID: id, Session: session}
}

// SessionValidated returns the response to a validate-session request.
func SessionValidated(id uint64, err error) *Message {
	return &Message{Type: TypeSessionValidated, ID: id, Error: NewErrorBody(err)}
}

// Transaction returns a transaction request. A nil value is sent as absent.
func Transaction(id uint64, method, key string, value json.RawMessage) *Message {
	return &Message{Type: TypeTransaction, ID: id, Method: method, Key: key, Value: value}
}

// TransactionResult returns the response to a transaction request.
func TransactionResult(id uint64, result json.RawMessage, err error) *Message {
	if err != nil {
		return &Message{Type: TypeTransactionResult, ID: id, Error: NewErrorBody(err)}
	}
	return &Message{Type: TypeTransactionResult, ID: id, Result: result}
}

// Disconnect returns the disconnect notification.
func Disconnect() *Message {
	return &Message{Type: TypeDisconnect}
}

// IsResponse reports whether m answers a request.
func (m *Message) IsResponse() bool {
	return m.Type == TypeSessionValidated || m.Type == TypeTransactionResult
}

// Validate checks that a request carries the fields its type needs.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeConnect, TypeConnected, TypeDisconnect:
		return nil
	case TypeValidateSession, TypeSessionValidated, TypeTransactionResult:
		if m.ID == 0 {
			return domain.ErrMalformedMessage.WithDetails(fmt.Sprintf("%s without id", m.Type))
		}
		return nil
	case TypeTransaction:
		if m.ID == 0 {
			return domain.ErrMalformedMessage.WithDetails("transaction without id")
		}
		if m.Method == "" {
			return domain.ErrMalformedMessage.WithDetails("transaction without method")
		}
		return nil
	case "":
		return domain.ErrMalformedMessage.WithDetails("missing type")
	default:
		return domain.ErrMalformedMessage.WithDetails(fmt.Sprintf("unknown type %q", m.Type))
	}
}
