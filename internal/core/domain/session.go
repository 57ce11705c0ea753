package domain

import (
	"encoding/json"
	"fmt"
)

// SessionState distinguishes the three shapes a session value can take.
type SessionState uint8

const (
	// SessionUnset is the sentinel for a caller that has no session concept
	// yet. It never triggers invalidation.
	SessionUnset SessionState = iota
	// SessionNull is an explicit "no session" value.
	SessionNull
	// SessionToken carries an opaque session token.
	SessionToken
)

// Session is an opaque session token with an unset sentinel and a null state.
//
// On the wire an unset session is an omitted field, a null session is JSON
// null and a token is a JSON string. The zero value is unset.
type Session struct {
	state SessionState
	token string
}

// UnsetSession returns the unset sentinel.
func UnsetSession() Session {
	return Session{}
}

// NullSession returns the explicit null session.
func NullSession() Session {
	return Session{state: SessionNull}
}

// NewSession returns a session carrying token.
func NewSession(token string) Session {
	return Session{state: SessionToken, token: token}
}

// State returns the session state.
func (s Session) State() SessionState {
	return s.state
}

// IsUnset reports whether s is the unset sentinel.
func (s Session) IsUnset() bool {
	return s.state == SessionUnset
}

// IsNull reports whether s is the explicit null session.
func (s Session) IsNull() bool {
	return s.state == SessionNull
}

// IsZero reports whether s is unset. It lets `omitzero` drop the field.
func (s Session) IsZero() bool {
	return s.IsUnset()
}

// Token returns the token and whether s carries one.
func (s Session) Token() (string, bool) {
	return s.token, s.state == SessionToken
}

// Equal reports whether two sessions have the same state and token.
func (s Session) Equal(other Session) bool {
	return s.state == other.state && s.token == other.token
}

// String returns a log-safe description. The token itself is never printed.
func (s Session) String() string {
	switch s.state {
	case SessionNull:
		return "null"
	case SessionToken:
		return fmt.Sprintf("token(len=%d)", len(s.token))
	default:
		return "unset"
	}
}

// MarshalJSON encodes null and unset sessions as JSON null.
func (s Session) MarshalJSON() ([]byte, error) {
	if s.state != SessionToken {
		return []byte("null"), nil
	}
	return json.Marshal(s.token)
}

// UnmarshalJSON decodes JSON null as the null session and strings as tokens.
func (s *Session) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = NullSession()
		return nil
	}
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return ErrMalformedMessage.WithDetails("session must be a string or null").WithCause(err)
	}
	*s = NewSession(token)
	return nil
}
