// Package session holds the per-session conversation log and the stores that
// persist it.
//
// A [Log] is an ordered list of [Turn] values alternating user and assistant.
// It is always read and written as a whole: stores overwrite the full value
// on Save, and callers extend it with [Log.WithExchange], which appends one
// user turn and one assistant turn in a single step.
package session

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxIDLength is the longest accepted session token.
const MaxIDLength = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidID is returned for tokens that are empty, too long, or contain
// characters outside [A-Za-z0-9_-].
var ErrInvalidID = errors.New("session: invalid session id")

// ValidateID checks that id is safe to use as a storage key and file name.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength || !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, truncate(id, 32))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Role identifies the author of a turn.
type Role uint8

const (
	// RoleUser is a transcribed user utterance.
	RoleUser Role = iota + 1

	// RoleAssistant is a generated reply.
	RoleAssistant
)

// String returns the wire name of r.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleUser, RoleAssistant:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("session: cannot encode %v", r)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler. Only "user" and
// "assistant" are accepted.
func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "user":
		*r = RoleUser
	case "assistant":
		*r = RoleAssistant
	default:
		return fmt.Errorf("session: unknown role %q", b)
	}
	return nil
}

// Turn is one message in the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Log is the full conversation of one session, oldest first.
type Log []Turn

// WithExchange returns a new Log holding l followed by the user turn and the
// assistant turn. l itself is never modified and the result never shares its
// backing array.
func (l Log) WithExchange(user, assistant string) Log {
	out := make(Log, len(l), len(l)+2)
	copy(out, l)
	return append(out,
		Turn{Role: RoleUser, Content: user},
		Turn{Role: RoleAssistant, Content: assistant},
	)
}

// Exchanges returns the number of complete user/assistant pairs.
func (l Log) Exchanges() int { return len(l) / 2 }
