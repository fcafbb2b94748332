package event

import "time"

type Type string

const (
	TypeOpenLogin    Type = "auth:open-login"
	TypeOpenRegister Type = "auth:open-register"
	TypeOpenOTP      Type = "auth:open-otp"

	TypeSessionEstablished Type = "session:established"
	TypeSessionLoggedOut   Type = "session:logged-out"
	TypeRoleSwitched       Type = "session:role-switched"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Email     string `json:"email,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
	Origin    string `json:"origin,omitempty"` // publishing session provider
	Relay     string `json:"relay,omitempty"`  // relay that forwarded the event over Redis

	remote bool
}

// Remote reports whether the event was injected by a relay rather than
// published in this process.
func (e Event) Remote() bool {
	return e.remote
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// IsSession reports whether the event belongs to the session broadcast family
// that is relayed across processes.
func (e Event) IsSession() bool {
	switch e.Type {
	case TypeSessionEstablished, TypeSessionLoggedOut, TypeRoleSwitched:
		return true
	default:
		return false
	}
}

func stamp(e Event) Event {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return e
}
