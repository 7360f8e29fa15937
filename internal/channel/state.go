package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle stage of a channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateError
	StateTimeout
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateTimeout:
		return "timeout"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateClosed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown channel state %q", text)
}

var (
	// ErrAlreadyConnecting is returned by Connect while an earlier attempt on
	// the same channel has not settled.
	ErrAlreadyConnecting = errors.New("channel is already connecting")

	// ErrTimeout is returned by Connect when the stream did not open in time.
	ErrTimeout = errors.New("channel connect timed out")

	// ErrTransport marks failures of the underlying stream, before or after
	// it opened.
	ErrTransport = errors.New("channel transport error")

	// ErrDisconnected is returned by Connect when Disconnect interrupted it.
	ErrDisconnected = errors.New("channel disconnected")
)

// ParseError records a frame that was not valid JSON. It is stored as the
// channel's last error; the channel stays open.
type ParseError struct {
	Address string
	Channel string
	Data    []byte
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s/%s: invalid event payload: %v", e.Address, e.Channel, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Event is one telemetry frame received on a channel.
type Event struct {
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Info summarizes a channel for listings.
type Info struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	State       State  `json:"state"`
	Events      int    `json:"events"`
	Subscribers int    `json:"subscribers"`
	LastError   string `json:"last_error,omitempty"`
}
