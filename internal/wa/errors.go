package wa

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when there is no live, logged-in connection.
var ErrNotConnected = errors.New("not connected")

// ErrInvalidChat is returned when a chat identifier cannot be parsed.
var ErrInvalidChat = errors.New("invalid chat id")

// ProtocolError is a handshake or transmission failure.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
