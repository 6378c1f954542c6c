package account

import (
	"errors"
	"fmt"
)

const maxNameLen = 64

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid account name")

// ValidateName accepts 1-64 characters from [a-z0-9_-]. Names become directory
// names under BaseDir, so anything that could escape it is refused.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w %q: length must be 1-%d", ErrInvalidName, name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("%w %q: unexpected character %q", ErrInvalidName, name, r)
		}
	}
	return nil
}
