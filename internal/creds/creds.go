// Package creds persists the multi-device pairing keys that let the bridge
// reconnect without scanning a new QR code.
package creds

import (
	"context"
	"errors"
	"fmt"

	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"
)

// Credentials is the device key material for one paired account. The contents
// are opaque to everything but the protocol layer.
type Credentials struct {
	Device *wastore.Device
}

// JID returns the paired account JID, or "" before pairing completes.
func (c *Credentials) JID() string {
	if c == nil || c.Device == nil || c.Device.ID == nil {
		return ""
	}
	return c.Device.ID.String()
}

// Error wraps every storage failure of the credential store.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credential store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStoreError reports whether err came from the credential store.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// SQLStore keeps credentials in whatsmeow's sqlite device store. Each device
// write is one transaction, so a reader never sees a half-written device.
type SQLStore struct {
	container *sqlstore.Container
}

// Open opens (creating if needed) the device store at path.
func Open(ctx context.Context, path string, log waLog.Logger) (*SQLStore, error) {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path),
		log,
	)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return &SQLStore{container: container}, nil
}

// Load returns the stored credentials, or nil when no device has been paired.
func (s *SQLStore) Load(ctx context.Context) (*Credentials, error) {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return nil, &Error{Op: "load", Err: err}
	}
	for _, d := range devices {
		if d.ID != nil {
			return &Credentials{Device: d}, nil
		}
	}
	return nil, nil
}

// Save writes the credentials. Devices that have not finished pairing have no
// ID yet and cannot be stored.
func (s *SQLStore) Save(ctx context.Context, c *Credentials) error {
	if c == nil || c.Device == nil || c.Device.ID == nil {
		return &Error{Op: "save", Err: errors.New("device is not paired")}
	}
	if err := s.container.PutDevice(ctx, c.Device); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}

// Clear deletes every stored device. It is a no-op when nothing is stored.
func (s *SQLStore) Clear(ctx context.Context) error {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return &Error{Op: "clear", Err: err}
	}
	for _, d := range devices {
		if d.ID == nil {
			continue
		}
		if err := s.container.DeleteDevice(ctx, d); err != nil {
			return &Error{Op: "clear", Err: err}
		}
	}
	return nil
}

// NewDevice returns a blank device for a fresh pairing.
func (s *SQLStore) NewDevice() *wastore.Device {
	return s.container.NewDevice()
}

// Close releases the underlying database.
func (s *SQLStore) Close() error {
	return s.container.Close()
}
