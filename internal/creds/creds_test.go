package creds

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waAdv"
	"go.mau.fi/whatsmeow/types"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "credentials.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pairedDevice(s *SQLStore) *Credentials {
	dev := s.NewDevice()
	jid := types.NewJID("5511999990000", types.DefaultUserServer)
	jid.Device = 12
	dev.ID = &jid
	dev.PushName = "Bridge"
	dev.Account = &waAdv.ADVSignedDeviceIdentity{
		Details:             []byte("details"),
		AccountSignatureKey: make([]byte, 32),
		AccountSignature:    make([]byte, 64),
		DeviceSignature:     make([]byte, 64),
	}
	return &Credentials{Device: dev}
}

func TestLoadEmpty(t *testing.T) {
	s := openTestStore(t)

	c, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := pairedDevice(s)
	require.NoError(t, s.Save(ctx, c))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, c.JID(), loaded.JID())
	assert.Equal(t, "5511999990000:12@s.whatsapp.net", loaded.JID())

	require.NoError(t, s.Clear(ctx))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestClearWhenEmpty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Clear(context.Background()))
	require.NoError(t, s.Clear(context.Background()))
}

func TestSaveUnpairedDevice(t *testing.T) {
	s := openTestStore(t)

	err := s.Save(context.Background(), &Credentials{Device: s.NewDevice()})
	require.Error(t, err)
	assert.True(t, IsStoreError(err))

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "save", se.Op)
}

func TestJIDOnNil(t *testing.T) {
	var c *Credentials
	assert.Equal(t, "", c.JID())
	assert.Equal(t, "", (&Credentials{}).JID())
}

func TestIsStoreErrorWrapped(t *testing.T) {
	err := errors.Join(errors.New("outer"), &Error{Op: "load", Err: errors.New("disk")})
	assert.True(t, IsStoreError(err))
	assert.False(t, IsStoreError(errors.New("other")))
}
