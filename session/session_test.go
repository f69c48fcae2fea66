package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesDeviceID(t *testing.T) {
	a := New()
	b := New()

	assert.NotEmpty(t, a.DeviceID)
	assert.NotEqual(t, a.DeviceID, b.DeviceID, "device identities must be unique")
	assert.Equal(t, DefaultProtocolVersion, a.ProtocolVersion)
	assert.Empty(t, a.Token)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	original := New()
	original.Token = "tok-123"
	original.Phone = "+79990001122"
	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, original, loaded)
}

func TestSaveLoadRoundTripWithoutToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	original := New()
	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, original, loaded)
	assert.Empty(t, loaded.Token)
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadWithoutDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":"x"}`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	first := New()
	require.NoError(t, Save(path, first))

	second := first.Clone()
	second.Token = "updated"
	require.NoError(t, Save(path, second))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "updated", loaded.Token)
	assert.Equal(t, first.DeviceID, loaded.DeviceID, "device identity must stay stable")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "session.json")
	require.NoError(t, Save(path, New()))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	c := s.Clone()
	c.Token = "changed"

	assert.Empty(t, s.Token)
}
