package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "lastroom.json")
	now := time.Now()

	require.NoError(t, SaveRoom(path, "Launch", now))

	code, ok := LoadRoom(path, now.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, "launch", code, "remembered code is normalized")
}

func TestLoadRoomExpiresAfterADay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastroom.json")
	now := time.Now()

	require.NoError(t, SaveRoom(path, "abc", now))

	_, ok := LoadRoom(path, now.Add(25*time.Hour))
	assert.False(t, ok)
}

func TestLoadRoomMissingFile(t *testing.T) {
	_, ok := LoadRoom(filepath.Join(t.TempDir(), "nope.json"), time.Now())
	assert.False(t, ok)
}

func TestSaveRoomRejectsInvalidCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastroom.json")
	assert.Error(t, SaveRoom(path, "ab", time.Now()))
}
