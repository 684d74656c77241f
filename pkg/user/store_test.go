package user

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddAuthenticate(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)

	require.NoError(t, store.Add("alice", "s3cret"))
	assert.True(t, store.Authenticate("alice", "s3cret"))
	assert.False(t, store.Authenticate("alice", "wrong"))
	assert.False(t, store.Authenticate("bob", "s3cret"))

	assert.Error(t, store.Add("alice", "again"), "duplicate usernames are rejected")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Add("alice", "s3cret", "/private/", "media"))
	require.NoError(t, store.Save())

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	assert.True(t, reloaded.Authenticate("alice", "s3cret"))

	users := reloaded.Snapshot()
	require.Len(t, users, 1)
	assert.Equal(t, []string{"/private/", "media"}, users[0].Paths)
}

func TestSnapshotSorted(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	require.NoError(t, store.Add("zoe", "x"))
	require.NoError(t, store.Add("amy", "x"))

	users := store.Snapshot()
	require.Len(t, users, 2)
	assert.Equal(t, "amy", users[0].Username)
	assert.Equal(t, "zoe", users[1].Username)
}

func TestDelete(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	require.NoError(t, store.Add("alice", "x"))

	store.Delete("alice")
	assert.False(t, store.Authenticate("alice", "x"))
	assert.Zero(t, store.Len())
}

func TestMissingFileYieldsEmptyStore(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Zero(t, store.Len())
}

func TestWatchPicksUpExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Add("alice", "s3cret"))
	require.NoError(t, store.Save())

	stop := make(chan struct{})
	defer close(stop)
	reloaded := make(chan struct{}, 1)
	require.NoError(t, store.Watch(stop, zap.NewNop(), func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}))

	// Simulate an external edit: a second store handle adds a user and saves.
	editor, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, editor.Add("bob", "hunter2"))
	require.NoError(t, editor.Save())

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report a reload")
	}
	assert.True(t, store.Authenticate("bob", "hunter2"))
}

func TestWatchKeepsStateOnMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Add("alice", "s3cret"))
	require.NoError(t, store.Save())

	stop := make(chan struct{})
	defer close(stop)
	require.NoError(t, store.Watch(stop, zap.NewNop(), nil))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// The previous snapshot must remain authoritative.
	assert.Eventually(t, func() bool {
		return store.Authenticate("alice", "s3cret")
	}, 2*time.Second, 50*time.Millisecond)
}
