package fbot

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	return NewSessionStore(slog.Default())
}

func TestSessionStoreStartAndGet(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)

	sess, err := store.Start("chan1", "user1", "f.geminiflash", "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "chan1", sess.ChannelID)
	assert.Equal(t, "user1", sess.OwnerID)
	assert.Equal(t, sess.StartedAt, sess.LastActive)

	got, err := store.Get("chan1")
	require.NoError(t, err)
	assert.Equal(t, sess.OwnerID, got.OwnerID)

	_, err = store.Get("chan2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreStartRejectsSecondSession(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)

	_, err := store.Start("chan1", "user1", "f.llama", "llama")
	require.NoError(t, err)

	_, err = store.Start("chan1", "user2", "f.llama", "llama")
	assert.ErrorIs(t, err, ErrSessionActive)

	// original session survives
	got, err := store.Get("chan1")
	require.NoError(t, err)
	assert.Equal(t, "user1", got.OwnerID)
}

func TestSessionStoreConcurrentStart(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)

	const workers = 50
	var wg sync.WaitGroup
	var successes atomic.Int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Start("chan1", "user1", "f.llama", "llama"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, 1, store.ActiveCount())
}

func TestSessionStoreAppendTurn(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)
	started, err := store.Start("chan1", "user1", "f.llama", "llama")
	require.NoError(t, err)

	sess, err := store.AppendTurn("chan1", "user1", "user", "hello")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, "user", sess.Turns[0].Role)
	assert.Equal(t, "hello", sess.Turns[0].Content)
	assert.False(t, sess.LastActive.Before(started.LastActive))

	sess, err = store.AppendTurn("chan1", "user1", "assistant", "hi there")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)

	_, err = store.AppendTurn("chan1", "intruder", "user", "mine now")
	assert.ErrorIs(t, err, ErrSessionNotOwner)

	_, err = store.AppendTurn("nochan", "user1", "user", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)
	_, err := store.Start("chan1", "user1", "f.llama", "llama")
	require.NoError(t, err)

	first, err := store.AppendTurn("chan1", "user1", "user", "one")
	require.NoError(t, err)

	// mutating a returned snapshot must not leak into the store
	first.Turns[0].Content = "tampered"
	first.Turns = append(first.Turns, Turn{Role: "user", Content: "extra"})

	got, err := store.Get("chan1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "one", got.Turns[0].Content)
}

func TestSessionStoreEnd(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)
	_, err := store.Start("chan1", "user1", "f.llama", "llama")
	require.NoError(t, err)

	_, err = store.End("chan1", "intruder")
	assert.ErrorIs(t, err, ErrSessionNotOwner)

	ended, err := store.End("chan1", "user1")
	require.NoError(t, err)
	assert.Equal(t, "chan1", ended.ChannelID)

	_, err = store.Get("chan1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.End("chan1", "user1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreSweepExpired(t *testing.T) {
	t.Parallel()
	store := newTestSessionStore(t)

	current := time.Now()
	store.now = func() time.Time { return current }

	_, err := store.Start("stale", "user1", "f.llama", "llama")
	require.NoError(t, err)

	current = current.Add(20 * time.Minute)
	_, err = store.Start("fresh", "user2", "f.llama", "llama")
	require.NoError(t, err)

	current = current.Add(15 * time.Minute)
	removed := store.SweepExpired(30 * time.Minute)
	assert.Equal(t, 1, removed)

	_, err = store.Get("stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get("fresh")
	assert.NoError(t, err)

	assert.Zero(t, store.SweepExpired(30*time.Minute))
}
